// Package util contains misc internal utilities.
package util

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// IntSliceToCSV joins is with commas, e.g. []int{1, 2, 4} => "1,2,4"
func IntSliceToCSV(is []int) string {
	var b strings.Builder
	for i, v := range is {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

// Clamp limits x to [low, high]
func Clamp(x, low, high float64) float64 {
	return math.Max(low, math.Min(x, high))
}

// ClampDuration limits d to [low, high]
func ClampDuration(d, low, high time.Duration) time.Duration {
	if d < low {
		return low
	}
	if d > high {
		return high
	}
	return d
}

// SecsToDuration converts a floating point number of seconds to a duration,
// rounded to the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}

// ScaleDuration multiplies d by f, saturating at the largest duration
func ScaleDuration(d time.Duration, f float64) time.Duration {
	v := float64(d) * f
	if v >= math.MaxInt64 || math.IsInf(v, 1) {
		return time.Duration(math.MaxInt64)
	}
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return time.Duration(math.Round(v))
}

// MergeErrors joins the non-nil errors in errs.  It returns nil if all of
// them are nil.
func MergeErrors(errs []error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return errors.Join(kept...)
}
