package util_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nasa-jpl/asicam/util"
)

func ExampleIntSliceToCSV() {
	fmt.Println(util.IntSliceToCSV([]int{1, 2, 4}))
	// Output: 1,2,4
}

func TestIntSliceToCSV(t *testing.T) {
	inp := []int{1, 2, 3}
	expected := "1,2,3"
	out := util.IntSliceToCSV(inp)
	if expected != out {
		t.Errorf("expected %s got %s", expected, out)
	}
	if out := util.IntSliceToCSV(nil); out != "" {
		t.Errorf("expected empty string for no ints, got %q", out)
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, low, clamped)
	}
}

func TestClampDuration(t *testing.T) {
	low, high := time.Millisecond, time.Second
	cases := map[time.Duration]time.Duration{
		time.Microsecond:       low,
		2 * time.Second:        high,
		250 * time.Millisecond: 250 * time.Millisecond,
	}
	for in, expected := range cases {
		if out := util.ClampDuration(in, low, high); out != expected {
			t.Errorf("expected %v got %v for input %v", expected, out, in)
		}
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}

func TestScaleDurationSaturates(t *testing.T) {
	out := util.ScaleDuration(time.Hour, 1e30)
	if out <= time.Hour {
		t.Errorf("expected saturation above %v, got %v", time.Hour, out)
	}
	if out := util.ScaleDuration(100*time.Millisecond, 1.5); out != 150*time.Millisecond {
		t.Errorf("expected 150ms got %v", out)
	}
}

func TestMergeErrors(t *testing.T) {
	if err := util.MergeErrors([]error{nil, nil}); err != nil {
		t.Errorf("expected nil for all-nil input, got %v", err)
	}
	e1 := errors.New("one")
	e2 := errors.New("two")
	err := util.MergeErrors([]error{e1, nil, e2})
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Errorf("expected merged error to wrap both inputs, got %v", err)
	}
}
