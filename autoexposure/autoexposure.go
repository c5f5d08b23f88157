/*
Package autoexposure recommends exposure time and binning so that a chosen
percentile of a frame's pixel values converges on a target brightness.

The advisor is stateless.  Brightness is measured on a [0, 1] scale, 16-bit
pixel values divided by 65536.  The exposure is scaled by target/observed and
kept inside the configured bounds; when the longest allowed exposure is still
too dark the binning is raised a step instead, and when a frame is too bright
and a finer binning would fit under the ceiling, resolution is restored.
*/
package autoexposure

import (
	"fmt"
	"math"
	"time"

	"github.com/nasa-jpl/asicam/camera"
	"github.com/nasa-jpl/asicam/util"
)

// FullScale is the divisor that maps a 16-bit pixel value onto [0, 1)
const FullScale = 65536

// floor stands in for a black frame so the scale factor stays finite
const floor = 1. / FullScale

// Setting is an exposure time and square binning factor
type Setting struct {
	Exposure time.Duration
	Bin      int
}

// Stats summarizes a frame for the advisor
type Stats struct {
	// Observed is the measured percentile, normalized to [0, 1]
	Observed float64

	// Samples is the number of pixels the percentile was taken over
	Samples int
}

// Params are the targets and bounds of the feedback loop
type Params struct {
	// Percentile of the pixel distribution to drive, in (0, 100]
	Percentile float64

	// Target brightness on [0, 1]
	Target float64

	// Tolerance is the half width of the converged band, > 0
	Tolerance float64

	// MinExposure and MaxExposure bound every recommendation
	MinExposure time.Duration
	MaxExposure time.Duration

	// MaxBin is the largest binning the advisor will move to
	MaxBin int

	// Bins is the set of binning factors the camera supports.  If empty,
	// every factor from 1 to MaxBin is assumed.
	Bins []int

	// MinSamples is the fewest pixels a frame needs to be acted on
	MinSamples int
}

// Validate returns an error wrapping camera.ErrInvalidParameter if p cannot
// be used
func (p Params) Validate() error {
	switch {
	case !(p.Tolerance > 0):
		return fmt.Errorf("%w: tolerance %v must be positive", camera.ErrInvalidParameter, p.Tolerance)
	case !(p.Percentile > 0 && p.Percentile <= 100):
		return fmt.Errorf("%w: percentile %v not in (0, 100]", camera.ErrInvalidParameter, p.Percentile)
	case !(p.Target > 0 && p.Target <= 1):
		return fmt.Errorf("%w: target %v not in (0, 1]", camera.ErrInvalidParameter, p.Target)
	case p.MinExposure <= 0 || p.MaxExposure < p.MinExposure:
		return fmt.Errorf("%w: exposure bounds [%v, %v]", camera.ErrInvalidParameter, p.MinExposure, p.MaxExposure)
	case p.MaxBin < 1:
		return fmt.Errorf("%w: max binning %d must be at least 1", camera.ErrInvalidParameter, p.MaxBin)
	case p.MinSamples < 0:
		return fmt.Errorf("%w: min samples %d is negative", camera.ErrInvalidParameter, p.MinSamples)
	}
	return nil
}

// Percentile returns the pct-th percentile of px, normalized to [0, 1).
// The pixel at rank floor(pct/100 * (n-1)) is selected from a histogram of
// all 65536 levels; above the 99.9th percentile the brightest pixel is used.
// An empty frame is 0.
func Percentile(px []uint16, pct float64) float64 {
	if len(px) == 0 {
		return 0
	}
	if pct > 99.9 {
		var max uint16
		for _, v := range px {
			if v > max {
				max = v
			}
		}
		return float64(max) / FullScale
	}
	pct = util.Clamp(pct, 0, 100)
	hist := make([]int, FullScale)
	for _, v := range px {
		hist[v]++
	}
	rank := int(math.Floor(pct / 100 * float64(len(px)-1)))
	seen := 0
	for level, n := range hist {
		seen += n
		if seen > rank {
			return float64(level) / FullScale
		}
	}
	return float64(FullScale-1) / FullScale
}

// Measure computes the Stats of px at percentile pct
func Measure(px []uint16, pct float64) Stats {
	return Stats{Observed: Percentile(px, pct), Samples: len(px)}
}

// Recommend computes the next exposure and binning from the statistics of a
// frame taken at cur.  cur is returned unchanged when the frame is within
// tolerance of the target or has fewer than MinSamples pixels.  The returned
// exposure is always inside [MinExposure, MaxExposure].
func Recommend(s Stats, cur Setting, p Params) (Setting, error) {
	if err := p.Validate(); err != nil {
		return cur, err
	}
	if cur.Bin < 1 || cur.Exposure <= 0 {
		return cur, fmt.Errorf("%w: current setting %v at bin %d", camera.ErrInvalidParameter, cur.Exposure, cur.Bin)
	}
	if s.Samples < p.MinSamples {
		return cur, nil
	}
	obs := s.Observed
	if obs < floor || math.IsNaN(obs) {
		obs = floor
	}
	if math.Abs(obs-p.Target) <= p.Tolerance {
		return cur, nil
	}
	scale := p.Target / obs
	desired := util.ScaleDuration(cur.Exposure, scale)
	next := Setting{
		Exposure: util.ClampDuration(desired, p.MinExposure, p.MaxExposure),
		Bin:      cur.Bin,
	}
	under := obs < p.Target

	// signal goes with the square of the binning factor
	if under && desired >= p.MaxExposure {
		if up, ok := p.coarser(cur.Bin); ok {
			r := float64(cur.Bin) / float64(up)
			return Setting{
				Exposure: util.ClampDuration(util.ScaleDuration(desired, r*r), p.MinExposure, p.MaxExposure),
				Bin:      up,
			}, nil
		}
		return next, nil
	}
	if !under {
		if down, ok := p.finer(cur.Bin); ok {
			r := float64(cur.Bin) / float64(down)
			if e := util.ScaleDuration(desired, r*r); e <= p.MaxExposure && e >= p.MinExposure {
				return Setting{Exposure: e, Bin: down}, nil
			}
		}
	}
	return next, nil
}

// RecommendFrame measures f and recommends the setting to follow it
func RecommendFrame(f camera.Frame, p Params) (Setting, error) {
	return Recommend(Measure(f.Pixels, p.Percentile), Setting{Exposure: f.Exposure, Bin: f.ROI.BinX}, p)
}

func (p Params) allowed(b int) bool {
	if b < 1 || b > p.MaxBin {
		return false
	}
	if len(p.Bins) == 0 {
		return true
	}
	for _, v := range p.Bins {
		if v == b {
			return true
		}
	}
	return false
}

// coarser is the next allowed binning above b
func (p Params) coarser(b int) (int, bool) {
	for n := b + 1; n <= p.MaxBin; n++ {
		if p.allowed(n) {
			return n, true
		}
	}
	return b, false
}

// finer is the next allowed binning below b
func (p Params) finer(b int) (int, bool) {
	for n := b - 1; n >= 1; n-- {
		if p.allowed(n) {
			return n, true
		}
	}
	return b, false
}
