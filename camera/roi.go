package camera

import "fmt"

// ROI is a rectangular region of the sensor plus binning factors.
//
// Coordinates are in binned pixels, 0-based, with XMax and YMax exclusive, so
// the frame is (XMax-XMin) x (YMax-YMin) pixels.  A valid ROI satisfies
// XMin < XMax <= SensorWidth/BinX and the same for y.
type ROI struct {
	XMin int `json:"x_min" yaml:"x_min" koanf:"x_min"`
	YMin int `json:"y_min" yaml:"y_min" koanf:"y_min"`
	XMax int `json:"x_max" yaml:"x_max" koanf:"x_max"`
	YMax int `json:"y_max" yaml:"y_max" koanf:"y_max"`
	BinX int `json:"bin_x" yaml:"bin_x" koanf:"bin_x"`
	BinY int `json:"bin_y" yaml:"bin_y" koanf:"bin_y"`
}

// Width is the width of the ROI in binned pixels
func (r ROI) Width() int {
	return r.XMax - r.XMin
}

// Height is the height of the ROI in binned pixels
func (r ROI) Height() int {
	return r.YMax - r.YMin
}

// Pixels is the number of pixels in a frame read out with this ROI
func (r ROI) Pixels() int {
	return r.Width() * r.Height()
}

func (r ROI) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d] bin %dx%d", r.XMin, r.XMax, r.YMin, r.YMax, r.BinX, r.BinY)
}

// FullFrame returns the ROI covering the whole sensor at binning bin, trimmed
// to the readout size steps of p
func FullFrame(p Properties, bin int) ROI {
	if bin < 1 {
		bin = 1
	}
	return ROI{XMax: p.SensorWidth / bin, YMax: p.SensorHeight / bin, BinX: bin, BinY: bin}.snap(p)
}

// Validate checks r against the sensor geometry and supported binning of p.
// The returned error wraps ErrInvalidROI.
func (r ROI) Validate(p Properties) error {
	if r.BinX < 1 || r.BinY < 1 {
		return fmt.Errorf("%w: binning %dx%d must be positive", ErrInvalidROI, r.BinX, r.BinY)
	}
	if !p.SupportsBin(r.BinX) || !p.SupportsBin(r.BinY) {
		return fmt.Errorf("%w: binning %dx%d not in supported set %v", ErrInvalidROI, r.BinX, r.BinY, p.SupportedBins)
	}
	if r.XMin < 0 || r.YMin < 0 {
		return fmt.Errorf("%w: negative origin (%d, %d)", ErrInvalidROI, r.XMin, r.YMin)
	}
	if r.XMin >= r.XMax {
		return fmt.Errorf("%w: x_min %d must be less than x_max %d", ErrInvalidROI, r.XMin, r.XMax)
	}
	if r.YMin >= r.YMax {
		return fmt.Errorf("%w: y_min %d must be less than y_max %d", ErrInvalidROI, r.YMin, r.YMax)
	}
	if ws, hs := p.Steps(); r.Width()%ws != 0 || r.Height()%hs != 0 {
		return fmt.Errorf("%w: %dx%d is not a multiple of %dx%d", ErrInvalidROI, r.Width(), r.Height(), ws, hs)
	}
	if w := p.SensorWidth / r.BinX; r.XMax > w {
		return fmt.Errorf("%w: x_max %d exceeds binned sensor width %d", ErrInvalidROI, r.XMax, w)
	}
	if h := p.SensorHeight / r.BinY; r.YMax > h {
		return fmt.Errorf("%w: y_max %d exceeds binned sensor height %d", ErrInvalidROI, r.YMax, h)
	}
	return nil
}

// Rebin returns r re-expressed at square binning bin.  The region covers the
// same area of the sensor, clipped to the binned sensor size and trimmed to
// the readout size steps of p.
func (r ROI) Rebin(p Properties, bin int) ROI {
	if bin < 1 {
		bin = 1
	}
	out := ROI{
		XMin: r.XMin * r.BinX / bin,
		YMin: r.YMin * r.BinY / bin,
		XMax: r.XMax * r.BinX / bin,
		YMax: r.YMax * r.BinY / bin,
		BinX: bin,
		BinY: bin,
	}
	return out.snap(p)
}

// snap shrinks r to whole readout steps, keeping at least one step and
// staying on the binned sensor
func (r ROI) snap(p Properties) ROI {
	ws, hs := p.Steps()
	r.XMin, r.XMax = snapSpan(r.XMin, r.XMax, p.SensorWidth/r.BinX, ws)
	r.YMin, r.YMax = snapSpan(r.YMin, r.YMax, p.SensorHeight/r.BinY, hs)
	return r
}

// snapSpan fits [lo, hi) into [0, limit) with a length that is a positive
// multiple of step.  lo moves down only when the span would overrun limit.
func snapSpan(lo, hi, limit, step int) (int, int) {
	if hi > limit {
		hi = limit
	}
	n := (hi - lo) / step * step
	if n < step {
		n = step
	}
	if room := limit / step * step; n > room {
		n = room
	}
	if lo+n > limit {
		lo = limit - n
	}
	if lo < 0 {
		lo = 0
	}
	return lo, lo + n
}
