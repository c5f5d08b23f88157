package camera

import (
	"errors"
	"testing"
	"time"
)

var props = Properties{
	SensorWidth:   3096,
	SensorHeight:  2080,
	SupportedBins: []int{1, 2, 3, 4},
	MinExposure:   32 * time.Microsecond,
	MaxExposure:   2000 * time.Second,
}

func TestROIDimensions(t *testing.T) {
	r := ROI{XMin: 300, YMin: 800, XMax: 2700, YMax: 2100, BinX: 1, BinY: 1}
	if w, h, n := r.Width(), r.Height(), r.Pixels(); w != 2400 || h != 1300 || n != 2400*1300 {
		t.Errorf("expected 2400x1300 (%d px), got %dx%d (%d px)", 2400*1300, w, h, n)
	}
}

func TestFullFrame(t *testing.T) {
	r := FullFrame(props, 2)
	expected := ROI{XMax: 1548, YMax: 1040, BinX: 2, BinY: 2}
	if r != expected {
		t.Errorf("expected %v got %v", expected, r)
	}
	if err := r.Validate(props); err != nil {
		t.Error(err)
	}
	if r := FullFrame(props, 0); r.BinX != 1 {
		t.Errorf("expected nonpositive bin to mean 1, got %d", r.BinX)
	}
}

func TestValidateEdges(t *testing.T) {
	ok := ROI{XMin: 1031, YMin: 692, XMax: 1032, YMax: 693, BinX: 3, BinY: 3}
	if err := ok.Validate(props); err != nil {
		t.Errorf("expected a single binned pixel at the corner to be valid, got %v", err)
	}
	bad := ok
	bad.XMax++
	if err := bad.Validate(props); !errors.Is(err, ErrInvalidROI) {
		t.Errorf("expected ErrInvalidROI past the binned edge, got %v", err)
	}
}

func TestRebin(t *testing.T) {
	tests := []struct {
		name     string
		in       ROI
		bin      int
		expected ROI
	}{
		{"up", ROI{XMin: 300, YMin: 800, XMax: 2700, YMax: 2080, BinX: 1, BinY: 1}, 2,
			ROI{XMin: 150, YMin: 400, XMax: 1350, YMax: 1040, BinX: 2, BinY: 2}},
		{"down", ROI{XMin: 150, YMin: 400, XMax: 1350, YMax: 1040, BinX: 2, BinY: 2}, 1,
			ROI{XMin: 300, YMin: 800, XMax: 2700, YMax: 2080, BinX: 1, BinY: 1}},
		{"clipped", ROI{XMin: 0, YMin: 0, XMax: 3096, YMax: 2080, BinX: 1, BinY: 1}, 4,
			ROI{XMin: 0, YMin: 0, XMax: 774, YMax: 520, BinX: 4, BinY: 4}},
		{"collapsed", ROI{XMin: 5, YMin: 5, XMax: 6, YMax: 6, BinX: 1, BinY: 1}, 4,
			ROI{XMin: 1, YMin: 1, XMax: 2, YMax: 2, BinX: 4, BinY: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Rebin(props, tt.bin)
			if got != tt.expected {
				t.Errorf("expected %v got %v", tt.expected, got)
			}
			if err := got.Validate(props); err != nil {
				t.Errorf("rebinned ROI is invalid: %v", err)
			}
		})
	}
}

func TestParseImageFormat(t *testing.T) {
	for in, expected := range map[string]ImageFormat{"": RAW16, "RAW16": RAW16, "raw8": RAW8} {
		got, err := ParseImageFormat(in)
		if err != nil || got != expected {
			t.Errorf("%q: expected %v got %v (%v)", in, expected, got, err)
		}
	}
	if _, err := ParseImageFormat("RGB24"); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestRebinKeepsReadoutSteps(t *testing.T) {
	p := props
	p.WidthStep, p.HeightStep = 8, 2
	in := ROI{XMin: 300, YMin: 800, XMax: 2700, YMax: 2100, BinX: 1, BinY: 1}
	for _, bin := range []int{1, 2, 3, 4} {
		r := in.Rebin(p, bin)
		if r.Width()%8 != 0 || r.Height()%2 != 0 {
			t.Errorf("bin %d: expected a multiple of 8x2, got %dx%d (%v)", bin, r.Width(), r.Height(), r)
		}
		if err := r.Validate(p); err != nil {
			t.Errorf("bin %d: rebinned ROI is invalid: %v", bin, err)
		}
	}
	expected := ROI{XMin: 100, YMin: 266, XMax: 900, YMax: 692, BinX: 3, BinY: 3}
	if got := in.Rebin(p, 3); got != expected {
		t.Errorf("expected %v got %v", expected, got)
	}
	if r := FullFrame(p, 3); r.XMax != 1032 || r.YMax != 692 {
		t.Errorf("expected a 1032x692 full frame at bin 3, got %v", r)
	}
	odd := ROI{XMin: 100, YMin: 266, XMax: 900, YMax: 693, BinX: 3, BinY: 3}
	if err := odd.Validate(p); !errors.Is(err, ErrInvalidROI) {
		t.Errorf("expected an odd height to be rejected, got %v", err)
	}
}
