package camera_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nasa-jpl/asicam/camera"
	"github.com/nasa-jpl/asicam/camera/sim"
)

var testProps = camera.Properties{
	Name:          "test cam",
	SensorWidth:   64,
	SensorHeight:  48,
	BitDepth:      16,
	SupportedBins: []int{1, 2, 4},
	MinExposure:   time.Microsecond,
	MaxExposure:   10 * time.Second,
	Cooled:        true,
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newController(t *testing.T) (*camera.Controller, *sim.Camera) {
	t.Helper()
	dev := sim.New(testProps)
	dev.Instant = true
	c, err := camera.New(dev, quiet())
	if err != nil {
		t.Fatalf("creating controller: %v", err)
	}
	if err := c.SetExposure(time.Millisecond); err != nil {
		t.Fatalf("setting exposure: %v", err)
	}
	return c, dev
}

func TestSetROIRoundTrip(t *testing.T) {
	c, _ := newController(t)
	rois := []camera.ROI{
		{XMin: 0, YMin: 0, XMax: 64, YMax: 48, BinX: 1, BinY: 1},
		{XMin: 10, YMin: 5, XMax: 20, YMax: 40, BinX: 1, BinY: 1},
		{XMin: 0, YMin: 0, XMax: 32, YMax: 24, BinX: 2, BinY: 2},
		{XMin: 3, YMin: 2, XMax: 16, YMax: 12, BinX: 4, BinY: 4},
		{XMin: 1, YMin: 1, XMax: 16, YMax: 48, BinX: 4, BinY: 1},
	}
	for _, r := range rois {
		if err := c.SetROI(r); err != nil {
			t.Errorf("expected %v to be accepted, got %v", r, err)
			continue
		}
		back, err := c.ROI()
		if err != nil {
			t.Fatal(err)
		}
		if back != r {
			t.Errorf("expected readback %v got %v", r, back)
		}
	}
}

func TestSetROIRejectsInvalidGeometry(t *testing.T) {
	c, _ := newController(t)
	before := c.Settings().ROI
	bad := []camera.ROI{
		{XMin: 10, YMin: 0, XMax: 10, YMax: 48, BinX: 1, BinY: 1}, // empty
		{XMin: 0, YMin: 0, XMax: 65, YMax: 48, BinX: 1, BinY: 1},  // too wide
		{XMin: 0, YMin: 0, XMax: 33, YMax: 24, BinX: 2, BinY: 2},  // too wide binned
		{XMin: 0, YMin: 0, XMax: 21, YMax: 16, BinX: 3, BinY: 3},  // unsupported bin
		{XMin: -1, YMin: 0, XMax: 10, YMax: 10, BinX: 1, BinY: 1}, // negative
		{XMin: 0, YMin: 0, XMax: 10, YMax: 10, BinX: 0, BinY: 1},  // zero bin
		{XMin: 0, YMin: 30, XMax: 10, YMax: 20, BinX: 1, BinY: 1}, // inverted
	}
	for _, r := range bad {
		err := c.SetROI(r)
		if !errors.Is(err, camera.ErrInvalidROI) {
			t.Errorf("expected ErrInvalidROI for %v, got %v", r, err)
		}
	}
	if after := c.Settings().ROI; after != before {
		t.Errorf("expected ROI to be untouched by rejected calls, was %v now %v", before, after)
	}
}

func TestConfigurationRejectedWhileExposing(t *testing.T) {
	c, dev := newController(t)
	dev.Instant = false
	dev.Hang = true
	if err := c.StartExposure(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.SetROI(camera.FullFrame(testProps, 2)); !errors.Is(err, camera.ErrCameraBusy) {
		t.Errorf("expected ErrCameraBusy from SetROI, got %v", err)
	}
	if err := c.SetExposure(2 * time.Millisecond); !errors.Is(err, camera.ErrCameraBusy) {
		t.Errorf("expected ErrCameraBusy from SetExposure, got %v", err)
	}
	if err := c.SetBinning(2); !errors.Is(err, camera.ErrCameraBusy) {
		t.Errorf("expected ErrCameraBusy from SetBinning, got %v", err)
	}
	if err := c.StartExposure(context.Background()); !errors.Is(err, camera.ErrCameraBusy) {
		t.Errorf("expected ErrCameraBusy from a second StartExposure, got %v", err)
	}
	if _, err := c.Temperature(); err != nil {
		t.Errorf("expected telemetry reads to work during an exposure, got %v", err)
	}
	if err := c.CancelCapture(); err != nil {
		t.Fatal(err)
	}
	if err := c.SetBinning(2); err != nil {
		t.Errorf("expected SetBinning to work once idle, got %v", err)
	}
}

func TestSetExposureIsNotClamped(t *testing.T) {
	c, _ := newController(t)
	for _, d := range []time.Duration{0, 11 * time.Second, -time.Second} {
		err := c.SetExposure(d)
		if !errors.Is(err, camera.ErrExposureOutOfRange) {
			t.Errorf("expected ErrExposureOutOfRange for %v, got %v", d, err)
		}
	}
	if got := c.Exposure(); got != time.Millisecond {
		t.Errorf("expected exposure to stay 1ms, got %v", got)
	}
}

func TestCaptureCycle(t *testing.T) {
	c, _ := newController(t)
	if err := c.SetROI(camera.ROI{XMin: 4, YMin: 4, XMax: 20, YMax: 12, BinX: 2, BinY: 2}); err != nil {
		t.Fatal(err)
	}
	f, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if len(f.Pixels) != 16*8 || f.Width != 16 || f.Height != 8 {
		t.Errorf("expected a 16x8 frame, got %dx%d with %d pixels", f.Width, f.Height, len(f.Pixels))
	}
	if f.ROI.BinX != 2 || f.Exposure != time.Millisecond {
		t.Errorf("expected frame metadata bin 2 exposure 1ms, got bin %d exposure %v", f.ROI.BinX, f.Exposure)
	}
	if f.SessionID == "" {
		t.Error("expected frame to carry a session ID")
	}
	if s := c.State(); s != camera.Idle {
		t.Errorf("expected Idle after capture, got %v", s)
	}
	if _, ok := c.Session(); ok {
		t.Error("expected session to be cleared after download")
	}
}

func TestCancelCaptureIsIdempotent(t *testing.T) {
	c, dev := newController(t)
	for i := 0; i < 3; i++ {
		if err := c.CancelCapture(); err != nil {
			t.Errorf("expected idle cancel %d to succeed, got %v", i, err)
		}
	}
	dev.Instant = false
	dev.Hang = true
	if err := c.StartExposure(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s := c.State(); s != camera.Exposing {
		t.Fatalf("expected Exposing, got %v", s)
	}
	if err := c.CancelCapture(); err != nil {
		t.Fatal(err)
	}
	if s := c.State(); s != camera.Idle {
		t.Errorf("expected Idle after cancel, got %v", s)
	}
	if dev.Exposing() {
		t.Error("expected device exposure to be stopped")
	}
}

func TestRemovedCameraClosesController(t *testing.T) {
	c, dev := newController(t)
	dev.Remove()
	err := c.SetExposure(2 * time.Millisecond)
	if !errors.Is(err, camera.ErrCameraRemoved) || !camera.IsFatal(err) {
		t.Errorf("expected fatal ErrCameraRemoved, got %v", err)
	}
	if s := c.State(); s != camera.Closed {
		t.Errorf("expected Closed, got %v", s)
	}
	checks := map[string]error{}
	checks["SetExposure"] = c.SetExposure(2 * time.Millisecond)
	checks["SetROI"] = c.SetROI(camera.FullFrame(testProps, 1))
	checks["SetTemperature"] = c.SetTemperature(-10)
	checks["CancelCapture"] = c.CancelCapture()
	checks["StartExposure"] = c.StartExposure(context.Background())
	_, checks["Temperature"] = c.Temperature()
	_, checks["Capture"] = c.Capture(context.Background())
	for name, err := range checks {
		if !errors.Is(err, camera.ErrCameraClosed) {
			t.Errorf("expected %s to fail with ErrCameraClosed, got %v", name, err)
		}
	}
}

func TestWaitExposureReturnsOnContextWithoutTouchingDevice(t *testing.T) {
	c, dev := newController(t)
	dev.Instant = false
	dev.Hang = true
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.StartExposure(ctx); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := c.WaitExposure(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := dev.Calls("CancelCapture"); n != 0 {
		t.Errorf("expected WaitExposure to leave cancellation to the caller, device cancelled %d times", n)
	}
	if s := c.State(); s != camera.Exposing {
		t.Errorf("expected exposure to still be in flight, got %v", s)
	}
	if err := c.StartExposure(ctx); err == nil {
		t.Error("expected StartExposure to refuse a done context")
	}
}

func TestWaitExposureTimesOut(t *testing.T) {
	c, dev := newController(t)
	c.WaitMargin = 30 * time.Millisecond
	c.PollInterval = 5 * time.Millisecond
	dev.Instant = false
	dev.Hang = true
	_, err := c.Capture(context.Background())
	if !camera.IsExposureFailed(err) {
		t.Fatalf("expected ExposureFailed on timeout, got %v", err)
	}
	if s := c.State(); s != camera.Idle {
		t.Errorf("expected Idle after timeout, got %v", s)
	}
	if n := dev.Calls("CancelCapture"); n != 1 {
		t.Errorf("expected the timed out exposure to be cancelled once, got %d", n)
	}
}

func TestFailedExposureReturnsToIdle(t *testing.T) {
	c, dev := newController(t)
	dev.FailExposures = 1
	_, err := c.Capture(context.Background())
	if !camera.IsExposureFailed(err) {
		t.Fatalf("expected ExposureFailed, got %v", err)
	}
	if camera.IsFatal(err) {
		t.Error("expected ExposureFailed to be recoverable")
	}
	if s := c.State(); s != camera.Idle {
		t.Errorf("expected Idle, got %v", s)
	}
	if _, err := c.Capture(context.Background()); err != nil {
		t.Errorf("expected the next capture to succeed, got %v", err)
	}
}

func TestSetTemperatureFailureIsDeviceError(t *testing.T) {
	c, _ := newController(t)
	err := c.SetTemperature(-200)
	var de *camera.DeviceError
	if !errors.As(err, &de) {
		t.Errorf("expected *DeviceError, got %v", err)
	}
	if err := c.SetTemperature(-10); err != nil {
		t.Errorf("expected -10C to be accepted, got %v", err)
	}
	if sp := c.Settings().TargetTemperature; sp != -10 {
		t.Errorf("expected setpoint -10 got %v", sp)
	}
}

func TestSetBinningRescalesROI(t *testing.T) {
	c, _ := newController(t)
	if err := c.SetROI(camera.ROI{XMin: 8, YMin: 4, XMax: 40, YMax: 36, BinX: 1, BinY: 1}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetBinning(2); err != nil {
		t.Fatal(err)
	}
	expected := camera.ROI{XMin: 4, YMin: 2, XMax: 20, YMax: 18, BinX: 2, BinY: 2}
	got, err := c.ROI()
	if err != nil {
		t.Fatal(err)
	}
	if got != expected {
		t.Errorf("expected %v got %v", expected, got)
	}
	if err := c.SetBinning(3); !errors.Is(err, camera.ErrInvalidROI) {
		t.Errorf("expected unsupported bin 3 to be rejected, got %v", err)
	}
}

func TestSetBinningHonorsReadoutSteps(t *testing.T) {
	p := testProps
	p.SupportedBins = []int{1, 2, 3, 4}
	p.WidthStep, p.HeightStep = 8, 2
	dev := sim.New(p)
	dev.Instant = true
	c, err := camera.New(dev, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetROI(camera.FullFrame(p, 1)); err != nil {
		t.Fatal(err)
	}
	if err := c.SetBinning(3); err != nil {
		t.Fatalf("expected bin 3 to be accepted, got %v", err)
	}
	got, err := c.ROI()
	if err != nil {
		t.Fatal(err)
	}
	expected := camera.ROI{XMax: 16, YMax: 16, BinX: 3, BinY: 3}
	if got != expected {
		t.Errorf("expected %v got %v", expected, got)
	}
}

func TestConfigurationRefusedAfterContextDone(t *testing.T) {
	c, dev := newController(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exp, roi := dev.Calls("SetExposure"), dev.Calls("SetROI")
	if err := c.SetExposureContext(ctx, 2*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := c.SetBinningContext(ctx, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if dev.Calls("SetExposure") != exp || dev.Calls("SetROI") != roi {
		t.Error("expected no device writes once the context is done")
	}
	if c.Exposure() != time.Millisecond || c.Binning() != 1 {
		t.Errorf("expected settings unchanged, got %v at bin %d", c.Exposure(), c.Binning())
	}
}

func TestDeviceAccessIsSerialized(t *testing.T) {
	c, dev := newController(t)
	dev.CallDelay = 100 * time.Microsecond
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				c.Temperature()
				c.CoolerPower()
			}
		}()
	}
	for i := 0; i < 10; i++ {
		if _, err := c.Capture(context.Background()); err != nil {
			t.Errorf("capture %d: %v", i, err)
		}
	}
	cancel()
	wg.Wait()
	if n := dev.Overlaps(); n != 0 {
		t.Errorf("expected no overlapping device calls, saw %d", n)
	}
}

func TestOpenWithoutCamerasIsInvalidID(t *testing.T) {
	_, err := camera.Open(context.Background(), &sim.Driver{}, quiet())
	if !errors.Is(err, camera.ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestOpenFirstCamera(t *testing.T) {
	drv := &sim.Driver{Cams: []*sim.Camera{sim.New(testProps), sim.New(sim.DefaultProperties)}}
	c, err := camera.Open(context.Background(), drv, quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if name := c.Properties().Name; name != testProps.Name {
		t.Errorf("expected the first camera %q, got %q", testProps.Name, name)
	}
}
