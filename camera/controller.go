package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/nasa-jpl/asicam/util"
)

// State is the controller's position in its capture state machine
type State int

const (
	// Idle means no capture is in progress and configuration may change
	Idle State = iota

	// Exposing means the sensor is integrating
	Exposing

	// Downloading means the frame is being transferred from the camera
	Downloading

	// Closed means the camera is gone; every operation fails
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Exposing:
		return "Exposing"
	case Downloading:
		return "Downloading"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	// DefaultWaitMargin is how long past the exposure time WaitExposure keeps
	// polling before it gives up on the exposure
	DefaultWaitMargin = 5 * time.Second

	// DefaultPollInterval is the longest gap between two completion polls
	DefaultPollInterval = 500 * time.Millisecond
)

// errNotReady is returned by a completion poll that found the exposure still running
var errNotReady = errors.New("exposure not complete")

// Settings is a snapshot of the controller's cached configuration
type Settings struct {
	State             State         `json:"state"`
	ROI               ROI           `json:"roi"`
	Exposure          time.Duration `json:"exposure"`
	Gain              int           `json:"gain"`
	Format            ImageFormat   `json:"format"`
	TargetTemperature float64       `json:"targetTemperature"`
	Cooler            bool          `json:"cooler"`
}

// Controller owns a Device and is the single point through which it is
// configured and read.  It is safe for concurrent use; all device calls are
// serialized behind one mutex.
type Controller struct {
	mu  sync.Mutex
	dev Device
	log *slog.Logger

	props    Properties
	state    State
	roi      ROI
	exposure time.Duration
	gain     int
	format   ImageFormat
	setpoint float64
	cooler   bool
	session  *Session

	// WaitMargin is added to the exposure time to bound WaitExposure
	WaitMargin time.Duration

	// PollInterval caps the gap between completion polls
	PollInterval time.Duration
}

// Open enumerates the cameras known to drv, opens the first one and wraps it
// in a Controller.  Transient driver errors during enumeration are retried
// with backoff until ctx is done.
func Open(ctx context.Context, drv Driver, log *slog.Logger) (*Controller, error) {
	var cams []Info
	op := func() error {
		var err error
		cams, err = drv.Cameras()
		if err != nil && IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("enumerating cameras: %w", err)
	}
	if len(cams) == 0 {
		return nil, fmt.Errorf("no cameras connected: %w", ErrInvalidID)
	}
	dev, err := drv.Open(cams[0].ID)
	if err != nil {
		return nil, fmt.Errorf("opening camera %d (%s): %w", cams[0].ID, cams[0].Name, err)
	}
	c, err := New(dev, log)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an already opened device.  The camera properties are fetched once
// here, and the current ROI, exposure, gain and format are read back to seed
// the controller's view of the device.
func New(dev Device, log *slog.Logger) (*Controller, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		dev:          dev,
		log:          log,
		setpoint:     math.NaN(),
		WaitMargin:   DefaultWaitMargin,
		PollInterval: DefaultPollInterval,
	}
	var err error
	if c.props, err = dev.Properties(); err != nil {
		return nil, fmt.Errorf("reading camera properties: %w", err)
	}
	if c.roi, err = dev.ROI(); err != nil {
		return nil, fmt.Errorf("reading ROI: %w", err)
	}
	if c.exposure, err = dev.Exposure(); err != nil {
		return nil, fmt.Errorf("reading exposure: %w", err)
	}
	if c.gain, err = dev.Gain(); err != nil {
		return nil, fmt.Errorf("reading gain: %w", err)
	}
	if c.format, err = dev.ImageFormat(); err != nil {
		return nil, fmt.Errorf("reading image format: %w", err)
	}
	log.Info("camera opened", "name", c.props.Name, "id", c.props.ID,
		"width", c.props.SensorWidth, "height", c.props.SensorHeight,
		"bins", util.IntSliceToCSV(c.props.SupportedBins), "minExposure", c.props.MinExposure, "maxExposure", c.props.MaxExposure)
	return c, nil
}

// fail inspects a device error, moving to Closed if it is terminal.
// c.mu must be held.
func (c *Controller) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) {
		if c.state != Closed {
			c.log.Error("camera lost, controller closed", "op", op, "err", err)
		}
		c.state = Closed
		c.session = nil
		return fmt.Errorf("%s: %w", op, err)
	}
	var de *DeviceError
	if IsExposureFailed(err) || errors.As(err, &de) || errors.Is(err, ErrInvalidROI) ||
		errors.Is(err, ErrExposureOutOfRange) || errors.Is(err, ErrInvalidParameter) || errors.Is(err, ErrCameraBusy) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &DeviceError{Op: op, Msg: err.Error()}
}

// checkConfigurable returns an error if configuration may not change now.
// c.mu must be held.
func (c *Controller) checkConfigurable() error {
	switch c.state {
	case Closed:
		return ErrCameraClosed
	case Exposing, Downloading:
		return ErrCameraBusy
	}
	return nil
}

// Properties returns the camera properties fetched at open time
func (c *Controller) Properties() Properties {
	return c.props
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Settings returns the cached configuration without touching the device
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Settings{
		State:             c.state,
		ROI:               c.roi,
		Exposure:          c.exposure,
		Gain:              c.gain,
		Format:            c.format,
		TargetTemperature: c.setpoint,
		Cooler:            c.cooler,
	}
}

// Exposure returns the programmed exposure time
func (c *Controller) Exposure() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposure
}

// Binning returns the current square binning factor
func (c *Controller) Binning() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roi.BinX
}

// ROI reads the region of interest back from the device
func (c *Controller) ROI() (ROI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ROI{}, ErrCameraClosed
	}
	r, err := c.dev.ROI()
	if err != nil {
		return ROI{}, c.fail("ROI", err)
	}
	return r, nil
}

// SetROI validates r against the sensor and programs it.  It is rejected with
// ErrCameraBusy while a capture is in progress.
func (c *Controller) SetROI(r ROI) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setROI(r)
}

func (c *Controller) setROI(r ROI) error {
	if err := c.checkConfigurable(); err != nil {
		return err
	}
	if err := r.Validate(c.props); err != nil {
		return err
	}
	if err := c.dev.SetROI(r); err != nil {
		return c.fail("SetROI", err)
	}
	c.roi = r
	c.log.Debug("ROI set", "roi", r.String())
	return nil
}

// SetBinning changes the binning factor, rescaling the current ROI so it
// covers the same part of the sensor.  ROI and binning are sent together.
func (c *Controller) SetBinning(bin int) error {
	return c.SetBinningContext(context.Background(), bin)
}

// SetBinningContext is SetBinning, refused without touching the device once
// ctx is done
func (c *Controller) SetBinningContext(ctx context.Context, bin int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.checkConfigurable(); err != nil {
		return err
	}
	return c.setROI(c.roi.Rebin(c.props, bin))
}

// SetExposure programs the exposure time.  Values outside the camera's range
// fail with ErrExposureOutOfRange; they are not clamped.
func (c *Controller) SetExposure(d time.Duration) error {
	return c.SetExposureContext(context.Background(), d)
}

// SetExposureContext is SetExposure, refused without touching the device once
// ctx is done
func (c *Controller) SetExposureContext(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.checkConfigurable(); err != nil {
		return err
	}
	if d < c.props.MinExposure || d > c.props.MaxExposure {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrExposureOutOfRange, d, c.props.MinExposure, c.props.MaxExposure)
	}
	if err := c.dev.SetExposure(d); err != nil {
		return c.fail("SetExposure", err)
	}
	c.exposure = d
	return nil
}

// SetGain sets the raw gain
func (c *Controller) SetGain(g int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkConfigurable(); err != nil {
		return err
	}
	if g < 0 {
		return fmt.Errorf("%w: gain %d is negative", ErrInvalidParameter, g)
	}
	if err := c.dev.SetGain(g); err != nil {
		return c.fail("SetGain", err)
	}
	c.gain = g
	return nil
}

// SetImageFormat sets the readout format
func (c *Controller) SetImageFormat(f ImageFormat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkConfigurable(); err != nil {
		return err
	}
	if f != RAW8 && f != RAW16 {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, f)
	}
	if err := c.dev.SetImageFormat(f); err != nil {
		return c.fail("SetImageFormat", err)
	}
	c.format = f
	return nil
}

// SetTemperature sets the cooler target temperature in Celsius
func (c *Controller) SetTemperature(t float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ErrCameraClosed
	}
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: temperature %v", ErrInvalidParameter, t)
	}
	if err := c.dev.SetTemperature(t); err != nil {
		return c.fail("SetTemperature", err)
	}
	c.setpoint = t
	return nil
}

// SetCooler turns the TEC on or off
func (c *Controller) SetCooler(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ErrCameraClosed
	}
	if err := c.dev.SetCooler(on); err != nil {
		return c.fail("SetCooler", err)
	}
	c.cooler = on
	return nil
}

// Temperature reads the sensor temperature in Celsius.  It may be called
// while a capture is in progress.
func (c *Controller) Temperature() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return math.NaN(), ErrCameraClosed
	}
	t, err := c.dev.Temperature()
	if err != nil {
		return math.NaN(), c.fail("Temperature", err)
	}
	return t, nil
}

// CoolerPower reads the TEC drive level in percent.  It may be called while a
// capture is in progress.
func (c *Controller) CoolerPower() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return math.NaN(), ErrCameraClosed
	}
	p, err := c.dev.CoolerPower()
	if err != nil {
		return math.NaN(), c.fail("CoolerPower", err)
	}
	return p, nil
}

// CancelCapture aborts any exposure in progress and returns to Idle.  It is
// safe to call when nothing is being captured.
func (c *Controller) CancelCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ErrCameraClosed
	}
	err := c.dev.CancelCapture()
	if c.state != Idle {
		c.log.Debug("capture cancelled", "state", c.state.String())
	}
	c.state = Idle
	c.session = nil
	return c.fail("CancelCapture", err)
}

// Session returns a copy of the active capture session, if there is one
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// StartExposure begins an exposure.  It is refused once ctx is done, so no
// exposure can start after termination has been observed.
func (c *Controller) StartExposure(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.checkConfigurable(); err != nil {
		return err
	}
	start := time.Now()
	if err := c.dev.StartExposure(); err != nil {
		return c.fail("StartExposure", err)
	}
	c.state = Exposing
	c.session = &Session{
		ID:       uuid.NewString(),
		Exposure: c.exposure,
		ROI:      c.roi,
		Format:   c.format,
		Start:    start,
	}
	return nil
}

// WaitExposure blocks until the exposure in progress completes.
//
// If ctx is done first, the context error is returned and the device is not
// touched; the exposure is left for CancelCapture.  If the exposure has not
// completed within its duration plus WaitMargin, it is cancelled and an
// *ExposureFailedError is returned.
func (c *Controller) WaitExposure(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrCameraClosed
	}
	if c.state != Exposing || c.session == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no exposure in progress", ErrInvalidParameter)
	}
	sess := *c.session
	c.mu.Unlock()

	// most of the time is spent integrating, no point asking before then
	if remain := time.Until(sess.Start.Add(sess.Exposure)); remain > 0 {
		t := time.NewTimer(remain)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("waiting for exposure: %w", ctx.Err())
		case <-t.C:
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = c.PollInterval
	b.MaxElapsedTime = c.WaitMargin
	op := func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state != Exposing || c.session == nil || c.session.ID != sess.ID {
			// cancelled or closed underneath us
			if c.state == Closed {
				return backoff.Permanent(ErrCameraClosed)
			}
			return backoff.Permanent(&ExposureFailedError{Msg: "exposure cancelled"})
		}
		ready, err := c.dev.ImageReady()
		if err != nil {
			if IsExposureFailed(err) {
				c.state = Idle
				c.session = nil
				return backoff.Permanent(err)
			}
			err = c.fail("ImageReady", err)
			if c.state == Closed {
				return backoff.Permanent(err)
			}
			return err
		}
		if !ready {
			return errNotReady
		}
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		return fmt.Errorf("waiting for exposure: %w", ctxErr)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, errNotReady) || !(IsFatal(err) || IsExposureFailed(err)) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == Exposing {
			if cerr := c.dev.CancelCapture(); cerr != nil {
				c.log.Warn("cancelling timed out exposure", "err", cerr)
				if ferr := c.fail("CancelCapture", cerr); c.state == Closed {
					return ferr
				}
			}
			c.state = Idle
			c.session = nil
		}
		return &ExposureFailedError{Msg: fmt.Sprintf("not complete %v after %v exposure: %v", c.WaitMargin, sess.Exposure, err)}
	}
	return err
}

// Download transfers the completed exposure and returns to Idle
func (c *Controller) Download() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return Frame{}, ErrCameraClosed
	}
	if c.state != Exposing || c.session == nil {
		return Frame{}, fmt.Errorf("%w: no exposure to download", ErrInvalidParameter)
	}
	sess := *c.session
	c.state = Downloading
	px, err := c.dev.DownloadImage()
	if err != nil {
		err = c.fail("DownloadImage", err)
		if c.state != Closed {
			c.state = Idle
			c.session = nil
		}
		return Frame{}, err
	}
	c.state = Idle
	c.session = nil
	if len(px) != sess.ROI.Pixels() {
		return Frame{}, &ExposureFailedError{Msg: fmt.Sprintf("frame has %d pixels, expected %d", len(px), sess.ROI.Pixels())}
	}
	temp, err := c.dev.Temperature()
	if err != nil {
		temp = math.NaN()
		if ferr := c.fail("Temperature", err); c.state == Closed {
			return Frame{}, ferr
		}
	}
	return Frame{
		Pixels:      px,
		Width:       sess.ROI.Width(),
		Height:      sess.ROI.Height(),
		ROI:         sess.ROI,
		Format:      sess.Format,
		Exposure:    sess.Exposure,
		Gain:        c.gain,
		Temperature: temp,
		Start:       sess.Start,
		Timestamp:   time.Now(),
		SessionID:   sess.ID,
		Camera:      c.props.Name,
	}, nil
}

// Capture runs one exposure-to-image cycle: start, wait, download
func (c *Controller) Capture(ctx context.Context) (Frame, error) {
	if err := c.StartExposure(ctx); err != nil {
		return Frame{}, err
	}
	if err := c.WaitExposure(ctx); err != nil {
		return Frame{}, err
	}
	return c.Download()
}

// Close releases the device.  The controller is Closed afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return nil
	}
	c.state = Closed
	c.session = nil
	return c.dev.Close()
}
