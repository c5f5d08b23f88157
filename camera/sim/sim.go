// Package sim provides a software camera that satisfies camera.Device.  It
// renders a synthetic star field whose brightness scales with exposure time
// and binning, and it can inject the faults real hardware produces.
package sim

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nasa-jpl/asicam/camera"
)

// DefaultProperties describes a 3096x2080 16-bit cooled camera
var DefaultProperties = camera.Properties{
	Name:          "Simulated ASI178MM Cool",
	ID:            0,
	SensorWidth:   3096,
	SensorHeight:  2080,
	BitDepth:      14,
	PixelSize:     2.4,
	SupportedBins: []int{1, 2, 3, 4},
	MinExposure:   32 * time.Microsecond,
	MaxExposure:   2000 * time.Second,
	Cooled:        true,
}

// Camera is a simulated camera.  It is safe for concurrent use, but it counts
// overlapping calls so tests can assert that its owner serialized them.
type Camera struct {
	mu sync.Mutex

	props    camera.Properties
	roi      camera.ROI
	exposure time.Duration
	gain     int
	format   camera.ImageFormat
	setpoint float64
	temp     float64
	cooler   bool

	exposing bool
	start    time.Time
	ready    bool

	removed bool
	closed  bool

	calls    map[string]int
	inflight int32
	overlaps int32

	// Rate is the signal in DN per second collected by one unbinned pixel
	// at the brightest point of the scene
	Rate float64

	// Instant makes exposures complete as soon as they start
	Instant bool

	// FailExposures is the number of upcoming exposures that report failure
	FailExposures int

	// Hang makes exposures never complete
	Hang bool

	// TelemetryErr, when non-nil, is returned by Temperature and CoolerPower
	TelemetryErr error

	// CallDelay is slept inside every call, to widen race windows in tests
	CallDelay time.Duration
}

// New returns a simulated camera with the given properties.  The ROI starts
// at full frame, unbinned.
func New(props camera.Properties) *Camera {
	return &Camera{
		props:    props,
		roi:      camera.FullFrame(props, 1),
		exposure: 100 * time.Millisecond,
		format:   camera.RAW16,
		temp:     20,
		setpoint: 20,
		calls:    make(map[string]int),
		Rate:     200000,
	}
}

// enter records a call and checks the camera is usable
func (c *Camera) enter(name string) func() {
	if atomic.AddInt32(&c.inflight, 1) > 1 {
		atomic.AddInt32(&c.overlaps, 1)
	}
	c.mu.Lock()
	c.calls[name]++
	delay := c.CallDelay
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return func() { atomic.AddInt32(&c.inflight, -1) }
}

// usable returns the error a call on a removed or closed camera gets.
// c.mu must be held.
func (c *Camera) usable() error {
	if c.removed {
		return camera.ErrCameraRemoved
	}
	if c.closed {
		return camera.ErrCameraClosed
	}
	return nil
}

// Calls returns how many times the named method has been called
func (c *Camera) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// Overlaps returns the number of calls that began while another was running
func (c *Camera) Overlaps() int {
	return int(atomic.LoadInt32(&c.overlaps))
}

// Remove simulates the camera being unplugged
func (c *Camera) Remove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = true
}

// Exposing returns true if the simulated sensor is integrating
func (c *Camera) Exposing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposing
}

// Cooler returns the commanded cooler state
func (c *Camera) Cooler() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cooler
}

// Properties satisfies camera.Device
func (c *Camera) Properties() (camera.Properties, error) {
	defer c.enter("Properties")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return camera.Properties{}, err
	}
	p := c.props
	p.SupportedBins = append([]int(nil), c.props.SupportedBins...)
	return p, nil
}

// Close satisfies camera.Device
func (c *Camera) Close() error {
	defer c.enter("Close")()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.exposing = false
	return nil
}

// Exposure satisfies camera.Device
func (c *Camera) Exposure() (time.Duration, error) {
	defer c.enter("Exposure")()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposure, c.usable()
}

// SetExposure satisfies camera.Device
func (c *Camera) SetExposure(d time.Duration) error {
	defer c.enter("SetExposure")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if d < c.props.MinExposure || d > c.props.MaxExposure {
		return camera.ErrExposureOutOfRange
	}
	c.exposure = d
	return nil
}

// ROI satisfies camera.Device
func (c *Camera) ROI() (camera.ROI, error) {
	defer c.enter("ROI")()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roi, c.usable()
}

// SetROI satisfies camera.Device
func (c *Camera) SetROI(r camera.ROI) error {
	defer c.enter("SetROI")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if c.exposing {
		return &camera.DeviceError{Op: "SetROI", Code: 15, Msg: "exposure in progress"}
	}
	if err := r.Validate(c.props); err != nil {
		return err
	}
	c.roi = r
	return nil
}

// Gain satisfies camera.Device
func (c *Camera) Gain() (int, error) {
	defer c.enter("Gain")()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain, c.usable()
}

// SetGain satisfies camera.Device
func (c *Camera) SetGain(g int) error {
	defer c.enter("SetGain")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	c.gain = g
	return nil
}

// ImageFormat satisfies camera.Device
func (c *Camera) ImageFormat() (camera.ImageFormat, error) {
	defer c.enter("ImageFormat")()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format, c.usable()
}

// SetImageFormat satisfies camera.Device
func (c *Camera) SetImageFormat(f camera.ImageFormat) error {
	defer c.enter("SetImageFormat")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	c.format = f
	return nil
}

// Temperature satisfies camera.Device.  The sensor relaxes toward the
// setpoint a little on every read while the cooler is on, and toward ambient
// otherwise.
func (c *Camera) Temperature() (float64, error) {
	defer c.enter("Temperature")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return math.NaN(), err
	}
	if c.TelemetryErr != nil {
		return math.NaN(), c.TelemetryErr
	}
	target := 20.
	if c.cooler {
		target = c.setpoint
	}
	c.temp += (target - c.temp) * 0.2
	return c.temp, nil
}

// SetTemperature satisfies camera.Device
func (c *Camera) SetTemperature(t float64) error {
	defer c.enter("SetTemperature")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if t < -60 || t > 40 {
		return &camera.DeviceError{Op: "SetTemperature", Code: 10, Msg: "out of boundary"}
	}
	c.setpoint = t
	return nil
}

// CoolerPower satisfies camera.Device
func (c *Camera) CoolerPower() (float64, error) {
	defer c.enter("CoolerPower")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return math.NaN(), err
	}
	if c.TelemetryErr != nil {
		return math.NaN(), c.TelemetryErr
	}
	if !c.cooler {
		return 0, nil
	}
	p := math.Abs(20-c.setpoint) * 2.5
	return math.Min(p, 100), nil
}

// SetCooler satisfies camera.Device
func (c *Camera) SetCooler(on bool) error {
	defer c.enter("SetCooler")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	c.cooler = on
	return nil
}

// StartExposure satisfies camera.Device
func (c *Camera) StartExposure() error {
	defer c.enter("StartExposure")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if c.exposing {
		return &camera.DeviceError{Op: "StartExposure", Code: 15, Msg: "exposure in progress"}
	}
	c.exposing = true
	c.ready = false
	c.start = time.Now()
	return nil
}

// ImageReady satisfies camera.Device
func (c *Camera) ImageReady() (bool, error) {
	defer c.enter("ImageReady")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return false, err
	}
	if !c.exposing {
		return c.ready, nil
	}
	if c.Hang {
		return false, nil
	}
	if !c.Instant && time.Since(c.start) < c.exposure {
		return false, nil
	}
	if c.FailExposures > 0 {
		c.FailExposures--
		c.exposing = false
		return false, &camera.ExposureFailedError{Msg: "simulated readout failure"}
	}
	c.exposing = false
	c.ready = true
	return true, nil
}

// DownloadImage satisfies camera.Device
func (c *Camera) DownloadImage() ([]uint16, error) {
	defer c.enter("DownloadImage")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return nil, err
	}
	if !c.ready {
		return nil, errors.New("no image ready")
	}
	c.ready = false
	return c.render(), nil
}

// CancelCapture satisfies camera.Device
func (c *Camera) CancelCapture() error {
	defer c.enter("CancelCapture")()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	c.exposing = false
	c.ready = false
	return nil
}

// render draws a frame for the current settings.  The scene is a smooth
// ramp from dark to Rate along y with a sprinkle of bright stars, so the
// upper percentiles scale linearly with exposure and binning area.
// c.mu must be held.
func (c *Camera) render() []uint16 {
	r := c.roi
	w, h := r.Width(), r.Height()
	out := make([]uint16, w*h)
	area := float64(r.BinX * r.BinY)
	scale := c.Rate * c.exposure.Seconds() * area
	full := float64(c.props.SensorHeight)
	rng := rand.New(rand.NewSource(int64(w*h) + c.exposure.Nanoseconds()))
	for y := 0; y < h; y++ {
		// position on the sensor in unbinned rows
		frac := float64((r.YMin+y)*r.BinY) / full
		for x := 0; x < w; x++ {
			v := scale * frac
			if rng.Intn(5000) == 0 {
				v = 65535
			}
			if c.format == camera.RAW8 {
				v = math.Floor(math.Min(v, 65535)/256) * 256
			}
			out[y*w+x] = uint16(math.Min(v, 65535))
		}
	}
	return out
}

// Driver is a camera.Driver over a fixed list of simulated cameras
type Driver struct {
	Cams []*Camera
}

// Cameras satisfies camera.Driver
func (d *Driver) Cameras() ([]camera.Info, error) {
	out := make([]camera.Info, 0, len(d.Cams))
	for i, c := range d.Cams {
		out = append(out, camera.Info{ID: i, Name: c.props.Name})
	}
	return out, nil
}

// Open satisfies camera.Driver
func (d *Driver) Open(id int) (camera.Device, error) {
	if id < 0 || id >= len(d.Cams) {
		return nil, camera.ErrInvalidID
	}
	c := d.Cams[id]
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()
	return c, nil
}
