/*
Package camera describes a cooled astronomical camera and the controller that
owns it.

The Device interface is the capability a vendor driver provides; package asi
implements it on top of the ZWO SDK and package camera/sim implements it in
software.  Controller wraps one Device and is the only thing in the program
that talks to it: every call is serialized behind the controller's mutex,
including the telemetry reads made by the housekeeping loop.
*/
package camera

import (
	"fmt"
	"time"
)

// ImageFormat is the pixel encoding the sensor is read out with
type ImageFormat int

const (
	// RAW8 is 8 bits per pixel
	RAW8 ImageFormat = iota

	// RAW16 is 16 bits per pixel
	RAW16
)

func (f ImageFormat) String() string {
	switch f {
	case RAW8:
		return "RAW8"
	case RAW16:
		return "RAW16"
	default:
		return fmt.Sprintf("ImageFormat(%d)", int(f))
	}
}

// ParseImageFormat converts "RAW8" or "RAW16" to an ImageFormat
func ParseImageFormat(s string) (ImageFormat, error) {
	switch s {
	case "RAW8", "raw8":
		return RAW8, nil
	case "RAW16", "raw16", "":
		return RAW16, nil
	}
	return RAW16, fmt.Errorf("%w: unknown image format %q", ErrInvalidParameter, s)
}

// BytesPerPixel is the size of one pixel on the wire
func (f ImageFormat) BytesPerPixel() int {
	if f == RAW8 {
		return 1
	}
	return 2
}

// Info is what a driver knows about a camera before it is opened
type Info struct {
	// ID is the driver's handle for the camera
	ID int

	// Name is the model name
	Name string
}

// Properties is a snapshot of the fixed capabilities of an opened camera.
// It is fetched once at open time and never changes afterwards.
type Properties struct {
	// Name is the camera model
	Name string

	// ID is the driver handle
	ID int

	// SensorWidth is the width of the sensor in unbinned pixels
	SensorWidth int

	// SensorHeight is the height of the sensor in unbinned pixels
	SensorHeight int

	// BitDepth is the ADC depth; 2^BitDepth is the maximum DN
	BitDepth int

	// PixelSize is the pixel pitch in microns
	PixelSize float64

	// SupportedBins lists the binning factors the camera accepts, ascending
	SupportedBins []int

	// WidthStep and HeightStep are the multiples the readout width and
	// height must be, in binned pixels.  Zero means any size.
	WidthStep  int
	HeightStep int

	// MinExposure is the shortest exposure the camera accepts
	MinExposure time.Duration

	// MaxExposure is the longest exposure the camera accepts
	MaxExposure time.Duration

	// Cooled is true if the camera has a TEC
	Cooled bool
}

// SupportsBin returns true if b is one of the supported binning factors
func (p Properties) SupportsBin(b int) bool {
	for _, s := range p.SupportedBins {
		if s == b {
			return true
		}
	}
	return false
}

// Steps returns the readout size multiples, at least 1 each
func (p Properties) Steps() (w, h int) {
	w, h = p.WidthStep, p.HeightStep
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// MaxBin returns the largest supported binning factor, or 1 if none are listed
func (p Properties) MaxBin() int {
	max := 1
	for _, s := range p.SupportedBins {
		if s > max {
			max = s
		}
	}
	return max
}

// Device is the capability a camera driver exposes.  None of its methods are
// assumed to be safe for concurrent use; Controller serializes them.
//
// Errors returned by a Device should wrap the sentinels in this package
// (ErrCameraRemoved, ErrInvalidID, ...) or be a *DeviceError so the
// controller can classify them.
type Device interface {
	// Properties fetches the fixed camera properties
	Properties() (Properties, error)

	// Close releases the camera
	Close() error

	// Exposure gets the programmed exposure time
	Exposure() (time.Duration, error)

	// SetExposure programs the exposure time
	SetExposure(time.Duration) error

	// ROI gets the region of interest and binning
	ROI() (ROI, error)

	// SetROI programs the region of interest and binning in one step
	SetROI(ROI) error

	// Gain gets the raw gain value
	Gain() (int, error)

	// SetGain sets the raw gain value
	SetGain(int) error

	// ImageFormat gets the readout format
	ImageFormat() (ImageFormat, error)

	// SetImageFormat sets the readout format
	SetImageFormat(ImageFormat) error

	// Temperature gets the sensor temperature in Celsius
	Temperature() (float64, error)

	// SetTemperature sets the cooler target temperature in Celsius
	SetTemperature(float64) error

	// CoolerPower gets the TEC drive level in percent
	CoolerPower() (float64, error)

	// SetCooler turns the TEC on or off
	SetCooler(bool) error

	// StartExposure begins an exposure with the programmed settings
	StartExposure() error

	// ImageReady returns true once the exposure has completed.  A failed
	// exposure is reported as an *ExposureFailedError.
	ImageReady() (bool, error)

	// DownloadImage transfers the completed exposure.  The returned slice
	// holds one value per pixel, row major, already widened to 16 bits.
	DownloadImage() ([]uint16, error)

	// CancelCapture aborts any exposure in progress.  It is not an error to
	// call it when no exposure is active.
	CancelCapture() error
}

// Driver enumerates and opens cameras
type Driver interface {
	// Cameras lists the connected cameras
	Cameras() ([]Info, error)

	// Open opens the camera with the given ID
	Open(id int) (Device, error)
}

// Frame is a downloaded image plus the settings it was taken with.
// It is not modified after Download returns it.
type Frame struct {
	// Pixels is the row-major image, 16 bits per pixel
	Pixels []uint16

	// Width is the image width in (binned) pixels
	Width int

	// Height is the image height in (binned) pixels
	Height int

	// ROI is the region of interest the frame was read out with
	ROI ROI

	// Format is the readout format
	Format ImageFormat

	// Exposure is the exposure time used
	Exposure time.Duration

	// Gain is the raw gain used
	Gain int

	// Temperature is the sensor temperature at download, NaN if unknown
	Temperature float64

	// Start is when the exposure was started
	Start time.Time

	// Timestamp is when the frame was downloaded
	Timestamp time.Time

	// SessionID identifies the capture session that produced the frame
	SessionID string

	// Camera is the model name
	Camera string
}

// Session is the transient state of one exposure-to-image cycle
type Session struct {
	// ID is unique per session
	ID string

	// Exposure is the exposure requested
	Exposure time.Duration

	// ROI is the region read out
	ROI ROI

	// Format is the readout format
	Format ImageFormat

	// Start is when the exposure was started
	Start time.Time
}
