package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidID is generated when a camera index or handle is unknown to
	// the driver, including when no cameras are connected.  It is fatal.
	ErrInvalidID = errors.New("invalid camera ID")

	// ErrCameraRemoved is generated when the camera disappears mid-operation.
	// It is fatal.
	ErrCameraRemoved = errors.New("camera removed")

	// ErrCameraClosed is generated by every operation after the controller
	// has entered the Closed state.  It is fatal.
	ErrCameraClosed = errors.New("camera closed")

	// ErrCameraBusy is generated when configuration is changed while a
	// capture is in progress.  Retry once the capture completes.
	ErrCameraBusy = errors.New("camera busy, capture in progress")

	// ErrInvalidROI is generated when an ROI violates the sensor geometry or
	// uses an unsupported binning factor
	ErrInvalidROI = errors.New("invalid ROI")

	// ErrExposureOutOfRange is generated when an exposure lies outside the
	// camera's [min, max].  Values are never clamped.
	ErrExposureOutOfRange = errors.New("exposure out of range")

	// ErrInvalidParameter is generated for any other invalid argument
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ExposureFailedError is a transient failure of a single exposure
type ExposureFailedError struct {
	Msg string
}

// Error satisfies the error interface
func (e *ExposureFailedError) Error() string {
	return "exposure failed: " + e.Msg
}

// DeviceError is a generic driver failure that does not fit another kind
type DeviceError struct {
	// Op is the driver call that failed
	Op string

	// Code is the driver's error code, if it has one
	Code int

	// Msg is the driver's name for the code
	Msg string
}

// Error satisfies the error interface
func (e *DeviceError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("device error in %s: code %d", e.Op, e.Code)
	}
	return fmt.Sprintf("device error in %s: %s (%d)", e.Op, e.Msg, e.Code)
}

// IsFatal returns true for the errors that end the capture loop: the camera
// is gone, was never there, or the controller has been closed
func IsFatal(err error) bool {
	return errors.Is(err, ErrCameraClosed) ||
		errors.Is(err, ErrCameraRemoved) ||
		errors.Is(err, ErrInvalidID)
}

// IsExposureFailed returns true if err is or wraps an *ExposureFailedError
func IsExposureFailed(err error) bool {
	var ef *ExposureFailedError
	return errors.As(err, &ef)
}
