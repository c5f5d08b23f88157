package asi

import (
	"fmt"

	"github.com/nasa-jpl/asicam/camera"
)

// Code is an ASI_ERROR_CODE returned by the SDK
type Code int

// these mirror ASI_ERROR_CODE in ASICamera2.h
const (
	Success Code = iota
	InvalidIndex
	InvalidID
	InvalidControlType
	CameraClosed
	CameraRemoved
	InvalidPath
	InvalidFileFormat
	InvalidSize
	InvalidImageType
	OutOfBoundary
	Timeout
	InvalidSequence
	BufferTooSmall
	VideoModeActive
	ExposureInProgress
	GeneralError
	InvalidMode
)

// ErrCodes maps error codes to their names in the SDK
var ErrCodes = map[Code]string{
	Success:            "ASI_SUCCESS",
	InvalidIndex:       "ASI_ERROR_INVALID_INDEX",
	InvalidID:          "ASI_ERROR_INVALID_ID",
	InvalidControlType: "ASI_ERROR_INVALID_CONTROL_TYPE",
	CameraClosed:       "ASI_ERROR_CAMERA_CLOSED",
	CameraRemoved:      "ASI_ERROR_CAMERA_REMOVED",
	InvalidPath:        "ASI_ERROR_INVALID_PATH",
	InvalidFileFormat:  "ASI_ERROR_INVALID_FILEFORMAT",
	InvalidSize:        "ASI_ERROR_INVALID_SIZE",
	InvalidImageType:   "ASI_ERROR_INVALID_IMGTYPE",
	OutOfBoundary:      "ASI_ERROR_OUTOF_BOUNDARY",
	Timeout:            "ASI_ERROR_TIMEOUT",
	InvalidSequence:    "ASI_ERROR_INVALID_SEQUENCE",
	BufferTooSmall:     "ASI_ERROR_BUFFER_TOO_SMALL",
	VideoModeActive:    "ASI_ERROR_VIDEO_MODE_ACTIVE",
	ExposureInProgress: "ASI_ERROR_EXPOSURE_IN_PROGRESS",
	GeneralError:       "ASI_ERROR_GENERAL_ERROR",
	InvalidMode:        "ASI_ERROR_INVALID_MODE",
}

func (c Code) String() string {
	if s, ok := ErrCodes[c]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_ERROR_CODE(%d)", int(c))
}

// roiCalls are the SDK calls whose size and boundary errors describe the ROI.
// Elsewhere those codes mean a value the device refused.
var roiCalls = map[string]bool{
	"ASISetROIFormat": true,
	"ASISetStartPos":  true,
}

// Error converts the return of SDK call op into an error in the camera
// package's vocabulary.  Success is nil.
func Error(op string, code Code) error {
	if (code == InvalidSize || code == OutOfBoundary) && !roiCalls[op] {
		return &camera.DeviceError{Op: op, Code: int(code), Msg: code.String()}
	}
	switch code {
	case Success:
		return nil
	case InvalidIndex, InvalidID:
		return fmt.Errorf("%s: %s: %w", op, code, camera.ErrInvalidID)
	case CameraClosed:
		return fmt.Errorf("%s: %s: %w", op, code, camera.ErrCameraClosed)
	case CameraRemoved:
		return fmt.Errorf("%s: %s: %w", op, code, camera.ErrCameraRemoved)
	case InvalidSize, OutOfBoundary:
		return fmt.Errorf("%s: %s: %w", op, code, camera.ErrInvalidROI)
	case InvalidControlType, InvalidImageType, InvalidMode:
		return fmt.Errorf("%s: %s: %w", op, code, camera.ErrInvalidParameter)
	case ExposureInProgress, VideoModeActive:
		return fmt.Errorf("%s: %s: %w", op, code, camera.ErrCameraBusy)
	default:
		return &camera.DeviceError{Op: op, Code: int(code), Msg: code.String()}
	}
}
