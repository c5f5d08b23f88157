//go:build asi

package asi

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -lASICamera2 -lusb-1.0 -lpthread -lm
#include <stdlib.h>
#include <ASICamera2.h>
*/
import "C"
import (
	"fmt"
	"math"
	"time"
	"unsafe"

	"github.com/nasa-jpl/asicam/camera"
)

// the SDK needs the readout width to be a multiple of 8 and the height of 2
const (
	widthStep  = 8
	heightStep = 2
)

// Driver enumerates ZWO cameras on the USB bus
type Driver struct{}

// Cameras satisfies camera.Driver
func (Driver) Cameras() ([]camera.Info, error) {
	n := int(C.ASIGetNumOfConnectedCameras())
	out := make([]camera.Info, 0, n)
	for i := 0; i < n; i++ {
		var info C.ASI_CAMERA_INFO
		if err := Error("ASIGetCameraProperty", Code(C.ASIGetCameraProperty(&info, C.int(i)))); err != nil {
			return out, err
		}
		out = append(out, camera.Info{ID: int(info.CameraID), Name: C.GoString(&info.Name[0])})
	}
	return out, nil
}

// Open satisfies camera.Driver.  The camera is opened and initialized.
func (Driver) Open(id int) (camera.Device, error) {
	cid := C.int(id)
	if err := Error("ASIOpenCamera", Code(C.ASIOpenCamera(cid))); err != nil {
		return nil, err
	}
	if err := Error("ASIInitCamera", Code(C.ASIInitCamera(cid))); err != nil {
		C.ASICloseCamera(cid)
		return nil, err
	}
	return &Camera{id: cid}, nil
}

// Camera is an opened ZWO camera
type Camera struct {
	id C.int
}

func (c *Camera) getControl(op string, ctl C.ASI_CONTROL_TYPE) (int, error) {
	var v C.long
	var auto C.ASI_BOOL
	err := Error(op, Code(C.ASIGetControlValue(c.id, ctl, &v, &auto)))
	return int(v), err
}

func (c *Camera) setControl(op string, ctl C.ASI_CONTROL_TYPE, v int) error {
	return Error(op, Code(C.ASISetControlValue(c.id, ctl, C.long(v), C.ASI_FALSE)))
}

// controlCaps finds the capabilities of a control
func (c *Camera) controlCaps(ctl C.ASI_CONTROL_TYPE) (C.ASI_CONTROL_CAPS, error) {
	var caps C.ASI_CONTROL_CAPS
	var n C.int
	if err := Error("ASIGetNumOfControls", Code(C.ASIGetNumOfControls(c.id, &n))); err != nil {
		return caps, err
	}
	for i := C.int(0); i < n; i++ {
		if err := Error("ASIGetControlCaps", Code(C.ASIGetControlCaps(c.id, i, &caps))); err != nil {
			return caps, err
		}
		if caps.ControlType == ctl {
			return caps, nil
		}
	}
	return caps, fmt.Errorf("%w: control %d not supported", camera.ErrInvalidParameter, int(ctl))
}

// Properties satisfies camera.Device
func (c *Camera) Properties() (camera.Properties, error) {
	var info C.ASI_CAMERA_INFO
	if err := Error("ASIGetCameraPropertyByID", Code(C.ASIGetCameraPropertyByID(c.id, &info))); err != nil {
		return camera.Properties{}, err
	}
	p := camera.Properties{
		Name:         C.GoString(&info.Name[0]),
		ID:           int(info.CameraID),
		SensorWidth:  int(info.MaxWidth),
		SensorHeight: int(info.MaxHeight),
		BitDepth:     int(info.BitDepth),
		PixelSize:    float64(info.PixelSize),
		Cooled:       info.IsCoolerCam == C.ASI_TRUE,
		WidthStep:    widthStep,
		HeightStep:   heightStep,
	}
	// the list is zero terminated
	for _, b := range info.SupportedBins {
		if b == 0 {
			break
		}
		p.SupportedBins = append(p.SupportedBins, int(b))
	}
	caps, err := c.controlCaps(C.ASI_EXPOSURE)
	if err != nil {
		return p, err
	}
	p.MinExposure = time.Duration(caps.MinValue) * time.Microsecond
	p.MaxExposure = time.Duration(caps.MaxValue) * time.Microsecond
	return p, nil
}

// Close satisfies camera.Device
func (c *Camera) Close() error {
	return Error("ASICloseCamera", Code(C.ASICloseCamera(c.id)))
}

// Exposure satisfies camera.Device
func (c *Camera) Exposure() (time.Duration, error) {
	us, err := c.getControl("ASIGetControlValue(EXPOSURE)", C.ASI_EXPOSURE)
	return time.Duration(us) * time.Microsecond, err
}

// SetExposure satisfies camera.Device
func (c *Camera) SetExposure(d time.Duration) error {
	return c.setControl("ASISetControlValue(EXPOSURE)", C.ASI_EXPOSURE, int(d/time.Microsecond))
}

func (c *Camera) roiFormat() (w, h, bin int, typ C.ASI_IMG_TYPE, err error) {
	var cw, ch, cbin C.int
	err = Error("ASIGetROIFormat", Code(C.ASIGetROIFormat(c.id, &cw, &ch, &cbin, &typ)))
	return int(cw), int(ch), int(cbin), typ, err
}

// ROI satisfies camera.Device.  Start position and size are in binned pixels.
func (c *Camera) ROI() (camera.ROI, error) {
	w, h, bin, _, err := c.roiFormat()
	if err != nil {
		return camera.ROI{}, err
	}
	var x, y C.int
	if err := Error("ASIGetStartPos", Code(C.ASIGetStartPos(c.id, &x, &y))); err != nil {
		return camera.ROI{}, err
	}
	return camera.ROI{
		XMin: int(x), YMin: int(y),
		XMax: int(x) + w, YMax: int(y) + h,
		BinX: bin, BinY: bin,
	}, nil
}

// SetROI satisfies camera.Device.  The SDK only bins squarely.
func (c *Camera) SetROI(r camera.ROI) error {
	if r.BinX != r.BinY {
		return fmt.Errorf("%w: binning %dx%d is not square", camera.ErrInvalidROI, r.BinX, r.BinY)
	}
	w, h := r.Width(), r.Height()
	if w%widthStep != 0 || h%heightStep != 0 {
		return fmt.Errorf("%w: %dx%d, width must be a multiple of %d and height of %d", camera.ErrInvalidROI, w, h, widthStep, heightStep)
	}
	_, _, _, typ, err := c.roiFormat()
	if err != nil {
		return err
	}
	if err := Error("ASISetROIFormat", Code(C.ASISetROIFormat(c.id, C.int(w), C.int(h), C.int(r.BinX), typ))); err != nil {
		return err
	}
	return Error("ASISetStartPos", Code(C.ASISetStartPos(c.id, C.int(r.XMin), C.int(r.YMin))))
}

// Gain satisfies camera.Device
func (c *Camera) Gain() (int, error) {
	return c.getControl("ASIGetControlValue(GAIN)", C.ASI_GAIN)
}

// SetGain satisfies camera.Device
func (c *Camera) SetGain(g int) error {
	return c.setControl("ASISetControlValue(GAIN)", C.ASI_GAIN, g)
}

// ImageFormat satisfies camera.Device
func (c *Camera) ImageFormat() (camera.ImageFormat, error) {
	_, _, _, typ, err := c.roiFormat()
	if err != nil {
		return camera.RAW16, err
	}
	switch typ {
	case C.ASI_IMG_RAW8:
		return camera.RAW8, nil
	case C.ASI_IMG_RAW16:
		return camera.RAW16, nil
	}
	return camera.RAW16, fmt.Errorf("%w: unsupported image type %d", camera.ErrInvalidParameter, int(typ))
}

// SetImageFormat satisfies camera.Device
func (c *Camera) SetImageFormat(f camera.ImageFormat) error {
	w, h, bin, _, err := c.roiFormat()
	if err != nil {
		return err
	}
	var typ C.ASI_IMG_TYPE = C.ASI_IMG_RAW16
	if f == camera.RAW8 {
		typ = C.ASI_IMG_RAW8
	}
	return Error("ASISetROIFormat", Code(C.ASISetROIFormat(c.id, C.int(w), C.int(h), C.int(bin), typ)))
}

// Temperature satisfies camera.Device.  The SDK reports tenths of a degree.
func (c *Camera) Temperature() (float64, error) {
	t, err := c.getControl("ASIGetControlValue(TEMPERATURE)", C.ASI_TEMPERATURE)
	if err != nil {
		return math.NaN(), err
	}
	return float64(t) / 10, nil
}

// SetTemperature satisfies camera.Device.  The SDK takes whole degrees.
func (c *Camera) SetTemperature(t float64) error {
	return c.setControl("ASISetControlValue(TARGET_TEMP)", C.ASI_TARGET_TEMP, int(math.Round(t)))
}

// CoolerPower satisfies camera.Device
func (c *Camera) CoolerPower() (float64, error) {
	p, err := c.getControl("ASIGetControlValue(COOLER_POWER_PERC)", C.ASI_COOLER_POWER_PERC)
	if err != nil {
		return math.NaN(), err
	}
	return float64(p), nil
}

// SetCooler satisfies camera.Device
func (c *Camera) SetCooler(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return c.setControl("ASISetControlValue(COOLER_ON)", C.ASI_COOLER_ON, v)
}

// StartExposure satisfies camera.Device.  Frames are always lights.
func (c *Camera) StartExposure() error {
	return Error("ASIStartExposure", Code(C.ASIStartExposure(c.id, C.ASI_FALSE)))
}

// ImageReady satisfies camera.Device
func (c *Camera) ImageReady() (bool, error) {
	var status C.ASI_EXPOSURE_STATUS
	if err := Error("ASIGetExpStatus", Code(C.ASIGetExpStatus(c.id, &status))); err != nil {
		return false, err
	}
	switch status {
	case C.ASI_EXP_SUCCESS:
		return true, nil
	case C.ASI_EXP_FAILED:
		return false, &camera.ExposureFailedError{Msg: "ASI_EXP_FAILED"}
	}
	return false, nil
}

// DownloadImage satisfies camera.Device.  RAW8 pixels are shifted into the
// high byte so both formats share a 16-bit scale.
func (c *Camera) DownloadImage() ([]uint16, error) {
	w, h, _, typ, err := c.roiFormat()
	if err != nil {
		return nil, err
	}
	n := w * h
	if n == 0 {
		return nil, fmt.Errorf("%w: empty ROI", camera.ErrInvalidROI)
	}
	out := make([]uint16, n)
	if typ == C.ASI_IMG_RAW8 {
		buf := make([]byte, n)
		err = Error("ASIGetDataAfterExp", Code(C.ASIGetDataAfterExp(c.id, (*C.uchar)(unsafe.Pointer(&buf[0])), C.long(n))))
		if err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = uint16(v) << 8
		}
		return out, nil
	}
	err = Error("ASIGetDataAfterExp", Code(C.ASIGetDataAfterExp(c.id, (*C.uchar)(unsafe.Pointer(&out[0])), C.long(2*n))))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelCapture satisfies camera.Device
func (c *Camera) CancelCapture() error {
	return Error("ASIStopExposure", Code(C.ASIStopExposure(c.id)))
}
