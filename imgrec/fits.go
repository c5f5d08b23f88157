package imgrec

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/asicam/camera"
)

// Metadata returns the header cards describing f
func Metadata(f camera.Frame, program string) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "PROGRAM", Value: program, Comment: "acquisition program"},
		{Name: "INSTRUME", Value: f.Camera, Comment: "camera model"},
		{Name: "EXPTIME", Value: f.Exposure.Seconds(), Comment: "exposure time, sec"},
		{Name: "DATE-OBS", Value: f.Start.UTC().Format("2006-01-02T15:04:05.000"), Comment: "exposure start, UTC"},
		{Name: "XBINNING", Value: f.ROI.BinX},
		{Name: "YBINNING", Value: f.ROI.BinY},
		{Name: "XORGSUBF", Value: f.ROI.XMin, Comment: "subframe origin, binned px"},
		{Name: "YORGSUBF", Value: f.ROI.YMin, Comment: "subframe origin, binned px"},
		{Name: "GAIN", Value: f.Gain, Comment: "raw gain"},
		{Name: "IMGFMT", Value: f.Format.String(), Comment: "readout format"},
	}
	if !math.IsNaN(f.Temperature) {
		cards = append(cards, fitsio.Card{Name: "CCD-TEMP", Value: f.Temperature, Comment: "sensor temperature, C"})
	}
	if f.SessionID != "" {
		cards = append(cards, fitsio.Card{Name: "SESSION", Value: f.SessionID, Comment: "capture session"})
	}
	return cards
}

// WriteFits streams f to w as a 16-bit FITS image.  Pixels are stored signed
// with BZERO 32768, the FITS convention for unsigned data.
func WriteFits(w io.Writer, metadata []fitsio.Card, f camera.Frame) error {
	if f.Width*f.Height != len(f.Pixels) || len(f.Pixels) == 0 {
		return fmt.Errorf("frame is %dx%d but has %d pixels", f.Width, f.Height, len(f.Pixels))
	}
	metadata = append(metadata,
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0},
		fitsio.Card{Name: "DATE", Value: time.Now().UTC().Format("2006-01-02T15:04:05"), Comment: "file written, UTC"})
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{f.Width, f.Height})
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	ints := make([]int16, len(f.Pixels))
	for i, v := range f.Pixels {
		ints[i] = int16(int32(v) - 32768)
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
