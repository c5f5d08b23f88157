// Package imgrec contains an image recorder used to automatically save frames to disk.
package imgrec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/asicam/camera"
)

// ErrFileExists is generated when a frame would overwrite an existing file
// and overwriting is disabled
var ErrFileExists = errors.New("file exists")

// DayFormat is the layout of the per-day subfolders
const DayFormat = "20060102"

// Save writes f as dir/base.fits, stamping program into the header.  dir is
// created if needed.  Without overwrite an existing file is left alone and the
// returned error wraps ErrFileExists.
func Save(f camera.Frame, dir, base, program string, overwrite bool) (string, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return "", err
	}
	fn := filepath.Join(dir, base+".fits")
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	fid, err := os.OpenFile(fn, flags, 0666)
	if err != nil {
		if os.IsExist(err) {
			return fn, fmt.Errorf("%w: %s", ErrFileExists, fn)
		}
		return fn, err
	}
	err = WriteFits(fid, Metadata(f, program), f)
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(fn)
		return fn, fmt.Errorf("writing %s: %w", fn, err)
	}
	return fn, nil
}

// Recorder records frames with incrementing filenames in yyyymmdd subfolders.
// It is not thread safe.
type Recorder struct {
	// counter is the sequence number of the next frame
	counter int

	// day is the subfolder the counter belongs to
	day string

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Program is written to the PROGRAM card of every frame
	Program string

	// Overwrite allows existing files to be replaced
	Overwrite bool
}

// Dir is the folder frames taken at t are saved to
func (r *Recorder) Dir(t time.Time) string {
	return filepath.Join(r.Root, t.Format(DayFormat))
}

// Record saves f into the folder for the day it was taken.  The sequence
// number advances even when the save fails, so a collision costs one number
// and the next frame gets a fresh name.
func (r *Recorder) Record(f camera.Frame) (string, error) {
	t := f.Timestamp
	if t.IsZero() {
		t = time.Now()
	}
	dir := r.Dir(t)
	if day := t.Format(DayFormat); day != r.day {
		n, err := NextSequence(dir, r.Prefix)
		if err != nil {
			return "", err
		}
		r.day = day
		r.counter = n
	}
	base := fmt.Sprintf("%s%06d", r.Prefix, r.counter)
	r.counter++
	return Save(f, dir, base, r.Program, r.Overwrite)
}

// Sequence is the number the next recorded frame will get
func (r *Recorder) Sequence() int {
	return r.counter
}

// NextSequence scans dir for files named prefix<digits>.fits and returns one
// more than the largest number found.  A missing folder yields 1.
func NextSequence(dir, prefix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}
	count := 0
	for _, e := range entries {
		// skip directories, non-fits, and wrong prefix
		if e.IsDir() {
			continue
		}
		fn := e.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil || n < 0 {
			continue
		}
		if count < n {
			count = n
		}
	}
	return count + 1, nil
}
