/*
Package config loads the capture program's settings.

Settings live in a YAML file with a program section and a config section:

	program:
	  name: ASICam
	config:
	  savedir: ./data
	  cadence: 20
	  max_exposure: 120
	  percentile: 95
	  maxbin: 4
	  value: 30000
	  uncertainty: 2000
	  gain: 100
	  target_temp: -10

Every key is optional and falls back to Defaults.  A missing file means all
defaults; a file without a config section is an error.  Times are in
seconds, and value and uncertainty are in 16-bit counts.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/nasa-jpl/asicam/autoexposure"
	"github.com/nasa-jpl/asicam/camera"
	"github.com/nasa-jpl/asicam/util"
)

// FileName is the default config file
const FileName = "asicam.yml"

// ErrNoConfigSection is generated when a config file lacks its config section
var ErrNoConfigSection = errors.New("config file has no config section")

// Device names
const (
	DeviceAuto = "auto"
	DeviceASI  = "asi"
	DeviceSim  = "sim"
)

// Program identifies the acquisition program in saved frames
type Program struct {
	Name string `koanf:"name" yaml:"name"`
}

// ROI is the starting region of interest.  All zero means the full sensor.
type ROI struct {
	XMin int `koanf:"x_min" yaml:"x_min"`
	YMin int `koanf:"y_min" yaml:"y_min"`
	XMax int `koanf:"x_max" yaml:"x_max"`
	YMax int `koanf:"y_max" yaml:"y_max"`
	Bin  int `koanf:"bin" yaml:"bin"`
}

// Capture holds the acquisition settings
type Capture struct {
	SaveDir         string  `koanf:"savedir" yaml:"savedir"`
	Prefix          string  `koanf:"prefix" yaml:"prefix"`
	Overwrite       bool    `koanf:"overwrite" yaml:"overwrite"`
	Cadence         float64 `koanf:"cadence" yaml:"cadence"`
	MaxExposure     float64 `koanf:"max_exposure" yaml:"max_exposure"`
	InitialExposure float64 `koanf:"initial_exposure" yaml:"initial_exposure"`
	Percentile      float64 `koanf:"percentile" yaml:"percentile"`
	MaxBin          int     `koanf:"maxbin" yaml:"maxbin"`
	Value           float64 `koanf:"value" yaml:"value"`
	Uncertainty     float64 `koanf:"uncertainty" yaml:"uncertainty"`
	MinSamples      int     `koanf:"min_samples" yaml:"min_samples"`
	Gain            int     `koanf:"gain" yaml:"gain"`
	TargetTemp      float64 `koanf:"target_temp" yaml:"target_temp"`
	ImageFormat     string  `koanf:"image_format" yaml:"image_format"`
	ROI             ROI     `koanf:"roi" yaml:"roi"`

	HousekeepingInterval float64 `koanf:"housekeeping_interval" yaml:"housekeeping_interval"`
	Device               string  `koanf:"device" yaml:"device"`
	StatusAddr           string  `koanf:"status_addr" yaml:"status_addr"`
	StatusLine           bool    `koanf:"status_line" yaml:"status_line"`
}

// Config is the whole file
type Config struct {
	Program Program `koanf:"program" yaml:"program"`
	Config  Capture `koanf:"config" yaml:"config"`
}

// Defaults returns the configuration used when nothing is specified
func Defaults() Config {
	return Config{
		Program: Program{Name: "ASICam"},
		Config: Capture{
			SaveDir:              "./data",
			Prefix:               "comic",
			Cadence:              20,
			MaxExposure:          120,
			InitialExposure:      0.1,
			Percentile:           95,
			MaxBin:               4,
			Value:                30000,
			Uncertainty:          2000,
			MinSamples:           100,
			Gain:                 100,
			TargetTemp:           -10,
			ImageFormat:          "RAW16",
			HousekeepingInterval: 1,
			Device:               DeviceAuto,
			StatusLine:           true,
		},
	}
}

// Load reads path over the defaults and validates the result
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, err
	}
	fk := koanf.New(".")
	if err := fk.Load(file.Provider(path), yaml.Parser()); err != nil {
		if errors.Is(err, fs.ErrNotExist) || strings.Contains(err.Error(), "no such") { // file missing, use defaults
			return Defaults(), nil
		}
		return Config{}, fmt.Errorf("loading %s: %w", path, err)
	}
	if !fk.Exists("config") {
		return Config{}, fmt.Errorf("%s: %w", path, ErrNoConfigSection)
	}
	if err := k.Merge(fk); err != nil {
		return Config{}, err
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", camera.ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// Validate checks the ranges of every value.  Errors wrap
// camera.ErrInvalidParameter.
func (c Config) Validate() error {
	cc := c.Config
	switch {
	case cc.SaveDir == "":
		return invalid("savedir is empty")
	case strings.ContainsAny(cc.Prefix, `/\`):
		return invalid("prefix %q contains a path separator", cc.Prefix)
	case cc.Cadence <= 0:
		return invalid("cadence %v must be positive", cc.Cadence)
	case cc.MaxExposure <= 0:
		return invalid("max_exposure %v must be positive", cc.MaxExposure)
	case cc.InitialExposure <= 0 || cc.InitialExposure > cc.MaxExposure:
		return invalid("initial_exposure %v not in (0, %v]", cc.InitialExposure, cc.MaxExposure)
	case cc.Percentile <= 0 || cc.Percentile > 100:
		return invalid("percentile %v not in (0, 100]", cc.Percentile)
	case cc.MaxBin < 1:
		return invalid("maxbin %d must be at least 1", cc.MaxBin)
	case cc.Value <= 0 || cc.Value > 65535:
		return invalid("value %v not in (0, 65535]", cc.Value)
	case cc.Uncertainty <= 0 || cc.Uncertainty > 65535:
		return invalid("uncertainty %v not in (0, 65535]", cc.Uncertainty)
	case cc.MinSamples < 0:
		return invalid("min_samples %d is negative", cc.MinSamples)
	case cc.Gain < 0:
		return invalid("gain %d is negative", cc.Gain)
	case cc.HousekeepingInterval <= 0:
		return invalid("housekeeping_interval %v must be positive", cc.HousekeepingInterval)
	}
	if _, err := camera.ParseImageFormat(cc.ImageFormat); err != nil {
		return err
	}
	switch cc.Device {
	case DeviceAuto, DeviceASI, DeviceSim:
	default:
		return invalid("device %q is not one of auto, asi, sim", cc.Device)
	}
	r := cc.ROI
	if r.XMin != 0 || r.YMin != 0 || r.XMax != 0 || r.YMax != 0 {
		if r.XMin < 0 || r.YMin < 0 || r.XMin >= r.XMax || r.YMin >= r.YMax {
			return invalid("roi %+v is empty or negative", r)
		}
	}
	if r.Bin < 0 {
		return invalid("roi bin %d is negative", r.Bin)
	}
	return nil
}

// Cadence is the time between captures
func (c Config) Cadence() time.Duration {
	return util.SecsToDuration(c.Config.Cadence)
}

// InitialExposure is the exposure of the first frame
func (c Config) InitialExposure() time.Duration {
	return util.SecsToDuration(c.Config.InitialExposure)
}

// HousekeepingInterval is the telemetry polling cadence
func (c Config) HousekeepingInterval() time.Duration {
	return util.SecsToDuration(c.Config.HousekeepingInterval)
}

// ImageFormat is the parsed readout format
func (c Config) ImageFormat() camera.ImageFormat {
	f, _ := camera.ParseImageFormat(c.Config.ImageFormat)
	return f
}

// StartROI is the region to start with on a camera with properties p.  A zero
// region means the full sensor at the configured binning.
func (c Config) StartROI(p camera.Properties) camera.ROI {
	r := c.Config.ROI
	bin := r.Bin
	if bin < 1 {
		bin = 1
	}
	if r.XMax == 0 && r.YMax == 0 {
		return camera.FullFrame(p, bin)
	}
	return camera.ROI{XMin: r.XMin, YMin: r.YMin, XMax: r.XMax, YMax: r.YMax, BinX: bin, BinY: bin}
}

// AdvisorParams converts the targets to the advisor's normalized units,
// narrowing the bounds to what the camera p supports
func (c Config) AdvisorParams(p camera.Properties) autoexposure.Params {
	cc := c.Config
	maxExp := util.SecsToDuration(cc.MaxExposure)
	if p.MaxExposure > 0 && maxExp > p.MaxExposure {
		maxExp = p.MaxExposure
	}
	maxBin := cc.MaxBin
	if pm := p.MaxBin(); maxBin > pm {
		maxBin = pm
	}
	return autoexposure.Params{
		Percentile:  cc.Percentile,
		Target:      cc.Value / autoexposure.FullScale,
		Tolerance:   cc.Uncertainty / autoexposure.FullScale,
		MinExposure: p.MinExposure,
		MaxExposure: maxExp,
		MaxBin:      maxBin,
		Bins:        p.SupportedBins,
		MinSamples:  cc.MinSamples,
	}
}
