package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/asicam/camera"
	"github.com/nasa-jpl/asicam/camera/sim"
	"github.com/nasa-jpl/asicam/capture"
	"github.com/nasa-jpl/asicam/config"
	"github.com/nasa-jpl/asicam/housekeeping"
	"github.com/nasa-jpl/asicam/imgrec"
	"github.com/nasa-jpl/asicam/statushttp"
	"github.com/nasa-jpl/asicam/termination"
	"github.com/nasa-jpl/asicam/util"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = config.FileName
)

func root() {
	str := `asicam runs a cooled ZWO camera unattended, saving a frame every cadence
and retuning exposure and binning so the frames hit a target brightness.

Usage:
	asicam <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `asicam is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration file is present, the defaults are used.  A file that is
present must have a config section.  The command mkconf generates the
configuration file with the default values.

Frames are written to savedir/yyyymmdd/<prefix><number>.fits.  Numbering
resumes after the highest number already in the day's folder.

value and uncertainty are the target brightness of the chosen percentile and
the band around it that counts as converged, both in 16-bit counts.  When the
longest exposure allowed by max_exposure is still too dark, binning is raised
one step at a time up to maxbin.

device is asi, sim, or auto.  auto uses the ZWO SDK when asicam was built with
the asi tag and the simulator otherwise.

status_addr, if set, serves read-only telemetry and Prometheus metrics over
HTTP, e.g. ":8000".

Ctrl-C cancels any exposure in progress and turns the cooler off before
exiting.`
	fmt.Println(str)
}

func mkconf() {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(config.Defaults())
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c, err := config.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("asicam version %v\n", Version)
}

func simDriver() camera.Driver {
	return &sim.Driver{Cams: []*sim.Camera{sim.New(sim.DefaultProperties)}}
}

// configure puts the camera in its starting state: cooling toward the
// setpoint, with the configured gain, format, region and exposure
func configure(ctrl *camera.Controller, cfg config.Config) error {
	cc := cfg.Config
	props := ctrl.Properties()
	errs := []error{}
	if props.Cooled {
		errs = append(errs, ctrl.SetTemperature(cc.TargetTemp), ctrl.SetCooler(true))
	}
	errs = append(errs,
		ctrl.SetGain(cc.Gain),
		ctrl.SetImageFormat(cfg.ImageFormat()),
		ctrl.SetROI(cfg.StartROI(props)),
		ctrl.SetExposure(util.ClampDuration(cfg.InitialExposure(), props.MinExposure, props.MaxExposure)))
	return util.MergeErrors(errs)
}

func statusLine(enabled bool) (*yacspin.Spinner, func(housekeeping.Reading)) {
	plain := func(r housekeeping.Reading) { fmt.Println(r) }
	if !enabled {
		return nil, plain
	}
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:     250 * time.Millisecond,
		CharSet:       yacspin.CharSets[14],
		Suffix:        " ",
		Message:       "waiting for telemetry",
		StopCharacter: "✓",
		StopColors:    []string{"fgGreen"},
	})
	if err != nil {
		log.Printf("status line disabled: %v", err)
		return nil, plain
	}
	if err := spinner.Start(); err != nil {
		log.Printf("status line disabled: %v", err)
		return nil, plain
	}
	return spinner, func(r housekeeping.Reading) { spinner.Message(r.String()) }
}

// onSignal calls stop on the first signal from sigs and then hands signals
// back to the runtime, so a second ctrl-c kills a stuck process
func onSignal(sigs chan os.Signal, stop func()) {
	<-sigs
	stop()
	signal.Stop(sigs)
}

func run() {
	cfg, err := config.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	drv, err := driver(cfg.Config.Device)
	if err != nil {
		log.Fatal(err)
	}
	// ctrl-c while enumerating just quits; afterwards it runs the shutdown
	openCtx, stopOpen := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctrl, err := camera.Open(openCtx, drv, logger)
	stopOpen()
	if err != nil {
		log.Fatal(err)
	}

	sig := termination.NewSignal()
	shutdown := termination.NewShutdown(sig, ctrl, logger)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go onSignal(sigs, func() { shutdown.Run() })

	if err := configure(ctrl, cfg); err != nil {
		logger.Error("configuring camera", "err", err)
		shutdown.Run()
		ctrl.Close()
		os.Exit(1)
	}
	props := ctrl.Properties()
	params := cfg.AdvisorParams(props)
	logger.Info("starting capture", "program", cfg.Program.Name, "savedir", cfg.Config.SaveDir,
		"cadence", cfg.Cadence(), "maxExposure", params.MaxExposure, "maxBin", params.MaxBin,
		"target", params.Target, "tolerance", params.Tolerance)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	mon := housekeeping.New(ctrl, cfg.HousekeepingInterval(), 0, housekeeping.NewMetrics(reg), logger)
	spinner, report := statusLine(cfg.Config.StatusLine)
	mon.Report = report

	rec := &imgrec.Recorder{
		Root:      cfg.Config.SaveDir,
		Prefix:    cfg.Config.Prefix,
		Program:   cfg.Program.Name,
		Overwrite: cfg.Config.Overwrite,
	}
	orc := capture.New(ctrl, rec, sig, params, cfg.Cadence(), capture.NewMetrics(reg), logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(sig.Done())
	}()
	if addr := cfg.Config.StatusAddr; addr != "" {
		srv := statushttp.New(mon, ctrl, reg, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(addr, sig.Done()); err != nil {
				logger.Error("status server", "err", err)
			}
		}()
	}

	err = orc.Run()
	if err != nil {
		// the camera is gone; stop everything else
		shutdown.Run()
	}
	wg.Wait()
	if spinner != nil {
		spinner.Stop()
	}
	if cerr := ctrl.Close(); cerr != nil && err == nil {
		logger.Warn("closing camera", "err", cerr)
	}
	if err != nil {
		logger.Error("capture ended", "err", err)
		os.Exit(1)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "version":
		pversion()
		return
	case "run":
		run()
	default:
		log.Fatal("unknown command")
	}
}
