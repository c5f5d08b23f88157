/*
Package capture runs the capture-persist-adjust cycle.

Each pass of the Orchestrator takes one frame through the camera controller,
hands it to the recorder, asks the auto-exposure advisor for the next
setting and applies it if it differs, then sleeps out the rest of the
cadence.  The loop ends when the termination signal is set or the camera is
gone.  Failed exposures are retried straight away without limit; a failed
save is logged and never stops acquisition.
*/
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/asicam/autoexposure"
	"github.com/nasa-jpl/asicam/camera"
	"github.com/nasa-jpl/asicam/imgrec"
	"github.com/nasa-jpl/asicam/termination"
)

// Camera is the part of the controller the loop drives
type Camera interface {
	Capture(ctx context.Context) (camera.Frame, error)
	Exposure() time.Duration
	Binning() int
	SetExposureContext(context.Context, time.Duration) error
	SetBinningContext(context.Context, int) error
}

// Persister saves frames.  imgrec.Recorder satisfies it.
type Persister interface {
	Record(camera.Frame) (string, error)
}

// Metrics are the Prometheus collectors the loop updates
type Metrics struct {
	Frames           prometheus.Counter
	ExposureFailures prometheus.Counter
	SaveFailures     prometheus.Counter
	Adjustments      prometheus.Counter
	Exposure         prometheus.Gauge
	Binning          prometheus.Gauge
}

// NewMetrics creates the loop's collectors and registers them with reg, if
// it is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "asicam", Subsystem: "capture", Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "asicam", Subsystem: "capture", Name: name, Help: help})
	}
	m := &Metrics{
		Frames:           counter("frames_total", "Frames downloaded."),
		ExposureFailures: counter("exposure_failures_total", "Exposures that failed and were retried."),
		SaveFailures:     counter("save_failures_total", "Frames that could not be saved."),
		Adjustments:      counter("adjustments_total", "Exposure or binning changes made by the advisor."),
		Exposure:         gauge("exposure_seconds", "Current exposure time."),
		Binning:          gauge("binning", "Current binning factor."),
	}
	if reg != nil {
		reg.MustRegister(m.Frames, m.ExposureFailures, m.SaveFailures, m.Adjustments, m.Exposure, m.Binning)
	}
	return m
}

// Orchestrator drives the capture loop
type Orchestrator struct {
	cam     Camera
	rec     Persister
	sig     *termination.Signal
	params  autoexposure.Params
	cadence time.Duration
	log     *slog.Logger
	metrics *Metrics
	limiter *rate.Limiter

	// OnFrame, if not nil, is called with every frame after it is saved
	OnFrame func(f camera.Frame, path string, err error)
}

// New creates an orchestrator.  metrics and log may be nil.
func New(cam Camera, rec Persister, sig *termination.Signal, params autoexposure.Params, cadence time.Duration, metrics *Metrics, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Orchestrator{
		cam:     cam,
		rec:     rec,
		sig:     sig,
		params:  params,
		cadence: cadence,
		log:     log,
		metrics: metrics,
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 5),
	}
}

// Run loops until the termination signal is set, returning nil, or a fatal
// camera error occurs, returning it
func (o *Orchestrator) Run() error {
	ctx := o.sig.Context()
	o.metrics.Exposure.Set(o.cam.Exposure().Seconds())
	o.metrics.Binning.Set(float64(o.cam.Binning()))
	for {
		if o.sig.IsSet() {
			o.log.Info("capture loop stopped")
			return nil
		}
		start := time.Now()
		f, err := o.cam.Capture(ctx)
		if err != nil {
			switch {
			case o.sig.IsSet():
				o.log.Info("capture loop stopped", "inFlight", err)
				return nil
			case camera.IsFatal(err):
				o.log.Error("camera lost, capture loop ending", "err", err)
				return err
			case camera.IsExposureFailed(err):
				o.metrics.ExposureFailures.Inc()
				if o.limiter.Allow() {
					o.log.Warn("exposure failed, retrying", "err", err)
				}
				continue
			default:
				o.log.Warn("capture failed, retrying next cycle", "err", err)
				o.wait(start)
				continue
			}
		}
		o.metrics.Frames.Inc()
		o.persist(f)
		if err := o.adjust(f); err != nil {
			return err
		}
		o.wait(start)
	}
}

func (o *Orchestrator) persist(f camera.Frame) {
	fn, err := o.rec.Record(f)
	switch {
	case err == nil:
		o.log.Info("frame saved", "path", fn, "exposure", f.Exposure, "bin", f.ROI.BinX)
	case errors.Is(err, imgrec.ErrFileExists):
		o.metrics.SaveFailures.Inc()
		o.log.Warn("file name collision, frame not saved", "path", fn)
	default:
		o.metrics.SaveFailures.Inc()
		o.log.Error("saving frame", "path", fn, "err", err)
	}
	if o.OnFrame != nil {
		o.OnFrame(f, fn, err)
	}
}

// adjust applies the advisor's recommendation for f.  Only fatal camera
// errors are returned.
func (o *Orchestrator) adjust(f camera.Frame) error {
	next, err := autoexposure.RecommendFrame(f, o.params)
	if err != nil {
		o.log.Error("exposure advisor", "err", err)
		return nil
	}
	// writes are refused by the controller once the signal is set
	ctx := o.sig.Context()
	curBin, curExp := o.cam.Binning(), o.cam.Exposure()
	if next.Bin == curBin && next.Exposure == curExp {
		return nil
	}
	if next.Bin != curBin {
		if err := o.cam.SetBinningContext(ctx, next.Bin); err != nil {
			return o.adjustFailed("binning", err)
		}
		o.metrics.Binning.Set(float64(next.Bin))
	}
	if next.Exposure != curExp {
		if err := o.cam.SetExposureContext(ctx, next.Exposure); err != nil {
			return o.adjustFailed("exposure", err)
		}
		o.metrics.Exposure.Set(next.Exposure.Seconds())
	}
	o.metrics.Adjustments.Inc()
	o.log.Info("exposure adjusted",
		"observed", autoexposure.Percentile(f.Pixels, o.params.Percentile),
		"exposure", fmt.Sprintf("%v -> %v", curExp, next.Exposure),
		"bin", fmt.Sprintf("%d -> %d", curBin, next.Bin))
	return nil
}

func (o *Orchestrator) adjustFailed(what string, err error) error {
	if o.sig.IsSet() {
		return nil
	}
	if camera.IsFatal(err) {
		o.log.Error("camera lost, capture loop ending", "err", err)
		return err
	}
	o.log.Warn("applying "+what, "err", err)
	return nil
}

// wait sleeps until one cadence after start, or the signal is set
func (o *Orchestrator) wait(start time.Time) {
	remain := o.cadence - time.Since(start)
	if remain <= 0 {
		return
	}
	t := time.NewTimer(remain)
	defer t.Stop()
	select {
	case <-o.sig.Done():
	case <-t.C:
	}
}
