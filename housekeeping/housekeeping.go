/*
Package housekeeping polls camera telemetry on a fixed cadence.

A Monitor reads the sensor temperature and TEC drive level through the
camera controller, so its reads are serialized with the capture loop's
commands.  It keeps the latest reading and a short history for the status
server, exports both values as Prometheus gauges, and hands each reading to an
optional Report callback for the console.

A failed read is logged and skipped; the loop only ends when its done channel
closes, after which it makes no further device calls.
*/
package housekeeping

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// DefaultInterval is the default polling cadence
const DefaultInterval = time.Second

// DefaultCapacity is the default number of readings kept
const DefaultCapacity = 3600

// Telemetry is the read side of the camera the monitor polls
type Telemetry interface {
	Temperature() (float64, error)
	CoolerPower() (float64, error)
}

// Reading is one telemetry sample
type Reading struct {
	Time        time.Time `json:"time"`
	Temperature float64   `json:"temperature"`
	CoolerPower float64   `json:"coolerPower"`
}

// String formats the reading as a console status line
func (r Reading) String() string {
	return fmt.Sprintf("[%s] Camera temperature: %+05.1f C, Cooler Power: %3.0f%%",
		r.Time.Format("15:04:05"), r.Temperature, r.CoolerPower)
}

// Metrics are the Prometheus collectors the monitor updates
type Metrics struct {
	Temperature prometheus.Gauge
	CoolerPower prometheus.Gauge
	Failures    prometheus.Counter
}

// NewMetrics creates the monitor's collectors and registers them with reg,
// if it is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "asicam",
			Subsystem: "camera",
			Name:      "temperature_celsius",
			Help:      "Sensor temperature of the camera.",
		}),
		CoolerPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "asicam",
			Subsystem: "camera",
			Name:      "cooler_power_percent",
			Help:      "Drive level of the camera TEC.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asicam",
			Subsystem: "housekeeping",
			Name:      "read_failures_total",
			Help:      "Telemetry reads that failed and were skipped.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Temperature, m.CoolerPower, m.Failures)
	}
	return m
}

// Monitor polls a Telemetry source until told to stop
type Monitor struct {
	src      Telemetry
	interval time.Duration
	log      *slog.Logger
	metrics  *Metrics
	limiter  *rate.Limiter

	mu   sync.RWMutex
	last Reading
	seen bool
	hist *history

	// Report, if not nil, is called with every successful reading from the
	// monitor's goroutine
	Report func(Reading)
}

// New creates a monitor polling src every interval and keeping capacity
// readings.  Nonpositive interval and capacity mean the defaults; metrics
// may be nil.
func New(src Telemetry, interval time.Duration, capacity int, metrics *Metrics, log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Monitor{
		src:      src,
		interval: interval,
		log:      log,
		metrics:  metrics,
		limiter:  rate.NewLimiter(rate.Every(30*time.Second), 3),
		hist:     newHistory(capacity),
	}
}

// Interval is the polling cadence
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Run polls until done is closed.  It returns within one interval of done
// closing, and makes no device calls once it has seen it closed.
func (m *Monitor) Run(done <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			m.log.Debug("housekeeping stopped")
			return
		case <-ticker.C:
			// both may be ready; done wins
			select {
			case <-done:
				m.log.Debug("housekeeping stopped")
				return
			default:
			}
			r, err := m.Poll()
			if err != nil {
				continue
			}
			if m.Report != nil {
				m.Report(r)
			}
		}
	}
}

// Poll takes one reading and records it.  A failed read is counted, logged
// at a limited rate and returned; nothing is recorded for it.
func (m *Monitor) Poll() (Reading, error) {
	now := time.Now()
	t, err := m.src.Temperature()
	if err != nil {
		return Reading{}, m.failed("temperature", err)
	}
	p, err := m.src.CoolerPower()
	if err != nil {
		return Reading{}, m.failed("cooler power", err)
	}
	r := Reading{Time: now, Temperature: t, CoolerPower: p}
	m.metrics.Temperature.Set(t)
	m.metrics.CoolerPower.Set(p)
	m.mu.Lock()
	m.last = r
	m.seen = true
	m.hist.Append(r)
	m.mu.Unlock()
	return r, nil
}

func (m *Monitor) failed(what string, err error) error {
	m.metrics.Failures.Inc()
	if m.limiter.Allow() {
		m.log.Warn("telemetry read failed, skipping", "reading", what, "err", err)
	}
	return fmt.Errorf("reading %s: %w", what, err)
}

// Last returns the most recent reading.  ok is false until one succeeds.
func (m *Monitor) Last() (r Reading, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.seen {
		return Reading{Temperature: math.NaN(), CoolerPower: math.NaN()}, false
	}
	return m.last, true
}

// History returns the recorded readings, oldest first
func (m *Monitor) History() []Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hist.Contiguous()
}
