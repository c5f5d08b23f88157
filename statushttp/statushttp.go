// Package statushttp exposes camera telemetry and capture state over HTTP.
// Every route is read-only and none of them touch the camera: telemetry comes
// from the housekeeping monitor's last reading and configuration from the
// controller's cached settings.
package statushttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nasa-jpl/asicam/camera"
	"github.com/nasa-jpl/asicam/housekeeping"
)

// Telemetry is the monitor's view of the camera
type Telemetry interface {
	Last() (housekeeping.Reading, bool)
	History() []housekeeping.Reading
}

// Settings is the controller's view of the camera
type Settings interface {
	Properties() camera.Properties
	Settings() camera.Settings
	Session() (camera.Session, bool)
}

// FloatT is a JSON float payload
type FloatT struct {
	F64 float64 `json:"f64"`
}

// Status is the body of GET /status
type Status struct {
	Camera            string                `json:"camera"`
	State             string                `json:"state"`
	ROI               camera.ROI            `json:"roi"`
	Exposure          float64               `json:"exposure"`
	Gain              int                   `json:"gain"`
	Format            string                `json:"format"`
	TargetTemperature *float64              `json:"targetTemperature"`
	Cooler            bool                  `json:"cooler"`
	Session           string                `json:"session,omitempty"`
	Telemetry         *housekeeping.Reading `json:"telemetry"`
}

// Server holds the routes
type Server struct {
	tel      Telemetry
	set      Settings
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// New creates a status server.  gatherer may be nil to omit /metrics.
func New(tel Telemetry, set Settings, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{tel: tel, set: set, gatherer: gatherer, log: log}
}

// Router returns the routes bound to a chi router
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/temperature", s.GetTemperature)
	r.Get("/cooler-power", s.GetCoolerPower)
	r.Get("/history", s.GetHistory)
	r.Get("/status", s.GetStatus)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func respond(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) last(w http.ResponseWriter) (housekeeping.Reading, bool) {
	rd, ok := s.tel.Last()
	if !ok {
		http.Error(w, "no telemetry yet", http.StatusServiceUnavailable)
	}
	return rd, ok
}

// GetTemperature returns the last sensor temperature as {"f64": value}
func (s *Server) GetTemperature(w http.ResponseWriter, r *http.Request) {
	if rd, ok := s.last(w); ok {
		respond(w, FloatT{F64: rd.Temperature})
	}
}

// GetCoolerPower returns the last TEC drive level as {"f64": value}
func (s *Server) GetCoolerPower(w http.ResponseWriter, r *http.Request) {
	if rd, ok := s.last(w); ok {
		respond(w, FloatT{F64: rd.CoolerPower})
	}
}

// GetHistory returns the recorded telemetry, oldest first
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	respond(w, s.tel.History())
}

// GetStatus returns the cached configuration and last telemetry
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	set := s.set.Settings()
	st := Status{
		Camera:   s.set.Properties().Name,
		State:    set.State.String(),
		ROI:      set.ROI,
		Exposure: set.Exposure.Seconds(),
		Gain:     set.Gain,
		Format:   set.Format.String(),
		Cooler:   set.Cooler,
	}
	if !math.IsNaN(set.TargetTemperature) {
		t := set.TargetTemperature
		st.TargetTemperature = &t
	}
	if sess, ok := s.set.Session(); ok {
		st.Session = sess.ID
	}
	if rd, ok := s.tel.Last(); ok {
		st.Telemetry = &rd
	}
	respond(w, st)
}

// ListenAndServe serves on addr until done is closed
func (s *Server) ListenAndServe(addr string, done <-chan struct{}) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()
	s.log.Info("status server listening", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
