package statushttp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nasa-jpl/asicam/camera"
	"github.com/nasa-jpl/asicam/camera/sim"
	"github.com/nasa-jpl/asicam/housekeeping"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, poll bool) (*httptest.Server, *sim.Camera) {
	t.Helper()
	dev := sim.New(sim.DefaultProperties)
	ctrl, err := camera.New(dev, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if err := ctrl.SetTemperature(-10); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.SetCooler(true); err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	mon := housekeeping.New(ctrl, time.Second, 10, housekeeping.NewMetrics(reg), quiet())
	if poll {
		if _, err := mon.Poll(); err != nil {
			t.Fatal(err)
		}
	}
	srv := httptest.NewServer(New(mon, ctrl, reg, quiet()).Router())
	t.Cleanup(srv.Close)
	return srv, dev
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestTemperatureServesLastReading(t *testing.T) {
	srv, dev := setup(t, true)
	reads := dev.Calls("Temperature")
	resp, body := get(t, srv.URL+"/temperature")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.StatusCode, body)
	}
	var f FloatT
	if err := json.Unmarshal(body, &f); err != nil {
		t.Fatal(err)
	}
	if f.F64 >= 20 {
		t.Errorf("expected a reading below ambient, got %v", f.F64)
	}
	if n := dev.Calls("Temperature"); n != reads {
		t.Error("expected the handler not to touch the camera")
	}
}

func TestNoTelemetryYet(t *testing.T) {
	srv, _ := setup(t, false)
	for _, route := range []string{"/temperature", "/cooler-power"} {
		resp, _ := get(t, srv.URL+route)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503 got %d", route, resp.StatusCode)
		}
	}
}

func TestStatus(t *testing.T) {
	srv, _ := setup(t, true)
	resp, body := get(t, srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if st.State != "Idle" || st.Camera != sim.DefaultProperties.Name {
		t.Errorf("unexpected status %+v", st)
	}
	if st.TargetTemperature == nil || *st.TargetTemperature != -10 {
		t.Errorf("expected target temperature -10, got %v", st.TargetTemperature)
	}
	if st.Telemetry == nil {
		t.Error("expected telemetry in the status")
	}
}

func TestMetrics(t *testing.T) {
	srv, _ := setup(t, true)
	resp, body := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "asicam_camera_temperature_celsius") {
		t.Error("expected the temperature gauge to be exported")
	}
}

func TestReadOnly(t *testing.T) {
	srv, _ := setup(t, true)
	for _, route := range []string{"/temperature", "/status"} {
		resp, err := http.Post(srv.URL+route, "application/json", strings.NewReader(`{"f64": 5}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405 for POST, got %d", route, resp.StatusCode)
		}
	}
}
