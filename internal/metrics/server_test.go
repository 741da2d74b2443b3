package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.MetricsPath != "/metrics" {
		t.Errorf("MetricsPath = %s, want /metrics", cfg.MetricsPath)
	}
	if cfg.HealthPath != "/health" {
		t.Errorf("HealthPath = %s, want /health", cfg.HealthPath)
	}
}

func TestServer_HealthHandler(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil)

	server.RegisterHealthCheck("gateway", func() Check {
		return Check{Status: "ok"}
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	var status HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("status = %s, want ok", status.Status)
	}
	if status.Checks["gateway"].Status != "ok" {
		t.Errorf("gateway check = %+v", status.Checks["gateway"])
	}
}

func TestServer_HealthHandler_Degraded(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil)

	server.RegisterHealthCheck("gateway", func() Check {
		return Check{Status: "down", Message: "connection lost"}
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.healthHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var status HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.Status != "degraded" {
		t.Errorf("status = %s, want degraded", status.Status)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder

	// None of these should panic on a nil receiver.
	r.RecordOrder("BTC-26DEC25-90000-C", "BUY", "passive")
	r.RecordOrderFailure("BTC-26DEC25-90000-C")
	r.RecordCancel("ok")
	r.RecordReprice("BTC-26DEC25-90000-C")
	r.RecordAggressiveAttempt()
	r.RecordFallback()
	r.RecordChunkDuration(time.Second)
	r.RecordOrderLatency(time.Millisecond)
	r.RunStarted()
	r.RunFinished("filled")
	r.LegQuoting(1)
	r.RecordTrade("closed")
}

func TestTimerElapsed(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	if got := timer.Elapsed(); got < 10*time.Millisecond {
		t.Errorf("Elapsed() = %v, expected >= 10ms", got)
	}
}
