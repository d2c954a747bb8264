package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maximewewer/ntp-timekeeper/internal/config"
	"github.com/maximewewer/ntp-timekeeper/internal/timekeeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var referenceUTC = time.Date(2026, 3, 14, 22, 15, 0, 123_000_000, time.UTC)

// fakeSource is a TimeSource with a fixed snapshot
type fakeSource struct {
	snap timekeeper.Snapshot
}

func (f *fakeSource) Snapshot(time.Time) timekeeper.Snapshot { return f.snap }

func greenSource() *fakeSource {
	return &fakeSource{snap: timekeeper.Snapshot{
		Reference:    timekeeper.TimeReference{UTC: referenceUTC, MaxErrorMs: 40},
		HasReference: true,
		Attempts:     timekeeper.AttemptTracker{FirstAttempt: referenceUTC.Add(-time.Minute), Attempts: 3},
		UTC:          referenceUTC,
		MaxError:     40 * time.Millisecond,
		Status:       timekeeper.LevelForError(40),
	}}
}

func unsetSource() *fakeSource {
	return &fakeSource{snap: timekeeper.Snapshot{
		UTC:      referenceUTC,
		MaxError: timekeeper.UnsetMaxError,
		Status:   timekeeper.Status{Level: timekeeper.LevelUnknown},
	}}
}

func TestNewHandlers(t *testing.T) {
	handlers := NewHandlers(config.DefaultConfig(), prometheus.NewRegistry(), greenSource())

	assert.NotNil(t, handlers.config)
	assert.NotNil(t, handlers.registry)
	assert.NotNil(t, handlers.source)
}

func TestHandlers_MetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	testGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_metric",
		Help: "Test metric",
	})
	registry.MustRegister(testGauge)
	testGauge.Set(42)

	handlers := NewHandlers(config.DefaultConfig(), registry, greenSource())

	w := httptest.NewRecorder()
	handlers.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_metric 42")
}

func TestHandlers_HealthHandler(t *testing.T) {
	handlers := NewHandlers(config.DefaultConfig(), prometheus.NewRegistry(), greenSource())

	w := httptest.NewRecorder()
	handlers.HealthHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy","service":"ntp-timekeeper"}`, w.Body.String())
}

func TestHandlers_TimeHandler(t *testing.T) {
	tests := []struct {
		name     string
		source   *fakeSource
		maxErr   int64
		reliable bool
	}{
		{"with reference", greenSource(), 40, true},
		{"without reference", unsetSource(), 60000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers := NewHandlers(config.DefaultConfig(), prometheus.NewRegistry(), tt.source)

			w := httptest.NewRecorder()
			handlers.TimeHandler(w, httptest.NewRequest(http.MethodGet, "/time", nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

			var resp TimeResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.True(t, referenceUTC.Equal(resp.UTC))
			assert.Equal(t, referenceUTC.UnixMilli(), resp.UnixMs)
			assert.Equal(t, tt.maxErr, resp.MaxErrorMs)
			assert.Equal(t, tt.reliable, resp.Reliable)
		})
	}
}

func TestHandlers_StatusHandler(t *testing.T) {
	handlers := NewHandlers(config.DefaultConfig(), prometheus.NewRegistry(), greenSource())

	w := httptest.NewRecorder()
	handlers.StatusHandler(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "green", resp.Level)
	assert.Equal(t, "#008000", resp.Colour)
	assert.Equal(t, timekeeper.MessageUnder100ms, resp.Message)
	assert.Equal(t, int64(40), resp.MaxErrorMs)
	assert.Equal(t, int64(3), resp.Attempts)
	require.NotNil(t, resp.FirstAttempt)
	assert.True(t, referenceUTC.Add(-time.Minute).Equal(*resp.FirstAttempt))
}

func TestHandlers_StatusHandler_NoAttempts(t *testing.T) {
	handlers := NewHandlers(config.DefaultConfig(), prometheus.NewRegistry(), unsetSource())

	w := httptest.NewRecorder()
	handlers.StatusHandler(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, "unknown", raw["level"])
	assert.Equal(t, "", raw["message"])
	assert.NotContains(t, raw, "first_attempt")
}

func TestHandlers_IndexHandler(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NTP.Servers = []string{"time.google.com", "pool.ntp.org"}
	handlers := NewHandlers(cfg, prometheus.NewRegistry(), greenSource())

	w := httptest.NewRecorder()
	handlers.IndexHandler(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "NTP Timekeeper")
	assert.Contains(t, body, "time.google.com, pool.ntp.org")
	assert.Contains(t, body, "/time")
	assert.Contains(t, body, "/status")
	assert.Contains(t, body, "green")
}

func TestHandlers_IndexHandler_EscapesContent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NTP.Servers = []string{"<script>alert(1)</script>", "a&b.ntp.test"}
	source := greenSource()
	source.snap.Status.Message = `<img src=x onerror="x">`
	handlers := NewHandlers(cfg, prometheus.NewRegistry(), source)

	w := httptest.NewRecorder()
	handlers.IndexHandler(w, httptest.NewRequest(http.MethodGet, "/", nil))

	body := w.Body.String()
	assert.NotContains(t, body, "<script>")
	assert.NotContains(t, body, "<img")
	assert.Contains(t, body, "&lt;script&gt;alert(1)&lt;/script&gt;, a&amp;b.ntp.test")
	assert.Contains(t, body, "&lt;img src=x onerror=&#34;x&#34;&gt;")
}

func TestHandlers_IndexHandler_NotFound(t *testing.T) {
	handlers := NewHandlers(config.DefaultConfig(), prometheus.NewRegistry(), greenSource())

	for _, path := range []string{"/invalid", "/metrics/extra", "/favicon.ico"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			handlers.IndexHandler(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}
}

func TestLoggerAdapter_Println(t *testing.T) {
	adapter := &loggerAdapter{}
	assert.NotPanics(t, func() {
		adapter.Println("collecting metric", assert.AnError, 42)
	})
}
