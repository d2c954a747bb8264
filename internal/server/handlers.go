package server

import (
	"encoding/json"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maximewewer/ntp-timekeeper/internal/config"
	"github.com/maximewewer/ntp-timekeeper/internal/timekeeper"
	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TimeSource is the estimator view served over HTTP
type TimeSource interface {
	Snapshot(now time.Time) timekeeper.Snapshot
}

// Handlers contains HTTP request handlers
type Handlers struct {
	config   *config.Config
	registry *prometheus.Registry
	source   TimeSource
	now      func() time.Time
}

// StatusResponse is the body of /status
type StatusResponse struct {
	Level        string     `json:"level"`
	Colour       string     `json:"colour"`
	Message      string     `json:"message"`
	MaxErrorMs   int64      `json:"max_error_ms"`
	Attempts     int64      `json:"attempts"`
	FirstAttempt *time.Time `json:"first_attempt,omitempty"`
}

// TimeResponse is the body of /time
type TimeResponse struct {
	UTC        time.Time `json:"utc"`
	UnixMs     int64     `json:"unix_ms"`
	MaxErrorMs int64     `json:"max_error_ms"`
	Reliable   bool      `json:"reliable"`
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, registry *prometheus.Registry, source TimeSource) *Handlers {
	return &Handlers{
		config:   cfg,
		registry: registry,
		source:   source,
		now:      time.Now,
	}
}

// MetricsHandler serves Prometheus metrics
func (h *Handlers) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	handler := promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{
		ErrorLog:      &loggerAdapter{},
		ErrorHandling: promhttp.ContinueOnError,
	})

	handler.ServeHTTP(w, r)
}

// HealthHandler returns health status
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := `{"status":"healthy","service":"ntp-timekeeper"}`
	w.Write([]byte(response))
}

// StatusHandler reports the accuracy tier of the current estimate
func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot(h.now().UTC())

	resp := StatusResponse{
		Level:      snap.Status.Level.String(),
		Colour:     snap.Status.Level.Colour(),
		Message:    snap.Status.Message,
		MaxErrorMs: snap.MaxError.Milliseconds(),
		Attempts:   snap.Attempts.Attempts,
	}
	if !snap.Attempts.FirstAttempt.IsZero() {
		first := snap.Attempts.FirstAttempt.UTC()
		resp.FirstAttempt = &first
	}

	writeJSON(w, resp)
}

// TimeHandler returns the current UTC estimate
func (h *Handlers) TimeHandler(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot(h.now().UTC())

	writeJSON(w, TimeResponse{
		UTC:        snap.UTC.UTC(),
		UnixMs:     snap.UTC.UnixMilli(),
		MaxErrorMs: snap.MaxError.Milliseconds(),
		Reliable:   snap.HasReference && snap.MaxError < timekeeper.UnsetMaxError,
	})
}

// IndexHandler serves the index page
func (h *Handlers) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)

	status := h.source.Snapshot(h.now().UTC()).Status

	page := `<!DOCTYPE html>
<html>
<head>
    <title>NTP Timekeeper</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        h1 { color: #333; }
        ul { list-style-type: none; padding: 0; }
        li { margin: 10px 0; }
        a { color: #0066cc; text-decoration: none; }
        a:hover { text-decoration: underline; }
        .info { background-color: #f0f0f0; padding: 15px; border-radius: 5px; }
    </style>
</head>
<body>
    <h1>NTP Timekeeper</h1>
    <div class="info">
        <h2>Status: <span style="color: ` + html.EscapeString(status.Level.Colour()) + `">` + html.EscapeString(status.Level.String()) + `</span></h2>
        <p>` + html.EscapeString(status.Message) + `</p>
        <h2>Available Endpoints:</h2>
        <ul>
            <li><a href="/time">/time</a> - Current UTC estimate</li>
            <li><a href="/status">/status</a> - Accuracy status</li>
            <li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
            <li><a href="/health">/health</a> - Health check</li>
        </ul>
        <h2>Configuration:</h2>
        <ul>
            <li>NTP Servers: ` + html.EscapeString(strings.Join(h.config.NTP.Servers, ", ")) + `</li>
            <li>Sync interval: ` + h.config.NTP.SyncInterval.String() + `</li>
            <li>Timeout: ` + h.config.NTP.Timeout.String() + `</li>
            <li>Set system clock: ` + strconv.FormatBool(h.config.NTP.SetSystemClock) + `</li>
        </ul>
    </div>
</body>
</html>`

	w.Write([]byte(page))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("server", "Failed to encode response", err)
	}
}

// loggerAdapter adapts pkg/logger to promhttp logger interface
type loggerAdapter struct{}

func (l *loggerAdapter) Println(v ...interface{}) {
	parts := make([]string, 0, len(v))
	for _, val := range v {
		switch x := val.(type) {
		case string:
			parts = append(parts, x)
		case error:
			parts = append(parts, x.Error())
		}
	}
	logger.Error("promhttp", strings.Join(parts, " "), nil)
}
