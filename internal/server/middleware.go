package server

import (
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/maximewewer/ntp-timekeeper/internal/config"
	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
	"github.com/maximewewer/ntp-timekeeper/pkg/metrics"
)

// routes are the paths exported as metric labels; anything else is "other"
var routes = map[string]bool{
	"/":        true,
	"/metrics": true,
	"/health":  true,
	"/status":  true,
	"/time":    true,
}

// browserRoutes are the JSON endpoints a status widget may fetch cross-origin
var browserRoutes = map[string]bool{
	"/status": true,
	"/time":   true,
}

// Middleware manages HTTP middleware
type Middleware struct {
	config  *config.Config
	metrics *metrics.TimekeeperMetrics
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(cfg *config.Config, m *metrics.TimekeeperMetrics) *Middleware {
	return &Middleware{
		config:  cfg,
		metrics: m,
	}
}

// Apply wraps next so that requests pass CORS, then observation, then
// panic recovery.
func (m *Middleware) Apply(next http.Handler) http.Handler {
	handler := m.recoveryMiddleware(next)
	handler = m.observeMiddleware(handler)

	if m.config.Server.EnableCORS {
		handler = m.corsMiddleware(handler)
	}

	return handler
}

func routeLabel(path string) string {
	if routes[path] {
		return path
	}
	return "other"
}

// observeMiddleware logs every request, counts it per route and refreshes
// the runtime gauges before a scrape.
func (m *Middleware) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeLabel(r.URL.Path)

		if route == "/metrics" {
			m.updateRuntimeMetrics()
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		m.metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rw.statusCode)).Inc()
		m.metrics.HTTPRequestSeconds.WithLabelValues(route).Observe(elapsed.Seconds())

		logger.HTTP(r.Method, r.URL.Path, rw.statusCode, elapsed, r.RemoteAddr)
	})
}

func (m *Middleware) updateRuntimeMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.metrics.MemoryUsageBytes.Set(float64(memStats.Alloc))
	m.metrics.MemoryHeapBytes.Set(float64(memStats.HeapInuse))
	m.metrics.GoroutinesCount.Set(float64(runtime.NumGoroutine()))

	if memStats.NumGC > 0 {
		// Most recent pause, in seconds
		gcPause := float64(memStats.PauseNs[(memStats.NumGC+255)%256]) / 1e9
		m.metrics.GCDurationSeconds.Observe(gcPause)
	}
}

// corsMiddleware lets whitelisted origins read /status and /time. Other
// routes never carry CORS headers.
func (m *Middleware) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !browserRoutes[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Origin")

		if !m.isAllowedOrigin(origin) {
			logger.SafeWarn("security", "CORS request blocked", map[string]interface{}{
				"origin": origin,
				"path":   r.URL.Path,
			})
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin matches origin against the whitelist. An entry is either
// an exact origin or "*.domain", which accepts any subdomain of domain and
// domain itself over https.
func (m *Middleware) isAllowedOrigin(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()

	for _, allowed := range m.config.Server.AllowedOrigins {
		if allowed == origin {
			return true
		}

		domain, ok := strings.CutPrefix(allowed, "*.")
		if !ok {
			continue
		}
		if strings.HasSuffix(host, "."+domain) {
			return true
		}
		if host == domain && parsed.Scheme == "https" {
			return true
		}
	}

	return false
}

// recoveryMiddleware turns a handler panic into a JSON 500, unless the
// handler already started its response.
func (m *Middleware) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			logger.SafeError("server", "Panic recovered", nil, map[string]interface{}{
				"panic":  rec,
				"method": r.Method,
				"path":   r.URL.Path,
			})

			if rw, ok := w.(*responseWriter); ok && rw.wroteHeader {
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"internal server error"}`))
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter records the status code and whether headers were sent
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}
