package testutil

import (
	"encoding/binary"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var ntpEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// FakeNTPServer answers SNTP requests on a loopback UDP socket with a
// scripted transmit timestamp.
type FakeNTPServer struct {
	conn     net.PacketConn
	mu       sync.Mutex
	clock    func() time.Time
	delay    time.Duration
	drop     bool
	short    bool
	requests atomic.Int64
	wg       sync.WaitGroup
}

// StartFakeNTPServer starts a server replying with clock() as transmit time.
// It is closed automatically when the test ends.
func StartFakeNTPServer(t *testing.T, clock func() time.Time) *FakeNTPServer {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen for fake NTP server: %v", err)
	}

	s := &FakeNTPServer{conn: conn, clock: clock}
	s.wg.Add(1)
	go s.serve()

	t.Cleanup(s.Close)
	return s
}

func (s *FakeNTPServer) serve() {
	defer s.wg.Done()

	buf := make([]byte, 512)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		s.requests.Add(1)
		if n < 48 {
			continue
		}

		s.mu.Lock()
		delay, drop, short, clock := s.delay, s.drop, s.short, s.clock
		s.mu.Unlock()

		if drop {
			continue
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		resp := make([]byte, 48)
		resp[0] = 0x1C // LI 0, version 3, mode server
		resp[1] = 2
		ms := clock().Sub(ntpEpoch).Milliseconds()
		binary.BigEndian.PutUint32(resp[40:], uint32(ms/1000))
		binary.BigEndian.PutUint32(resp[44:], uint32((uint64(ms%1000)<<32+999)/1000))

		if short {
			resp = resp[:20]
		}
		_, _ = s.conn.WriteTo(resp, addr)
	}
}

// Host returns the loopback address the server listens on
func (s *FakeNTPServer) Host() string {
	return s.conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// Port returns the UDP port the server listens on
func (s *FakeNTPServer) Port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetDelay delays every reply by d
func (s *FakeNTPServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetDrop makes the server swallow requests without replying
func (s *FakeNTPServer) SetDrop(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop = drop
}

// SetShortReply truncates replies below the NTP packet size
func (s *FakeNTPServer) SetShortReply(short bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.short = short
}

// SetClock replaces the transmit time source
func (s *FakeNTPServer) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Requests returns the number of datagrams received
func (s *FakeNTPServer) Requests() int64 {
	return s.requests.Load()
}

// Close stops the server
func (s *FakeNTPServer) Close() {
	_ = s.conn.Close()
	s.wg.Wait()
}

// metricTolerance absorbs float rounding in accumulated sums and unit conversions
const metricTolerance = 1e-9

// AssertMetricValue validates a Prometheus metric value within metricTolerance
func AssertMetricValue(t *testing.T, registry *prometheus.Registry, metricName string, labels map[string]string, expected float64) {
	t.Helper()

	m, mf := findMetric(t, registry, metricName, labels)
	if m == nil {
		t.Errorf("Metric %s with labels %v not found", metricName, labels)
		return
	}

	var value float64
	switch mf.GetType() {
	case dto.MetricType_GAUGE:
		value = m.GetGauge().GetValue()
	case dto.MetricType_COUNTER:
		value = m.GetCounter().GetValue()
	case dto.MetricType_HISTOGRAM:
		value = m.GetHistogram().GetSampleSum()
	default:
		t.Fatalf("Unsupported metric type: %v", mf.GetType())
	}

	if math.Abs(value-expected) > metricTolerance*math.Max(1, math.Abs(expected)) {
		t.Errorf("Metric %s with labels %v: expected %f, got %f", metricName, labels, expected, value)
	}
}

// AssertHistogramCount validates the number of observations of a histogram
func AssertHistogramCount(t *testing.T, registry *prometheus.Registry, metricName string, labels map[string]string, expected uint64) {
	t.Helper()

	m, _ := findMetric(t, registry, metricName, labels)
	if m == nil {
		t.Errorf("Metric %s with labels %v not found", metricName, labels)
		return
	}
	if got := m.GetHistogram().GetSampleCount(); got != expected {
		t.Errorf("Histogram %s with labels %v: expected %d observations, got %d", metricName, labels, expected, got)
	}
}

// AssertMetricExists checks if a metric exists with given labels
func AssertMetricExists(t *testing.T, registry *prometheus.Registry, metricName string, labels map[string]string) {
	t.Helper()

	if m, _ := findMetric(t, registry, metricName, labels); m == nil {
		t.Errorf("Metric %s with labels %v not found", metricName, labels)
	}
}

func findMetric(t *testing.T, registry *prometheus.Registry, metricName string, labels map[string]string) (*dto.Metric, *dto.MetricFamily) {
	t.Helper()

	metrics, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, mf := range metrics {
		if mf.GetName() != metricName {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return m, mf
			}
		}
	}
	return nil, nil
}

// labelsMatch checks if metric labels match expected labels
func labelsMatch(metricLabels []*dto.LabelPair, expected map[string]string) bool {
	if len(metricLabels) != len(expected) {
		return false
	}

	for _, label := range metricLabels {
		expectedValue, exists := expected[label.GetName()]
		if !exists || expectedValue != label.GetValue() {
			return false
		}
	}

	return true
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}

		<-ticker.C
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for condition: %s", message)
		}
	}
}

// NewTestHTTPServer creates a test HTTP server for integration tests
func NewTestHTTPServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
	})

	return server
}

// CreateTestRegistry creates a new Prometheus registry for testing
func CreateTestRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ValidatePrometheusMetricName validates that a metric name follows Prometheus conventions
func ValidatePrometheusMetricName(t *testing.T, name string) {
	t.Helper()

	if len(name) == 0 {
		t.Error("Metric name cannot be empty")
	}

	validName := regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	if !validName.MatchString(name) {
		t.Errorf("Invalid metric name: %s (must match [a-zA-Z_:][a-zA-Z0-9_:]*)", name)
	}

	if !strings.HasPrefix(name, "ntp_timekeeper_") {
		t.Errorf("Metric name %s should have ntp_timekeeper_ prefix", name)
	}
}

// ValidatePrometheusLabelName validates that a label name follows Prometheus conventions
func ValidatePrometheusLabelName(t *testing.T, name string) {
	t.Helper()

	validLabel := regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	if !validLabel.MatchString(name) {
		t.Errorf("Invalid label name: %s (must match [a-zA-Z_][a-zA-Z0-9_]*)", name)
	}

	for _, r := range []string{"__name__", "job", "instance"} {
		if name == r {
			t.Errorf("Label name %s is reserved", name)
		}
	}
}
