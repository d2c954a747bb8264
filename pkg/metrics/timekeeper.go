package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TimekeeperMetrics encapsulates all timekeeper metrics
type TimekeeperMetrics struct {
	// Reference metrics
	ReferenceEstablished     prometheus.Gauge
	ReferenceMaxErrorSeconds prometheus.Gauge
	ReferenceAgeSeconds      prometheus.Gauge
	ReferenceUpdatesTotal    *prometheus.CounterVec
	UTCOffsetSeconds         prometheus.Gauge // estimated UTC minus the wall clock
	StatusLevel              prometheus.Gauge
	StatusInfo               *prometheus.GaugeVec
	SampleAttempts           prometheus.Gauge
	FirstAttemptAgeSeconds   prometheus.Gauge

	// Sampling metrics
	SamplesTotal           *prometheus.CounterVec
	SampleLatencySeconds   *prometheus.HistogramVec
	NoMeasurementTotal     *prometheus.CounterVec
	SampleErrorsTotal      *prometheus.CounterVec
	ServerReachable        *prometheus.GaugeVec
	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerFailures *prometheus.GaugeVec
	RateLimitWaitSeconds   *prometheus.HistogramVec
	DNSCacheEntries        *prometheus.GaugeVec
	SystemClockSetsTotal   *prometheus.CounterVec

	// Cross-check metrics
	ProbeDivergenceSeconds *prometheus.GaugeVec
	ProbeOffsetSeconds     *prometheus.GaugeVec
	ProbeStratum           *prometheus.GaugeVec
	ProbeSuspiciousTotal   *prometheus.CounterVec
	KernelSynchronized     prometheus.Gauge
	KernelOffsetSeconds    prometheus.Gauge
	KernelMaxErrorSeconds  prometheus.Gauge
	KernelFrequencyPPM     prometheus.Gauge

	// Operational metrics
	BuildInfo                *prometheus.GaugeVec
	CollectorDurationSeconds *prometheus.HistogramVec
	CollectionsTotal         *prometheus.CounterVec
	ServersConfigured        prometheus.Gauge
	HTTPRequestsTotal        *prometheus.CounterVec
	HTTPRequestSeconds       *prometheus.HistogramVec
	MemoryUsageBytes         prometheus.Gauge
	MemoryHeapBytes          prometheus.Gauge
	GoroutinesCount          prometheus.Gauge
	GCDurationSeconds        prometheus.Summary
}

// NewTimekeeperMetricsWithConfig creates all metrics under namespace and subsystem
func NewTimekeeperMetricsWithConfig(namespace, subsystem string) *TimekeeperMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		})
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}

	return &TimekeeperMetrics{
		ReferenceEstablished:     gauge("reference_established", "1 once a time reference has been established"),
		ReferenceMaxErrorSeconds: gauge("reference_max_error_seconds", "Maximum error of the current time reference"),
		ReferenceAgeSeconds:      gauge("reference_age_seconds", "Seconds elapsed since the current reference sample"),
		ReferenceUpdatesTotal: counterVec("reference_updates_total",
			"Reference changes by outcome (established, rebased, improved, drift_corrected)", "outcome"),
		UTCOffsetSeconds: gauge("utc_offset_seconds", "Estimated UTC minus the local wall clock"),
		StatusLevel:      gauge("status_level", "Accuracy tier: 0 unknown, 1 red, 2 orange, 3 dark amber, 4 green"),
		StatusInfo:       gaugeVec("status_info", "Current accuracy tier as a label", "level", "colour"),
		SampleAttempts:   gauge("sample_attempts", "Sampling attempts since start"),
		FirstAttemptAgeSeconds: gauge("first_attempt_age_seconds",
			"Seconds elapsed since the first sampling attempt"),

		SamplesTotal: counterVec("samples_total", "Completed exchanges by server and outcome", "server", "outcome"),
		SampleLatencySeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sample_round_trip_seconds",
				Help:      "Round trip of completed exchanges",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 3.0},
			},
			[]string{"server"},
		),
		NoMeasurementTotal: counterVec("no_measurement_total", "Exchanges that timed out or were aborted", "server"),
		SampleErrorsTotal:  counterVec("sample_errors_total", "Exchanges that failed with an error", "server"),
		ServerReachable:    gaugeVec("server_reachable", "1 if the last exchange with the server completed", "server"),
		CircuitBreakerState: gaugeVec("circuit_breaker_state",
			"Circuit breaker state per server: 0 closed, 1 half-open, 2 open", "server"),
		CircuitBreakerFailures: gaugeVec("circuit_breaker_consecutive_failures",
			"Consecutive failed exchanges counted by the circuit breaker", "server"),
		RateLimitWaitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rate_limit_wait_seconds",
				Help:      "Time spent waiting for the rate limiter",
				Buckets:   []float64{0.001, 0.01, 0.1, 1, 5, 15, 30},
			},
			[]string{"server"},
		),
		DNSCacheEntries:      gaugeVec("dns_cache_entries", "DNS cache entries by state", "state"),
		SystemClockSetsTotal: counterVec("system_clock_sets_total", "Attempts to step the host clock by status", "status"),

		ProbeDivergenceSeconds: gaugeVec("probe_divergence_seconds",
			"Estimated UTC minus the time reported by an independent NTPv4 probe", "server"),
		ProbeOffsetSeconds: gaugeVec("probe_offset_seconds", "Wall clock offset reported by the probe", "server"),
		ProbeStratum:       gaugeVec("probe_stratum", "Stratum reported by the probe", "server"),
		ProbeSuspiciousTotal: counterVec("probe_suspicious_total",
			"Probe responses rejected for cross-checking", "server", "reason"),
		KernelSynchronized:    gauge("kernel_synchronized", "1 if the kernel reports a synchronized clock"),
		KernelOffsetSeconds:   gauge("kernel_offset_seconds", "Kernel clock offset"),
		KernelMaxErrorSeconds: gauge("kernel_max_error_seconds", "Kernel maximum error"),
		KernelFrequencyPPM:    gauge("kernel_frequency_ppm", "Kernel frequency offset in ppm"),

		BuildInfo: gaugeVec("build_info", "Build information", "version", "commit", "go_version"),
		CollectorDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "collector_duration_seconds",
				Help:      "Duration of each collector run",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 3.0, 10.0},
			},
			[]string{"collector"},
		),
		CollectionsTotal:  counterVec("collections_total", "Collection cycles by status", "status"),
		ServersConfigured: gauge("servers_configured", "Number of configured NTP servers"),
		HTTPRequestsTotal: counterVec("http_requests_total", "HTTP requests by route and status code", "route", "code"),
		HTTPRequestSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"route"},
		),
		MemoryUsageBytes:  gauge("memory_usage_bytes", "Allocated heap memory"),
		MemoryHeapBytes:   gauge("memory_heap_bytes", "Heap memory in use"),
		GoroutinesCount:   gauge("goroutines_count", "Number of goroutines"),
		GCDurationSeconds: prometheus.NewSummary(
			prometheus.SummaryOpts{
				Namespace:  namespace,
				Subsystem:  subsystem,
				Name:       "gc_duration_seconds",
				Help:       "Last garbage collection pause",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
		),
	}
}

// NewTimekeeperMetrics creates metrics with the default ntp_timekeeper prefix
func NewTimekeeperMetrics() *TimekeeperMetrics {
	return NewTimekeeperMetricsWithConfig("ntp", "timekeeper")
}

func (m *TimekeeperMetrics) getAllMetrics() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReferenceEstablished,
		m.ReferenceMaxErrorSeconds,
		m.ReferenceAgeSeconds,
		m.ReferenceUpdatesTotal,
		m.UTCOffsetSeconds,
		m.StatusLevel,
		m.StatusInfo,
		m.SampleAttempts,
		m.FirstAttemptAgeSeconds,

		m.SamplesTotal,
		m.SampleLatencySeconds,
		m.NoMeasurementTotal,
		m.SampleErrorsTotal,
		m.ServerReachable,
		m.CircuitBreakerState,
		m.CircuitBreakerFailures,
		m.RateLimitWaitSeconds,
		m.DNSCacheEntries,
		m.SystemClockSetsTotal,

		m.ProbeDivergenceSeconds,
		m.ProbeOffsetSeconds,
		m.ProbeStratum,
		m.ProbeSuspiciousTotal,
		m.KernelSynchronized,
		m.KernelOffsetSeconds,
		m.KernelMaxErrorSeconds,
		m.KernelFrequencyPPM,

		m.BuildInfo,
		m.CollectorDurationSeconds,
		m.CollectionsTotal,
		m.ServersConfigured,
		m.HTTPRequestsTotal,
		m.HTTPRequestSeconds,
		m.MemoryUsageBytes,
		m.MemoryHeapBytes,
		m.GoroutinesCount,
		m.GCDurationSeconds,
	}
}

// Describe implements prometheus.Collector interface
func (m *TimekeeperMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range m.getAllMetrics() {
		metric.Describe(ch)
	}
}

// Collect implements prometheus.Collector interface
func (m *TimekeeperMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, metric := range m.getAllMetrics() {
		metric.Collect(ch)
	}
}
