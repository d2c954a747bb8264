package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/maximewewer/ntp-timekeeper/internal/config"
	"github.com/maximewewer/ntp-timekeeper/internal/ntp"
	"github.com/maximewewer/ntp-timekeeper/internal/timekeeper"
	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
	"github.com/maximewewer/ntp-timekeeper/pkg/metrics"
	"github.com/sony/gobreaker"
)

// CommonCollector provides shared functionality for all collectors
type CommonCollector struct {
	config  *config.Config
	metrics *metrics.TimekeeperMetrics
	enabled bool
	name    string
}

// NewCommonCollector creates a new common collector base
func NewCommonCollector(cfg *config.Config, m *metrics.TimekeeperMetrics, name string) *CommonCollector {
	return &CommonCollector{
		config:  cfg,
		metrics: m,
		enabled: true,
		name:    name,
	}
}

// Name returns the collector name
func (c *CommonCollector) Name() string {
	return c.name
}

// Enabled returns whether the collector is enabled
func (c *CommonCollector) Enabled() bool {
	return c.enabled
}

// GetConfig returns the configuration
func (c *CommonCollector) GetConfig() *config.Config {
	return c.config
}

// GetMetrics returns the metrics
func (c *CommonCollector) GetMetrics() *metrics.TimekeeperMetrics {
	return c.metrics
}

// IterateServers calls collectFunc for each configured server in order.
// Iteration stops early when the context is done.
func (c *CommonCollector) IterateServers(ctx context.Context, collectFunc func(context.Context, string) error, metricType string) error {
	logger.Debugf("collector", "Starting %s collection with %d servers", metricType, len(c.config.NTP.Servers))

	for _, server := range c.config.NTP.Servers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := collectFunc(ctx, server); err != nil {
			logger.SafeWarn("collector", fmt.Sprintf("%s collection failed", metricType), map[string]interface{}{
				"server": server,
				"error":  err.Error(),
			})
		}
	}

	return nil
}

// SamplerStack is the sampling chain built from configuration
type SamplerStack struct {
	Sampler  ntp.TimeSampler
	Breaker  *ntp.CircuitBreakerSampler // nil when disabled
	Limiter  *ntp.RateLimiter           // nil when disabled
	Resolver *ntp.DNSCache
}

// NewSamplerStack builds the sampler, wrapped with rate limiting and a
// circuit breaker when enabled.
func NewSamplerStack(cfg *config.Config, clock timekeeper.MonotonicClock, recorder ntp.Recorder, m *metrics.TimekeeperMetrics) *SamplerStack {
	stack := &SamplerStack{
		Resolver: ntp.NewDNSCache(ntp.DNSCacheConfig{
			MinTTL:   cfg.NTP.DNSCache.MinTTL,
			MaxTTL:   cfg.NTP.DNSCache.MaxTTL,
			Disabled: !cfg.NTP.DNSCache.Enabled,
		}),
	}

	if cfg.NTP.RateLimit.Enabled {
		stack.Limiter = ntp.NewRateLimiter(
			cfg.NTP.RateLimit.GlobalRate,
			cfg.NTP.RateLimit.PerServerRate,
			cfg.NTP.RateLimit.BurstSize,
		)
		if m != nil {
			stack.Limiter.OnWait(func(server string, waited time.Duration) {
				m.RateLimitWaitSeconds.WithLabelValues(server).Observe(waited.Seconds())
			})
		}
	}

	stack.Sampler = ntp.NewSampler(ntp.SamplerConfig{
		Port:        cfg.NTP.Port,
		Timeout:     cfg.NTP.Timeout,
		RateLimiter: stack.Limiter,
		Resolver:    stack.Resolver,
	}, clock, recorder)

	if cfg.NTP.CircuitBreaker.Enabled {
		stack.Breaker = ntp.NewCircuitBreakerSampler(stack.Sampler, ntp.NewCircuitBreakerConfigWithThreshold(
			cfg.NTP.CircuitBreaker.MaxRequests,
			cfg.NTP.CircuitBreaker.Interval,
			cfg.NTP.CircuitBreaker.Timeout,
			cfg.NTP.CircuitBreaker.FailureThreshold,
		))
		stack.Sampler = stack.Breaker
	}

	return stack
}

// breakerStateValue maps a breaker state to the circuit_breaker_state gauge
func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
