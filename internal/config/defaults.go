package config

import "time"

// ApplyDefaults sets default values for unspecified configuration fields
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Address == "" {
		cfg.Server.Address = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9560
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{}
	}

	// NTP defaults
	if len(cfg.NTP.Servers) == 0 {
		cfg.NTP.Servers = []string{
			"pool.ntp.org",
			"time.google.com",
		}
	}
	if cfg.NTP.Port == 0 {
		cfg.NTP.Port = 123
	}
	if cfg.NTP.Timeout == 0 {
		cfg.NTP.Timeout = 3 * time.Second
	}
	if cfg.NTP.SyncInterval == 0 {
		cfg.NTP.SyncInterval = 64 * time.Second
	}

	// Rate limiting defaults, queries per minute
	if cfg.NTP.RateLimit.GlobalRate == 0 {
		cfg.NTP.RateLimit.GlobalRate = 60
	}
	if cfg.NTP.RateLimit.PerServerRate == 0 {
		cfg.NTP.RateLimit.PerServerRate = 4
	}
	if cfg.NTP.RateLimit.BurstSize == 0 {
		cfg.NTP.RateLimit.BurstSize = 2
	}

	// Circuit breaker defaults
	if cfg.NTP.CircuitBreaker.MaxRequests == 0 {
		cfg.NTP.CircuitBreaker.MaxRequests = 3
	}
	if cfg.NTP.CircuitBreaker.Interval == 0 {
		cfg.NTP.CircuitBreaker.Interval = 60 * time.Second
	}
	if cfg.NTP.CircuitBreaker.Timeout == 0 {
		cfg.NTP.CircuitBreaker.Timeout = 30 * time.Second
	}
	if cfg.NTP.CircuitBreaker.FailureThreshold == 0 {
		cfg.NTP.CircuitBreaker.FailureThreshold = 0.6 // 60%
	}

	// DNS cache defaults
	if cfg.NTP.DNSCache.MinTTL == 0 {
		cfg.NTP.DNSCache.MinTTL = 5 * time.Minute
	}
	if cfg.NTP.DNSCache.MaxTTL == 0 {
		cfg.NTP.DNSCache.MaxTTL = 60 * time.Minute
	}
	if cfg.NTP.DNSCache.CleanupInterval == 0 {
		cfg.NTP.DNSCache.CleanupInterval = 10 * time.Minute
	}

	// Cross-check defaults (disabled unless requested)
	if cfg.NTP.CrossCheck.Server == "" {
		cfg.NTP.CrossCheck.Server = "time.cloudflare.com"
	}
	if cfg.NTP.CrossCheck.Timeout == 0 {
		cfg.NTP.CrossCheck.Timeout = 5 * time.Second
	}
	if cfg.NTP.CrossCheck.Version == 0 {
		cfg.NTP.CrossCheck.Version = 4
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	// Metrics defaults
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "ntp"
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = "timekeeper"
	}
	if cfg.Metrics.Labels == nil {
		cfg.Metrics.Labels = make(map[string]string)
	}
}

// DefaultConfig returns a configuration with all defaults applied
func DefaultConfig() *Config {
	cfg := newBaseConfig()
	ApplyDefaults(cfg)
	return cfg
}
