// Package config provides configuration loading with explicit naming
//
// Available functions:
//
//   LoadFromEnvVarsOnly()                     - Environment variables ONLY
//                                               Use: Docker, Kubernetes (no ConfigMap)
//
//   LoadFromYamlFile(path)                    - YAML file ONLY (no env overrides)
//                                               Use: Local development, testing
//
//   LoadFromYamlWithEnvOverrides(path)        - YAML base + Environment overrides
//                                               Use: Kubernetes (ConfigMap + env vars)
//                                               Priority: Env Vars > YAML > Defaults
//
// Environment variables supported:
//
//   SERVER:
//     - TIMEKEEPER_ADDRESS, TIMEKEEPER_PORT
//     - SERVER_READ_TIMEOUT, SERVER_WRITE_TIMEOUT
//     - TLS_ENABLED, TLS_CERT_FILE, TLS_KEY_FILE
//     - ENABLE_CORS, ALLOWED_ORIGINS (comma-separated)
//
//   NTP:
//     - NTP_SERVERS (comma-separated), NTP_PORT, NTP_TIMEOUT
//     - NTP_SYNC_INTERVAL, NTP_SET_SYSTEM_CLOCK
//
//   RATE_LIMIT (queries per minute):
//     - RATE_LIMIT_ENABLED, RATE_LIMIT_GLOBAL, RATE_LIMIT_PER_SERVER
//     - RATE_LIMIT_BURST_SIZE
//
//   CIRCUIT_BREAKER:
//     - CIRCUIT_BREAKER_ENABLED, CIRCUIT_BREAKER_MAX_REQUESTS
//     - CIRCUIT_BREAKER_INTERVAL, CIRCUIT_BREAKER_TIMEOUT
//     - CIRCUIT_BREAKER_FAILURE_THRESHOLD
//
//   DNS_CACHE:
//     - DNS_CACHE_ENABLED, DNS_CACHE_MIN_TTL, DNS_CACHE_MAX_TTL
//     - DNS_CACHE_CLEANUP_INTERVAL
//
//   CROSS_CHECK:
//     - CROSS_CHECK_ENABLED, CROSS_CHECK_SERVER, CROSS_CHECK_TIMEOUT
//     - CROSS_CHECK_VERSION, CROSS_CHECK_KERNEL
//
//   LOGGING:
//     - LOG_LEVEL (trace|debug|info|warn|error|fatal|panic)
//     - LOG_FORMAT (json|console)
//     - LOG_ENABLE_FILE, LOG_FILE_PATH
//
//   METRICS:
//     - METRICS_NAMESPACE, METRICS_SUBSYSTEM
//
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	NTP     NTPConfig     `yaml:"ntp"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Address        string        `yaml:"address"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	EnableCORS     bool          `yaml:"enable_cors"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	TLSEnabled     bool          `yaml:"tls_enabled"`
	TLSCertFile    string        `yaml:"tls_cert_file"`
	TLSKeyFile     string        `yaml:"tls_key_file"`
}

// NTPConfig contains sampling configuration
type NTPConfig struct {
	Servers        []string             `yaml:"servers"`
	Port           int                  `yaml:"port"`
	Timeout        time.Duration        `yaml:"timeout"`
	SyncInterval   time.Duration        `yaml:"sync_interval"`
	SetSystemClock bool                 `yaml:"set_system_clock"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	DNSCache       DNSCacheConfig       `yaml:"dns_cache"`
	CrossCheck     CrossCheckConfig     `yaml:"cross_check"`
}

// RateLimitConfig contains rate limiting configuration. Rates are queries per minute.
type RateLimitConfig struct {
	Enabled       bool `yaml:"enabled"`
	GlobalRate    int  `yaml:"global_rate"`
	PerServerRate int  `yaml:"per_server_rate"`
	BurstSize     int  `yaml:"burst_size"`
}

// CircuitBreakerConfig contains circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold"`
}

// DNSCacheConfig contains DNS cache configuration
type DNSCacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MinTTL          time.Duration `yaml:"min_ttl"`
	MaxTTL          time.Duration `yaml:"max_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// CrossCheckConfig configures the independent NTPv4 probe
type CrossCheckConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Server       string        `yaml:"server"`
	Timeout      time.Duration `yaml:"timeout"`
	Version      int           `yaml:"version"`
	EnableKernel bool          `yaml:"enable_kernel"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	EnableFile bool   `yaml:"enable_file"`
	FilePath   string `yaml:"file_path"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// newBaseConfig returns the switches that default to on. Booleans cannot be
// defaulted after decoding, so they are set before.
func newBaseConfig() *Config {
	cfg := &Config{}
	cfg.NTP.RateLimit.Enabled = true
	cfg.NTP.CircuitBreaker.Enabled = true
	cfg.NTP.DNSCache.Enabled = true
	return cfg
}

// readYamlFile decodes path over the base config and applies defaults
func readYamlFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("config", "Failed to read config file", err)
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := newBaseConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		logger.Error("config", "Failed to parse config file", err)
		return nil, fmt.Errorf("failed to parse YAML config file %s: %w", path, err)
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadFromYamlFile reads configuration from a YAML file only (no env var overrides)
// Use case: Local development, testing
func LoadFromYamlFile(path string) (*Config, error) {
	cfg, err := readYamlFile(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		logger.Error("config", "Invalid configuration", err)
		return nil, fmt.Errorf("configuration validation failed for %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromYamlWithEnvOverrides loads base config from YAML, then overrides with environment variables
// Use case: Kubernetes with ConfigMaps + env vars, Docker with config file + env vars
// Priority: Environment Variables > YAML File > Defaults
//
// A path that cannot be read or parsed is an error: an explicitly named file
// is never silently replaced by defaults. Validation runs after the overrides.
func LoadFromYamlWithEnvOverrides(path string) (*Config, error) {
	cfg, err := readYamlFile(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		logger.Error("config", "Invalid configuration after env overrides", err)
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromEnvVarsOnly loads configuration from environment variables only (no YAML file)
// Use case: Docker containers, Kubernetes pods without ConfigMaps
// Priority: Environment Variables > Defaults
func LoadFromEnvVarsOnly() (*Config, error) {
	cfg := newBaseConfig()
	ApplyDefaults(cfg)

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		logger.Error("config", "Invalid configuration from environment", err)
		return nil, fmt.Errorf("environment configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to an existing config.
// Unparseable values are logged and ignored.
func applyEnvOverrides(cfg *Config) {
	// SERVER
	envString("TIMEKEEPER_ADDRESS", &cfg.Server.Address)
	envInt("TIMEKEEPER_PORT", &cfg.Server.Port)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envBool("TLS_ENABLED", &cfg.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &cfg.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &cfg.Server.TLSKeyFile)
	envBool("ENABLE_CORS", &cfg.Server.EnableCORS)
	envList("ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)

	// NTP
	envList("NTP_SERVERS", &cfg.NTP.Servers)
	envInt("NTP_PORT", &cfg.NTP.Port)
	envDuration("NTP_TIMEOUT", &cfg.NTP.Timeout)
	envDuration("NTP_SYNC_INTERVAL", &cfg.NTP.SyncInterval)
	envBool("NTP_SET_SYSTEM_CLOCK", &cfg.NTP.SetSystemClock)

	// RATE LIMIT
	envBool("RATE_LIMIT_ENABLED", &cfg.NTP.RateLimit.Enabled)
	envInt("RATE_LIMIT_GLOBAL", &cfg.NTP.RateLimit.GlobalRate)
	envInt("RATE_LIMIT_PER_SERVER", &cfg.NTP.RateLimit.PerServerRate)
	envInt("RATE_LIMIT_BURST_SIZE", &cfg.NTP.RateLimit.BurstSize)

	// CIRCUIT BREAKER
	envBool("CIRCUIT_BREAKER_ENABLED", &cfg.NTP.CircuitBreaker.Enabled)
	if v := os.Getenv("CIRCUIT_BREAKER_MAX_REQUESTS"); v != "" {
		if r, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.NTP.CircuitBreaker.MaxRequests = uint32(r)
		} else {
			ignored("CIRCUIT_BREAKER_MAX_REQUESTS", v, err)
		}
	}
	envDuration("CIRCUIT_BREAKER_INTERVAL", &cfg.NTP.CircuitBreaker.Interval)
	envDuration("CIRCUIT_BREAKER_TIMEOUT", &cfg.NTP.CircuitBreaker.Timeout)
	if v := os.Getenv("CIRCUIT_BREAKER_FAILURE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.NTP.CircuitBreaker.FailureThreshold = f
		} else {
			ignored("CIRCUIT_BREAKER_FAILURE_THRESHOLD", v, err)
		}
	}

	// DNS CACHE
	envBool("DNS_CACHE_ENABLED", &cfg.NTP.DNSCache.Enabled)
	envDuration("DNS_CACHE_MIN_TTL", &cfg.NTP.DNSCache.MinTTL)
	envDuration("DNS_CACHE_MAX_TTL", &cfg.NTP.DNSCache.MaxTTL)
	envDuration("DNS_CACHE_CLEANUP_INTERVAL", &cfg.NTP.DNSCache.CleanupInterval)

	// CROSS CHECK
	envBool("CROSS_CHECK_ENABLED", &cfg.NTP.CrossCheck.Enabled)
	envString("CROSS_CHECK_SERVER", &cfg.NTP.CrossCheck.Server)
	envDuration("CROSS_CHECK_TIMEOUT", &cfg.NTP.CrossCheck.Timeout)
	envInt("CROSS_CHECK_VERSION", &cfg.NTP.CrossCheck.Version)
	envBool("CROSS_CHECK_KERNEL", &cfg.NTP.CrossCheck.EnableKernel)

	// LOGGING
	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("LOG_FORMAT", &cfg.Logging.Format)
	envBool("LOG_ENABLE_FILE", &cfg.Logging.EnableFile)
	envString("LOG_FILE_PATH", &cfg.Logging.FilePath)

	// METRICS
	envString("METRICS_NAMESPACE", &cfg.Metrics.Namespace)
	envString("METRICS_SUBSYSTEM", &cfg.Metrics.Subsystem)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envList(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		*dst = parseCommaSeparated(v)
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		} else {
			ignored(key, v, err)
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		} else {
			ignored(key, v, err)
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			ignored(key, v, err)
		}
	}
}

func ignored(key, value string, err error) {
	logger.SafeWarn("config", "Ignoring invalid environment value", map[string]interface{}{
		"variable": key,
		"value":    value,
		"error":    err.Error(),
	})
}

// parseCommaSeparated splits a comma-separated string, dropping empty items
func parseCommaSeparated(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
