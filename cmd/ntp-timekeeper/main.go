package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/maximewewer/ntp-timekeeper/internal/collector"
	"github.com/maximewewer/ntp-timekeeper/internal/config"
	"github.com/maximewewer/ntp-timekeeper/internal/ntp"
	"github.com/maximewewer/ntp-timekeeper/internal/server"
	"github.com/maximewewer/ntp-timekeeper/internal/sysclock"
	"github.com/maximewewer/ntp-timekeeper/internal/timekeeper"
	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
	"github.com/maximewewer/ntp-timekeeper/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	// Build information
	version = "dev"
	commit  = ""
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		// User-facing output, not logging
		println("ntp-timekeeper version", version)
		os.Exit(0)
	}

	// Load configuration (before logger is initialized)
	cfg, err := loadConfig(*configFile)
	if err != nil {
		os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitLogger(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		Component:  "ntp-timekeeper",
		EnableFile: cfg.Logging.EnableFile,
	}); err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Startup(version, commit, map[string]interface{}{
		"go_version": runtime.Version(),
		"config":     cfg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("main", "Timekeeper stopped with error", err)
		logger.Shutdown("error")
		os.Exit(1)
	}

	logger.Shutdown("graceful")
}

// loadConfig loads configuration based on whether a config file is specified
func loadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		// Priority: Environment Variables > YAML File > Defaults
		return config.LoadFromYamlWithEnvOverrides(configFile)
	}
	// Priority: Environment Variables > Defaults
	return config.LoadFromEnvVarsOnly()
}

// app holds the wired components
type app struct {
	registry   *metrics.Registry
	estimator  *timekeeper.Estimator
	stack      *collector.SamplerStack
	collectors *collector.Registry
	server     *server.Server
}

// newApp wires the estimator, sampler stack, collectors and HTTP server
func newApp(cfg *config.Config, mono timekeeper.MonotonicClock, wall timekeeper.SystemClock) (*app, error) {
	registry := metrics.NewRegistryWithConfig(cfg.Metrics.Namespace, cfg.Metrics.Subsystem).
		WithConstLabels(cfg.Metrics.Labels)
	if err := registry.Register(); err != nil {
		return nil, err
	}
	m := registry.GetMetrics()

	m.BuildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
	m.ServersConfigured.Set(float64(len(cfg.NTP.Servers)))

	est := timekeeper.NewEstimator(mono, wall)
	stack := collector.NewSamplerStack(cfg, mono, est, m)

	collectors := collector.NewRegistry(m)
	collectors.Register(collector.NewSyncCollector(cfg, est, stack, m))
	collectors.Register(collector.NewStatusCollector(est, wall, m))

	prober := ntp.NewProbeClient(cfg.NTP.CrossCheck.Timeout, cfg.NTP.CrossCheck.Version, stack.Limiter)
	collectors.Register(collector.NewCrossCheckCollector(cfg, est, prober, wall, m))

	logger.SafeInfo("main", "Registered collectors", map[string]interface{}{
		"total":            collectors.Count(),
		"enabled":          collectors.EnabledCount(),
		"set_system_clock": cfg.NTP.SetSystemClock,
	})

	return &app{
		registry:   registry,
		estimator:  est,
		stack:      stack,
		collectors: collectors,
		server:     server.New(cfg, registry.GetRegistry(), m, est),
	}, nil
}

// run starts every long-running task and waits until ctx is done or one of
// them fails.
func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(cfg, sysclock.NewMonotonic(), sysclock.System{})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Start(ctx)
	})

	g.Go(func() error {
		return runCollectionLoop(ctx, cfg, a.collectors)
	})

	if cfg.NTP.DNSCache.Enabled {
		g.Go(func() error {
			a.stack.Resolver.StartCleanupWorker(ctx, cfg.NTP.DNSCache.CleanupInterval)
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runCollectionLoop runs the collectors once, then on every sync interval
func runCollectionLoop(ctx context.Context, cfg *config.Config, collectors *collector.Registry) error {
	if err := collectors.CollectAll(ctx); err != nil {
		logger.SafeWarn("main", "Initial collection failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	ticker := time.NewTicker(cfg.NTP.SyncInterval)
	defer ticker.Stop()

	logger.SafeInfo("main", "Collection loop started", map[string]interface{}{
		"sync_interval": cfg.NTP.SyncInterval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			logger.Info("main", "Collection loop stopped")
			return nil
		case <-ticker.C:
			start := time.Now()
			if err := collectors.CollectAll(ctx); err != nil {
				logger.SafeWarn("main", "Collection failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			logger.SafeDebug("main", "Collection cycle finished", map[string]interface{}{
				"duration_ms": time.Since(start).Milliseconds(),
			})
		}
	}
}
