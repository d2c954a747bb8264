package ntp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/maximewewer/ntp-timekeeper/internal/timekeeper"
	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
)

// ErrNoMeasurement is returned when the exchange timed out or was aborted.
// It is not fatal: the caller should simply try again on the next schedule.
var ErrNoMeasurement = errors.New("no measurement: exchange timed out or was aborted")

// Recorder receives attempt notifications and samples
type Recorder interface {
	RecordAttempt()
	Process(s timekeeper.TimeSample) timekeeper.Outcome
}

// TimeSampler performs one request/response exchange with a server
type TimeSampler interface {
	Sample(ctx context.Context, server string) (*Measurement, error)
}

// Measurement is the result of one exchange
type Measurement struct {
	ID         string
	Server     string
	Address    string
	Sample     timekeeper.TimeSample
	ServerTime time.Time
	LatencyMs  float64
	Outcome    timekeeper.Outcome
}

// SamplerConfig configures a Sampler
type SamplerConfig struct {
	Port        int
	Timeout     time.Duration
	RateLimiter *RateLimiter
	Resolver    *DNSCache
}

// Sampler exchanges a single SNTP packet with a server and feeds the result
// to a Recorder.
type Sampler struct {
	port     int
	timeout  time.Duration
	limiter  *RateLimiter
	resolver *DNSCache
	clock    timekeeper.MonotonicClock
	recorder Recorder
}

// NewSampler creates a sampler. Zero config values use Port and DefaultTimeout.
func NewSampler(cfg SamplerConfig, clock timekeeper.MonotonicClock, recorder Recorder) *Sampler {
	if cfg.Port == 0 {
		cfg.Port = Port
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewDNSCache(DNSCacheConfig{})
	}

	return &Sampler{
		port:     cfg.Port,
		timeout:  cfg.Timeout,
		limiter:  cfg.RateLimiter,
		resolver: cfg.Resolver,
		clock:    clock,
		recorder: recorder,
	}
}

// Sample performs one exchange with server.
//
// On timeout, or cancellation at any point of the exchange including the
// rate limiter wait and resolution, it returns a Measurement with LatencyMs
// set to NaN together with ErrNoMeasurement. Any other failure is returned as
// an error and the recorder only sees the attempt.
func (s *Sampler) Sample(ctx context.Context, server string) (*Measurement, error) {
	m := &Measurement{
		ID:     uuid.NewString(),
		Server: server,
	}

	s.recorder.RecordAttempt()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, server); err != nil {
			if ctx.Err() != nil {
				return s.failed(ctx, m, err)
			}
			return nil, fmt.Errorf("rate limit exceeded: %w", err)
		}
	}

	addr, err := s.resolve(ctx, server)
	if err != nil {
		if ctx.Err() != nil {
			return s.failed(ctx, m, err)
		}
		return nil, fmt.Errorf("failed to resolve %s: %w", server, err)
	}
	m.Address = addr

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return s.failed(ctx, m, err)
		}
		return nil, fmt.Errorf("failed to open udp socket to %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	// Cancelling the context aborts a pending read.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	packet := NewRequest()
	sendTick, frequency := s.clock.Now()
	if _, err := conn.Write(packet); err != nil {
		return s.failed(ctx, m, err)
	}

	n, err := conn.Read(packet)
	receiveTick, _ := s.clock.Now()
	if err != nil {
		return s.failed(ctx, m, err)
	}

	serverTime, err := ParseTransmitTime(packet[:n])
	if err != nil {
		return nil, fmt.Errorf("invalid response from %s: %w", server, err)
	}

	m.Sample = timekeeper.TimeSample{
		SendTick:    sendTick,
		ReceiveTick: receiveTick,
		Frequency:   frequency,
		ServerTime:  serverTime,
	}
	m.ServerTime = serverTime
	m.LatencyMs = m.Sample.RoundTripMs()
	m.Outcome = s.recorder.Process(m.Sample)

	logger.Sample(server, m.LatencyMs, m.Sample.MaxErrorMs(), m.Outcome.String())

	return m, nil
}

// failed classifies an exchange error
func (s *Sampler) failed(ctx context.Context, m *Measurement, err error) (*Measurement, error) {
	if isAborted(ctx, err) {
		m.LatencyMs = math.NaN()
		logger.SafeDebug("ntp", "NTP exchange timed out", map[string]interface{}{
			"server":     m.Server,
			"attempt_id": m.ID,
			"error":      err.Error(),
		})
		return m, ErrNoMeasurement
	}

	logger.SafeWarn("ntp", "NTP exchange failed", map[string]interface{}{
		"server":     m.Server,
		"attempt_id": m.ID,
		"error":      err.Error(),
	})
	return nil, fmt.Errorf("ntp exchange with %s failed: %w", m.Server, err)
}

// resolve returns host:port for the first usable address, preferring IPv4
func (s *Sampler) resolve(ctx context.Context, server string) (string, error) {
	ips, err := s.resolver.Resolve(ctx, server)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no addresses for %s", server)
	}

	chosen := ips[0]
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			chosen = ip
			break
		}
	}

	return net.JoinHostPort(chosen, strconv.Itoa(s.port)), nil
}

// isAborted reports whether err is a timeout or cancellation
func isAborted(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsNoMeasurement reports whether err means the sample should be retried later
func IsNoMeasurement(err error) bool {
	return errors.Is(err, ErrNoMeasurement)
}
