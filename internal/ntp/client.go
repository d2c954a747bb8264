package ntp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/ntp"
	"github.com/maximewewer/ntp-timekeeper/pkg/logger"
	"github.com/maximewewer/ntp-timekeeper/pkg/mathutil"
)

// ErrQueryThrottled is returned when the rate limiter has no token for a
// cross-check query. Such queries are opportunistic and never wait for one.
var ErrQueryThrottled = errors.New("query skipped: rate limit exceeded")

// Prober queries a server with a full NTPv4 client
type Prober interface {
	Probe(ctx context.Context, server string) (*Response, error)
}

// ProbeClient cross-checks the estimator against a complete NTP exchange.
// It is independent of the SNTP sampler and never feeds the estimator.
type ProbeClient struct {
	timeout     time.Duration
	version     int
	rateLimiter *RateLimiter
}

// Response is a validated probe result
type Response struct {
	Server        string
	Time          time.Time
	Offset        time.Duration
	RTT           time.Duration
	Stratum       uint8
	RootDistance  time.Duration
	LeapIndicator uint8
	KissCode      string
	ValidateError error
}

// NewProbeClient creates a probe client. A nil limiter disables rate limiting.
func NewProbeClient(timeout time.Duration, version int, limiter *RateLimiter) *ProbeClient {
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}
	if version == 0 {
		version = 4
	}
	return &ProbeClient{
		timeout:     timeout,
		version:     version,
		rateLimiter: limiter,
	}
}

// Probe performs a single NTP query to the specified server
func (c *ProbeClient) Probe(ctx context.Context, server string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("probe context cancelled: %w", err)
	}
	if c.rateLimiter != nil && !c.rateLimiter.Allow(server) {
		return nil, ErrQueryThrottled
	}

	opts := ntp.QueryOptions{
		Timeout: c.timeout,
		Version: c.version,
	}

	type queryResult struct {
		response *ntp.Response
		err      error
	}

	// Buffered so the query goroutine never blocks after cancellation
	resultChan := make(chan queryResult, 1)

	go func() {
		resp, err := ntp.QueryWithOptions(server, opts)
		resultChan <- queryResult{response: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("probe context cancelled: %w", ctx.Err())
	case result := <-resultChan:
		if result.err != nil {
			logger.SafeDebug("ntp", "NTP probe failed", map[string]interface{}{
				"server": server,
				"error":  result.err.Error(),
			})
			return nil, fmt.Errorf("ntp probe to %s failed: %w", server, result.err)
		}

		resp := &Response{
			Server:        server,
			Time:          result.response.Time,
			Offset:        result.response.ClockOffset,
			RTT:           result.response.RTT,
			Stratum:       result.response.Stratum,
			RootDistance:  result.response.RootDistance,
			LeapIndicator: uint8(result.response.Leap),
			KissCode:      result.response.KissCode,
			ValidateError: result.response.Validate(),
		}

		if resp.ValidateError != nil {
			logger.SafeWarn("ntp", "NTP probe response validation failed", map[string]interface{}{
				"server": server,
				"error":  resp.ValidateError.Error(),
			})
		}

		return resp, nil
	}
}

// IsKissOfDeath checks if the response contains a Kiss-of-Death code
func (r *Response) IsKissOfDeath() bool {
	return r.KissCode != ""
}

// IsValid checks if the response passed validation
func (r *Response) IsValid() bool {
	return r.ValidateError == nil
}

// IsSuspicious checks if the response should not be trusted for a cross-check
func (r *Response) IsSuspicious() bool {
	if r.Stratum == 0 || r.Stratum > MaxValidStratum {
		return true
	}
	if r.IsKissOfDeath() || !r.IsValid() {
		return true
	}
	if mathutil.AbsDuration(r.Offset) > SuspiciousOffsetThreshold {
		return true
	}
	return r.RTT > MaxAcceptableRTT
}

// TimeAt estimates the server time at local instant t from the probe offset
func (r *Response) TimeAt(t time.Time) time.Time {
	return t.Add(r.Offset)
}
