package ntp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps the sampler polite towards public servers. Rates are
// expressed in queries per minute, globally and per server.
type RateLimiter struct {
	global       *rate.Limiter
	perServer    map[string]*rate.Limiter
	mu           sync.RWMutex
	serverLimit  rate.Limit
	burstSize    int
	waitObserved func(server string, waited time.Duration)
}

// perMinute converts a queries-per-minute figure to a rate.Limit
func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(n))
}

// NewRateLimiter creates a limiter. A non-positive rate disables that limit.
func NewRateLimiter(globalPerMinute, perServerPerMinute, burstSize int) *RateLimiter {
	if burstSize <= 0 {
		burstSize = 1
	}
	return &RateLimiter{
		global:      rate.NewLimiter(perMinute(globalPerMinute), burstSize),
		perServer:   make(map[string]*rate.Limiter),
		serverLimit: perMinute(perServerPerMinute),
		burstSize:   burstSize,
	}
}

// OnWait registers a callback invoked with the time spent waiting for a token
func (rl *RateLimiter) OnWait(fn func(server string, waited time.Duration)) {
	rl.waitObserved = fn
}

// Wait blocks until both the global and the server limiter grant a query
func (rl *RateLimiter) Wait(ctx context.Context, server string) error {
	start := time.Now()

	if err := rl.global.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limit: %w", err)
	}

	limiter := rl.getLimiterForServer(server)
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("per-server rate limit for %s: %w", server, err)
	}

	if rl.waitObserved != nil {
		rl.waitObserved(server, time.Since(start))
	}
	return nil
}

func (rl *RateLimiter) getLimiterForServer(server string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.perServer[server]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.perServer[server]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.serverLimit, rl.burstSize)
	rl.perServer[server] = limiter
	return limiter
}

// Allow reports whether a query may be sent now without waiting. Tokens are
// only spent when both the global and the server limiter grant one.
func (rl *RateLimiter) Allow(server string) bool {
	now := time.Now()

	global := rl.global.ReserveN(now, 1)
	if !global.OK() || global.DelayFrom(now) > 0 {
		global.CancelAt(now)
		return false
	}

	perServer := rl.getLimiterForServer(server).ReserveN(now, 1)
	if !perServer.OK() || perServer.DelayFrom(now) > 0 {
		perServer.CancelAt(now)
		global.CancelAt(now)
		return false
	}

	return true
}
