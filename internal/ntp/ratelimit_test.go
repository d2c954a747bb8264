package ntp

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(600, 60, 5)
	require.NotNil(t, rl)
	assert.NotNil(t, rl.global)
	assert.NotNil(t, rl.perServer)
	assert.Equal(t, rate.Every(time.Second), rl.serverLimit)
	assert.Equal(t, 5, rl.burstSize)
}

func TestNewRateLimiter_Unlimited(t *testing.T) {
	rl := NewRateLimiter(0, -1, 0)
	assert.Equal(t, rate.Inf, rl.serverLimit)
	assert.Equal(t, rate.Inf, rl.global.Limit())
	assert.Equal(t, 1, rl.burstSize)
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(60000, 6000, 10)

	start := time.Now()
	err := rl.Wait(context.Background(), "test.server.com")

	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRateLimiterWaitContextCancelled(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, rl.Wait(ctx, "test.server.com"))
}

func TestRateLimiterWaitTimeout(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Exhaust the burst
	require.NoError(t, rl.Wait(context.Background(), "test.server.com"))

	err := rl.Wait(ctx, "test.server.com")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestRateLimiterOnWait(t *testing.T) {
	rl := NewRateLimiter(60000, 6000, 10)

	var observed []string
	rl.OnWait(func(server string, waited time.Duration) {
		observed = append(observed, server)
		assert.GreaterOrEqual(t, waited, time.Duration(0))
	})

	require.NoError(t, rl.Wait(context.Background(), "a.ntp.org"))
	require.NoError(t, rl.Wait(context.Background(), "b.ntp.org"))
	assert.Equal(t, []string{"a.ntp.org", "b.ntp.org"}, observed)
}

func TestRateLimiterPerServer(t *testing.T) {
	rl := NewRateLimiter(60000, 6000, 10)
	servers := []string{"server1.com", "server2.com", "server3.com"}

	for _, server := range servers {
		assert.NoError(t, rl.Wait(context.Background(), server))
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	for _, server := range servers {
		_, exists := rl.perServer[server]
		assert.True(t, exists, "per-server limiter not created for %s", server)
	}
}

func TestRateLimiterGetLimiterForServer(t *testing.T) {
	rl := NewRateLimiter(60000, 6000, 10)

	limiter1 := rl.getLimiterForServer("test.server.com")
	require.NotNil(t, limiter1)

	assert.Same(t, limiter1, rl.getLimiterForServer("test.server.com"))
	assert.NotSame(t, limiter1, rl.getLimiterForServer("other.server.com"))
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(0, 1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("test.server.com"), "iteration %d within burst", i)
	}
	// One query per minute per server once the burst is spent
	assert.False(t, rl.Allow("test.server.com"))
	assert.True(t, rl.Allow("other.server.com"))
}

func TestRateLimiterAllowKeepsGlobalTokenOnServerDenial(t *testing.T) {
	rl := NewRateLimiter(1, 1, 2)

	busy := rl.getLimiterForServer("busy.server.com")
	require.True(t, busy.AllowN(time.Now(), 2))

	assert.False(t, rl.Allow("busy.server.com"))
	assert.False(t, rl.Allow("busy.server.com"))

	// The refused queries left the global burst intact
	assert.True(t, rl.Allow("server1.com"))
	assert.True(t, rl.Allow("server2.com"))
	assert.False(t, rl.Allow("server3.com"))
}

func TestRateLimiterAllowGlobalLimit(t *testing.T) {
	rl := NewRateLimiter(1, 60000, 2)

	assert.True(t, rl.Allow("server1.com"))
	assert.True(t, rl.Allow("server2.com"))
	assert.False(t, rl.Allow("server3.com"))
}

func TestRateLimiterConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(600000, 60000, 10)

	var wg sync.WaitGroup
	errs := make(chan error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			server := fmt.Sprintf("server%d", id)
			for j := 0; j < 5; j++ {
				if err := rl.Wait(context.Background(), server); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent access error: %v", err)
	}
}

func BenchmarkRateLimiterWait(b *testing.B) {
	rl := NewRateLimiter(0, 0, 100)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = rl.Wait(ctx, "test.server.com")
	}
}
