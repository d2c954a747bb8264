package ntp

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/maximewewer/ntp-timekeeper/internal/timekeeper"
)

// MockSampler is a scripted TimeSampler for testing. Configured samples are
// fed to the recorder exactly like the real Sampler does.
type MockSampler struct {
	mu         sync.Mutex
	recorder   Recorder
	samples    map[string][]timekeeper.TimeSample
	errors     map[string]error
	timeouts   map[string]bool
	callCounts map[string]int
}

// NewMockSampler creates a mock sampler feeding recorder
func NewMockSampler(recorder Recorder) *MockSampler {
	return &MockSampler{
		recorder:   recorder,
		samples:    make(map[string][]timekeeper.TimeSample),
		errors:     make(map[string]error),
		timeouts:   make(map[string]bool),
		callCounts: make(map[string]int),
	}
}

// Sample returns the next scripted result for server
func (m *MockSampler) Sample(ctx context.Context, server string) (*Measurement, error) {
	m.mu.Lock()
	m.callCounts[server]++

	if m.recorder != nil {
		m.recorder.RecordAttempt()
	}

	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return &Measurement{Server: server, LatencyMs: math.NaN()}, ErrNoMeasurement
	}

	if m.timeouts[server] {
		m.mu.Unlock()
		return &Measurement{Server: server, LatencyMs: math.NaN()}, ErrNoMeasurement
	}

	if err, ok := m.errors[server]; ok {
		m.mu.Unlock()
		return nil, err
	}

	queue := m.samples[server]
	if len(queue) == 0 {
		m.mu.Unlock()
		return nil, errors.New("server not configured in mock")
	}
	sample := queue[0]
	if len(queue) > 1 {
		m.samples[server] = queue[1:]
	}
	m.mu.Unlock()

	measurement := &Measurement{
		Server:     server,
		Sample:     sample,
		ServerTime: sample.ServerTime,
		LatencyMs:  sample.RoundTripMs(),
	}
	if m.recorder != nil {
		measurement.Outcome = m.recorder.Process(sample)
	}
	return measurement, nil
}

// QueueSamples appends samples returned in order; the last one repeats
func (m *MockSampler) QueueSamples(server string, samples ...timekeeper.TimeSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[server] = append(m.samples[server], samples...)
}

// SetupTimeoutServer makes every exchange with server time out
func (m *MockSampler) SetupTimeoutServer(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts[server] = true
}

// SetupFailingServer makes every exchange with server fail with err
func (m *MockSampler) SetupFailingServer(server string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[server] = err
}

// GetCallCount returns the number of Sample calls for server
func (m *MockSampler) GetCallCount(server string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[server]
}

// MockProber is a scripted Prober for testing
type MockProber struct {
	mu        sync.RWMutex
	responses map[string]*Response
	errors    map[string]error
}

// NewMockProber creates a new mock prober
func NewMockProber() *MockProber {
	return &MockProber{
		responses: make(map[string]*Response),
		errors:    make(map[string]error),
	}
}

// Probe returns the configured response for server
func (m *MockProber) Probe(ctx context.Context, server string) (*Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := m.errors[server]; ok {
		return nil, err
	}
	if resp, ok := m.responses[server]; ok {
		return resp, nil
	}
	return nil, errors.New("server not configured in mock")
}

// SetupSuccessfulServer configures a healthy response with the given offset
func (m *MockProber) SetupSuccessfulServer(server string, offset time.Duration, stratum uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[server] = &Response{
		Server:       server,
		Time:         time.Now().Add(offset),
		Offset:       offset,
		RTT:          20 * time.Millisecond,
		Stratum:      stratum,
		RootDistance: 15 * time.Millisecond,
	}
}

// SetupKoDServer configures a Kiss-of-Death response
func (m *MockProber) SetupKoDServer(server, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[server] = &Response{
		Server:   server,
		Time:     time.Now(),
		Stratum:  0,
		KissCode: code,
	}
}

// SetupUnreachableServer configures a failing server
func (m *MockProber) SetupUnreachableServer(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[server] = errors.New("connection refused")
}

// SetupThrottledServer makes every query to server report ErrQueryThrottled
func (m *MockProber) SetupThrottledServer(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[server] = ErrQueryThrottled
}
