package filtering

import (
	"math"
	"sync"
	"time"

	"thresholder/internal/domain"
)

const (
	// DefaultLagMessagePeriod is how often the observed lag is checked.
	DefaultLagMessagePeriod = 60 * time.Second
	// DefaultMinLag is the lag above which the pipeline counts as behind.
	DefaultMinLag = 10 * time.Second
	// DefaultMaxLagMessages caps consecutive behind signals.
	DefaultMaxLagMessages = 10
	// staleStreamPeriods is how many check periods a silent stream is remembered.
	staleStreamPeriods = 10
)

// LagConfig tunes a LagTracker.
type LagConfig struct {
	LagMessagePeriod time.Duration
	MinLag           time.Duration
	MaxLagMessages   int
}

// DefaultLagConfig returns the default thresholds.
func DefaultLagConfig() LagConfig {
	return LagConfig{
		LagMessagePeriod: DefaultLagMessagePeriod,
		MinLag:           DefaultMinLag,
		MaxLagMessages:   DefaultMaxLagMessages,
	}
}

// Observation is the outcome of observing one sample.
type Observation struct {
	// Duplicate is set for an exact redelivery of the latest sample of the key.
	Duplicate bool
	// Behind is set when a MetricsBehind signal must be sent now.
	Behind bool
	// Lag is the lag of the key's newest sample.
	Lag time.Duration
}

type lastSample struct {
	stream    domain.MetricDefinitionAndTenantID
	timestamp int64
	value     float64
	seenAt    int64
}

// LagTracker watches how late samples arrive and decides when to tell the routers that
// metrics are behind. The smallest lag seen across a check period is compared to the
// minimum lag, so one fresh key is enough to count as caught up. Safe for concurrent use.
type LagTracker struct {
	cfg LagConfig
	now func() time.Time

	mu          sync.Mutex
	latest      map[string]lastSample
	periodStart int64
	minLag      int64
	sent        int
}

// NewLagTracker creates a tracker. now defaults to time.Now.
func NewLagTracker(cfg LagConfig, now func() time.Time) *LagTracker {
	if now == nil {
		now = time.Now
	}
	return &LagTracker{
		cfg:    cfg,
		now:    now,
		latest: make(map[string]lastSample),
		minLag: math.MaxInt64,
	}
}

// Observe records a sample of stream.
func (t *LagTracker) Observe(stream domain.MetricDefinitionAndTenantID, timestamp int64, value float64) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().Unix()
	key := stream.Key()

	last, seen := t.latest[key]
	if seen && last.timestamp == timestamp && last.value == value {
		last.seenAt = now
		t.latest[key] = last
		return Observation{Duplicate: true, Lag: time.Duration(now-last.timestamp) * time.Second}
	}
	if !seen || timestamp >= last.timestamp {
		last = lastSample{stream: stream, timestamp: timestamp, value: value}
	}
	last.seenAt = now
	t.latest[key] = last

	lag := now - last.timestamp
	if lag < t.minLag {
		t.minLag = lag
	}
	obs := Observation{Lag: time.Duration(lag) * time.Second}

	if t.periodStart == 0 {
		t.periodStart = now
		return obs
	}
	if now-t.periodStart < int64(t.cfg.LagMessagePeriod/time.Second) {
		return obs
	}

	if t.minLag > int64(t.cfg.MinLag/time.Second) {
		if t.sent < t.cfg.MaxLagMessages {
			t.sent++
			obs.Behind = true
		}
	} else {
		t.sent = 0
	}
	t.minLag = math.MaxInt64
	t.periodStart = now
	t.pruneLocked(now)
	return obs
}

// pruneLocked drops streams that have not reported for staleStreamPeriods check periods.
func (t *LagTracker) pruneLocked(now int64) {
	cutoff := now - staleStreamPeriods*int64(t.cfg.LagMessagePeriod/time.Second)
	for k, last := range t.latest {
		if last.seenAt < cutoff {
			delete(t.latest, k)
		}
	}
}

// Forget drops the bookkeeping of every stream routed by key, including streams that
// carry more dimensions than key does.
func (t *LagTracker) Forget(key domain.MetricDefinitionAndTenantID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, last := range t.latest {
		if last.stream.TenantID == key.TenantID && key.Definition.Matches(last.stream.Definition) {
			delete(t.latest, k)
		}
	}
}

// Streams returns the number of streams currently remembered.
func (t *LagTracker) Streams() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.latest)
}

// SignalsSent returns the number of consecutive behind signals sent so far.
func (t *LagTracker) SignalsSent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}
