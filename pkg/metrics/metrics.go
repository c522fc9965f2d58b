// Package metrics collects service counters and publishes them to Redis so the platform
// dashboard can read every service's health from one place.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MetricsKeyPrefix is the Redis key prefix for service metrics.
	MetricsKeyPrefix = "metrics:"
	// MetricsTTL is how long metrics stay in Redis if not refreshed.
	MetricsTTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics to Redis.
	DefaultReportInterval = 30 * time.Second
)

// ServiceMetrics is the snapshot written to Redis.
type ServiceMetrics struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"`

	MessagesReceived  uint64 `json:"messages_received"`
	MessagesProcessed uint64 `json:"messages_processed"`
	MessagesPublished uint64 `json:"messages_published"`
	ProcessingErrors  uint64 `json:"processing_errors"`

	AvgProcessingLatencyNs float64 `json:"avg_processing_latency_ns"`

	CustomCounters map[string]uint64  `json:"custom_counters,omitempty"`
	Gauges         map[string]float64 `json:"gauges,omitempty"`
}

// namedValues is a lazily populated set of atomic cells keyed by name.
type namedValues struct {
	mu    sync.RWMutex
	cells map[string]*atomic.Uint64
}

func newNamedValues() *namedValues {
	return &namedValues{cells: make(map[string]*atomic.Uint64)}
}

func (v *namedValues) cell(name string) *atomic.Uint64 {
	v.mu.RLock()
	c, ok := v.cells[name]
	v.mu.RUnlock()
	if ok {
		return c
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok = v.cells[name]; !ok {
		c = &atomic.Uint64{}
		v.cells[name] = c
	}
	return c
}

func (v *namedValues) each(fn func(name string, raw uint64)) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for name, c := range v.cells {
		fn(name, c.Load())
	}
}

// Collector counts messages for one service and periodically publishes a snapshot.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	received  atomic.Uint64
	processed atomic.Uint64
	published atomic.Uint64
	errors    atomic.Uint64

	totalLatencyNs atomic.Uint64

	counters *namedValues
	// gauges hold float64 bits
	gauges *namedValues

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a collector for a service. A nil Redis client yields a collector
// that counts but never publishes.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	return &Collector{
		serviceName:    serviceName,
		redis:          redisClient,
		startedAt:      time.Now().UTC(),
		reportInterval: DefaultReportInterval,
		counters:       newNamedValues(),
		gauges:         newNamedValues(),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis. Call before Start.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start publishes a snapshot every report interval until ctx is done or Stop is called,
// then writes a last one.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()
		defer c.writeMetrics(context.Background())

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.writeMetrics(ctx)
			}
		}
	}()
}

// Stop stops the reporting goroutine and waits for the final write.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) RecordReceived() { c.received.Add(1) }

// RecordProcessed counts a processed message and its latency.
func (c *Collector) RecordProcessed(latency time.Duration) {
	c.processed.Add(1)
	c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
}

func (c *Collector) RecordPublished() { c.published.Add(1) }

func (c *Collector) RecordError() { c.errors.Add(1) }

// IncrementCustom increments a custom counter by name.
func (c *Collector) IncrementCustom(name string) {
	c.AddCustom(name, 1)
}

// AddCustom adds value to a custom counter.
func (c *Collector) AddCustom(name string, value uint64) {
	c.counters.cell(name).Add(value)
}

// SetGauge records the latest value of a named gauge.
func (c *Collector) SetGauge(name string, value float64) {
	c.gauges.cell(name).Store(math.Float64bits(value))
}

// GetSnapshot returns current metrics without writing to Redis.
func (c *Collector) GetSnapshot() *ServiceMetrics {
	s := &ServiceMetrics{
		ServiceName:       c.serviceName,
		StartedAt:         c.startedAt,
		LastUpdated:       time.Now().UTC(),
		Status:            "healthy",
		MessagesReceived:  c.received.Load(),
		MessagesProcessed: c.processed.Load(),
		MessagesPublished: c.published.Load(),
		ProcessingErrors:  c.errors.Load(),
		CustomCounters:    make(map[string]uint64),
		Gauges:            make(map[string]float64),
	}
	if s.MessagesProcessed > 0 {
		s.AvgProcessingLatencyNs = float64(c.totalLatencyNs.Load()) / float64(s.MessagesProcessed)
	}
	c.counters.each(func(name string, raw uint64) { s.CustomCounters[name] = raw })
	c.gauges.each(func(name string, raw uint64) { s.Gauges[name] = math.Float64frombits(raw) })
	return s
}

func (c *Collector) writeMetrics(ctx context.Context) {
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(c.GetSnapshot())
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}

	key := MetricsKeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, MetricsTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.serviceName, "error", err)
		return
	}
	slog.Debug("Metrics written to Redis", "service", c.serviceName, "key", key)
}
