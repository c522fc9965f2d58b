package processor

import "time"

// Metrics defines the interface for recording processor metrics.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// RecordReceived increments the count of messages received from Kafka.
	RecordReceived()
	// RecordPublished increments the count of events published.
	RecordPublished()
	// RecordError increments the count of processing errors.
	RecordError()
	// RecordProcessed records the processing duration for a single message.
	RecordProcessed(duration time.Duration)
	// IncrementCustom increments a custom counter by name.
	IncrementCustom(name string)
	// SetGauge sets a custom gauge by name.
	SetGauge(name string, value float64)
}

// NoOpMetrics is a no-op implementation of Metrics.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordReceived()               {}
func (NoOpMetrics) RecordPublished()              {}
func (NoOpMetrics) RecordError()                  {}
func (NoOpMetrics) RecordProcessed(time.Duration) {}
func (NoOpMetrics) IncrementCustom(string)        {}
func (NoOpMetrics) SetGauge(string, float64)      {}

// metricsCollector is the subset of *metrics.Collector the processors use.
type metricsCollector interface {
	RecordReceived()
	RecordPublished()
	RecordError()
	RecordProcessed(duration time.Duration)
	IncrementCustom(name string)
	SetGauge(name string, value float64)
}

type collectorAdapter struct {
	c metricsCollector
}

func (a *collectorAdapter) RecordReceived()                   { a.c.RecordReceived() }
func (a *collectorAdapter) RecordPublished()                  { a.c.RecordPublished() }
func (a *collectorAdapter) RecordError()                      { a.c.RecordError() }
func (a *collectorAdapter) RecordProcessed(d time.Duration)   { a.c.RecordProcessed(d) }
func (a *collectorAdapter) IncrementCustom(name string)       { a.c.IncrementCustom(name) }
func (a *collectorAdapter) SetGauge(name string, val float64) { a.c.SetGauge(name, val) }

// WrapMetrics wraps a collector, or nil, into Metrics. A nil collector yields NoOpMetrics
// so callers never check for nil.
func WrapMetrics(c metricsCollector) Metrics {
	if c == nil {
		return NoOpMetrics{}
	}
	return &collectorAdapter{c: c}
}
