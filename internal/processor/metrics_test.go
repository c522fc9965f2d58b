package processor

import (
	"testing"
	"time"

	"thresholder/pkg/metrics"
)

func TestNoOpMetrics(t *testing.T) {
	m := NoOpMetrics{}

	m.RecordReceived()
	m.RecordPublished()
	m.RecordError()
	m.RecordProcessed(100 * time.Millisecond)
	m.IncrementCustom("test")
	m.SetGauge("test", 1.5)
}

func TestWrapMetrics_Nil(t *testing.T) {
	m := WrapMetrics(nil)

	if _, ok := m.(NoOpMetrics); !ok {
		t.Errorf("WrapMetrics(nil) should return NoOpMetrics, got %T", m)
	}
}

func TestWrapMetrics_Collector(t *testing.T) {
	c := metrics.NewCollector("thresholder-test", nil)
	m := WrapMetrics(c)

	if _, ok := m.(*collectorAdapter); !ok {
		t.Fatalf("WrapMetrics(collector) should return *collectorAdapter, got %T", m)
	}

	m.RecordReceived()
	m.RecordReceived()
	m.RecordPublished()
	m.RecordError()
	m.RecordProcessed(time.Millisecond)
	m.IncrementCustom("samples_aggregated")
	m.SetGauge("metrics_lag_seconds", 12)

	snap := c.GetSnapshot()
	if snap.MessagesReceived != 2 {
		t.Errorf("MessagesReceived = %d, want 2", snap.MessagesReceived)
	}
	if snap.MessagesPublished != 1 {
		t.Errorf("MessagesPublished = %d, want 1", snap.MessagesPublished)
	}
	if snap.ProcessingErrors != 1 {
		t.Errorf("ProcessingErrors = %d, want 1", snap.ProcessingErrors)
	}
	if snap.CustomCounters["samples_aggregated"] != 1 {
		t.Errorf("CustomCounters[samples_aggregated] = %d, want 1", snap.CustomCounters["samples_aggregated"])
	}
	if snap.Gauges["metrics_lag_seconds"] != 12 {
		t.Errorf("Gauges[metrics_lag_seconds] = %v, want 12", snap.Gauges["metrics_lag_seconds"])
	}
}
