package processor

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"thresholder/internal/aggregation"
	"thresholder/internal/consumer"
	"thresholder/internal/domain"
	"thresholder/internal/events"
	"thresholder/internal/filtering"
	"thresholder/internal/observability"
)

// MetricsProcessor routes metric samples to the partition routers.
type MetricsProcessor struct {
	source     MessageSource
	dispatcher Dispatcher
	filter     *filtering.DefinitionFilter
	tracker    *filtering.LagTracker
	metrics    Metrics
	topic      string
}

// NewMetricsProcessor creates a metrics processor. If m is nil, a no-op implementation is used.
func NewMetricsProcessor(source MessageSource, dispatcher Dispatcher, filter *filtering.DefinitionFilter, tracker *filtering.LagTracker, m Metrics, topic string) *MetricsProcessor {
	if m == nil {
		m = NoOpMetrics{}
	}
	return &MetricsProcessor{
		source:     source,
		dispatcher: dispatcher,
		filter:     filter,
		tracker:    tracker,
		metrics:    m,
		topic:      topic,
	}
}

// ProcessMetrics consumes the metrics topic until ctx is cancelled.
func (p *MetricsProcessor) ProcessMetrics(ctx context.Context) error {
	return consume(ctx, "metrics", p.source, p.metrics, p.handle)
}

func (p *MetricsProcessor) handle(ctx context.Context, msg kafka.Message) bool {
	envelope, err := consumer.Decode[events.MetricEnvelope](msg)
	if err == nil {
		err = envelope.Validate()
	}
	if err != nil {
		// a malformed sample will never succeed, skip it
		slog.Warn("Dropping invalid metric message", "offset", msg.Offset, "error", err)
		p.metrics.IncrementCustom("samples_invalid")
		observability.IncSample(observability.SampleInvalid)
		return true
	}

	metric := envelope.ToMetric()
	keys := p.filter.Match(envelope.TenantID, metric.Definition)
	if len(keys) == 0 {
		p.metrics.IncrementCustom("samples_filtered")
		observability.IncSample(observability.SampleFiltered)
		return true
	}

	stream := domain.MetricDefinitionAndTenantID{Definition: metric.Definition, TenantID: envelope.TenantID}
	obs := p.tracker.Observe(stream, metric.Timestamp, metric.Value)
	observability.ObserveMetricsLag(p.topic, obs.Lag)
	p.metrics.SetGauge("metrics_lag_seconds", obs.Lag.Seconds())
	if obs.Duplicate {
		slog.Debug("Dropping redelivered sample", "key", stream.String(), "timestamp", metric.Timestamp)
		p.metrics.IncrementCustom("samples_duplicate")
		observability.IncSample(observability.SampleDuplicate)
		return true
	}

	if obs.Behind {
		slog.Warn("Metrics are behind, skipping the next evaluation",
			"lag", obs.Lag,
			"signals_sent", p.tracker.SignalsSent(),
		)
		err := p.dispatcher.Broadcast(ctx, func(_ context.Context, r *aggregation.Router) error {
			r.ProcessControl(aggregation.MetricsBehind)
			return nil
		})
		if err != nil {
			slog.Error("Failed to broadcast MetricsBehind", "error", err)
			p.metrics.RecordError()
		} else {
			p.metrics.IncrementCustom("metrics_behind_sent")
			observability.IncMetricsBehind()
		}
	}

	for _, key := range keys {
		err := p.dispatcher.Submit(ctx, key, func(ctx context.Context, r *aggregation.Router) error {
			return r.AggregateValue(ctx, key, metric)
		})
		if err != nil {
			slog.Error("Failed to dispatch metric",
				"key", key.String(),
				"timestamp", metric.Timestamp,
				"error", err,
			)
			p.metrics.RecordError()
			return false
		}
	}

	p.metrics.IncrementCustom("samples_aggregated")
	observability.IncSample(observability.SampleAggregated)
	return true
}
