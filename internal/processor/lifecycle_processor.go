package processor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"thresholder/internal/aggregation"
	"thresholder/internal/consumer"
	"thresholder/internal/domain"
	"thresholder/internal/events"
	"thresholder/internal/filtering"
	"thresholder/internal/observability"
	"thresholder/internal/partition"
)

// LifecycleProcessor applies sub-alarm lifecycle events to the filter, the definition cache,
// the routers and the alarm reducer.
type LifecycleProcessor struct {
	source     MessageSource
	dispatcher Dispatcher
	filter     *filtering.DefinitionFilter
	tracker    *filtering.LagTracker
	cache      DefinitionCache
	reducer    AlarmReducer
	metrics    Metrics
}

// NewLifecycleProcessor creates a lifecycle processor. cache may be nil. If m is nil, a
// no-op implementation is used.
func NewLifecycleProcessor(source MessageSource, dispatcher Dispatcher, filter *filtering.DefinitionFilter, tracker *filtering.LagTracker, cache DefinitionCache, reducer AlarmReducer, m Metrics) *LifecycleProcessor {
	if m == nil {
		m = NoOpMetrics{}
	}
	return &LifecycleProcessor{
		source:     source,
		dispatcher: dispatcher,
		filter:     filter,
		tracker:    tracker,
		cache:      cache,
		reducer:    reducer,
		metrics:    m,
	}
}

// ProcessAlarmEvents consumes the alarm-events topic until ctx is cancelled.
func (p *LifecycleProcessor) ProcessAlarmEvents(ctx context.Context) error {
	return consume(ctx, "alarm-events", p.source, p.metrics, p.handle)
}

func (p *LifecycleProcessor) handle(ctx context.Context, msg kafka.Message) bool {
	ev, err := consumer.Decode[events.AlarmEvent](msg)
	if err == nil {
		err = ev.Validate()
	}
	if err != nil {
		slog.Warn("Dropping invalid alarm event", "offset", msg.Offset, "error", err)
		p.metrics.IncrementCustom("alarm_events_invalid")
		return true
	}

	key := ev.Key()
	var subAlarm *domain.SubAlarm
	if ev.SubAlarm != nil {
		subAlarm, err = ev.SubAlarm.ToDomain()
		if err != nil {
			slog.Warn("Dropping alarm event with invalid sub-alarm",
				"event_type", ev.EventType,
				"alarm_id", ev.AlarmID,
				"error", err,
			)
			p.metrics.IncrementCustom("alarm_events_invalid")
			return true
		}
	}

	slog.Info("Received alarm event",
		"event_type", ev.EventType,
		"alarm_id", ev.AlarmID,
		"sub_alarm_id", ev.TargetSubAlarmID(),
		"key", key.String(),
	)
	observability.IncLifecycleEvent(ev.EventType)

	var unit partition.Unit
	switch ev.EventType {
	case events.EventCreated:
		p.filter.Add(key, subAlarm.ID)
		p.invalidate(ctx, key)
		unit = func(ctx context.Context, r *aggregation.Router) error {
			return r.OnSubAlarmCreated(ctx, key, subAlarm)
		}

	case events.EventUpdated:
		p.invalidate(ctx, key)
		unit = func(_ context.Context, r *aggregation.Router) error {
			r.OnSubAlarmUpdated(key, subAlarm)
			return nil
		}
		p.forgetAlarm(subAlarm.AlarmID)

	case events.EventResend:
		unit = func(_ context.Context, r *aggregation.Router) error {
			r.OnSubAlarmResend(key, subAlarm)
			return nil
		}

	case events.EventDeleted:
		subAlarmID := ev.TargetSubAlarmID()
		if p.filter.Remove(key, subAlarmID) {
			p.tracker.Forget(key)
		}
		p.invalidate(ctx, key)
		unit = func(_ context.Context, r *aggregation.Router) error {
			r.OnSubAlarmDeleted(key, subAlarmID)
			return nil
		}
		p.forgetAlarm(ev.AlarmID)
	}

	if err := p.dispatcher.Submit(ctx, key, unit); err != nil {
		slog.Error("Failed to dispatch alarm event",
			"event_type", ev.EventType,
			"key", key.String(),
			"error", err,
		)
		p.metrics.RecordError()
		return false
	}
	p.metrics.IncrementCustom("alarm_events_" + strings.ToLower(ev.EventType))
	return true
}

func (p *LifecycleProcessor) invalidate(ctx context.Context, key domain.MetricDefinitionAndTenantID) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Invalidate(ctx, key); err != nil {
		slog.Warn("Failed to invalidate cached sub-alarms", "key", key.String(), "error", err)
	}
}

func (p *LifecycleProcessor) forgetAlarm(alarmID string) {
	if p.reducer == nil || alarmID == "" {
		return
	}
	p.reducer.Forget(alarmID)
}
