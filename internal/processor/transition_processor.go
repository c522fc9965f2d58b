package processor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"thresholder/internal/alarm"
	"thresholder/internal/consumer"
	"thresholder/internal/events"
	"thresholder/internal/observability"
)

// TransitionProcessor feeds sub-alarm state changes to the alarm reducer and publishes the
// resulting alarm transitions. A transition is confirmed to the reducer, which persists
// the alarm state, only after it was published.
type TransitionProcessor struct {
	source    MessageSource
	reducer   AlarmReducer
	publisher TransitionPublisher
	metrics   Metrics
}

// NewTransitionProcessor creates a transition processor. If m is nil, a no-op
// implementation is used.
func NewTransitionProcessor(source MessageSource, reducer AlarmReducer, publisher TransitionPublisher, m Metrics) *TransitionProcessor {
	if m == nil {
		m = NoOpMetrics{}
	}
	return &TransitionProcessor{
		source:    source,
		reducer:   reducer,
		publisher: publisher,
		metrics:   m,
	}
}

// ProcessStateChanges consumes the sub-alarm state topic until ctx is cancelled.
func (p *TransitionProcessor) ProcessStateChanges(ctx context.Context) error {
	return consume(ctx, "transitions", p.source, p.metrics, p.handle)
}

func (p *TransitionProcessor) handle(ctx context.Context, msg kafka.Message) bool {
	ev, err := consumer.Decode[events.SubAlarmStateChanged](msg)
	if err != nil {
		slog.Warn("Dropping invalid sub-alarm state message", "offset", msg.Offset, "error", err)
		p.metrics.IncrementCustom("state_changes_invalid")
		return true
	}
	subAlarm, err := ev.SubAlarm.ToDomain()
	if err != nil {
		slog.Warn("Dropping sub-alarm state with invalid sub-alarm", "alarm_id", ev.AlarmID, "error", err)
		p.metrics.IncrementCustom("state_changes_invalid")
		return true
	}

	transition, err := p.reducer.HandleSubAlarmStateChange(ctx, ev.AlarmID, subAlarm)
	switch {
	case errors.Is(err, alarm.ErrAlarmNotFound), errors.Is(err, alarm.ErrUnknownSubAlarm):
		// deleted or redefined while the change was in flight
		slog.Warn("Ignoring sub-alarm state change", "alarm_id", ev.AlarmID, "sub_alarm_id", subAlarm.ID, "error", err)
		p.metrics.IncrementCustom("state_changes_orphaned")
		return true
	case err != nil:
		slog.Error("Failed to apply sub-alarm state change",
			"alarm_id", ev.AlarmID,
			"sub_alarm_id", subAlarm.ID,
			"error", err,
		)
		p.metrics.RecordError()
		return false
	}

	if transition == nil {
		return true
	}
	return p.publishTransition(ctx, transition)
}

func (p *TransitionProcessor) publishTransition(ctx context.Context, tr *alarm.Transition) bool {
	subAlarms := make([]events.SubAlarm, len(tr.SubAlarms))
	for i, sa := range tr.SubAlarms {
		subAlarms[i] = events.NewSubAlarm(sa)
	}
	out := &events.AlarmStateTransitioned{
		EventID:           uuid.NewString(),
		AlarmID:           tr.AlarmID,
		TenantID:          tr.TenantID,
		AlarmName:         tr.AlarmName,
		OldState:          string(tr.OldState),
		NewState:          string(tr.NewState),
		StateChangeReason: tr.Reason,
		SubAlarms:         subAlarms,
		Timestamp:         tr.Timestamp.Unix(),
	}

	if err := p.publisher.PublishTransition(ctx, out); err != nil {
		slog.Error("Failed to publish alarm transition",
			"alarm_id", tr.AlarmID,
			"new_state", tr.NewState,
			"error", err,
		)
		p.metrics.RecordError()
		return false
	}

	p.metrics.RecordPublished()
	observability.IncTransition(string(tr.NewState))
	slog.Info("Published alarm transition",
		"event_id", out.EventID,
		"alarm_id", tr.AlarmID,
		"old_state", tr.OldState,
		"new_state", tr.NewState,
	)

	err := p.reducer.ConfirmTransition(ctx, tr)
	switch {
	case errors.Is(err, alarm.ErrAlarmNotFound):
		slog.Warn("Alarm deleted after its transition was published", "alarm_id", tr.AlarmID)
		return true
	case err != nil:
		// the transition stays pending and is published again on redelivery
		slog.Error("Failed to confirm alarm transition", "alarm_id", tr.AlarmID, "error", err)
		p.metrics.RecordError()
		return false
	}
	return true
}
