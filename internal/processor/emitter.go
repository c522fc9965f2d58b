package processor

import (
	"context"
	"log/slog"
	"time"

	"thresholder/internal/domain"
	"thresholder/internal/events"
	"thresholder/internal/observability"
)

const (
	// DefaultEmitBufferSize bounds the state changes waiting to be published.
	DefaultEmitBufferSize = 4096

	maxPublishAttempts = 3
	drainTimeout       = 5 * time.Second
)

// StateEmitter queues sub-alarm state changes from the routers and publishes them from its
// own goroutine, so a slow broker never stalls evaluation. When the buffer is full the
// change is dropped and counted.
type StateEmitter struct {
	publisher StatePublisher
	queue     chan *events.SubAlarmStateChanged
	metrics   Metrics
	now       func() time.Time
}

// NewStateEmitter creates an emitter. If m is nil, a no-op implementation is used.
func NewStateEmitter(publisher StatePublisher, bufferSize int, m Metrics) *StateEmitter {
	if bufferSize <= 0 {
		bufferSize = DefaultEmitBufferSize
	}
	if m == nil {
		m = NoOpMetrics{}
	}
	return &StateEmitter{
		publisher: publisher,
		queue:     make(chan *events.SubAlarmStateChanged, bufferSize),
		metrics:   m,
		now:       time.Now,
	}
}

// EmitSubAlarmState queues a state change without blocking.
func (e *StateEmitter) EmitSubAlarmState(alarmID string, subAlarm *domain.SubAlarm) {
	ev := e.stateChange(alarmID, subAlarm)
	select {
	case e.queue <- ev:
		observability.IncSubAlarmState(string(subAlarm.State))
	default:
		slog.Error("State emit buffer full, dropping sub-alarm state change",
			"alarm_id", alarmID,
			"sub_alarm_id", subAlarm.ID,
			"state", subAlarm.State,
		)
		e.metrics.IncrementCustom("state_changes_dropped")
		observability.IncEmitDropped()
	}
}

func (e *StateEmitter) stateChange(alarmID string, subAlarm *domain.SubAlarm) *events.SubAlarmStateChanged {
	return &events.SubAlarmStateChanged{
		AlarmID:   alarmID,
		SubAlarm:  events.NewSubAlarm(subAlarm),
		Timestamp: e.now().Unix(),
	}
}

// Pending returns the number of queued state changes.
func (e *StateEmitter) Pending() int {
	return len(e.queue)
}

// Run publishes queued changes until ctx is cancelled, then drains what is left.
func (e *StateEmitter) Run(ctx context.Context) error {
	slog.Info("Starting state emitter")

	for {
		select {
		case <-ctx.Done():
			e.drain()
			slog.Info("State emitter stopped")
			return nil
		case ev := <-e.queue:
			e.publish(ctx, ev)
		}
	}
}

func (e *StateEmitter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-e.queue:
			e.publish(ctx, ev)
		default:
			return
		}
	}
}

func (e *StateEmitter) publish(ctx context.Context, ev *events.SubAlarmStateChanged) {
	var err error
	for attempt := 1; attempt <= maxPublishAttempts; attempt++ {
		if err = e.publisher.PublishSubAlarmState(ctx, ev); err == nil {
			e.metrics.RecordPublished()
			slog.Debug("Published sub-alarm state",
				"alarm_id", ev.AlarmID,
				"sub_alarm_id", ev.SubAlarm.ID,
				"state", ev.SubAlarm.State,
			)
			return
		}
		if ctx.Err() != nil {
			break
		}
	}

	slog.Error("Failed to publish sub-alarm state",
		"alarm_id", ev.AlarmID,
		"sub_alarm_id", ev.SubAlarm.ID,
		"state", ev.SubAlarm.State,
		"error", err,
	)
	e.metrics.RecordError()
}
