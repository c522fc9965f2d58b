// Package processor runs the thresholder consume loops: metric samples into the partition
// routers, sub-alarm lifecycle events into the routers and definition filter, and sub-alarm
// state changes into the alarm reducer.
package processor

import (
	"context"

	"github.com/segmentio/kafka-go"

	"thresholder/internal/alarm"
	"thresholder/internal/domain"
	"thresholder/internal/events"
	"thresholder/internal/partition"
)

// MessageSource reads raw messages from a topic.
type MessageSource interface {
	// Fetch returns the next message without committing it.
	Fetch(ctx context.Context) (kafka.Message, error)

	// Commit commits the offset of msg.
	Commit(ctx context.Context, msg kafka.Message) error
}

// Dispatcher hands units of work to the router owning a key.
type Dispatcher interface {
	Submit(ctx context.Context, key domain.MetricDefinitionAndTenantID, unit partition.Unit) error
	Broadcast(ctx context.Context, unit partition.Unit) error
}

// DefinitionCache caches sub-alarm lookups per routing key.
type DefinitionCache interface {
	Invalidate(ctx context.Context, key domain.MetricDefinitionAndTenantID) error
}

// StatePublisher publishes sub-alarm state changes.
type StatePublisher interface {
	PublishSubAlarmState(ctx context.Context, ev *events.SubAlarmStateChanged) error
}

// TransitionPublisher publishes alarm state transitions.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, ev *events.AlarmStateTransitioned) error
}

// AlarmReducer folds sub-alarm states into alarm states.
type AlarmReducer interface {
	HandleSubAlarmStateChange(ctx context.Context, alarmID string, subAlarm *domain.SubAlarm) (*alarm.Transition, error)

	// ConfirmTransition persists the alarm state of a published transition.
	ConfirmTransition(ctx context.Context, tr *alarm.Transition) error

	Forget(alarmID string)
}
