// Package events defines the JSON messages exchanged on the thresholder topics and their
// conversion to domain types.
package events

import (
	"fmt"

	"thresholder/internal/domain"
)

// Alarm lifecycle event types.
const (
	EventCreated = "CREATED"
	EventUpdated = "UPDATED"
	EventResend  = "RESEND"
	EventDeleted = "DELETED"
)

// MetricPayload is one sample as published by the metrics API.
type MetricPayload struct {
	Name       string            `json:"name"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
	Timestamp  int64             `json:"timestamp"` // epoch seconds
	Value      float64           `json:"value"`
}

// MetricEnvelope is a message of the metrics topic.
type MetricEnvelope struct {
	TenantID string        `json:"tenant_id"`
	Metric   MetricPayload `json:"metric"`
}

// ToMetric converts the payload to a domain metric.
func (e *MetricEnvelope) ToMetric() domain.Metric {
	return domain.Metric{
		Definition: domain.NewMetricDefinition(e.Metric.Name, e.Metric.Dimensions),
		Timestamp:  e.Metric.Timestamp,
		Value:      e.Metric.Value,
	}
}

// Validate rejects envelopes that cannot be routed.
func (e *MetricEnvelope) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if e.Metric.Name == "" {
		return fmt.Errorf("metric name is required")
	}
	if e.Metric.Timestamp <= 0 {
		return fmt.Errorf("metric timestamp must be positive")
	}
	return nil
}

// SubAlarm is the wire form of a sub-alarm.
type SubAlarm struct {
	ID         string `json:"id"`
	AlarmID    string `json:"alarm_id"`
	Expression string `json:"expression"`
	State      string `json:"state,omitempty"`
}

// NewSubAlarm converts a domain sub-alarm to its wire form.
func NewSubAlarm(sa *domain.SubAlarm) SubAlarm {
	return SubAlarm{
		ID:         sa.ID,
		AlarmID:    sa.AlarmID,
		Expression: sa.Expression.String(),
		State:      string(sa.State),
	}
}

// ToDomain parses the expression and state. A sub-alarm without a state has never been
// evaluated.
func (s SubAlarm) ToDomain() (*domain.SubAlarm, error) {
	if s.ID == "" || s.AlarmID == "" {
		return nil, fmt.Errorf("sub-alarm id and alarm_id are required")
	}
	expr, err := domain.ParseSubExpression(s.Expression)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sub-alarm %s expression: %w", s.ID, err)
	}
	if s.State == "" {
		return domain.NewSubAlarm(s.ID, s.AlarmID, expr), nil
	}
	state, err := domain.ParseAlarmState(s.State)
	if err != nil {
		return nil, fmt.Errorf("sub-alarm %s: %w", s.ID, err)
	}
	return domain.NewSubAlarmWithState(s.ID, s.AlarmID, expr, state), nil
}

// AlarmEvent is a message of the alarm-events topic. CREATED, UPDATED and RESEND carry a
// sub-alarm; DELETED carries only its id.
type AlarmEvent struct {
	EventType        string                  `json:"event_type"`
	TenantID         string                  `json:"tenant_id"`
	AlarmID          string                  `json:"alarm_id"`
	MetricDefinition domain.MetricDefinition `json:"metric_definition"`
	SubAlarm         *SubAlarm               `json:"sub_alarm,omitempty"`
	SubAlarmID       string                  `json:"sub_alarm_id,omitempty"`
}

// Key returns the routing key of the event.
func (e *AlarmEvent) Key() domain.MetricDefinitionAndTenantID {
	return domain.MetricDefinitionAndTenantID{
		Definition: domain.NewMetricDefinition(e.MetricDefinition.Name, e.MetricDefinition.Dimensions),
		TenantID:   e.TenantID,
	}
}

// TargetSubAlarmID returns the id of the sub-alarm the event is about.
func (e *AlarmEvent) TargetSubAlarmID() string {
	if e.SubAlarm != nil {
		return e.SubAlarm.ID
	}
	return e.SubAlarmID
}

// Validate checks the fields required by the event type.
func (e *AlarmEvent) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if e.MetricDefinition.Name == "" {
		return fmt.Errorf("metric_definition name is required")
	}
	switch e.EventType {
	case EventCreated, EventUpdated, EventResend:
		if e.SubAlarm == nil {
			return fmt.Errorf("%s event requires sub_alarm", e.EventType)
		}
	case EventDeleted:
		if e.TargetSubAlarmID() == "" {
			return fmt.Errorf("DELETED event requires sub_alarm_id")
		}
	default:
		return fmt.Errorf("unknown event_type %q", e.EventType)
	}
	return nil
}

// SubAlarmStateChanged is emitted by the routers when a sub-alarm must be re-evaluated
// by its alarm.
type SubAlarmStateChanged struct {
	AlarmID   string   `json:"alarm_id"`
	SubAlarm  SubAlarm `json:"sub_alarm"`
	Timestamp int64    `json:"timestamp"`
}

// AlarmStateTransitioned is published when an alarm changes state.
type AlarmStateTransitioned struct {
	EventID           string     `json:"event_id"`
	AlarmID           string     `json:"alarm_id"`
	TenantID          string     `json:"tenant_id"`
	AlarmName         string     `json:"alarm_name"`
	OldState          string     `json:"old_state"`
	NewState          string     `json:"new_state"`
	StateChangeReason string     `json:"state_change_reason"`
	SubAlarms         []SubAlarm `json:"sub_alarms"`
	Timestamp         int64      `json:"timestamp"`
}
