package domain

import "fmt"

// SubAlarm is one leaf condition of an alarm together with its current state.
type SubAlarm struct {
	ID         string
	AlarmID    string
	Expression AlarmSubExpression
	State      AlarmState
	// NoState forces the next evaluation to emit the sub-alarm even if its state is unchanged.
	NoState bool
	// Sporadic marks metrics that report irregularly; empty buckets do not make it UNDETERMINED.
	Sporadic bool
}

// NewSubAlarm creates a sub-alarm that has never been evaluated. Its first evaluation is
// always emitted.
func NewSubAlarm(id, alarmID string, expr AlarmSubExpression) *SubAlarm {
	return &SubAlarm{
		ID:         id,
		AlarmID:    alarmID,
		Expression: expr,
		State:      StateUndetermined,
		NoState:    true,
	}
}

// NewSubAlarmWithState creates a sub-alarm with a known state, e.g. loaded from storage.
func NewSubAlarmWithState(id, alarmID string, expr AlarmSubExpression, state AlarmState) *SubAlarm {
	return &SubAlarm{
		ID:         id,
		AlarmID:    alarmID,
		Expression: expr,
		State:      state,
	}
}

// Clone returns a copy that can be handed to another goroutine.
func (s *SubAlarm) Clone() *SubAlarm {
	c := *s
	return &c
}

// IsCompatible reports whether other can replace s without discarding collected
// statistics: same function, metric definition and period. Operator, threshold and the
// number of periods may differ.
func (s *SubAlarm) IsCompatible(other *SubAlarm) bool {
	return s.Expression.Function == other.Expression.Function &&
		s.Expression.Period == other.Expression.Period &&
		s.Expression.Definition.Equal(other.Expression.Definition)
}

func (s *SubAlarm) String() string {
	return fmt.Sprintf("SubAlarm{id=%s, alarmId=%s, expression=%s, state=%s, noState=%t, sporadic=%t}",
		s.ID, s.AlarmID, s.Expression.String(), s.State, s.NoState, s.Sporadic)
}
