// Package alarm combines sub-alarm states into composite alarm states.
package alarm

import (
	"strings"

	"thresholder/internal/domain"
)

// Alarm is a composite alarm: an expression over sub-alarms and the resulting state.
type Alarm struct {
	ID                string
	TenantID          string
	Name              string
	Expression        *domain.AlarmExpression
	State             domain.AlarmState
	StateChangeReason string

	subAlarms []*domain.SubAlarm
	leaves    map[*domain.AlarmSubExpression]*domain.SubAlarm
}

// NewAlarm creates an alarm. subAlarms are expected in the order of
// expr.SubExpressions(); each leaf is bound to the first unbound sub-alarm with the same
// canonical expression, so repeated leaves get their own sub-alarm. A leaf left without
// one shares the last sub-alarm bound to the same expression.
func NewAlarm(id, tenantID, name string, expr *domain.AlarmExpression, subAlarms []*domain.SubAlarm, state domain.AlarmState) *Alarm {
	a := &Alarm{
		ID:         id,
		TenantID:   tenantID,
		Name:       name,
		Expression: expr,
		State:      state,
		subAlarms:  subAlarms,
	}
	a.bindLeaves()
	return a
}

func (a *Alarm) bindLeaves() {
	leaves := a.Expression.SubExpressions()
	a.leaves = make(map[*domain.AlarmSubExpression]*domain.SubAlarm, len(leaves))
	bound := make([]bool, len(a.subAlarms))
	last := make(map[string]*domain.SubAlarm)

	for _, leaf := range leaves {
		text := leaf.String()
		for i, sa := range a.subAlarms {
			if !bound[i] && sa.Expression.String() == text {
				bound[i] = true
				last[text] = sa
				break
			}
		}
		if sa, ok := last[text]; ok {
			a.leaves[leaf] = sa
		}
	}
}

// SubAlarms returns the sub-alarms in definition order.
func (a *Alarm) SubAlarms() []*domain.SubAlarm {
	return a.subAlarms
}

// SubAlarm returns the sub-alarm with id, or nil.
func (a *Alarm) SubAlarm(id string) *domain.SubAlarm {
	for _, sa := range a.subAlarms {
		if sa.ID == id {
			return sa
		}
	}
	return nil
}

// Evaluate recomputes the alarm state from its sub-alarms and reports whether it changed.
// Any UNDETERMINED sub-alarm makes the alarm UNDETERMINED; otherwise the expression is
// folded with ALARM as true.
func (a *Alarm) Evaluate() bool {
	var undetermined, alarming, all []string
	for _, sa := range a.subAlarms {
		expr := sa.Expression.String()
		all = append(all, expr)
		switch sa.State {
		case domain.StateUndetermined:
			undetermined = append(undetermined, expr)
		case domain.StateAlarm:
			alarming = append(alarming, expr)
		}
	}

	if len(undetermined) > 0 {
		return a.transition(domain.StateUndetermined, undetermined)
	}

	inAlarm := a.Expression.Evaluate(func(sub *domain.AlarmSubExpression) bool {
		sa, ok := a.leaves[sub]
		return ok && sa.State == domain.StateAlarm
	})
	if inAlarm {
		return a.transition(domain.StateAlarm, alarming)
	}
	return a.transition(domain.StateOK, all)
}

func (a *Alarm) transition(state domain.AlarmState, exprs []string) bool {
	if a.State == state {
		return false
	}
	a.State = state
	a.StateChangeReason = BuildStateChangeReason(state, exprs)
	return true
}

// BuildStateChangeReason renders the human readable reason of a transition to state.
func BuildStateChangeReason(state domain.AlarmState, subExpressions []string) string {
	list := "[" + strings.Join(subExpressions, ", ") + "]"
	switch state {
	case domain.StateUndetermined:
		return "No data was present for the sub-alarms: " + list
	case domain.StateAlarm:
		return "Thresholds were exceeded for the sub-alarms: " + list
	default:
		return "Thresholds are no longer exceeded for the sub-alarms: " + list
	}
}
