package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"thresholder/internal/domain"
)

var (
	// ErrAlarmNotFound is returned by a Store for unknown or deleted alarms.
	ErrAlarmNotFound = errors.New("alarm not found")
	// ErrUnknownSubAlarm is returned for a state change of a sub-alarm the alarm does not have.
	ErrUnknownSubAlarm = errors.New("sub-alarm does not belong to alarm")
)

// Store loads alarms and persists their states.
type Store interface {
	FindAlarm(ctx context.Context, alarmID string) (*Alarm, error)
	UpdateSubAlarmState(ctx context.Context, subAlarmID string, state domain.AlarmState) error
	UpdateAlarmState(ctx context.Context, alarmID string, state domain.AlarmState, reason string) error
}

// Transition describes an alarm state change.
type Transition struct {
	AlarmID   string
	TenantID  string
	AlarmName string
	OldState  domain.AlarmState
	NewState  domain.AlarmState
	Reason    string
	SubAlarms []*domain.SubAlarm
	Timestamp time.Time
}

// Reducer applies sub-alarm state changes to their alarms. Alarms are loaded from the
// store on first use and kept in memory until forgotten.
//
// A transition stays pending until ConfirmTransition persists it, so the alarm state in
// the store only moves once the transition has been published. Until then every state
// change of the alarm returns the pending transition again.
type Reducer struct {
	store Store
	now   func() time.Time

	mu      sync.Mutex
	alarms  map[string]*Alarm
	pending map[string]*Transition
}

// NewReducer creates a reducer. now defaults to time.Now.
func NewReducer(store Store, now func() time.Time) *Reducer {
	if now == nil {
		now = time.Now
	}
	return &Reducer{
		store:   store,
		now:     now,
		alarms:  make(map[string]*Alarm),
		pending: make(map[string]*Transition),
	}
}

func (r *Reducer) alarm(ctx context.Context, alarmID string) (*Alarm, error) {
	if a, ok := r.alarms[alarmID]; ok {
		return a, nil
	}
	a, err := r.store.FindAlarm(ctx, alarmID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alarm %s: %w", alarmID, err)
	}
	r.alarms[alarmID] = a
	return a, nil
}

// HandleSubAlarmStateChange applies the state carried by subAlarm and returns the
// resulting transition, or nil when the alarm state did not change.
func (r *Reducer) HandleSubAlarmStateChange(ctx context.Context, alarmID string, subAlarm *domain.SubAlarm) (*Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.alarm(ctx, alarmID)
	if err != nil {
		return nil, err
	}

	current := a.SubAlarm(subAlarm.ID)
	if current == nil {
		// the alarm definition may have changed since it was cached
		delete(r.alarms, alarmID)
		return nil, fmt.Errorf("%w: sub-alarm %s, alarm %s", ErrUnknownSubAlarm, subAlarm.ID, alarmID)
	}

	if current.State != subAlarm.State {
		if err := r.store.UpdateSubAlarmState(ctx, subAlarm.ID, subAlarm.State); err != nil {
			return nil, fmt.Errorf("failed to persist sub-alarm state: %w", err)
		}
		current.State = subAlarm.State
	}

	oldState := a.State
	changed := a.Evaluate()

	if p, ok := r.pending[alarmID]; ok {
		if !changed {
			return p, nil
		}
		if a.State == p.OldState {
			// flipped back before anything was published
			delete(r.pending, alarmID)
			slog.Info("Pending alarm transition cancelled", "alarm_id", a.ID, "state", a.State)
			return nil, nil
		}
		oldState = p.OldState
	}
	if !changed {
		return nil, nil
	}

	slog.Info("Alarm state transitioned",
		"alarm_id", a.ID,
		"tenant_id", a.TenantID,
		"old_state", oldState,
		"new_state", a.State,
		"reason", a.StateChangeReason,
	)

	subAlarms := make([]*domain.SubAlarm, len(a.SubAlarms()))
	for i, sa := range a.SubAlarms() {
		subAlarms[i] = sa.Clone()
	}
	tr := &Transition{
		AlarmID:   a.ID,
		TenantID:  a.TenantID,
		AlarmName: a.Name,
		OldState:  oldState,
		NewState:  a.State,
		Reason:    a.StateChangeReason,
		SubAlarms: subAlarms,
		Timestamp: r.now().UTC(),
	}
	r.pending[alarmID] = tr
	return tr, nil
}

// ConfirmTransition persists the new state of a published transition.
func (r *Reducer) ConfirmTransition(ctx context.Context, tr *Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.UpdateAlarmState(ctx, tr.AlarmID, tr.NewState, tr.Reason); err != nil {
		return fmt.Errorf("failed to persist alarm state: %w", err)
	}
	if r.pending[tr.AlarmID] == tr {
		delete(r.pending, tr.AlarmID)
	}
	return nil
}

// Pending returns the unconfirmed transition of an alarm, or nil.
func (r *Reducer) Pending(alarmID string) *Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[alarmID]
}

// Forget evicts a cached alarm, e.g. after its definition changed or it was deleted.
func (r *Reducer) Forget(alarmID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.alarms, alarmID)
	delete(r.pending, alarmID)
}

// CachedAlarms returns the number of alarms held in memory.
func (r *Reducer) CachedAlarms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alarms)
}
