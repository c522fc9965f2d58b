package alarm

import (
	"context"
	"errors"

	"thresholder/internal/domain"
)

// FakeStore serves alarms built by a factory and records persisted states.
type FakeStore struct {
	factory func() *Alarm
	finds   int

	alarmStates    map[string]domain.AlarmState
	subAlarmStates map[string]domain.AlarmState

	failAlarmUpdate bool
}

func NewFakeStore(factory func() *Alarm) *FakeStore {
	return &FakeStore{
		factory:        factory,
		alarmStates:    make(map[string]domain.AlarmState),
		subAlarmStates: make(map[string]domain.AlarmState),
	}
}

var errStore = errors.New("store unavailable")

func (s *FakeStore) FindAlarm(_ context.Context, alarmID string) (*Alarm, error) {
	s.finds++
	a := s.factory()
	if a == nil || a.ID != alarmID {
		return nil, ErrAlarmNotFound
	}
	return a, nil
}

func (s *FakeStore) UpdateSubAlarmState(_ context.Context, subAlarmID string, state domain.AlarmState) error {
	s.subAlarmStates[subAlarmID] = state
	return nil
}

func (s *FakeStore) UpdateAlarmState(_ context.Context, alarmID string, state domain.AlarmState, _ string) error {
	if s.failAlarmUpdate {
		return errStore
	}
	s.alarmStates[alarmID] = state
	return nil
}
