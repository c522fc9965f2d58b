package aggregation

import (
	"context"
	"errors"
	"time"

	"thresholder/internal/domain"
)

// FakeClock is a settable Clock.
type FakeClock struct {
	now int64
}

func (c *FakeClock) Now() time.Time { return time.Unix(c.now, 0) }

func (c *FakeClock) Set(unix int64) { c.now = unix }

// FakeLookup returns copies of the sub-alarms registered per key.
type FakeLookup struct {
	subAlarms map[string][]*domain.SubAlarm
	err       error
	calls     int
}

func NewFakeLookup() *FakeLookup {
	return &FakeLookup{subAlarms: make(map[string][]*domain.SubAlarm)}
}

func (l *FakeLookup) Add(key domain.MetricDefinitionAndTenantID, sa *domain.SubAlarm) {
	l.subAlarms[key.Key()] = append(l.subAlarms[key.Key()], sa)
}

func (l *FakeLookup) FindSubAlarms(_ context.Context, key domain.MetricDefinitionAndTenantID) ([]*domain.SubAlarm, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	var out []*domain.SubAlarm
	for _, sa := range l.subAlarms[key.Key()] {
		out = append(out, sa.Clone())
	}
	return out, nil
}

var errLookup = errors.New("lookup unavailable")

type emitted struct {
	alarmID  string
	subAlarm *domain.SubAlarm
}

// FakeEmitter records emitted snapshots.
type FakeEmitter struct {
	emitted []emitted
}

func (e *FakeEmitter) EmitSubAlarmState(alarmID string, sa *domain.SubAlarm) {
	e.emitted = append(e.emitted, emitted{alarmID: alarmID, subAlarm: sa})
}

func (e *FakeEmitter) Last() *domain.SubAlarm {
	if len(e.emitted) == 0 {
		return nil
	}
	return e.emitted[len(e.emitted)-1].subAlarm
}

// FakeCounter counts IncrementCustom calls per name.
type FakeCounter struct {
	counts map[string]int
}

func NewFakeCounter() *FakeCounter {
	return &FakeCounter{counts: make(map[string]int)}
}

func (c *FakeCounter) IncrementCustom(name string) { c.counts[name]++ }
