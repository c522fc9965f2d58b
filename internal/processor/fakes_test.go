package processor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"thresholder/internal/aggregation"
	"thresholder/internal/alarm"
	"thresholder/internal/domain"
	"thresholder/internal/events"
	"thresholder/internal/partition"
)

// FakeSource is a test fake for MessageSource. Once its messages are exhausted it calls
// OnDrained and blocks until ctx is cancelled.
type FakeSource struct {
	Messages  []kafka.Message
	FetchErr  error
	CommitErr error
	OnDrained func()

	index     int
	Committed []kafka.Message
}

func (f *FakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	if f.FetchErr != nil {
		err := f.FetchErr
		f.FetchErr = nil
		return kafka.Message{}, err
	}
	if f.index >= len(f.Messages) {
		if f.OnDrained != nil {
			f.OnDrained()
		}
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.Messages[f.index]
	f.index++
	return msg, nil
}

func (f *FakeSource) Commit(ctx context.Context, msg kafka.Message) error {
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.Committed = append(f.Committed, msg)
	return nil
}

// FakeDispatcher runs units synchronously against a single router.
type FakeDispatcher struct {
	Router     *aggregation.Router
	Submitted  []domain.MetricDefinitionAndTenantID
	Broadcasts int
	Err        error
}

func (f *FakeDispatcher) Submit(ctx context.Context, key domain.MetricDefinitionAndTenantID, unit partition.Unit) error {
	if f.Err != nil {
		return f.Err
	}
	f.Submitted = append(f.Submitted, key)
	return unit(ctx, f.Router)
}

func (f *FakeDispatcher) Broadcast(ctx context.Context, unit partition.Unit) error {
	if f.Err != nil {
		return f.Err
	}
	f.Broadcasts++
	return unit(ctx, f.Router)
}

// FakeLookup serves sub-alarms per routing key.
type FakeLookup struct {
	SubAlarms map[string][]*domain.SubAlarm
}

func (f *FakeLookup) FindSubAlarms(_ context.Context, key domain.MetricDefinitionAndTenantID) ([]*domain.SubAlarm, error) {
	var out []*domain.SubAlarm
	for _, sa := range f.SubAlarms[key.Key()] {
		out = append(out, sa.Clone())
	}
	return out, nil
}

// FakeCache records invalidations.
type FakeCache struct {
	Invalidated []domain.MetricDefinitionAndTenantID
}

func (f *FakeCache) Invalidate(_ context.Context, key domain.MetricDefinitionAndTenantID) error {
	f.Invalidated = append(f.Invalidated, key)
	return nil
}

// FakeReducer is a test fake for AlarmReducer.
type FakeReducer struct {
	Transition *alarm.Transition
	Err        error
	ConfirmErr error
	Handled    []*domain.SubAlarm
	Confirmed  []*alarm.Transition
	Forgotten  []string
}

func (f *FakeReducer) HandleSubAlarmStateChange(_ context.Context, _ string, subAlarm *domain.SubAlarm) (*alarm.Transition, error) {
	f.Handled = append(f.Handled, subAlarm)
	return f.Transition, f.Err
}

func (f *FakeReducer) ConfirmTransition(_ context.Context, tr *alarm.Transition) error {
	if f.ConfirmErr != nil {
		return f.ConfirmErr
	}
	f.Confirmed = append(f.Confirmed, tr)
	return nil
}

func (f *FakeReducer) Forget(alarmID string) {
	f.Forgotten = append(f.Forgotten, alarmID)
}

// FakePublisher is a test fake for StatePublisher and TransitionPublisher.
type FakePublisher struct {
	mu          sync.Mutex
	States      []*events.SubAlarmStateChanged
	Transitions []*events.AlarmStateTransitioned
	Err         error
	Attempts    int
}

func (f *FakePublisher) PublishSubAlarmState(_ context.Context, ev *events.SubAlarmStateChanged) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Attempts++
	if f.Err != nil {
		return f.Err
	}
	f.States = append(f.States, ev)
	return nil
}

func (f *FakePublisher) PublishTransition(_ context.Context, ev *events.AlarmStateTransitioned) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Attempts++
	if f.Err != nil {
		return f.Err
	}
	f.Transitions = append(f.Transitions, ev)
	return nil
}

func (f *FakePublisher) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.States)
}

// FakeMetrics is a test fake for Metrics that tracks calls.
type FakeMetrics struct {
	mu             sync.Mutex
	ReceivedCount  int
	ProcessedCount int
	PublishedCount int
	ErrorCount     int
	Custom         map[string]int
	Gauges         map[string]float64
}

func NewFakeMetrics() *FakeMetrics {
	return &FakeMetrics{Custom: make(map[string]int), Gauges: make(map[string]float64)}
}

func (f *FakeMetrics) RecordReceived()               { f.mu.Lock(); f.ReceivedCount++; f.mu.Unlock() }
func (f *FakeMetrics) RecordPublished()              { f.mu.Lock(); f.PublishedCount++; f.mu.Unlock() }
func (f *FakeMetrics) RecordError()                  { f.mu.Lock(); f.ErrorCount++; f.mu.Unlock() }
func (f *FakeMetrics) RecordProcessed(time.Duration) { f.mu.Lock(); f.ProcessedCount++; f.mu.Unlock() }
func (f *FakeMetrics) IncrementCustom(name string)   { f.mu.Lock(); f.Custom[name]++; f.mu.Unlock() }
func (f *FakeMetrics) SetGauge(name string, v float64) {
	f.mu.Lock()
	f.Gauges[name] = v
	f.mu.Unlock()
}

func (f *FakeMetrics) custom(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Custom[name]
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func jsonMessage(t *testing.T, offset int64, v any) kafka.Message {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal test message: %v", err)
	}
	return kafka.Message{Offset: offset, Value: data}
}

func testKey() domain.MetricDefinitionAndTenantID {
	return domain.MetricDefinitionAndTenantID{
		Definition: domain.NewMetricDefinition("cpu", map[string]string{"host": "a"}),
		TenantID:   "t1",
	}
}

func testSubAlarm(t *testing.T, id string) *domain.SubAlarm {
	t.Helper()
	expr, err := domain.ParseSubExpression("avg(cpu{host=a}) > 5")
	if err != nil {
		t.Fatal(err)
	}
	return domain.NewSubAlarm(id, "alarm-1", expr)
}

// runUntilDrained runs loop over source and returns once every message has been fetched.
func runUntilDrained(t *testing.T, source *FakeSource, loop func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	source.OnDrained = cancel
	if err := loop(ctx); err != nil {
		t.Fatalf("loop returned error: %v", err)
	}
}
