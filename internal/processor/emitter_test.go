package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"thresholder/internal/domain"
)

func TestStateEmitter_PublishesQueuedChanges(t *testing.T) {
	publisher := &FakePublisher{}
	m := NewFakeMetrics()
	e := NewStateEmitter(publisher, 8, m)

	sa := testSubAlarm(t, "sa1")
	sa.State = domain.StateAlarm
	e.EmitSubAlarmState("alarm-1", sa)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for publisher.published() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if publisher.published() != 1 {
		t.Fatalf("published %d state changes, want 1", publisher.published())
	}
	got := publisher.States[0]
	if got.AlarmID != "alarm-1" || got.SubAlarm.ID != "sa1" || got.SubAlarm.State != "ALARM" {
		t.Errorf("state change = %+v", got)
	}
	if m.PublishedCount != 1 {
		t.Errorf("PublishedCount = %d, want 1", m.PublishedCount)
	}
}

func TestStateEmitter_DropsWhenFull(t *testing.T) {
	m := NewFakeMetrics()
	e := NewStateEmitter(&FakePublisher{}, 2, m)
	sa := testSubAlarm(t, "sa1")

	for i := 0; i < 5; i++ {
		e.EmitSubAlarmState("alarm-1", sa)
	}

	if e.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", e.Pending())
	}
	if got := m.custom("state_changes_dropped"); got != 3 {
		t.Errorf("state_changes_dropped = %d, want 3", got)
	}
}

func TestStateEmitter_DrainsOnStop(t *testing.T) {
	publisher := &FakePublisher{}
	e := NewStateEmitter(publisher, 8, nil)
	for _, id := range []string{"sa1", "sa2", "sa3"} {
		e.EmitSubAlarmState("alarm-1", testSubAlarm(t, id))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Run(ctx)

	if publisher.published() != 3 || e.Pending() != 0 {
		t.Errorf("published = %d, pending = %d, want 3 and 0", publisher.published(), e.Pending())
	}
}

func TestStateEmitter_RetriesThenGivesUp(t *testing.T) {
	publisher := &FakePublisher{Err: errors.New("broker down")}
	m := NewFakeMetrics()
	e := NewStateEmitter(publisher, 8, m)

	e.publish(context.Background(), e.stateChange("alarm-1", testSubAlarm(t, "sa1")))

	if publisher.Attempts != maxPublishAttempts {
		t.Errorf("attempts = %d, want %d", publisher.Attempts, maxPublishAttempts)
	}
	if m.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", m.ErrorCount)
	}
}
