package filtering

import (
	"testing"
	"time"

	"thresholder/internal/domain"
)

type fakeNow struct {
	unix int64
}

func (f *fakeNow) Now() time.Time { return time.Unix(f.unix, 0) }

const start = int64(1_700_000_000)

func testStream(name string) domain.MetricDefinitionAndTenantID {
	return domain.MetricDefinitionAndTenantID{
		Definition: domain.MetricDefinition{Name: name},
		TenantID:   "t1",
	}
}

func newTracker(clock *fakeNow) (*LagTracker, LagConfig) {
	cfg := DefaultLagConfig()
	return NewLagTracker(cfg, clock.Now), cfg
}

func TestLagTracker_Lagging(t *testing.T) {
	clock := &fakeNow{unix: start}
	tracker, cfg := newTracker(clock)
	period := int64(cfg.LagMessagePeriod / time.Second)
	minLag := int64(cfg.MinLag / time.Second)

	// first sample only opens the check period
	if obs := tracker.Observe(testStream("k"), start-period, 1); obs.Behind {
		t.Fatal("signal sent on the first sample")
	}

	clock.unix = start + period
	obs := tracker.Observe(testStream("k"), start, 2)
	if !obs.Behind {
		t.Fatal("no signal after a full period of lagging samples")
	}
	if obs.Lag != cfg.LagMessagePeriod {
		t.Errorf("Lag = %v, want %v", obs.Lag, cfg.LagMessagePeriod)
	}

	clock.unix = start + 2*period
	if obs := tracker.Observe(testStream("k"), clock.unix-minLag, 3); obs.Behind {
		t.Error("signal sent although the sample arrived within the minimum lag")
	}
	if tracker.SignalsSent() != 0 {
		t.Errorf("SignalsSent() = %d, want 0 after catching up", tracker.SignalsSent())
	}
}

func TestLagTracker_LaggingTooLong(t *testing.T) {
	clock := &fakeNow{unix: start}
	tracker, cfg := newTracker(clock)
	period := int64(cfg.LagMessagePeriod / time.Second)

	tracker.Observe(testStream("k"), start-period, 0)

	signals := 0
	for i := 1; i <= cfg.MaxLagMessages+5; i++ {
		clock.unix = start + int64(i)*period
		if tracker.Observe(testStream("k"), clock.unix-period, float64(i)).Behind {
			signals++
		}
		want := i
		if want > cfg.MaxLagMessages {
			want = cfg.MaxLagMessages
		}
		if signals != want {
			t.Fatalf("after iteration %d: %d signals, want %d", i, signals, want)
		}
	}
}

func TestLagTracker_WaitsForFullPeriod(t *testing.T) {
	clock := &fakeNow{unix: start}
	tracker, cfg := newTracker(clock)
	period := int64(cfg.LagMessagePeriod / time.Second)

	tracker.Observe(testStream("k"), start-period, 1)
	clock.unix = start + period - 1
	if tracker.Observe(testStream("k"), start-1, 2).Behind {
		t.Error("signal sent before the check period elapsed")
	}
}

func TestLagTracker_FreshKeyMeansCaughtUp(t *testing.T) {
	clock := &fakeNow{unix: start}
	tracker, cfg := newTracker(clock)
	period := int64(cfg.LagMessagePeriod / time.Second)

	tracker.Observe(testStream("slow"), start-period, 1)
	clock.unix = start + 10
	tracker.Observe(testStream("fast"), clock.unix, 1)

	clock.unix = start + period
	if tracker.Observe(testStream("slow"), start, 2).Behind {
		t.Error("signal sent although another stream was up to date during the period")
	}
}

func TestLagTracker_Duplicates(t *testing.T) {
	clock := &fakeNow{unix: start}
	tracker, _ := newTracker(clock)

	if tracker.Observe(testStream("k"), start-5, 42).Duplicate {
		t.Fatal("first sample reported as duplicate")
	}
	if !tracker.Observe(testStream("k"), start-5, 42).Duplicate {
		t.Error("redelivered sample not reported as duplicate")
	}
	if tracker.Observe(testStream("k"), start-5, 43).Duplicate {
		t.Error("different value at the same timestamp reported as duplicate")
	}
	if tracker.Observe(testStream("other"), start-5, 42).Duplicate {
		t.Error("same sample on another stream reported as duplicate")
	}

	tracker.Forget(testStream("k"))
	if tracker.Observe(testStream("k"), start-5, 43).Duplicate {
		t.Error("duplicate reported after Forget()")
	}
}

func TestLagTracker_ForgetDropsSupersetStreams(t *testing.T) {
	clock := &fakeNow{unix: start}
	tracker, _ := newTracker(clock)

	for _, pod := range []string{"x", "y", "z"} {
		tracker.Observe(domain.MetricDefinitionAndTenantID{
			Definition: domain.MetricDefinition{Name: "cpu", Dimensions: map[string]string{"host": "a", "pod": pod}},
			TenantID:   "t1",
		}, start-5, 1)
	}
	other := domain.MetricDefinitionAndTenantID{
		Definition: domain.MetricDefinition{Name: "cpu", Dimensions: map[string]string{"host": "b"}},
		TenantID:   "t1",
	}
	tracker.Observe(other, start-5, 1)
	otherTenant := domain.MetricDefinitionAndTenantID{
		Definition: domain.MetricDefinition{Name: "cpu", Dimensions: map[string]string{"host": "a"}},
		TenantID:   "t2",
	}
	tracker.Observe(otherTenant, start-5, 1)

	tracker.Forget(domain.MetricDefinitionAndTenantID{
		Definition: domain.MetricDefinition{Name: "cpu", Dimensions: map[string]string{"host": "a"}},
		TenantID:   "t1",
	})

	if got := tracker.Streams(); got != 2 {
		t.Fatalf("Streams() = %d, want 2 after forgetting cpu{host=a}", got)
	}
	if !tracker.Observe(other, start-5, 1).Duplicate {
		t.Error("unrelated stream forgotten")
	}
	if !tracker.Observe(otherTenant, start-5, 1).Duplicate {
		t.Error("stream of another tenant forgotten")
	}
}

func TestLagTracker_PrunesSilentStreams(t *testing.T) {
	clock := &fakeNow{unix: start}
	tracker, cfg := newTracker(clock)
	period := int64(cfg.LagMessagePeriod / time.Second)

	tracker.Observe(testStream("gone"), start, 1)
	for i := int64(1); i <= staleStreamPeriods+1; i++ {
		clock.unix = start + i*period
		tracker.Observe(testStream("live"), clock.unix, float64(i))
	}

	if got := tracker.Streams(); got != 1 {
		t.Fatalf("Streams() = %d, want 1 once the silent stream is stale", got)
	}
	if tracker.Observe(testStream("gone"), start, 1).Duplicate {
		t.Error("pruned stream still deduplicated")
	}
}
