package partition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"thresholder/internal/aggregation"
	"thresholder/internal/domain"
)

type emptyLookup struct{}

func (emptyLookup) FindSubAlarms(context.Context, domain.MetricDefinitionAndTenantID) ([]*domain.SubAlarm, error) {
	return nil, nil
}

type discardEmitter struct{}

func (discardEmitter) EmitSubAlarmState(string, *domain.SubAlarm) {}

func newTestPool(t *testing.T, partitions int) (*Pool, map[*aggregation.Router]int, context.CancelFunc) {
	t.Helper()
	routers := make(map[*aggregation.Router]int)
	p := NewPool(Config{Partitions: partitions, InboxSize: 16}, func(i int) *aggregation.Router {
		r := aggregation.NewRouter(emptyLookup{}, discardEmitter{})
		routers[r] = i
		return r
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p, routers, cancel
}

func key(host string) domain.MetricDefinitionAndTenantID {
	return domain.MetricDefinitionAndTenantID{
		Definition: domain.NewMetricDefinition("cpu", map[string]string{"host": host}),
		TenantID:   "t1",
	}
}

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(Config{}, func(int) *aggregation.Router {
		return aggregation.NewRouter(emptyLookup{}, discardEmitter{})
	})
	if p.Partitions() != DefaultPartitions {
		t.Errorf("Partitions() = %d, want %d", p.Partitions(), DefaultPartitions)
	}
}

func TestPool_SubmitIsSticky(t *testing.T) {
	p, routers, _ := newTestPool(t, 4)
	ctx := context.Background()

	for h := 0; h < 20; h++ {
		k := key(fmt.Sprintf("host-%d", h))
		seen := make(chan int, 3)
		for i := 0; i < 3; i++ {
			err := p.Submit(ctx, k, func(_ context.Context, r *aggregation.Router) error {
				seen <- routers[r]
				return nil
			})
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
		}
		first := <-seen
		for i := 0; i < 2; i++ {
			if got := <-seen; got != first {
				t.Fatalf("key %s ran on partitions %d and %d", k, first, got)
			}
		}
		if want := p.PartitionOf(k); want != fmt.Sprint(first) {
			t.Errorf("PartitionOf(%s) = %s, ran on %d", k, want, first)
		}
	}
}

func TestPool_Broadcast(t *testing.T) {
	p, routers, _ := newTestPool(t, 3)

	var mu sync.Mutex
	seen := make(map[int]bool)
	var wg sync.WaitGroup
	wg.Add(3)
	err := p.Broadcast(context.Background(), func(_ context.Context, r *aggregation.Router) error {
		defer wg.Done()
		r.ProcessControl(aggregation.MetricsBehind)
		mu.Lock()
		seen[routers[r]] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	wg.Wait()

	if len(seen) != 3 {
		t.Errorf("broadcast reached %d partitions, want 3", len(seen))
	}
	for r := range routers {
		if r.UpToDate() {
			t.Errorf("router %d still up to date after MetricsBehind", routers[r])
		}
	}
}

func TestPool_EvaluateConsumesMetricsBehind(t *testing.T) {
	p, routers, _ := newTestPool(t, 2)
	ctx := context.Background()

	if err := p.Broadcast(ctx, func(_ context.Context, r *aggregation.Router) error {
		r.ProcessControl(aggregation.MetricsBehind)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := p.Evaluate(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	p.Broadcast(ctx, func(context.Context, *aggregation.Router) error {
		wg.Done()
		return nil
	})
	wg.Wait()

	for r := range routers {
		if !r.UpToDate() {
			t.Errorf("router %d not up to date after evaluation", routers[r])
		}
	}
}

func TestPool_WorkerSurvivesFailures(t *testing.T) {
	p, _, _ := newTestPool(t, 1)
	ctx := context.Background()
	k := key("a")

	p.Submit(ctx, k, func(context.Context, *aggregation.Router) error {
		return errors.New("boom")
	})
	p.Submit(ctx, k, func(context.Context, *aggregation.Router) error {
		panic("boom")
	})

	done := make(chan struct{})
	p.Submit(ctx, k, func(context.Context, *aggregation.Router) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process units after a failure")
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p, _, cancel := newTestPool(t, 1)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		err := p.Submit(context.Background(), key("a"), func(context.Context, *aggregation.Router) error { return nil })
		if errors.Is(err, ErrPoolStopped) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("Submit() error = %v, want ErrPoolStopped", err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
