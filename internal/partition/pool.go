// Package partition spreads metric streams over a fixed set of workers. Each worker owns
// one aggregation.Router, so a stream's samples, lifecycle events and evaluations are
// applied by a single goroutine in arrival order.
package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"thresholder/internal/aggregation"
	"thresholder/internal/domain"
	"thresholder/internal/observability"
)

const (
	// DefaultPartitions is the number of workers when none is configured.
	DefaultPartitions = 4
	// DefaultInboxSize bounds the queued units per worker.
	DefaultInboxSize = 1024
)

// ErrPoolStopped is returned when submitting to a pool that is no longer running.
var ErrPoolStopped = errors.New("partition pool stopped")

// Unit is work applied to the router owning a key.
type Unit func(ctx context.Context, router *aggregation.Router) error

// Config holds pool settings.
type Config struct {
	Partitions   int
	InboxSize    int
	TickInterval time.Duration
}

type job struct {
	key  string
	unit Unit
}

type worker struct {
	name   string
	router *aggregation.Router
	inbox  chan job
}

// Pool dispatches units to partition workers.
type Pool struct {
	workers map[string]*worker
	names   []string
	ring    *rendezvous.Rendezvous
	tick    time.Duration

	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewPool creates a pool. newRouter is called once per partition.
func NewPool(cfg Config, newRouter func(partition int) *aggregation.Router) *Pool {
	if cfg.Partitions <= 0 {
		cfg.Partitions = DefaultPartitions
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}

	p := &Pool{
		workers: make(map[string]*worker, cfg.Partitions),
		names:   make([]string, 0, cfg.Partitions),
		tick:    cfg.TickInterval,
		stopped: make(chan struct{}),
	}
	for i := 0; i < cfg.Partitions; i++ {
		name := strconv.Itoa(i)
		p.workers[name] = &worker{
			name:   name,
			router: newRouter(i),
			inbox:  make(chan job, cfg.InboxSize),
		}
		p.names = append(p.names, name)
	}
	p.ring = rendezvous.New(p.names, xxhash.Sum64String)

	slog.Info("Partition pool created",
		"partitions", cfg.Partitions,
		"inbox_size", cfg.InboxSize,
		"tick_interval", cfg.TickInterval,
	)
	return p
}

// Partitions returns the number of workers.
func (p *Pool) Partitions() int {
	return len(p.names)
}

// PartitionOf returns the worker name owning key.
func (p *Pool) PartitionOf(key domain.MetricDefinitionAndTenantID) string {
	return p.ring.Lookup(key.Key())
}

// Run starts the workers and the evaluation ticker and blocks until ctx is cancelled and
// every worker has returned.
func (p *Pool) Run(ctx context.Context) {
	for _, name := range p.names {
		w := p.workers[name]
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}

	if p.tick > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runTicker(ctx)
		}()
	}

	<-ctx.Done()
	close(p.stopped)
	p.wg.Wait()
	slog.Info("Partition pool stopped")
}

func (p *Pool) runTicker(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Evaluate(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Failed to schedule evaluation", "error", err)
			}
		}
	}
}

// Submit queues unit on the worker owning key. It blocks while that worker's inbox is full.
func (p *Pool) Submit(ctx context.Context, key domain.MetricDefinitionAndTenantID, unit Unit) error {
	w := p.workers[p.PartitionOf(key)]
	return p.enqueue(ctx, w, job{key: key.String(), unit: unit})
}

// Broadcast queues unit on every worker.
func (p *Pool) Broadcast(ctx context.Context, unit Unit) error {
	for _, name := range p.names {
		if err := p.enqueue(ctx, p.workers[name], job{unit: unit}); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate asks every router to evaluate its alarms and slide its windows.
func (p *Pool) Evaluate(ctx context.Context) error {
	return p.Broadcast(ctx, func(_ context.Context, r *aggregation.Router) error {
		r.EvaluateAlarmsAndSlideWindows()
		return nil
	})
}

func (p *Pool) enqueue(ctx context.Context, w *worker, j job) error {
	select {
	case <-p.stopped:
		return ErrPoolStopped
	default:
	}

	select {
	case w.inbox <- j:
		return nil
	case <-p.stopped:
		return ErrPoolStopped
	case <-ctx.Done():
		return fmt.Errorf("failed to submit to partition %s: %w", w.name, ctx.Err())
	}
}

func (w *worker) run(ctx context.Context) {
	slog.Debug("Partition worker started", "partition", w.name)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Partition worker stopped", "partition", w.name, "pending", len(w.inbox))
			return
		case j := <-w.inbox:
			w.apply(ctx, j)
		}
	}
}

// apply runs one unit. A failing or panicking unit is logged and does not stop the worker.
func (w *worker) apply(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic in partition worker",
				"partition", w.name,
				"key", j.key,
				"panic", r,
			)
		}
	}()

	if err := j.unit(ctx, w.router); err != nil {
		slog.Error("Failed to apply unit to router",
			"partition", w.name,
			"key", j.key,
			"error", err,
		)
	}
	observability.SetRepositories(w.name, w.router.RepositoryCount())
}
