package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"thresholder/internal/domain"
)

// MetricsBehind is the control directive telling the router to skip the next evaluation.
const MetricsBehind = "MetricsBehind"

// SubAlarmLookup finds the sub-alarms that watch a metric stream.
type SubAlarmLookup interface {
	FindSubAlarms(ctx context.Context, key domain.MetricDefinitionAndTenantID) ([]*domain.SubAlarm, error)
}

// StateEmitter receives sub-alarm snapshots whose state changed or must be resent.
// Implementations must not block.
type StateEmitter interface {
	EmitSubAlarmState(alarmID string, subAlarm *domain.SubAlarm)
}

// Counter records named events.
type Counter interface {
	IncrementCustom(name string)
}

type noOpCounter struct{}

func (noOpCounter) IncrementCustom(string) {}

// Option configures a Router.
type Option func(*Router)

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(r *Router) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithSporadicNamespaces marks metrics whose name is, or starts with "<namespace>.", one of
// the namespaces as sporadic.
func WithSporadicNamespaces(namespaces []string) Option {
	return func(r *Router) {
		r.sporadic = append([]string(nil), namespaces...)
	}
}

// WithCounter records router events such as stale samples.
func WithCounter(counter Counter) Option {
	return func(r *Router) {
		if counter != nil {
			r.counter = counter
		}
	}
}

// Router owns the window repositories of one partition of the key space. It is not safe
// for concurrent use: one goroutine feeds it samples, lifecycle events and ticks.
type Router struct {
	repos    map[string]*WindowRepository
	lookup   SubAlarmLookup
	emitter  StateEmitter
	clock    Clock
	sporadic []string
	counter  Counter
	upToDate bool
}

// NewRouter creates a router that resolves unknown keys through lookup and emits state
// changes to emitter.
func NewRouter(lookup SubAlarmLookup, emitter StateEmitter, opts ...Option) *Router {
	r := &Router{
		repos:    make(map[string]*WindowRepository),
		lookup:   lookup,
		emitter:  emitter,
		clock:    SystemClock(),
		counter:  noOpCounter{},
		upToDate: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) now() int64 {
	return r.clock.Now().Unix()
}

// RepositoryCount returns how many metric streams the router currently tracks.
func (r *Router) RepositoryCount() int {
	return len(r.repos)
}

// Repository returns the repository for key, or nil.
func (r *Router) Repository(key domain.MetricDefinitionAndTenantID) *WindowRepository {
	return r.repos[key.Key()]
}

// UpToDate reports whether the next tick will evaluate.
func (r *Router) UpToDate() bool {
	return r.upToDate
}

func (r *Router) isSporadic(name string) bool {
	for _, ns := range r.sporadic {
		if name == ns || strings.HasPrefix(name, ns+".") {
			return true
		}
	}
	return false
}

func (r *Router) addEvaluator(repo *WindowRepository, subAlarm *domain.SubAlarm, now int64) *SubAlarmEvaluator {
	subAlarm.Sporadic = r.isSporadic(subAlarm.Expression.Definition.Name)
	return repo.Add(subAlarm, now+int64(subAlarm.Expression.Period))
}

// getOrCreateRepository returns the repository for key, loading its sub-alarms through the
// lookup on first sight. It returns nil when nothing watches the key.
func (r *Router) getOrCreateRepository(ctx context.Context, key domain.MetricDefinitionAndTenantID) (*WindowRepository, error) {
	if repo, ok := r.repos[key.Key()]; ok {
		return repo, nil
	}

	subAlarms, err := r.lookup.FindSubAlarms(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up sub-alarms for %s: %w", key, err)
	}
	if len(subAlarms) == 0 {
		return nil, nil
	}

	repo := NewWindowRepository(key)
	now := r.now()
	for _, sa := range subAlarms {
		r.addEvaluator(repo, sa, now)
	}
	r.repos[key.Key()] = repo
	slog.Info("Created window repository", "key", key.String(), "sub_alarms", len(subAlarms))
	return repo, nil
}

// AggregateValue feeds a sample into every evaluator watching key.
func (r *Router) AggregateValue(ctx context.Context, key domain.MetricDefinitionAndTenantID, metric domain.Metric) error {
	repo, err := r.getOrCreateRepository(ctx, key)
	if err != nil {
		return err
	}
	if repo == nil {
		slog.Debug("No sub-alarms for metric", "key", key.String())
		r.counter.IncrementCustom("samples_unrouted")
		return nil
	}

	for _, e := range repo.Evaluators() {
		if !e.AddValue(metric.Value, metric.Timestamp) {
			r.counter.IncrementCustom("samples_stale")
			slog.Warn("Metric is out of the window range, dropping",
				"key", key.String(),
				"sub_alarm_id", e.SubAlarm().ID,
				"timestamp", metric.Timestamp,
				"window_start", e.Window().WindowStart(),
				"window_end", e.Window().WindowEnd(),
			)
		}
	}
	return nil
}

// EvaluateAlarmsAndSlideWindows runs one tick. When the pipeline is up to date every
// evaluator is evaluated and emitted on change; otherwise windows only slide, and the
// next tick evaluates again.
func (r *Router) EvaluateAlarmsAndSlideWindows() {
	now := r.now()
	evaluate := r.upToDate
	if !evaluate {
		slog.Info("Metrics are behind, sliding windows without evaluating", "timestamp", now)
		r.upToDate = true
	}

	for _, repo := range r.repos {
		for _, e := range repo.Evaluators() {
			if !evaluate {
				e.SlideWindow(now)
				continue
			}
			if e.EvaluateAndSlideWindow(now) {
				sa := e.SubAlarm()
				slog.Debug("Sub-alarm state changed", "sub_alarm_id", sa.ID, "alarm_id", sa.AlarmID, "state", sa.State)
				r.counter.IncrementCustom("sub_alarm_state_changes")
				r.emitter.EmitSubAlarmState(sa.AlarmID, sa.Clone())
			}
		}
	}
}

// ProcessControl handles a control directive.
func (r *Router) ProcessControl(directive string) {
	if directive != MetricsBehind {
		slog.Error("Unknown control directive", "directive", directive)
		return
	}
	r.upToDate = false
	r.counter.IncrementCustom("metrics_behind_received")
}

// OnSubAlarmCreated starts evaluating a new sub-alarm.
func (r *Router) OnSubAlarmCreated(ctx context.Context, key domain.MetricDefinitionAndTenantID, subAlarm *domain.SubAlarm) error {
	repo, err := r.getOrCreateRepository(ctx, key)
	if err != nil {
		return err
	}
	if repo == nil {
		repo = NewWindowRepository(key)
		r.repos[key.Key()] = repo
	}
	r.addEvaluator(repo, subAlarm, r.now())
	slog.Info("Sub-alarm created", "key", key.String(), "sub_alarm_id", subAlarm.ID, "alarm_id", subAlarm.AlarmID)
	return nil
}

func (r *Router) findEvaluator(key domain.MetricDefinitionAndTenantID, subAlarmID string) (*WindowRepository, *SubAlarmEvaluator) {
	repo, ok := r.repos[key.Key()]
	if !ok {
		return nil, nil
	}
	return repo, repo.Get(subAlarmID)
}

// OnSubAlarmUpdated applies a changed sub-alarm expression. Compatible changes keep the
// collected statistics, anything else starts over with an empty window. Either way the
// next evaluation is emitted.
func (r *Router) OnSubAlarmUpdated(key domain.MetricDefinitionAndTenantID, subAlarm *domain.SubAlarm) {
	repo, e := r.findEvaluator(key, subAlarm.ID)
	if e == nil {
		slog.Error("Cannot update unknown sub-alarm", "key", key.String(), "sub_alarm_id", subAlarm.ID)
		return
	}

	old := e.SubAlarm()
	subAlarm.State = old.State
	subAlarm.NoState = true
	if old.IsCompatible(subAlarm) {
		subAlarm.Sporadic = old.Sporadic
		e.UpdateSubAlarm(subAlarm)
		slog.Info("Sub-alarm updated in place", "key", key.String(), "sub_alarm_id", subAlarm.ID)
		return
	}

	repo.Remove(subAlarm.ID)
	r.addEvaluator(repo, subAlarm, r.now())
	slog.Info("Sub-alarm replaced", "key", key.String(), "sub_alarm_id", subAlarm.ID)
}

// OnSubAlarmResend forces the next evaluation of a sub-alarm to be emitted, without
// touching its statistics.
func (r *Router) OnSubAlarmResend(key domain.MetricDefinitionAndTenantID, subAlarm *domain.SubAlarm) {
	_, e := r.findEvaluator(key, subAlarm.ID)
	if e == nil {
		slog.Error("Cannot resend unknown sub-alarm", "key", key.String(), "sub_alarm_id", subAlarm.ID)
		return
	}

	old := e.SubAlarm()
	if !old.IsCompatible(subAlarm) {
		// the window only holds statistics of the tracked function and period
		slog.Warn("Resent sub-alarm differs from the tracked one, keeping the tracked expression",
			"key", key.String(),
			"sub_alarm_id", subAlarm.ID,
			"tracked", old.Expression.String(),
			"resent", subAlarm.Expression.String(),
		)
		subAlarm.Expression = old.Expression
	}
	subAlarm.State = old.State
	subAlarm.NoState = true
	subAlarm.Sporadic = old.Sporadic
	e.UpdateSubAlarm(subAlarm)
	slog.Info("Sub-alarm marked for resend", "key", key.String(), "sub_alarm_id", subAlarm.ID)
}

// OnSubAlarmDeleted stops evaluating a sub-alarm and forgets the stream once nothing
// else watches it.
func (r *Router) OnSubAlarmDeleted(key domain.MetricDefinitionAndTenantID, subAlarmID string) {
	repo, e := r.findEvaluator(key, subAlarmID)
	if e == nil {
		slog.Error("Cannot delete unknown sub-alarm", "key", key.String(), "sub_alarm_id", subAlarmID)
		return
	}

	repo.Remove(subAlarmID)
	if repo.IsEmpty() {
		delete(r.repos, key.Key())
		slog.Info("Removed empty window repository", "key", key.String())
	}
	slog.Info("Sub-alarm deleted", "key", key.String(), "sub_alarm_id", subAlarmID)
}
