package aggregation

import (
	"sort"

	"thresholder/internal/domain"
)

// WindowRepository holds every sub-alarm evaluator fed by one metric stream.
type WindowRepository struct {
	key        domain.MetricDefinitionAndTenantID
	evaluators map[string]*SubAlarmEvaluator
}

// NewWindowRepository creates an empty repository for key.
func NewWindowRepository(key domain.MetricDefinitionAndTenantID) *WindowRepository {
	return &WindowRepository{
		key:        key,
		evaluators: make(map[string]*SubAlarmEvaluator),
	}
}

// Key returns the routing key of the repository.
func (r *WindowRepository) Key() domain.MetricDefinitionAndTenantID {
	return r.key
}

// Add registers a new evaluator for subAlarm, replacing any evaluator with the same id.
func (r *WindowRepository) Add(subAlarm *domain.SubAlarm, viewEnd int64) *SubAlarmEvaluator {
	e := NewSubAlarmEvaluator(subAlarm, viewEnd)
	r.evaluators[subAlarm.ID] = e
	return e
}

// Get returns the evaluator for a sub-alarm id, or nil.
func (r *WindowRepository) Get(subAlarmID string) *SubAlarmEvaluator {
	return r.evaluators[subAlarmID]
}

// Remove drops the evaluator for a sub-alarm id and reports whether it existed.
func (r *WindowRepository) Remove(subAlarmID string) bool {
	if _, ok := r.evaluators[subAlarmID]; !ok {
		return false
	}
	delete(r.evaluators, subAlarmID)
	return true
}

// Len returns the number of evaluators.
func (r *WindowRepository) Len() int {
	return len(r.evaluators)
}

// IsEmpty reports whether the repository has no evaluators left.
func (r *WindowRepository) IsEmpty() bool {
	return len(r.evaluators) == 0
}

// Evaluators returns the evaluators ordered by sub-alarm id.
func (r *WindowRepository) Evaluators() []*SubAlarmEvaluator {
	ids := make([]string, 0, len(r.evaluators))
	for id := range r.evaluators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*SubAlarmEvaluator, len(ids))
	for i, id := range ids {
		out[i] = r.evaluators[id]
	}
	return out
}
