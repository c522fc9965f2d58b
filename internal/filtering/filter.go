// Package filtering decides which incoming metrics are routed to the aggregation stage and
// tracks how far behind wall-clock time those metrics arrive.
package filtering

import (
	"sync"

	"thresholder/internal/domain"
)

type filterEntry struct {
	key         domain.MetricDefinitionAndTenantID
	subAlarmIDs map[string]struct{}
}

// DefinitionFilter is the set of metric streams referenced by live sub-alarms. A stream
// stays registered while at least one sub-alarm references it. Safe for concurrent use.
type DefinitionFilter struct {
	mu sync.RWMutex
	// tenant and metric name -> key -> entry
	byName map[string]map[string]*filterEntry
	size   int
}

// NewDefinitionFilter creates an empty filter.
func NewDefinitionFilter() *DefinitionFilter {
	return &DefinitionFilter{byName: make(map[string]map[string]*filterEntry)}
}

func nameKey(tenantID, name string) string {
	return tenantID + "\x1f" + name
}

// Add registers subAlarmID as a reader of key. It reports whether key was new.
func (f *DefinitionFilter) Add(key domain.MetricDefinitionAndTenantID, subAlarmID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	nk := nameKey(key.TenantID, key.Definition.Name)
	entries, ok := f.byName[nk]
	if !ok {
		entries = make(map[string]*filterEntry)
		f.byName[nk] = entries
	}
	entry, ok := entries[key.Key()]
	if !ok {
		entry = &filterEntry{key: key, subAlarmIDs: make(map[string]struct{})}
		entries[key.Key()] = entry
		f.size++
	}
	entry.subAlarmIDs[subAlarmID] = struct{}{}
	return !ok
}

// Remove unregisters subAlarmID from key. It reports whether key was dropped because no
// sub-alarm references it anymore.
func (f *DefinitionFilter) Remove(key domain.MetricDefinitionAndTenantID, subAlarmID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	nk := nameKey(key.TenantID, key.Definition.Name)
	entries, ok := f.byName[nk]
	if !ok {
		return false
	}
	entry, ok := entries[key.Key()]
	if !ok {
		return false
	}
	delete(entry.subAlarmIDs, subAlarmID)
	if len(entry.subAlarmIDs) > 0 {
		return false
	}
	delete(entries, key.Key())
	if len(entries) == 0 {
		delete(f.byName, nk)
	}
	f.size--
	return true
}

// Match returns every registered key that a metric of tenantID with definition def feeds.
func (f *DefinitionFilter) Match(tenantID string, def domain.MetricDefinition) []domain.MetricDefinitionAndTenantID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var keys []domain.MetricDefinitionAndTenantID
	for _, entry := range f.byName[nameKey(tenantID, def.Name)] {
		if entry.key.Definition.Matches(def) {
			keys = append(keys, entry.key)
		}
	}
	return keys
}

// Size returns the number of registered keys.
func (f *DefinitionFilter) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size
}
