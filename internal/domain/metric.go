// Package domain holds the data types shared by every stage of the thresholder: metric
// definitions, alarm expressions, sub-alarms and their states.
package domain

import (
	"sort"
	"strings"
)

// MetricDefinition identifies a metric stream: a name plus an unordered set of dimensions.
type MetricDefinition struct {
	Name       string            `json:"name"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

// NewMetricDefinition builds a definition, copying the dimension map.
func NewMetricDefinition(name string, dimensions map[string]string) MetricDefinition {
	dims := make(map[string]string, len(dimensions))
	for k, v := range dimensions {
		dims[k] = v
	}
	return MetricDefinition{Name: name, Dimensions: dims}
}

// SortedDimensionKeys returns the dimension keys in ascending order.
func (d MetricDefinition) SortedDimensionKeys() []string {
	keys := make([]string, 0, len(d.Dimensions))
	for k := range d.Dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both definitions have the same name and dimension set.
func (d MetricDefinition) Equal(other MetricDefinition) bool {
	if d.Name != other.Name || len(d.Dimensions) != len(other.Dimensions) {
		return false
	}
	for k, v := range d.Dimensions {
		if ov, ok := other.Dimensions[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Matches reports whether a metric with definition other belongs to d: same name, and
// every dimension of d present in other with an equal value. other may carry extra
// dimensions.
func (d MetricDefinition) Matches(other MetricDefinition) bool {
	if d.Name != other.Name {
		return false
	}
	for k, v := range d.Dimensions {
		if ov, ok := other.Dimensions[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// String renders name{k1=v1, k2=v2} with dimensions sorted by key.
func (d MetricDefinition) String() string {
	if len(d.Dimensions) == 0 {
		return d.Name
	}
	var b strings.Builder
	b.WriteString(d.Name)
	b.WriteByte('{')
	for i, k := range d.SortedDimensionKeys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(d.Dimensions[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Metric is a single timestamped sample. Timestamp is in epoch seconds.
type Metric struct {
	Definition MetricDefinition
	Timestamp  int64
	Value      float64
}

// MetricDefinitionAndTenantID is the routing key: identical definitions owned by
// different tenants are distinct streams.
type MetricDefinitionAndTenantID struct {
	Definition MetricDefinition
	TenantID   string
}

// keySeparator cannot appear in names or dimensions accepted by the expression parser.
const keySeparator = "\x1f"

// Key returns a canonical string usable as a map key.
func (k MetricDefinitionAndTenantID) Key() string {
	var b strings.Builder
	b.WriteString(k.TenantID)
	b.WriteString(keySeparator)
	b.WriteString(k.Definition.Name)
	for _, dk := range k.Definition.SortedDimensionKeys() {
		b.WriteString(keySeparator)
		b.WriteString(dk)
		b.WriteByte('=')
		b.WriteString(k.Definition.Dimensions[dk])
	}
	return b.String()
}

func (k MetricDefinitionAndTenantID) String() string {
	return k.TenantID + ":" + k.Definition.String()
}
