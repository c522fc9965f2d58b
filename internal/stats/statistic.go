// Package stats implements the time-bucketed statistic ring that backs every sub-alarm.
package stats

import (
	"math"

	"thresholder/internal/domain"
)

// Statistic accumulates the values of one slot. The function is fixed at construction.
type Statistic struct {
	fn    domain.AggregateFunction
	count int
	sum   float64
	min   float64
	max   float64
}

// NewStatistic returns an empty statistic for fn.
func NewStatistic(fn domain.AggregateFunction) Statistic {
	return Statistic{fn: fn}
}

// Add folds v into the statistic.
func (s *Statistic) Add(v float64) {
	if s.count == 0 || v < s.min {
		s.min = v
	}
	if s.count == 0 || v > s.max {
		s.max = v
	}
	s.count++
	s.sum += v
}

// Initialized reports whether at least one value has been added.
func (s *Statistic) Initialized() bool {
	return s.count > 0
}

// Value returns the statistic, or NaN when no values were added.
func (s *Statistic) Value() float64 {
	if s.count == 0 {
		return math.NaN()
	}
	switch s.fn {
	case domain.FunctionMin:
		return s.min
	case domain.FunctionMax:
		return s.max
	case domain.FunctionSum:
		return s.sum
	case domain.FunctionCount:
		return float64(s.count)
	default:
		return s.sum / float64(s.count)
	}
}

// Reset clears all accumulated values.
func (s *Statistic) Reset() {
	*s = Statistic{fn: s.fn}
}
