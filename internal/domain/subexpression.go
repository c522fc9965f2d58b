package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// DefaultPeriod is the evaluation period in seconds when an expression does not name one.
	DefaultPeriod = 60
	// MaxPeriods bounds "times", which sizes the statistics window of every evaluator.
	MaxPeriods = 1440
	// MaxWindowSeconds bounds period * periods to two weeks.
	MaxWindowSeconds = 14 * 24 * 3600
)

// AlarmSubExpression is one threshold condition: fn(metric, period) op threshold times periods.
type AlarmSubExpression struct {
	Function   AggregateFunction
	Definition MetricDefinition
	Operator   AlarmOperator
	Threshold  float64
	// Period is the bucket width in seconds.
	Period int
	// Periods is how many consecutive buckets must agree before the state changes.
	Periods int
}

// Validate checks the structural constraints of the expression.
func (e AlarmSubExpression) Validate() error {
	if e.Definition.Name == "" {
		return fmt.Errorf("metric name cannot be empty")
	}
	if !e.Operator.Valid() {
		return fmt.Errorf("invalid operator %q", e.Operator)
	}
	if e.Period <= 0 {
		return fmt.Errorf("period must be positive, got %d", e.Period)
	}
	if e.Periods < 1 {
		return fmt.Errorf("periods must be at least 1, got %d", e.Periods)
	}
	if e.Periods > MaxPeriods {
		return fmt.Errorf("periods must be at most %d, got %d", MaxPeriods, e.Periods)
	}
	if e.Period > MaxWindowSeconds || int64(e.Period)*int64(e.Periods) > MaxWindowSeconds {
		return fmt.Errorf("period %d times %d exceeds the %ds window limit", e.Period, e.Periods, MaxWindowSeconds)
	}
	if math.IsNaN(e.Threshold) || math.IsInf(e.Threshold, 0) {
		return fmt.Errorf("threshold must be finite")
	}
	return nil
}

// Evaluate reports whether value crosses the threshold.
func (e AlarmSubExpression) Evaluate(value float64) bool {
	return e.Operator.Evaluate(value, e.Threshold)
}

// String renders the canonical form, for example avg(cpu{host=a}, 120) > 5.0 times 3.
// The period is omitted when it is the default and "times" when periods is 1.
func (e AlarmSubExpression) String() string {
	var b strings.Builder
	b.WriteString(e.Function.String())
	b.WriteByte('(')
	b.WriteString(e.Definition.String())
	if e.Period != DefaultPeriod {
		b.WriteString(", ")
		b.WriteString(strconv.Itoa(e.Period))
	}
	b.WriteString(") ")
	b.WriteString(string(e.Operator))
	b.WriteByte(' ')
	b.WriteString(FormatThreshold(e.Threshold))
	if e.Periods > 1 {
		b.WriteString(" times ")
		b.WriteString(strconv.Itoa(e.Periods))
	}
	return b.String()
}

// FormatThreshold renders integral values with one decimal (5.0) and others in their
// shortest form.
func FormatThreshold(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseSubExpression parses a single sub-expression.
func ParseSubExpression(s string) (AlarmSubExpression, error) {
	p, err := newParser(s)
	if err != nil {
		return AlarmSubExpression{}, err
	}
	sub, err := p.parseSubExpression()
	if err != nil {
		return AlarmSubExpression{}, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return AlarmSubExpression{}, p.errorf(tok, "unexpected %q after sub-expression", tok.text)
	}
	return sub, nil
}
