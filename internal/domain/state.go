package domain

import (
	"fmt"
	"strings"
)

// AlarmState is the state of an alarm or sub-alarm.
type AlarmState string

const (
	StateOK           AlarmState = "OK"
	StateAlarm        AlarmState = "ALARM"
	StateUndetermined AlarmState = "UNDETERMINED"
)

// Valid reports whether s is a known state.
func (s AlarmState) Valid() bool {
	switch s {
	case StateOK, StateAlarm, StateUndetermined:
		return true
	default:
		return false
	}
}

// ParseAlarmState parses a state name case-insensitively. An empty string is UNDETERMINED.
func ParseAlarmState(s string) (AlarmState, error) {
	if s == "" {
		return StateUndetermined, nil
	}
	state := AlarmState(strings.ToUpper(strings.TrimSpace(s)))
	if !state.Valid() {
		return "", fmt.Errorf("unknown alarm state %q", s)
	}
	return state, nil
}

// AggregateFunction selects the statistic computed for each window slot.
type AggregateFunction int

const (
	FunctionAvg AggregateFunction = iota
	FunctionMin
	FunctionMax
	FunctionSum
	FunctionCount
)

var functionNames = [...]string{"avg", "min", "max", "sum", "count"}

func (f AggregateFunction) String() string {
	if f < 0 || int(f) >= len(functionNames) {
		return fmt.Sprintf("AggregateFunction(%d)", int(f))
	}
	return functionNames[f]
}

// ParseAggregateFunction parses avg, min, max, sum or count, ignoring case.
func ParseAggregateFunction(s string) (AggregateFunction, error) {
	lower := strings.ToLower(s)
	for i, name := range functionNames {
		if name == lower {
			return AggregateFunction(i), nil
		}
	}
	return 0, fmt.Errorf("unknown function %q", s)
}

// AlarmOperator is the relational operator comparing a statistic to a threshold.
type AlarmOperator string

const (
	OperatorGT  AlarmOperator = ">"
	OperatorGTE AlarmOperator = ">="
	OperatorLT  AlarmOperator = "<"
	OperatorLTE AlarmOperator = "<="
)

// Valid reports whether op is supported.
func (op AlarmOperator) Valid() bool {
	switch op {
	case OperatorGT, OperatorGTE, OperatorLT, OperatorLTE:
		return true
	default:
		return false
	}
}

// Evaluate reports whether value satisfies "value op threshold".
func (op AlarmOperator) Evaluate(value, threshold float64) bool {
	switch op {
	case OperatorGT:
		return value > threshold
	case OperatorGTE:
		return value >= threshold
	case OperatorLT:
		return value < threshold
	case OperatorLTE:
		return value <= threshold
	default:
		return false
	}
}

// ParseAlarmOperator accepts symbolic (>, >=, <, <=) and word (gt, gte, lt, lte) forms.
func ParseAlarmOperator(s string) (AlarmOperator, error) {
	switch strings.ToLower(s) {
	case ">", "gt":
		return OperatorGT, nil
	case ">=", "gte":
		return OperatorGTE, nil
	case "<", "lt":
		return OperatorLT, nil
	case "<=", "lte":
		return OperatorLTE, nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}
