// Package aggregation routes metric samples into per-sub-alarm statistic windows and
// evaluates those windows on every tick.
package aggregation

import (
	"math"

	"thresholder/internal/domain"
	"thresholder/internal/stats"
)

// SubAlarmEvaluator owns the statistics window of one sub-alarm and drives its state.
type SubAlarmEvaluator struct {
	subAlarm *domain.SubAlarm
	window   *stats.Window
}

// NewSubAlarmEvaluator creates an evaluator whose window view ends at viewEnd.
func NewSubAlarmEvaluator(subAlarm *domain.SubAlarm, viewEnd int64) *SubAlarmEvaluator {
	expr := subAlarm.Expression
	return &SubAlarmEvaluator{
		subAlarm: subAlarm,
		window:   stats.NewWindow(expr.Function, int64(expr.Period), expr.Periods, viewEnd),
	}
}

// SubAlarm returns the evaluated sub-alarm. Callers must not retain it across goroutines;
// use Clone for that.
func (e *SubAlarmEvaluator) SubAlarm() *domain.SubAlarm {
	return e.subAlarm
}

// Window exposes the statistics window.
func (e *SubAlarmEvaluator) Window() *stats.Window {
	return e.window
}

// AddValue folds a sample into the window. False means the sample was too old or too far
// in the future and has been dropped.
func (e *SubAlarmEvaluator) AddValue(value float64, timestamp int64) bool {
	return e.window.AddValue(value, timestamp)
}

// SlideWindow advances the window to timestamp without evaluating.
func (e *SubAlarmEvaluator) SlideWindow(timestamp int64) {
	e.window.SlideTo(timestamp)
}

// EvaluateAndSlideWindow evaluates the completed view slots and then slides the window to
// timestamp. It returns true when the sub-alarm must be emitted: its state changed or a
// resend was forced. While timestamp is still before the view end the newest slot is
// incomplete and nothing happens.
func (e *SubAlarmEvaluator) EvaluateAndSlideWindow(timestamp int64) bool {
	if timestamp < e.window.ViewEnd() {
		return false
	}
	emit := e.evaluate()
	e.window.SlideTo(timestamp)
	return emit
}

func (e *SubAlarmEvaluator) evaluate() bool {
	expr := e.subAlarm.Expression
	var alarms, oks, empty int
	for _, v := range e.window.ViewValues() {
		switch {
		case math.IsNaN(v):
			empty++
		case expr.Evaluate(v):
			alarms++
		default:
			oks++
		}
	}

	newState := e.subAlarm.State
	switch {
	case empty > 0 && !e.subAlarm.Sporadic:
		newState = domain.StateUndetermined
	case alarms > 0 && oks == 0:
		newState = domain.StateAlarm
	case oks > 0 && alarms == 0:
		newState = domain.StateOK
	}
	// mixed OK and ALARM slots keep the current state

	if newState == e.subAlarm.State && !e.subAlarm.NoState {
		return false
	}
	e.subAlarm.State = newState
	e.subAlarm.NoState = false
	return true
}

// UpdateSubAlarm replaces the sub-alarm metadata while keeping collected statistics. The
// caller guarantees the new sub-alarm is compatible with the current one.
func (e *SubAlarmEvaluator) UpdateSubAlarm(subAlarm *domain.SubAlarm) {
	e.subAlarm = subAlarm
	e.window.Resize(subAlarm.Expression.Periods)
}

func (e *SubAlarmEvaluator) String() string {
	return "SubAlarmEvaluator{" + e.subAlarm.String() + ", " + e.window.String() + "}"
}
