package alarm

import (
	"testing"

	"thresholder/internal/domain"
)

const (
	cpuExpr = "avg(hpcs.compute{instance_id=5, metric_name=cpu, device=1}, 1) > 5 times 3"
	memExpr = "avg(hpcs.compute{flavor_id=3, metric_name=mem}, 2) < 4 times 3"

	cpuCanonical = "avg(hpcs.compute{device=1, instance_id=5, metric_name=cpu}, 1) > 5.0 times 3"
	memCanonical = "avg(hpcs.compute{flavor_id=3, metric_name=mem}, 2) < 4.0 times 3"
)

func newTestAlarm(t *testing.T, op string) (*Alarm, *domain.SubAlarm, *domain.SubAlarm) {
	t.Helper()
	expr, err := domain.ParseAlarmExpression(cpuExpr + " " + op + " " + memExpr)
	if err != nil {
		t.Fatalf("ParseAlarmExpression() error = %v", err)
	}
	subs := expr.SubExpressions()
	sa1 := domain.NewSubAlarmWithState("111", "123", *subs[0], domain.StateUndetermined)
	sa2 := domain.NewSubAlarmWithState("222", "123", *subs[1], domain.StateUndetermined)
	a := NewAlarm("123", "bob", "90% CPU", expr, []*domain.SubAlarm{sa1, sa2}, domain.StateUndetermined)
	return a, sa1, sa2
}

type reducerStep struct {
	s1, s2      domain.AlarmState
	wantChanged bool
	wantState   domain.AlarmState
}

func runSteps(t *testing.T, a *Alarm, sa1, sa2 *domain.SubAlarm, steps []reducerStep) {
	t.Helper()
	for i, step := range steps {
		sa1.State, sa2.State = step.s1, step.s2
		if got := a.Evaluate(); got != step.wantChanged {
			t.Errorf("step %d (%s, %s): Evaluate() = %v, want %v", i, step.s1, step.s2, got, step.wantChanged)
		}
		if a.State != step.wantState {
			t.Errorf("step %d (%s, %s): state = %s, want %s", i, step.s1, step.s2, a.State, step.wantState)
		}
	}
}

func TestAlarm_EvaluateAnd(t *testing.T) {
	a, sa1, sa2 := newTestAlarm(t, "AND")
	ok, alarm, und := domain.StateOK, domain.StateAlarm, domain.StateUndetermined

	runSteps(t, a, sa1, sa2, []reducerStep{
		{und, und, false, und},
		{ok, und, false, und},
		{ok, ok, true, ok},
		{ok, alarm, false, ok},
		{alarm, alarm, true, alarm},
		{und, alarm, true, und},
	})

	want := "No data was present for the sub-alarms: [" + cpuCanonical + "]"
	if a.StateChangeReason != want {
		t.Errorf("StateChangeReason = %q, want %q", a.StateChangeReason, want)
	}
}

func TestAlarm_UndeterminedAndAlarmStaysUndetermined(t *testing.T) {
	a, sa1, sa2 := newTestAlarm(t, "AND")
	sa1.State = domain.StateUndetermined
	sa2.State = domain.StateAlarm

	if a.Evaluate() {
		t.Error("Evaluate() = true, want false for an alarm that was already UNDETERMINED")
	}
	if a.State != domain.StateUndetermined {
		t.Errorf("state = %s, want UNDETERMINED", a.State)
	}
}

func TestAlarm_EvaluateOr(t *testing.T) {
	a, sa1, sa2 := newTestAlarm(t, "OR")
	ok, alarm, und := domain.StateOK, domain.StateAlarm, domain.StateUndetermined

	runSteps(t, a, sa1, sa2, []reducerStep{
		{alarm, und, false, und},
		{alarm, ok, true, alarm},
		{ok, ok, true, ok},
		{ok, alarm, true, alarm},
		{ok, und, true, und},
	})
}

func TestAlarm_Reasons(t *testing.T) {
	a, sa1, sa2 := newTestAlarm(t, "OR")

	sa1.State, sa2.State = domain.StateOK, domain.StateAlarm
	a.Evaluate()
	if want := "Thresholds were exceeded for the sub-alarms: [" + memCanonical + "]"; a.StateChangeReason != want {
		t.Errorf("ALARM reason = %q, want %q", a.StateChangeReason, want)
	}

	sa2.State = domain.StateOK
	a.Evaluate()
	if want := "Thresholds are no longer exceeded for the sub-alarms: [" + cpuCanonical + ", " + memCanonical + "]"; a.StateChangeReason != want {
		t.Errorf("OK reason = %q, want %q", a.StateChangeReason, want)
	}
}

func TestBuildStateChangeReason(t *testing.T) {
	tests := []struct {
		state domain.AlarmState
		exprs []string
		want  string
	}{
		{domain.StateUndetermined, []string{"a", "b"}, "No data was present for the sub-alarms: [a, b]"},
		{domain.StateAlarm, []string{"a"}, "Thresholds were exceeded for the sub-alarms: [a]"},
		{domain.StateOK, nil, "Thresholds are no longer exceeded for the sub-alarms: []"},
	}
	for _, tt := range tests {
		if got := BuildStateChangeReason(tt.state, tt.exprs); got != tt.want {
			t.Errorf("BuildStateChangeReason(%s) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestAlarm_SubAlarm(t *testing.T) {
	a, sa1, _ := newTestAlarm(t, "AND")
	if a.SubAlarm("111") != sa1 {
		t.Error("SubAlarm(111) did not return the first sub-alarm")
	}
	if a.SubAlarm("999") != nil {
		t.Error("SubAlarm(999) != nil")
	}
}

func TestAlarm_RepeatedSubExpressionsBindInOrder(t *testing.T) {
	expr, err := domain.ParseAlarmExpression("avg(cpu{host=a}) > 5 or avg(cpu{host=a}) > 5")
	if err != nil {
		t.Fatalf("ParseAlarmExpression() error = %v", err)
	}
	subs := expr.SubExpressions()
	sa1 := domain.NewSubAlarmWithState("111", "123", *subs[0], domain.StateAlarm)
	sa2 := domain.NewSubAlarmWithState("222", "123", *subs[1], domain.StateOK)
	a := NewAlarm("123", "bob", "cpu twice", expr, []*domain.SubAlarm{sa1, sa2}, domain.StateOK)

	if !a.Evaluate() || a.State != domain.StateAlarm {
		t.Fatalf("state = %s, want ALARM when the first leaf alarms", a.State)
	}

	sa1.State, sa2.State = domain.StateOK, domain.StateAlarm
	a.State = domain.StateOK
	if !a.Evaluate() || a.State != domain.StateAlarm {
		t.Errorf("state = %s, want ALARM when the second leaf alarms", a.State)
	}
}

func TestAlarm_SharedSubAlarmForRepeatedLeaves(t *testing.T) {
	expr, err := domain.ParseAlarmExpression("avg(cpu) > 5 and (avg(cpu) > 5 or max(mem) > 1)")
	if err != nil {
		t.Fatalf("ParseAlarmExpression() error = %v", err)
	}
	subs := expr.SubExpressions()
	cpu := domain.NewSubAlarmWithState("111", "123", *subs[0], domain.StateAlarm)
	mem := domain.NewSubAlarmWithState("222", "123", *subs[2], domain.StateOK)
	a := NewAlarm("123", "bob", "cpu", expr, []*domain.SubAlarm{cpu, mem}, domain.StateOK)

	if !a.Evaluate() || a.State != domain.StateAlarm {
		t.Errorf("state = %s, want ALARM with one sub-alarm behind both cpu leaves", a.State)
	}
}
