package analytics

import (
	"strings"
	"testing"

	"github.com/nulpointcorp/llmops/internal/audit"
)

func TestPassRateDelta(t *testing.T) {
	current := []audit.RunRecord{
		rec("a", "S1", true, ""),
		rec("b", "S1", false, "bad_json"),
	}
	baseline := []audit.RunRecord{
		rec("a", "S1", true, ""),
		rec("b", "S1", true, ""),
	}

	d := PassRateDelta(current, baseline, "")
	if d.Baseline != 100 || d.Current != 50 || d.Delta != -50 {
		t.Fatalf("delta = %+v", d)
	}
}

func TestPassRateDeltaEmptyCurrent(t *testing.T) {
	baseline := []audit.RunRecord{rec("a", "S1", true, "")}
	if d := PassRateDelta(nil, baseline, ""); d != (RateDelta{}) {
		t.Fatalf("empty current must yield zeros, got %+v", d)
	}
}

func TestPassRateDeltaEmptyBaseline(t *testing.T) {
	current := []audit.RunRecord{rec("a", "S1", true, "")}
	d := PassRateDelta(current, nil, "")
	if d.Baseline != 0 || d.Current != 100 || d.Delta != 100 {
		t.Fatalf("delta = %+v", d)
	}
}

func TestPassRateDeltaSeverityFilter(t *testing.T) {
	current := []audit.RunRecord{
		rec("a", "S1", true, ""),
		rec("b", "S2", false, "quality_fail"),
	}
	d := PassRateDelta(current, nil, "S1")
	if d.Current != 100 {
		t.Fatalf("S1 filter: %+v", d)
	}
	d = PassRateDelta(current, nil, "S2")
	if d.Current != 0 {
		t.Fatalf("S2 filter: %+v", d)
	}
}

func TestFailureTypeDelta(t *testing.T) {
	current := []audit.RunRecord{
		rec("a", "S1", false, "bad_json"),
		rec("b", "S1", false, "bad_json"),
		rec("c", "S2", false, "timeout"),
	}
	baseline := []audit.RunRecord{
		rec("a", "S1", false, "bad_json"),
		rec("d", "S2", false, "quality_fail"),
	}

	deltas := FailureTypeDelta(current, baseline)
	want := map[string]int{"bad_json": 1, "timeout": 1, "quality_fail": -1}
	if len(deltas) != len(want) {
		t.Fatalf("deltas = %v", deltas)
	}
	for ft, d := range want {
		if deltas[ft] != d {
			t.Errorf("delta[%s] = %d, want %d", ft, deltas[ft], d)
		}
	}
}

func TestTopRegressions(t *testing.T) {
	current := []audit.RunRecord{
		rec("dropped", "S2", false, "timeout"),
		rec("dropped", "S2", false, "timeout"),
		rec("half", "S2", true, ""),
		rec("half", "S2", false, "quality_fail"),
		rec("improved", "S2", true, ""),
		rec("stable", "S1", true, ""),
	}
	baseline := []audit.RunRecord{
		rec("dropped", "S2", true, ""),
		rec("half", "S2", true, ""),
		rec("improved", "S2", false, "timeout"),
		rec("stable", "S1", true, ""),
	}

	regs := TopRegressions(current, baseline, 5)

	// improved (delta > 0) is excluded; stable (delta 0) is kept.
	ids := make([]string, len(regs))
	for i, r := range regs {
		ids[i] = r.CaseID
	}
	if len(regs) != 3 || ids[0] != "dropped" || ids[1] != "half" {
		t.Fatalf("order = %v", ids)
	}
	if regs[0].Delta != -100 || regs[0].BaselineRate != 100 || regs[0].CurrentRate != 0 {
		t.Fatalf("dropped = %+v", regs[0])
	}
	if len(regs[0].FailureTypes) != 2 || regs[0].FailureTypes[0] != "timeout" {
		t.Fatalf("failure types = %v", regs[0].FailureTypes)
	}
}

func TestTopRegressionsNewCaseAssumedPassing(t *testing.T) {
	current := []audit.RunRecord{rec("brand-new", "S2", false, "bad_json")}

	regs := TopRegressions(current, nil, 5)
	if len(regs) != 1 {
		t.Fatalf("got %d regressions", len(regs))
	}
	if regs[0].BaselineRate != 100 || regs[0].Delta != -100 {
		t.Fatalf("new case must assume a passing baseline: %+v", regs[0])
	}
}

func TestTopRegressionsTieBreakS1First(t *testing.T) {
	current := []audit.RunRecord{
		rec("s2-case", "S2", false, "timeout"),
		rec("s1-case", "S1", false, "timeout"),
	}
	baseline := []audit.RunRecord{
		rec("s2-case", "S2", true, ""),
		rec("s1-case", "S1", true, ""),
	}

	regs := TopRegressions(current, baseline, 5)
	if regs[0].CaseID != "s1-case" {
		t.Fatalf("equal deltas must sort S1 first: %+v", regs)
	}
}

func TestTopRegressionsCap(t *testing.T) {
	current := []audit.RunRecord{
		rec("a", "S2", false, "timeout"),
		rec("b", "S2", false, "timeout"),
		rec("c", "S2", false, "timeout"),
	}
	if regs := TopRegressions(current, nil, 2); len(regs) != 2 {
		t.Fatalf("cap failed: %d", len(regs))
	}
}

func TestWorstRegression(t *testing.T) {
	current := []audit.RunRecord{
		rec("a", "S1", false, "bad_json"),
		rec("b", "S2", true, ""),
	}
	baseline := []audit.RunRecord{
		rec("a", "S1", true, ""),
		rec("b", "S2", true, ""),
	}

	desc, delta := WorstRegression(current, baseline)
	if delta == nil || *delta != -100 {
		t.Fatalf("delta = %v", delta)
	}
	if desc != "a (-100.00% vs baseline)" {
		t.Fatalf("desc = %q", desc)
	}
}

func TestWorstRegressionNoBaseline(t *testing.T) {
	current := []audit.RunRecord{rec("a", "S1", true, "")}
	desc, delta := WorstRegression(current, nil)
	if desc != "N/A (no baseline data)" || delta != nil {
		t.Fatalf("got %q, %v", desc, delta)
	}
}

func TestWorstRegressionNoOverlap(t *testing.T) {
	current := []audit.RunRecord{rec("a", "S1", true, "")}
	baseline := []audit.RunRecord{rec("b", "S1", true, "")}
	desc, delta := WorstRegression(current, baseline)
	if desc != "N/A (no comparable cases)" || delta != nil {
		t.Fatalf("got %q, %v", desc, delta)
	}
}

func TestOverallStatus(t *testing.T) {
	ptr := func(v float64) *float64 { return &v }
	healthy := SeverityRate{Rate: 100, Passed: 10, Total: 10}
	empty := SeverityRate{}

	tests := []struct {
		name       string
		overall    float64
		s1, s2     SeverityRate
		worstDelta *float64
		want       string
	}{
		{"all healthy", 99, healthy, healthy, nil, StatusStable},
		{"no severity data", 100, empty, empty, nil, StatusStable},
		{"small regression ok", 99, healthy, healthy, ptr(-0.5), StatusStable},
		{"regression breaks stable", 99, healthy, healthy, ptr(-2), StatusCaution},
		{"s1 below 98", 99, SeverityRate{Rate: 96, Total: 10}, healthy, nil, StatusCaution},
		{"overall below 95", 94, healthy, healthy, nil, StatusCritical},
		{"s1 below 95", 99, SeverityRate{Rate: 90, Total: 10}, healthy, nil, StatusCritical},
		{"deep regression", 99, healthy, healthy, ptr(-5), StatusCritical},
		{"middle ground", 96, healthy, healthy, nil, StatusCaution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OverallStatus(tt.overall, tt.s1, tt.s2, tt.worstDelta)
			if got != tt.want {
				t.Errorf("OverallStatus = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNextActionsExactlyThree(t *testing.T) {
	breakdown := []FailureCount{
		{Type: "timeout", Count: 5},
		{Type: "bad_json", Count: 3},
		{Type: "quality_fail", Count: 1},
		{Type: "loop", Count: 1},
	}
	actions := NextActions(breakdown, "", nil)
	if len(actions) != 3 {
		t.Fatalf("got %d actions", len(actions))
	}
	if !strings.Contains(actions[0], "timeout") {
		t.Fatalf("priority order broken: %v", actions)
	}
}

func TestNextActionsIncludesWorstRegression(t *testing.T) {
	delta := -40.0
	actions := NextActions([]FailureCount{{Type: "timeout", Count: 1}},
		"case-x (-40.00% vs baseline)", &delta)
	if len(actions) != 3 {
		t.Fatalf("got %d actions", len(actions))
	}
	if !strings.Contains(actions[1], "case-x") {
		t.Fatalf("worst regression missing: %v", actions)
	}
	if actions[2] != "Review regression thresholds" {
		t.Fatalf("padding missing: %v", actions)
	}
}

func TestNextActionsPadsWhenEmpty(t *testing.T) {
	actions := NextActions(nil, "", nil)
	if len(actions) != 3 {
		t.Fatalf("got %d actions", len(actions))
	}
	for _, a := range actions {
		if a != "Review regression thresholds" {
			t.Fatalf("unexpected padding: %v", actions)
		}
	}
}
