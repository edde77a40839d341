package report

import (
	"strings"
	"testing"
	"time"

	"github.com/nulpointcorp/llmops/internal/analytics"
	"github.com/nulpointcorp/llmops/internal/audit"
	"github.com/nulpointcorp/llmops/internal/gate"
)

var weekStart = time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)

func reportRec(caseID, severity, runID string, passed bool, failureType string) audit.RunRecord {
	return audit.RunRecord{
		CaseID:      caseID,
		Severity:    severity,
		RunID:       runID,
		Timestamp:   weekStart.Add(time.Hour),
		Passed:      passed,
		FailureType: failureType,
		Output:      "x",
		LatencyMs:   120,
		TokensIn:    50,
		TokensOut:   80,
		CostUSD:     0.002,
	}
}

func TestWeeklyWithBaseline(t *testing.T) {
	current := []audit.RunRecord{
		reportRec("a", "S1", "run-2", true, ""),
		reportRec("b", "S2", "run-2", false, "timeout"),
	}
	baseline := []audit.RunRecord{
		reportRec("a", "S1", "run-1", true, ""),
		reportRec("b", "S2", "run-1", true, ""),
	}

	md := Weekly(WeeklyInput{
		WeekStart: weekStart,
		WeekEnd:   weekStart.AddDate(0, 0, 6),
		Current:   current,
		Baseline:  baseline,
	})

	for _, want := range []string{
		"# Weekly Regression Report",
		"**Week:** 2026-08-17 to 2026-08-23",
		"## Week-over-Week Summary",
		"- Overall pass rate: 50.00% (previous: 100.00%) -> **-50.00%**",
		"## Executive Summary",
		"- Worst regression: b (-100.00% vs baseline)",
		"- Next actions:",
		"## Key Metrics",
		"- Runs: 1",
		"- Tasks executed: 2",
		"- Latency p50/p95: 120.00ms / 120.00ms",
		"- Cost per task: $0.002000",
		"  - timeout: 1 (100.0%)",
		"## Failure Type Changes (vs last week)",
		"- timeout: **+1**",
		"## Top Failures",
		"- b / timeout / 1 occurrences / suspected cause: infra/provider",
		"## Top Regressions (vs last week)",
		"| b | S2 |",
		"## Individual Runs",
		"### Run run-2",
		"- Pass Rate: 50.00%",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q\n---\n%s", want, md)
		}
	}
}

func TestWeeklyWithoutBaseline(t *testing.T) {
	current := []audit.RunRecord{reportRec("a", "S1", "run-1", true, "")}

	md := Weekly(WeeklyInput{
		WeekStart: weekStart,
		WeekEnd:   weekStart.AddDate(0, 0, 6),
		Current:   current,
	})

	for _, absent := range []string{
		"## Week-over-Week Summary",
		"## Failure Type Changes",
		"## Top Regressions",
	} {
		if strings.Contains(md, absent) {
			t.Errorf("baseline-only section %q must be absent", absent)
		}
	}
	if !strings.Contains(md, "- Worst regression: N/A (no baseline data)") {
		t.Errorf("missing N/A worst regression:\n%s", md)
	}
	if !strings.Contains(md, "(vs last week: N/A)") {
		t.Errorf("missing N/A severity delta:\n%s", md)
	}
	if !strings.Contains(md, "- Overall status: stable") {
		t.Errorf("missing status:\n%s", md)
	}
}

func TestWeeklyNoFailures(t *testing.T) {
	current := []audit.RunRecord{reportRec("a", "S2", "run-1", true, "")}
	md := Weekly(WeeklyInput{WeekStart: weekStart, WeekEnd: weekStart, Current: current})

	if !strings.Contains(md, "- no failures") {
		t.Errorf("missing empty top-failures marker:\n%s", md)
	}
	if !strings.Contains(md, "  - none") {
		t.Errorf("missing empty breakdown marker:\n%s", md)
	}
}

func TestCheckSummaryPass(t *testing.T) {
	result := &gate.CheckResult{
		CurrentRuns:  1,
		BaselineRuns: 2,
		OverallRate:  100,
		S1:           analytics.SeverityRate{Rate: 100, Passed: 3, Total: 3},
		S2:           analytics.SeverityRate{Rate: 100, Passed: 2, Total: 2},
		Thresholds: []gate.ThresholdResult{
			{Name: "S1 pass rate", Threshold: 100, Actual: 100, Passed: true, Detail: "3/3 passed"},
			{Name: "Overall pass rate", Threshold: 80, Actual: 100, Passed: true, Detail: "5/5 passed"},
		},
	}

	md := CheckSummary(result)
	for _, want := range []string{
		"## Deployment Gate Check",
		"**Gate:** ✅ PASS",
		"| S1 pass rate | 100.0% | 100.00% | ✅ 3/3 passed |",
		"- Current period runs: **1**",
		"- S1: **3/3** (100.00%)",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("summary missing %q\n---\n%s", want, md)
		}
	}
	if strings.Contains(md, "### Top Regressions") {
		t.Error("empty regressions must not render a section")
	}
}

func TestCheckSummaryFail(t *testing.T) {
	result := &gate.CheckResult{
		Thresholds: []gate.ThresholdResult{
			{Name: "Overall pass rate", Threshold: 80, Actual: 50, Passed: false, Detail: "1/2 passed"},
		},
		TopRegressions: []analytics.Regression{
			{CaseID: "a", Severity: "S1", BaselineRate: 100, CurrentRate: 0, Delta: -100,
				FailureTypes: []string{"bad_json"}},
		},
		CaseThresholds: []gate.ThresholdResult{
			{Name: "Case strict", Threshold: 90, Actual: 50, Passed: false, Detail: "min_pass_rate=90%"},
		},
	}

	md := CheckSummary(result)
	for _, want := range []string{
		"**Gate:** ❌ FAIL",
		"### Top Regressions",
		"- **a** [S1] 100% -> 0% (-100.0%) - bad_json",
		"### Case Threshold Violations",
		"- **Case strict**: 50.0% < 90% (min_pass_rate=90%)",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("summary missing %q\n---\n%s", want, md)
		}
	}
}
