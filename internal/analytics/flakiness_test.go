package analytics

import (
	"math"
	"testing"

	"github.com/nulpointcorp/llmops/internal/audit"
)

func runRec(caseID, severity string, passed bool, failureType string, latency float64) audit.RunRecord {
	r := rec(caseID, severity, passed, failureType)
	r.LatencyMs = latency
	return r
}

func TestComputeFlakiness(t *testing.T) {
	records := []audit.RunRecord{
		runRec("flaky", "S2", true, "", 100),
		runRec("flaky", "S2", false, "timeout", 900),
		runRec("flaky", "S2", true, "", 110),
		runRec("solid", "S2", true, "", 100),
		runRec("solid", "S2", true, "", 100),
		runRec("broken", "S1", false, "bad_json", 100),
		runRec("broken", "S1", false, "bad_json", 100),
	}

	stats := ComputeFlakiness(records, 2)
	if len(stats) != 3 {
		t.Fatalf("got %d cases", len(stats))
	}
	if stats[0].CaseID != "flaky" || !stats[0].IsFlaky {
		t.Fatalf("flaky must sort first: %+v", stats[0])
	}
	if stats[0].PassedRuns != 2 || stats[0].FailedRuns != 1 {
		t.Fatalf("counts: %+v", stats[0])
	}
	if len(stats[0].FailureTypes) != 1 || stats[0].FailureTypes[0] != "timeout" {
		t.Fatalf("failure types: %v", stats[0].FailureTypes)
	}

	// All-fail and all-pass are consistent, not flaky.
	for _, s := range stats[1:] {
		if s.IsFlaky {
			t.Fatalf("case %s must not be flaky", s.CaseID)
		}
	}
	// Non-flaky tie-break: lower pass rate first.
	if stats[1].CaseID != "broken" || stats[2].CaseID != "solid" {
		t.Fatalf("order: %s, %s", stats[1].CaseID, stats[2].CaseID)
	}
}

func TestComputeFlakinessMinRuns(t *testing.T) {
	records := []audit.RunRecord{
		runRec("once", "S2", true, "", 100),
		runRec("thrice", "S2", true, "", 100),
		runRec("thrice", "S2", false, "timeout", 100),
		runRec("thrice", "S2", true, "", 100),
	}
	stats := ComputeFlakiness(records, 3)
	if len(stats) != 1 || stats[0].CaseID != "thrice" {
		t.Fatalf("min_runs filter: %+v", stats)
	}
}

func TestComputeFlakinessLatencyStats(t *testing.T) {
	records := []audit.RunRecord{
		runRec("a", "S2", true, "", 100),
		runRec("a", "S2", false, "timeout", 300),
	}
	stats := ComputeFlakiness(records, 2)
	s := stats[0]
	if s.LatencyMeanMs == nil || *s.LatencyMeanMs != 200 {
		t.Fatalf("mean = %v", s.LatencyMeanMs)
	}
	wantStd := math.Sqrt(20000) // sample stdev of {100, 300}
	if s.LatencyStdMs == nil || math.Abs(*s.LatencyStdMs-wantStd) > 1e-9 {
		t.Fatalf("std = %v, want %v", s.LatencyStdMs, wantStd)
	}
	if s.LatencyCV == nil || math.Abs(*s.LatencyCV-wantStd/200) > 1e-9 {
		t.Fatalf("cv = %v", s.LatencyCV)
	}
}

func TestComputeFlakinessSingleLatencySample(t *testing.T) {
	records := []audit.RunRecord{
		runRec("a", "S2", true, "", 100),
		runRec("a", "S2", false, "timeout", 0),
	}
	stats := ComputeFlakiness(records, 2)
	if stats[0].LatencyMeanMs != nil || stats[0].LatencyStdMs != nil {
		t.Fatalf("one sample must not produce stats: %+v", stats[0])
	}
}

func TestFlakyCases(t *testing.T) {
	records := []audit.RunRecord{
		runRec("flaky", "S2", true, "", 100),
		runRec("flaky", "S2", false, "timeout", 100),
		runRec("solid", "S2", true, "", 100),
		runRec("solid", "S2", true, "", 100),
	}
	out := FlakyCases(records, 2)
	if len(out) != 1 || out[0].CaseID != "flaky" {
		t.Fatalf("flaky subset: %+v", out)
	}
}

func TestMedianOf(t *testing.T) {
	if got := medianOf([]float64{3, 1, 2}); got != 2 {
		t.Errorf("odd median = %v", got)
	}
	if got := medianOf([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Errorf("even median = %v", got)
	}
	if got := medianOf(nil); got != 0 {
		t.Errorf("empty median = %v", got)
	}
}
