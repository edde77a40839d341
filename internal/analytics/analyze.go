package analytics

import (
	"fmt"
	"sort"

	"github.com/nulpointcorp/llmops/internal/audit"
	"github.com/nulpointcorp/llmops/internal/catalog"
)

// RateDelta compares pass rates between two periods, in percent.
type RateDelta struct {
	Baseline float64 `json:"baseline"`
	Current  float64 `json:"current"`
	Delta    float64 `json:"delta"`
}

// PassRateDelta computes the baseline/current/delta pass rates,
// optionally filtered to one canonical severity. An empty current period
// yields all zeros; an empty baseline yields baseline 0 and delta equal
// to the current rate.
func PassRateDelta(current, baseline []audit.RunRecord, severity string) RateDelta {
	if severity != "" {
		current = filterSeverity(current, severity)
		baseline = filterSeverity(baseline, severity)
	}
	if len(current) == 0 {
		return RateDelta{}
	}

	var d RateDelta
	if len(baseline) > 0 {
		d.Baseline = passRate(baseline)
	}
	d.Current = passRate(current)
	d.Delta = d.Current - d.Baseline
	return d
}

func filterSeverity(records []audit.RunRecord, severity string) []audit.RunRecord {
	var out []audit.RunRecord
	for _, r := range records {
		if catalog.CanonicalSeverity(r.Severity) == severity {
			out = append(out, r)
		}
	}
	return out
}

func passRate(records []audit.RunRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	passed := 0
	for _, r := range records {
		if r.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(records)) * 100
}

// FailureTypeDelta maps every failure type seen in either period to
// current count minus baseline count.
func FailureTypeDelta(current, baseline []audit.RunRecord) map[string]int {
	count := func(records []audit.RunRecord) map[string]int {
		out := make(map[string]int)
		for _, r := range records {
			if !r.Passed {
				out[audit.FailureTypeOf(r)]++
			}
		}
		return out
	}

	cur, base := count(current), count(baseline)
	out := make(map[string]int)
	for t := range cur {
		out[t] = cur[t] - base[t]
	}
	for t := range base {
		if _, ok := out[t]; !ok {
			out[t] = -base[t]
		}
	}
	return out
}

// Regression is one case whose pass rate dropped (or failed to improve)
// against the baseline.
type Regression struct {
	CaseID       string   `json:"case_id"`
	Severity     string   `json:"severity"`
	Category     string   `json:"category"`
	BaselineRate float64  `json:"baseline_rate"`
	CurrentRate  float64  `json:"current_rate"`
	Delta        float64  `json:"delta"`
	FailureTypes []string `json:"failure_types"`
}

// TopRegressions returns up to topN cases with the largest pass-rate
// decrease. Cases absent from the baseline are treated as previously
// fully passing. Ties sort S1 first.
func TopRegressions(current, baseline []audit.RunRecord, topN int) []Regression {
	currentRates := CasePassRates(current)
	baselineRates := CasePassRates(baseline)

	type info struct{ severity, category string }
	caseInfo := make(map[string]info)
	for _, r := range append(append([]audit.RunRecord{}, current...), baseline...) {
		if _, ok := caseInfo[r.CaseID]; !ok {
			caseInfo[r.CaseID] = info{catalog.CanonicalSeverity(r.Severity), r.Category}
		}
	}

	var regressions []Regression
	for caseID, currentRate := range currentRates {
		baselineRate, ok := baselineRates[caseID]
		if !ok {
			baselineRate = 1.0 // new case: assume it was passing
		}
		delta := currentRate - baselineRate
		if delta > 0 {
			continue
		}

		var failureTypes []string
		for _, r := range current {
			if r.CaseID == caseID && !r.Passed && r.FailureType != "" {
				failureTypes = append(failureTypes, r.FailureType)
			}
		}

		ci := caseInfo[caseID]
		regressions = append(regressions, Regression{
			CaseID:       caseID,
			Severity:     ci.severity,
			Category:     ci.category,
			BaselineRate: baselineRate * 100,
			CurrentRate:  currentRate * 100,
			Delta:        delta * 100,
			FailureTypes: failureTypes,
		})
	}

	sort.Slice(regressions, func(i, j int) bool {
		if regressions[i].Delta != regressions[j].Delta {
			return regressions[i].Delta < regressions[j].Delta
		}
		si := regressions[i].Severity == catalog.SeverityS1
		sj := regressions[j].Severity == catalog.SeverityS1
		if si != sj {
			return si
		}
		return regressions[i].CaseID < regressions[j].CaseID
	})
	if len(regressions) > topN {
		regressions = regressions[:topN]
	}
	return regressions
}

// WorstRegression finds the case present in both periods with the most
// negative pass-rate delta. The returned description is display-ready;
// delta is nil when no comparison was possible.
func WorstRegression(current, baseline []audit.RunRecord) (string, *float64) {
	if len(baseline) == 0 {
		return "N/A (no baseline data)", nil
	}

	currentRates := CasePassRates(current)
	baselineRates := CasePassRates(baseline)

	worstID := ""
	var worstDelta float64
	found := false
	ids := make([]string, 0, len(currentRates))
	for id := range currentRates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		base, ok := baselineRates[id]
		if !ok {
			continue
		}
		delta := (currentRates[id] - base) * 100
		if !found || delta < worstDelta {
			worstID, worstDelta, found = id, delta, true
		}
	}
	if !found {
		return "N/A (no comparable cases)", nil
	}
	return fmt.Sprintf("%s (%+.2f%% vs baseline)", worstID, worstDelta), &worstDelta
}

// Status buckets for the deployment verdict.
const (
	StatusStable   = "stable"
	StatusCaution  = "caution"
	StatusCritical = "critical"
)

// OverallStatus classifies the period. Severity buckets with no records
// are vacuously healthy.
func OverallStatus(overall float64, s1, s2 SeverityRate, worstDelta *float64) string {
	s1OK := s1.Total == 0 || s1.Rate >= 98
	s2OK := s2.Total == 0 || s2.Rate >= 98
	if overall >= 98 && s1OK && s2OK && (worstDelta == nil || *worstDelta >= -1) {
		return StatusStable
	}
	if overall < 95 ||
		(s1.Total > 0 && s1.Rate < 95) ||
		(worstDelta != nil && *worstDelta <= -5) {
		return StatusCritical
	}
	return StatusCaution
}

// actionPriority orders failure types by how urgently they need a human.
var actionPriority = []struct{ failureType, action string }{
	{"timeout", "Frequent timeouts: investigate infra/provider latency"},
	{"bad_json", "Invalid JSON output: adjust the prompt or schema"},
	{"loop", "Loops detected: revisit tool/routing stop conditions"},
	{"policy_violation", "Policy violations: recheck safety rules"},
	{"quality_fail", "Quality drop: improve the prompt or evaluation logic"},
	{"provider_error", "Provider failures: review retry and fallback settings"},
}

// NextActions suggests exactly three follow-ups from the failure
// breakdown and the worst regression.
func NextActions(breakdown []FailureCount, worstDesc string, worstDelta *float64) []string {
	present := make(map[string]bool, len(breakdown))
	for _, fc := range breakdown {
		present[fc.Type] = true
	}

	var actions []string
	for _, p := range actionPriority {
		if present[p.failureType] {
			actions = append(actions, p.action)
		}
	}
	if worstDelta != nil {
		actions = append(actions, "Investigate the worst regression: "+worstDesc)
	}
	for len(actions) < 3 {
		actions = append(actions, "Review regression thresholds")
	}
	return actions[:3]
}
