package analytics

import (
	"math"
	"sort"

	"github.com/nulpointcorp/llmops/internal/audit"
	"github.com/nulpointcorp/llmops/internal/catalog"
)

// CaseStability holds stability metrics for one case across repeated
// runs. A case is flaky when it has both passes and failures in the
// window.
type CaseStability struct {
	CaseID   string `json:"case_id"`
	Severity string `json:"severity"`
	Category string `json:"category"`

	TotalRuns  int     `json:"total_runs"`
	PassedRuns int     `json:"passed_runs"`
	FailedRuns int     `json:"failed_runs"`
	PassRate   float64 `json:"pass_rate"`
	IsFlaky    bool    `json:"is_flaky"`

	FailureTypes []string `json:"failure_types"`

	// Latency variability; nil when fewer than two latency samples.
	LatencyMeanMs *float64 `json:"latency_mean_ms,omitempty"`
	LatencyStdMs  *float64 `json:"latency_std_ms,omitempty"`
	LatencyCV     *float64 `json:"latency_cv,omitempty"`
}

// ComputeFlakiness computes per-case stability over records, keeping
// only cases with at least minRuns executions. Sorted flaky first, then
// by pass rate ascending, S1 before S2.
func ComputeFlakiness(records []audit.RunRecord, minRuns int) []CaseStability {
	if minRuns < 1 {
		minRuns = 1
	}
	byCase := make(map[string][]audit.RunRecord)
	for _, r := range records {
		byCase[r.CaseID] = append(byCase[r.CaseID], r)
	}

	var stats []CaseStability
	for caseID, runs := range byCase {
		if len(runs) < minRuns {
			continue
		}

		s := CaseStability{
			CaseID:    caseID,
			Severity:  catalog.CanonicalSeverity(runs[0].Severity),
			Category:  runs[0].Category,
			TotalRuns: len(runs),
		}

		ftSet := make(map[string]bool)
		var latencies []float64
		for _, r := range runs {
			if r.Passed {
				s.PassedRuns++
			} else if r.FailureType != "" {
				ftSet[r.FailureType] = true
			}
			if r.LatencyMs > 0 {
				latencies = append(latencies, r.LatencyMs)
			}
		}
		s.FailedRuns = s.TotalRuns - s.PassedRuns
		s.PassRate = float64(s.PassedRuns) / float64(s.TotalRuns) * 100
		s.IsFlaky = s.FailedRuns > 0 && s.FailedRuns < s.TotalRuns

		for ft := range ftSet {
			s.FailureTypes = append(s.FailureTypes, ft)
		}
		sort.Strings(s.FailureTypes)

		if len(latencies) >= 2 {
			mean := meanOf(latencies)
			std := stdevOf(latencies, mean)
			s.LatencyMeanMs = &mean
			s.LatencyStdMs = &std
			if mean > 0 {
				cv := std / mean
				s.LatencyCV = &cv
			}
		}

		stats = append(stats, s)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].IsFlaky != stats[j].IsFlaky {
			return stats[i].IsFlaky
		}
		if stats[i].PassRate != stats[j].PassRate {
			return stats[i].PassRate < stats[j].PassRate
		}
		si := stats[i].Severity == catalog.SeverityS1
		sj := stats[j].Severity == catalog.SeverityS1
		if si != sj {
			return si
		}
		return stats[i].CaseID < stats[j].CaseID
	})
	return stats
}

// FlakyCases returns only the flaky subset of ComputeFlakiness.
func FlakyCases(records []audit.RunRecord, minRuns int) []CaseStability {
	var out []CaseStability
	for _, s := range ComputeFlakiness(records, minRuns) {
		if s.IsFlaky {
			out = append(out, s)
		}
	}
	return out
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdevOf is the sample standard deviation.
func stdevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
