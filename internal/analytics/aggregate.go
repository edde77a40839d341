// Package analytics computes pass rates, latency percentiles, cost
// metrics, regression deltas, flakiness, and failure explanations from
// flat lists of run records. Everything here is a pure function; reading
// and rendering live elsewhere.
package analytics

import (
	"fmt"
	"math"
	"sort"

	"github.com/nulpointcorp/llmops/internal/audit"
	"github.com/nulpointcorp/llmops/internal/catalog"
)

// SeverityRate is a pass rate within one severity bucket. Total 0 means
// no records of that severity existed; display as N/A, never as zero.
type SeverityRate struct {
	Rate   float64 `json:"rate"`
	Passed int     `json:"passed"`
	Total  int     `json:"total"`
}

func (s SeverityRate) String() string {
	if s.Total == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", s.Rate)
}

// FailureCount is one entry of the failure-type histogram.
type FailureCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// TopFailure is one recurring (case, failure type) pair with its
// suspected root cause.
type TopFailure struct {
	CaseID         string `json:"case_id"`
	FailureType    string `json:"failure_type"`
	Severity       string `json:"severity"`
	Count          int    `json:"count"`
	SuspectedCause string `json:"suspected_cause"`
}

// Summary is the aggregate view of one set of run records.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`

	PassRate float64      `json:"pass_rate"`
	S1       SeverityRate `json:"s1"`
	S2       SeverityRate `json:"s2"`

	LatencyP50Ms float64 `json:"latency_p50_ms"`
	LatencyP95Ms float64 `json:"latency_p95_ms"`

	TotalCostUSD float64 `json:"total_cost_usd"`
	CostPerTask  float64 `json:"cost_per_task_usd"`
	TotalTokens  int     `json:"total_tokens"`

	FailureBreakdown []FailureCount `json:"failure_breakdown"`
	TopFailures      []TopFailure   `json:"top_failures"`
}

const topFailureLimit = 10

// Aggregate computes the full summary over records.
func Aggregate(records []audit.RunRecord) Summary {
	s := Summary{
		Total: len(records),
		S1:    SeverityPassRate(records, catalog.SeverityS1),
		S2:    SeverityPassRate(records, catalog.SeverityS2),
	}

	latencies := make([]float64, 0, len(records))
	for _, r := range records {
		if r.Passed {
			s.Passed++
		}
		if r.LatencyMs > 0 {
			latencies = append(latencies, r.LatencyMs)
		}
		s.TotalCostUSD += r.CostUSD
		s.TotalTokens += r.TokensIn + r.TokensOut
	}
	s.Failed = s.Total - s.Passed

	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total) * 100
		s.CostPerTask = s.TotalCostUSD / float64(s.Total)
	}
	s.LatencyP50Ms = Percentile(latencies, 50)
	s.LatencyP95Ms = Percentile(latencies, 95)

	s.FailureBreakdown = FailureBreakdown(records)
	s.TopFailures = TopFailures(records, topFailureLimit)
	return s
}

// CasePassRates returns passed/total per case ID, in [0,1].
func CasePassRates(records []audit.RunRecord) map[string]float64 {
	passed := make(map[string]int)
	total := make(map[string]int)
	for _, r := range records {
		total[r.CaseID]++
		if r.Passed {
			passed[r.CaseID]++
		}
	}
	out := make(map[string]float64, len(total))
	for id, t := range total {
		out[id] = float64(passed[id]) / float64(t)
	}
	return out
}

// SeverityPassRate computes the pass rate among records of one canonical
// severity bucket.
func SeverityPassRate(records []audit.RunRecord, severity string) SeverityRate {
	var s SeverityRate
	for _, r := range records {
		if catalog.CanonicalSeverity(r.Severity) != severity {
			continue
		}
		s.Total++
		if r.Passed {
			s.Passed++
		}
	}
	if s.Total > 0 {
		s.Rate = float64(s.Passed) / float64(s.Total) * 100
	}
	return s
}

// Percentile returns the pct-th percentile of values using the 1-based
// position ceil(pct/100*N). Empty input yields 0.
func Percentile(values []float64, pct int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Ceil(float64(pct)/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// FailureBreakdown counts failed records per failure bucket, sorted by
// count descending (ties by name for stable output).
func FailureBreakdown(records []audit.RunRecord) []FailureCount {
	counts := make(map[string]int)
	for _, r := range records {
		if r.Passed {
			continue
		}
		counts[audit.FailureTypeOf(r)]++
	}

	out := make([]FailureCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, FailureCount{Type: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// TopFailures returns the most frequent failing (case, failure type)
// pairs: S1 first, then by count descending, capped at limit.
func TopFailures(records []audit.RunRecord, limit int) []TopFailure {
	type key struct{ caseID, failureType string }
	counts := make(map[key]int)
	severities := make(map[key]string)
	for _, r := range records {
		if r.Passed {
			continue
		}
		k := key{r.CaseID, audit.FailureTypeOf(r)}
		counts[k]++
		severities[k] = catalog.CanonicalSeverity(r.Severity)
	}

	out := make([]TopFailure, 0, len(counts))
	for k, c := range counts {
		out = append(out, TopFailure{
			CaseID:         k.caseID,
			FailureType:    k.failureType,
			Severity:       severities[k],
			Count:          c,
			SuspectedCause: SuspectedCause(k.failureType),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		si := out[i].Severity == catalog.SeverityS1
		sj := out[j].Severity == catalog.SeverityS1
		if si != sj {
			return si
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].CaseID != out[j].CaseID {
			return out[i].CaseID < out[j].CaseID
		}
		return out[i].FailureType < out[j].FailureType
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SuspectedCause maps a failure type to a root-cause category.
func SuspectedCause(failureType string) string {
	switch failureType {
	case "timeout":
		return "infra/provider"
	case "bad_json":
		return "prompt/schema"
	case "loop":
		return "tool/routing"
	case "policy_violation":
		return "safety"
	case "quality_fail":
		return "prompt/agent-logic"
	case "provider_error":
		return "infra/provider"
	case "rate_limited":
		return "rate-limit config"
	case "empty_output":
		return "model/prompt"
	default:
		return "investigate"
	}
}
