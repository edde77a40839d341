package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nulpointcorp/llmops/internal/audit"
	"github.com/nulpointcorp/llmops/internal/catalog"
)

const (
	latencySpikeRatio  = 2.0
	tokenIncreaseRatio = 1.5
)

// SchemaDiff describes how the top-level keys of JSON outputs drifted
// between two periods.
type SchemaDiff struct {
	MissingKeys []string          `json:"missing_keys"`
	ExtraKeys   []string          `json:"extra_keys"`
	TypeChanges map[string]string `json:"type_changes"`
}

// FailureExplanation is a structured diagnosis of one currently-failing
// case.
type FailureExplanation struct {
	CaseID   string `json:"case_id"`
	Severity string `json:"severity"`
	Category string `json:"category"`

	Signals []string `json:"signals"`

	CurrentFailureType  string `json:"current_failure_type,omitempty"`
	BaselineFailureType string `json:"baseline_failure_type,omitempty"`

	SchemaDiff   *SchemaDiff `json:"schema_diff,omitempty"`
	LatencyRatio *float64    `json:"latency_ratio,omitempty"`
	TokenRatio   *float64    `json:"token_ratio,omitempty"`
}

// Explanation is the single-line human summary.
func (e FailureExplanation) Explanation() string {
	if len(e.Signals) == 0 {
		return "unknown cause, needs investigation"
	}
	return strings.Join(e.Signals, "; ")
}

// ExplainFailures produces one explanation per currently-failing case by
// comparing against the baseline period. Sorted S1 first, then by signal
// count descending.
func ExplainFailures(current, baseline []audit.RunRecord) []FailureExplanation {
	baselineByCase := make(map[string][]audit.RunRecord)
	for _, r := range baseline {
		baselineByCase[r.CaseID] = append(baselineByCase[r.CaseID], r)
	}

	failuresByCase := make(map[string][]audit.RunRecord)
	for _, r := range current {
		if !r.Passed {
			failuresByCase[r.CaseID] = append(failuresByCase[r.CaseID], r)
		}
	}

	caseIDs := make([]string, 0, len(failuresByCase))
	for id := range failuresByCase {
		caseIDs = append(caseIDs, id)
	}
	sort.Strings(caseIDs)

	var explanations []FailureExplanation
	for _, caseID := range caseIDs {
		fails := failuresByCase[caseID]
		baselineRuns := baselineByCase[caseID]

		e := FailureExplanation{
			CaseID:   caseID,
			Severity: catalog.CanonicalSeverity(fails[0].Severity),
			Category: fails[0].Category,
		}

		// New vs persistent.
		switch {
		case len(baselineRuns) == 0:
			e.Signals = append(e.Signals, "no baseline data (new case or first run)")
		case allPassed(baselineRuns):
			e.Signals = append(e.Signals, "new regression: passing in baseline")
		default:
			failRate := float64(failedCount(baselineRuns)) / float64(len(baselineRuns)) * 100
			e.Signals = append(e.Signals,
				fmt.Sprintf("persistent failure: baseline failure rate %.0f%%", failRate))
		}

		// Failure-type change.
		e.CurrentFailureType = dominantFailureType(fails)
		e.BaselineFailureType = dominantFailureType(failedOf(baselineRuns))
		switch {
		case e.CurrentFailureType != "" && e.BaselineFailureType != "" &&
			e.CurrentFailureType != e.BaselineFailureType:
			e.Signals = append(e.Signals, fmt.Sprintf("failure type changed: %s -> %s",
				e.BaselineFailureType, e.CurrentFailureType))
		case e.CurrentFailureType != "":
			e.Signals = append(e.Signals, "failure type: "+e.CurrentFailureType)
		}

		// Schema drift, S1 only.
		if e.Severity == catalog.SeverityS1 {
			if diff := detectSchemaDiff(fails, baselineRuns); diff != nil {
				e.SchemaDiff = diff
				e.Signals = append(e.Signals, "JSON schema mismatch: "+diff.describe())
			}
		}

		// Latency spike.
		if ratio, ok := medianRatio(latenciesOf(fails), latenciesOf(baselineRuns)); ok {
			e.LatencyRatio = &ratio
			if ratio >= latencySpikeRatio {
				e.Signals = append(e.Signals,
					fmt.Sprintf("latency spike: %.1fx baseline", ratio))
			}
		}

		// Token increase.
		if ratio, ok := medianRatio(tokensOf(fails), tokensOf(baselineRuns)); ok {
			e.TokenRatio = &ratio
			if ratio >= tokenIncreaseRatio {
				e.Signals = append(e.Signals,
					fmt.Sprintf("token usage increase: %.1fx baseline", ratio))
			}
		}

		explanations = append(explanations, e)
	}

	sort.SliceStable(explanations, func(i, j int) bool {
		si := explanations[i].Severity == catalog.SeverityS1
		sj := explanations[j].Severity == catalog.SeverityS1
		if si != sj {
			return si
		}
		return len(explanations[i].Signals) > len(explanations[j].Signals)
	})
	return explanations
}

func (d *SchemaDiff) describe() string {
	var parts []string
	if len(d.MissingKeys) > 0 {
		parts = append(parts, "missing keys: "+strings.Join(d.MissingKeys, ", "))
	}
	if len(d.ExtraKeys) > 0 {
		parts = append(parts, "extra keys: "+strings.Join(d.ExtraKeys, ", "))
	}
	if len(d.TypeChanges) > 0 {
		keys := make([]string, 0, len(d.TypeChanges))
		for k := range d.TypeChanges {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		changes := make([]string, len(keys))
		for i, k := range keys {
			changes[i] = k + ": " + d.TypeChanges[k]
		}
		parts = append(parts, "type changes: "+strings.Join(changes, ", "))
	}
	return strings.Join(parts, "; ")
}

func allPassed(records []audit.RunRecord) bool {
	for _, r := range records {
		if !r.Passed {
			return false
		}
	}
	return true
}

func failedCount(records []audit.RunRecord) int {
	n := 0
	for _, r := range records {
		if !r.Passed {
			n++
		}
	}
	return n
}

func failedOf(records []audit.RunRecord) []audit.RunRecord {
	var out []audit.RunRecord
	for _, r := range records {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// dominantFailureType returns the most common explicit failure type,
// breaking ties alphabetically.
func dominantFailureType(records []audit.RunRecord) string {
	counts := make(map[string]int)
	for _, r := range records {
		if r.FailureType != "" {
			counts[r.FailureType]++
		}
	}
	best, bestCount := "", 0
	for ft, c := range counts {
		if c > bestCount || (c == bestCount && ft < best) {
			best, bestCount = ft, c
		}
	}
	return best
}

// detectSchemaDiff compares the top-level key sets of parsed JSON
// outputs: keys the baseline had that current lost, keys current gained,
// and keys whose value kind changed (last seen wins).
func detectSchemaDiff(currentFails, baselineRuns []audit.RunRecord) *SchemaDiff {
	curKeys, curTypes := collectJSONKeys(currentFails)
	baseKeys, baseTypes := collectJSONKeys(baselineRuns)
	if len(curKeys) == 0 && len(baseKeys) == 0 {
		return nil
	}

	diff := &SchemaDiff{TypeChanges: make(map[string]string)}
	for k := range baseKeys {
		if !curKeys[k] {
			diff.MissingKeys = append(diff.MissingKeys, k)
		}
	}
	for k := range curKeys {
		if !baseKeys[k] {
			diff.ExtraKeys = append(diff.ExtraKeys, k)
		}
	}
	sort.Strings(diff.MissingKeys)
	sort.Strings(diff.ExtraKeys)

	for k, curType := range curTypes {
		if baseType, ok := baseTypes[k]; ok && baseType != curType {
			diff.TypeChanges[k] = baseType + " -> " + curType
		}
	}

	if len(diff.MissingKeys) == 0 && len(diff.ExtraKeys) == 0 && len(diff.TypeChanges) == 0 {
		return nil
	}
	return diff
}

func collectJSONKeys(records []audit.RunRecord) (map[string]bool, map[string]string) {
	keys := make(map[string]bool)
	types := make(map[string]string)
	for _, r := range records {
		var obj map[string]any
		if err := json.Unmarshal([]byte(r.Output), &obj); err != nil {
			continue
		}
		for k, v := range obj {
			keys[k] = true
			types[k] = jsonKind(v)
		}
	}
	return keys, types
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

func latenciesOf(records []audit.RunRecord) []float64 {
	var out []float64
	for _, r := range records {
		if r.LatencyMs > 0 {
			out = append(out, r.LatencyMs)
		}
	}
	return out
}

func tokensOf(records []audit.RunRecord) []float64 {
	var out []float64
	for _, r := range records {
		if total := r.TokensIn + r.TokensOut; total > 0 {
			out = append(out, float64(total))
		}
	}
	return out
}

// medianRatio is median(current)/median(baseline); ok is false when
// either side is empty or the baseline median is zero.
func medianRatio(current, baseline []float64) (float64, bool) {
	if len(current) == 0 || len(baseline) == 0 {
		return 0, false
	}
	baseMed := medianOf(baseline)
	if baseMed == 0 {
		return 0, false
	}
	return medianOf(current) / baseMed, true
}
