package gate

import (
	"fmt"
	"sort"
	"time"

	"github.com/nulpointcorp/llmops/internal/analytics"
	"github.com/nulpointcorp/llmops/internal/audit"
	"github.com/nulpointcorp/llmops/internal/catalog"
)

// ThresholdResult is the outcome of one threshold check.
type ThresholdResult struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	Actual    float64 `json:"actual"`
	Passed    bool    `json:"passed"`
	Detail    string  `json:"detail,omitempty"`
}

// CheckResult is the full gate verdict, returned regardless of pass or
// fail so callers can render it before choosing an exit code.
type CheckResult struct {
	CurrentRuns  int `json:"current_runs"`
	BaselineRuns int `json:"baseline_runs"`

	OverallRate float64                `json:"overall_rate"`
	S1          analytics.SeverityRate `json:"s1"`
	S2          analytics.SeverityRate `json:"s2"`

	Thresholds     []ThresholdResult      `json:"thresholds"`
	TopRegressions []analytics.Regression `json:"top_regressions,omitempty"`
	CaseThresholds []ThresholdResult      `json:"case_thresholds,omitempty"`
}

// Passed reports whether every global and per-case threshold held.
func (r *CheckResult) Passed() bool {
	for _, t := range r.Thresholds {
		if !t.Passed {
			return false
		}
	}
	for _, t := range r.CaseThresholds {
		if !t.Passed {
			return false
		}
	}
	return true
}

// CheckOptions configure one gate run.
type CheckOptions struct {
	// LogDir holds the current period's run records.
	LogDir string
	// Days is the trailing current window, default 1.
	Days int
	// BaselineDays is the trailing baseline window inside LogDir,
	// default 7. Ignored when BaselineDir is set.
	BaselineDays int
	// BaselineDir, when set, supplies the baseline from a dedicated
	// directory (for example a CI artifact), loaded without any date
	// filter.
	BaselineDir string

	// Config supplies file-level thresholds and rules; nil means
	// built-in defaults.
	Config *Config
	// Labels and ChangedFiles drive rule matching.
	Labels       []string
	ChangedFiles []string

	// Explicit overrides beat both config and rules.
	S1Threshold      *float64
	OverallThreshold *float64
	TopN             *int

	// Cases supplies per-case min_pass_rate metadata.
	Cases []catalog.Case

	Now func() time.Time // injectable for tests
}

// Check loads the current and baseline periods, computes pass rates, and
// evaluates every applicable threshold.
func Check(opts CheckOptions) (*CheckResult, error) {
	if opts.Days <= 0 {
		opts.Days = 1
	}
	if opts.BaselineDays <= 0 {
		opts.BaselineDays = 7
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	eff := cfg.ResolveThresholds(opts.Labels, opts.ChangedFiles)
	if opts.S1Threshold != nil {
		eff.S1PassRate = *opts.S1Threshold
	}
	if opts.OverallThreshold != nil {
		eff.OverallPassRate = *opts.OverallThreshold
	}
	if opts.TopN != nil {
		eff.TopN = *opts.TopN
	}

	end := opts.Now()
	currentStart := end.Add(-time.Duration(opts.Days) * 24 * time.Hour)

	store := audit.NewStore(opts.LogDir)
	current, err := store.LoadRunRecords(currentStart, end)
	if err != nil {
		return nil, fmt.Errorf("gate: load current period: %w", err)
	}

	var baseline []audit.RunRecord
	if opts.BaselineDir != "" {
		baseline, err = audit.NewStore(opts.BaselineDir).LoadAllRunRecords()
	} else {
		baselineEnd := currentStart.Add(-24 * time.Hour)
		baselineStart := baselineEnd.Add(-time.Duration(opts.BaselineDays) * 24 * time.Hour)
		baseline, err = store.LoadRunRecords(baselineStart, baselineEnd)
	}
	if err != nil {
		return nil, fmt.Errorf("gate: load baseline period: %w", err)
	}

	result := &CheckResult{
		CurrentRuns:  len(audit.GroupByRun(current)),
		BaselineRuns: len(audit.GroupByRun(baseline)),
		S1:           analytics.SeverityPassRate(current, catalog.SeverityS1),
		S2:           analytics.SeverityPassRate(current, catalog.SeverityS2),
	}

	passed := 0
	for _, r := range current {
		if r.Passed {
			passed++
		}
	}
	if len(current) > 0 {
		result.OverallRate = float64(passed) / float64(len(current)) * 100
	}

	if len(baseline) > 0 {
		result.TopRegressions = analytics.TopRegressions(current, baseline, eff.TopN)
	}

	// S1 threshold passes vacuously when no S1 cases ran.
	if result.S1.Total > 0 {
		result.Thresholds = append(result.Thresholds, ThresholdResult{
			Name:      "S1 pass rate",
			Threshold: eff.S1PassRate,
			Actual:    result.S1.Rate,
			Passed:    result.S1.Rate >= eff.S1PassRate,
			Detail:    fmt.Sprintf("%d/%d passed", result.S1.Passed, result.S1.Total),
		})
	} else {
		result.Thresholds = append(result.Thresholds, ThresholdResult{
			Name:      "S1 pass rate",
			Threshold: eff.S1PassRate,
			Passed:    true,
			Detail:    "no S1 cases (skip)",
		})
	}

	result.Thresholds = append(result.Thresholds, ThresholdResult{
		Name:      "Overall pass rate",
		Threshold: eff.OverallPassRate,
		Actual:    result.OverallRate,
		Passed:    result.OverallRate >= eff.OverallPassRate,
		Detail:    fmt.Sprintf("%d/%d passed", passed, len(current)),
	})

	result.CaseThresholds = checkCaseThresholds(opts.Cases, current)
	return result, nil
}

// checkCaseThresholds evaluates per-case min_pass_rate requirements.
// Cases absent from the current period are skipped, not failed.
func checkCaseThresholds(cases []catalog.Case, current []audit.RunRecord) []ThresholdResult {
	if len(cases) == 0 || len(current) == 0 {
		return nil
	}
	rates := analytics.CasePassRates(current)

	withMin := make([]catalog.Case, 0, len(cases))
	for _, c := range cases {
		if c.MinPassRate != nil {
			withMin = append(withMin, c)
		}
	}
	sort.Slice(withMin, func(i, j int) bool { return withMin[i].CaseID < withMin[j].CaseID })

	var out []ThresholdResult
	for _, c := range withMin {
		actual, ok := rates[c.CaseID]
		if !ok {
			continue
		}
		actualPct := actual * 100
		out = append(out, ThresholdResult{
			Name:      "Case " + c.CaseID,
			Threshold: *c.MinPassRate,
			Actual:    actualPct,
			Passed:    actualPct >= *c.MinPassRate,
			Detail:    fmt.Sprintf("min_pass_rate=%g%%", *c.MinPassRate),
		})
	}
	return out
}
