// Package report renders Markdown from computed metrics. Everything here
// is pure string assembly; loading records and writing files belong to
// the callers.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nulpointcorp/llmops/internal/analytics"
	"github.com/nulpointcorp/llmops/internal/audit"
	"github.com/nulpointcorp/llmops/internal/catalog"
	"github.com/nulpointcorp/llmops/internal/gate"
)

// WeeklyInput is everything the weekly report needs. Baseline may be
// empty, which drops the comparison sections.
type WeeklyInput struct {
	WeekStart time.Time
	WeekEnd   time.Time
	Current   []audit.RunRecord
	Baseline  []audit.RunRecord
}

// Weekly assembles the full weekly regression report.
func Weekly(in WeeklyInput) string {
	summary := analytics.Aggregate(in.Current)
	worstDesc, worstDelta := analytics.WorstRegression(in.Current, in.Baseline)
	status := analytics.OverallStatus(summary.PassRate, summary.S1, summary.S2, worstDelta)
	actions := analytics.NextActions(summary.FailureBreakdown, worstDesc, worstDelta)

	var b strings.Builder
	b.WriteString("# Weekly Regression Report\n\n")
	fmt.Fprintf(&b, "**Week:** %s to %s\n\n",
		in.WeekStart.Format("2006-01-02"), in.WeekEnd.Format("2006-01-02"))

	hasBaseline := len(in.Baseline) > 0
	if hasBaseline && len(in.Current) > 0 {
		writeWeekOverWeek(&b, in.Current, in.Baseline)
	}

	writeExecutive(&b, status, summary, in.Current, in.Baseline, worstDesc, actions)
	writeKeyMetrics(&b, summary, in.Current)

	if hasBaseline {
		writeFailureTypeDelta(&b, analytics.FailureTypeDelta(in.Current, in.Baseline))
	}

	writeTopFailures(&b, summary.TopFailures)

	if hasBaseline {
		writeTopRegressions(&b, analytics.TopRegressions(in.Current, in.Baseline, gate.DefaultTopN))
	}

	writeIndividualRuns(&b, in.Current)
	return b.String()
}

func writeWeekOverWeek(b *strings.Builder, current, baseline []audit.RunRecord) {
	b.WriteString("## Week-over-Week Summary\n\n")

	overall := analytics.PassRateDelta(current, baseline, "")
	fmt.Fprintf(b, "- Overall pass rate: %.2f%% (previous: %.2f%%) -> **%+.2f%%**\n",
		overall.Current, overall.Baseline, overall.Delta)

	s1 := analytics.PassRateDelta(current, baseline, catalog.SeverityS1)
	s2 := analytics.PassRateDelta(current, baseline, catalog.SeverityS2)
	fmt.Fprintf(b, "- S1 pass rate: %.2f%% (previous: %.2f%%) -> **%+.2f%%**\n",
		s1.Current, s1.Baseline, s1.Delta)
	fmt.Fprintf(b, "- S2 pass rate: %.2f%% (previous: %.2f%%) -> **%+.2f%%**\n\n",
		s2.Current, s2.Baseline, s2.Delta)
}

func writeExecutive(b *strings.Builder, status string, summary analytics.Summary,
	current, baseline []audit.RunRecord, worstDesc string, actions []string) {

	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(b, "- Overall status: %s\n", status)
	fmt.Fprintf(b, "- S1 pass rate: %s (%s)\n", summary.S1.String(),
		severityDelta(current, baseline, catalog.SeverityS1, summary.S1))
	fmt.Fprintf(b, "- S2 pass rate: %s (%s)\n", summary.S2.String(),
		severityDelta(current, baseline, catalog.SeverityS2, summary.S2))
	fmt.Fprintf(b, "- Worst regression: %s\n", worstDesc)
	b.WriteString("- Next actions:\n")
	for _, a := range actions {
		fmt.Fprintf(b, "  - %s\n", a)
	}
	b.WriteString("\n")
}

// severityDelta formats the week-over-week delta for one severity, or
// N/A when either period lacks records of that severity.
func severityDelta(current, baseline []audit.RunRecord, severity string, cur analytics.SeverityRate) string {
	prev := analytics.SeverityPassRate(baseline, severity)
	if cur.Total == 0 || prev.Total == 0 {
		return "vs last week: N/A"
	}
	return fmt.Sprintf("vs last week: %+.2f%%", cur.Rate-prev.Rate)
}

func writeKeyMetrics(b *strings.Builder, summary analytics.Summary, current []audit.RunRecord) {
	b.WriteString("## Key Metrics\n\n")
	fmt.Fprintf(b, "- Runs: %d\n", len(audit.GroupByRun(current)))
	fmt.Fprintf(b, "- Tasks executed: %d\n", summary.Total)
	fmt.Fprintf(b, "- Pass rate (overall): %.2f%%\n", summary.PassRate)
	fmt.Fprintf(b, "- Pass rate (S1): %s\n", summary.S1.String())
	fmt.Fprintf(b, "- Pass rate (S2): %s\n", summary.S2.String())
	fmt.Fprintf(b, "- Latency p50/p95: %.2fms / %.2fms\n", summary.LatencyP50Ms, summary.LatencyP95Ms)
	fmt.Fprintf(b, "- Cost per task: $%.6f\n", summary.CostPerTask)

	b.WriteString("- Failure breakdown:\n")
	if len(summary.FailureBreakdown) == 0 {
		b.WriteString("  - none\n")
		return
	}
	total := 0
	for _, fc := range summary.FailureBreakdown {
		total += fc.Count
	}
	for _, fc := range summary.FailureBreakdown {
		fmt.Fprintf(b, "  - %s: %d (%.1f%%)\n", fc.Type, fc.Count,
			float64(fc.Count)/float64(total)*100)
	}
}

func writeFailureTypeDelta(b *strings.Builder, deltas map[string]int) {
	if len(deltas) == 0 {
		return
	}
	b.WriteString("\n## Failure Type Changes (vs last week)\n\n")

	type entry struct {
		ft    string
		delta int
	}
	sorted := make([]entry, 0, len(deltas))
	for ft, d := range deltas {
		sorted = append(sorted, entry{ft, d})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].delta != sorted[j].delta {
			return sorted[i].delta > sorted[j].delta
		}
		return sorted[i].ft < sorted[j].ft
	})
	for _, e := range sorted {
		fmt.Fprintf(b, "- %s: **%+d**\n", e.ft, e.delta)
	}
}

func writeTopFailures(b *strings.Builder, failures []analytics.TopFailure) {
	b.WriteString("\n## Top Failures\n")
	if len(failures) == 0 {
		b.WriteString("- no failures\n")
		return
	}
	for _, f := range failures {
		fmt.Fprintf(b, "- %s / %s / %d occurrences / suspected cause: %s\n",
			f.CaseID, f.FailureType, f.Count, f.SuspectedCause)
	}
}

func writeTopRegressions(b *strings.Builder, regressions []analytics.Regression) {
	if len(regressions) == 0 {
		return
	}
	b.WriteString("\n## Top Regressions (vs last week)\n\n")
	b.WriteString("| Case | Severity | Category | Previous | Current | Delta | Main Failure |\n")
	b.WriteString("|------|----------|----------|----------|---------|-------|--------------|\n")
	for _, reg := range regressions {
		mainFailure := "N/A"
		if len(reg.FailureTypes) > 0 {
			mainFailure = reg.FailureTypes[0]
		}
		fmt.Fprintf(b, "| %s | %s | %s | %.1f%% | %.1f%% | **%+.1f%%** | %s |\n",
			reg.CaseID, reg.Severity, reg.Category,
			reg.BaselineRate, reg.CurrentRate, reg.Delta, mainFailure)
	}
}

func writeIndividualRuns(b *strings.Builder, current []audit.RunRecord) {
	byRun := audit.GroupByRun(current)
	if len(byRun) == 0 {
		return
	}

	type runInfo struct {
		id      string
		records []audit.RunRecord
	}
	runs := make([]runInfo, 0, len(byRun))
	for id, recs := range byRun {
		runs = append(runs, runInfo{id, recs})
	}
	sort.Slice(runs, func(i, j int) bool {
		ti, tj := runs[i].records[0].Timestamp, runs[j].records[0].Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return runs[i].id < runs[j].id
	})

	b.WriteString("\n## Individual Runs\n\n")
	for _, run := range runs {
		passed := 0
		for _, r := range run.records {
			if r.Passed {
				passed++
			}
		}
		total := len(run.records)

		id := run.id
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(b, "### Run %s\n", id)
		fmt.Fprintf(b, "- Timestamp: %s\n", run.records[0].Timestamp.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(b, "- Cases: %d\n", total)
		fmt.Fprintf(b, "- Passed: %d\n", passed)
		fmt.Fprintf(b, "- Failed: %d\n", total-passed)
		fmt.Fprintf(b, "- Pass Rate: %.2f%%\n\n", float64(passed)/float64(total)*100)
	}
}

// CheckSummary renders a gate verdict as Markdown suitable for a CI step
// summary.
func CheckSummary(result *gate.CheckResult) string {
	var b strings.Builder
	b.WriteString("## Deployment Gate Check\n\n")
	if result.Passed() {
		b.WriteString("**Gate:** ✅ PASS\n\n")
	} else {
		b.WriteString("**Gate:** ❌ FAIL\n\n")
	}

	b.WriteString("| Metric | Threshold | Actual | Result |\n")
	b.WriteString("|--------|-----------|--------|--------|\n")
	for _, t := range result.Thresholds {
		icon := "✅"
		if !t.Passed {
			icon = "❌"
		}
		fmt.Fprintf(&b, "| %s | %.1f%% | %.2f%% | %s %s |\n",
			t.Name, t.Threshold, t.Actual, icon, t.Detail)
	}

	fmt.Fprintf(&b, "\n- Current period runs: **%d**\n", result.CurrentRuns)
	fmt.Fprintf(&b, "- Baseline period runs: **%d**\n", result.BaselineRuns)
	fmt.Fprintf(&b, "- S1: **%d/%d** (%.2f%%)\n", result.S1.Passed, result.S1.Total, result.S1.Rate)
	fmt.Fprintf(&b, "- S2: **%d/%d** (%.2f%%)\n", result.S2.Passed, result.S2.Total, result.S2.Rate)

	if len(result.TopRegressions) > 0 {
		b.WriteString("\n### Top Regressions\n")
		for _, reg := range result.TopRegressions {
			ft := "N/A"
			if len(reg.FailureTypes) > 0 {
				ft = strings.Join(reg.FailureTypes, ", ")
			}
			fmt.Fprintf(&b, "- **%s** [%s] %.0f%% -> %.0f%% (%+.1f%%) - %s\n",
				reg.CaseID, reg.Severity, reg.BaselineRate, reg.CurrentRate, reg.Delta, ft)
		}
	}

	var failedCases []gate.ThresholdResult
	for _, t := range result.CaseThresholds {
		if !t.Passed {
			failedCases = append(failedCases, t)
		}
	}
	if len(failedCases) > 0 {
		b.WriteString("\n### Case Threshold Violations\n")
		for _, t := range failedCases {
			fmt.Fprintf(&b, "- **%s**: %.1f%% < %.0f%% (%s)\n",
				t.Name, t.Actual, t.Threshold, t.Detail)
		}
	}
	return b.String()
}
