// Command harness runs the regression catalogue against the gateway and
// analyzes the recorded results.
//
// Subcommands:
//
//	harness run -cases cases.csv          execute the catalogue
//	harness report -days 7                render the weekly Markdown report
//	harness check -baseline-dir artifact  evaluate the deployment gate
//	harness flakiness -min-runs 3         list unstable cases
//
// The run subcommand reads the same environment variables as the gateway
// (LLM_PROVIDER, LLM_MODEL, CACHE_ENABLED, ...); the analysis subcommands
// only read JSONL files from the log directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nulpointcorp/llmops/internal/analytics"
	"github.com/nulpointcorp/llmops/internal/app"
	"github.com/nulpointcorp/llmops/internal/audit"
	"github.com/nulpointcorp/llmops/internal/catalog"
	"github.com/nulpointcorp/llmops/internal/config"
	"github.com/nulpointcorp/llmops/internal/gate"
	"github.com/nulpointcorp/llmops/internal/harness"
	"github.com/nulpointcorp/llmops/internal/report"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(ctx, os.Args[2:])
	case "report":
		err = cmdReport(os.Args[2:])
	case "check":
		err = cmdCheck(os.Args[2:])
	case "flakiness":
		err = cmdFlakiness(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "harness: unknown subcommand %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("harness %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: harness <subcommand> [flags]

Subcommands:
  run        execute the regression catalogue against the gateway
  report     render the weekly Markdown report from recorded runs
  check      evaluate the deployment gate (exit 1 on failure)
  flakiness  list cases that both pass and fail in the window
`)
}

func cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	casesPath := fs.String("cases", "cases.csv", "path to the case catalogue CSV")
	logDir := fs.String("log-dir", "", "run record directory (default: LOG_DIR)")
	concurrency := fs.Int("concurrency", 1, "parallel case executions (1 = sequential)")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cases, err := catalog.Load(*casesPath)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return fmt.Errorf("no cases in %s", *casesPath)
	}

	a, err := app.New(ctx, cfg, logger, "harness")
	if err != nil {
		return err
	}
	defer a.Close()

	dir := *logDir
	if dir == "" {
		dir = cfg.LogDir
	}

	runner := harness.NewRunner(a.Gateway(), harness.RunnerOptions{
		Store:       audit.NewStore(dir),
		Concurrency: *concurrency,
		Logger:      logger,
	})

	runID, records, err := runner.Run(ctx, cases)
	if err != nil {
		return err
	}

	passed := 0
	for _, r := range records {
		if r.Passed {
			passed++
		}
	}
	fmt.Printf("run %s: %d/%d passed\n", runID, passed, len(records))
	if passed < len(records) {
		for _, r := range records {
			if !r.Passed {
				fmt.Printf("  FAIL %s [%s] %s: %s\n", r.CaseID, r.Severity, r.FailureType, r.Error)
			}
		}
	}
	return nil
}

func cmdReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	logDir := fs.String("log-dir", "runs/llmops", "run record directory")
	days := fs.Int("days", 7, "current window in days")
	baselineDays := fs.Int("baseline-days", 7, "baseline window in days")
	out := fs.String("out", "", "output file (default: stdout)")
	fs.Parse(args)

	store := audit.NewStore(*logDir)
	end := time.Now()
	start := end.AddDate(0, 0, -*days)

	current, err := store.LoadRunRecords(start, end)
	if err != nil {
		return err
	}
	baselineEnd := start.AddDate(0, 0, -1)
	baseline, err := store.LoadRunRecords(baselineEnd.AddDate(0, 0, -*baselineDays), baselineEnd)
	if err != nil {
		return err
	}

	md := report.Weekly(report.WeeklyInput{
		WeekStart: start,
		WeekEnd:   end,
		Current:   current,
		Baseline:  baseline,
	})

	if *out == "" {
		fmt.Print(md)
		return nil
	}
	return os.WriteFile(*out, []byte(md), 0o644)
}

func cmdCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	logDir := fs.String("log-dir", "runs/llmops", "run record directory")
	days := fs.Int("days", 1, "current window in days")
	baselineDays := fs.Int("baseline-days", 7, "baseline window in days")
	baselineDir := fs.String("baseline-dir", "", "dedicated baseline directory (overrides the trailing window)")
	configPath := fs.String("config", "", "gate config file (default: auto-detect)")
	labels := fs.String("labels", "", "comma-separated PR labels for rule matching")
	changedFiles := fs.String("changed-files", "", "comma-separated changed files for rule matching")
	casesPath := fs.String("cases", "", "case catalogue CSV for per-case min_pass_rate checks")
	s1Threshold := fs.Float64("s1-threshold", -1, "override the S1 pass-rate threshold")
	overallThreshold := fs.Float64("overall-threshold", -1, "override the overall pass-rate threshold")
	topN := fs.Int("top-n", -1, "override the regression list size")
	fs.Parse(args)

	cfg, err := gate.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	opts := gate.CheckOptions{
		LogDir:       *logDir,
		Days:         *days,
		BaselineDays: *baselineDays,
		BaselineDir:  *baselineDir,
		Config:       &cfg,
		Labels:       splitList(*labels),
		ChangedFiles: splitList(*changedFiles),
	}
	if *s1Threshold >= 0 {
		opts.S1Threshold = s1Threshold
	}
	if *overallThreshold >= 0 {
		opts.OverallThreshold = overallThreshold
	}
	if *topN >= 0 {
		opts.TopN = topN
	}
	if *casesPath != "" {
		cases, err := catalog.Load(*casesPath)
		if err != nil {
			return err
		}
		opts.Cases = cases
	}

	result, err := gate.Check(opts)
	if err != nil {
		return err
	}

	fmt.Print(report.CheckSummary(result))
	if !result.Passed() {
		os.Exit(1)
	}
	return nil
}

func cmdFlakiness(args []string) error {
	fs := flag.NewFlagSet("flakiness", flag.ExitOnError)
	logDir := fs.String("log-dir", "runs/llmops", "run record directory")
	days := fs.Int("days", 7, "window in days")
	minRuns := fs.Int("min-runs", 2, "minimum executions per case")
	flakyOnly := fs.Bool("flaky-only", false, "show only flaky cases")
	fs.Parse(args)

	store := audit.NewStore(*logDir)
	end := time.Now()
	records, err := store.LoadRunRecords(end.AddDate(0, 0, -*days), end)
	if err != nil {
		return err
	}

	var stats []analytics.CaseStability
	if *flakyOnly {
		stats = analytics.FlakyCases(records, *minRuns)
	} else {
		stats = analytics.ComputeFlakiness(records, *minRuns)
	}
	if len(stats) == 0 {
		fmt.Println("no cases with enough runs in the window")
		return nil
	}

	for _, s := range stats {
		marker := " "
		if s.IsFlaky {
			marker = "~"
		}
		line := fmt.Sprintf("%s %s [%s] %d/%d passed (%.1f%%)",
			marker, s.CaseID, s.Severity, s.PassedRuns, s.TotalRuns, s.PassRate)
		if len(s.FailureTypes) > 0 {
			line += " failures: " + strings.Join(s.FailureTypes, ", ")
		}
		if s.LatencyCV != nil {
			line += fmt.Sprintf(" latency CV %.2f", *s.LatencyCV)
		}
		fmt.Println(line)
	}
	return nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
