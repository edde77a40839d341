package harness

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nulpointcorp/llmops/internal/audit"
	"github.com/nulpointcorp/llmops/internal/catalog"
	"github.com/nulpointcorp/llmops/internal/gateway"
	"github.com/nulpointcorp/llmops/internal/providers"
	"golang.org/x/sync/errgroup"
)

const (
	// s1MaxTokens leaves headroom for structured output on contract cases.
	s1MaxTokens      = 512
	defaultMaxTokens = 256

	defaultConcurrency = 1
)

// jsonModeInstruction is the system prompt injected for S1 cases with a
// JSON exemplar. The exemplar itself is appended.
const jsonModeInstruction = "You are an API backend. Respond ONLY with a valid JSON " +
	"object. Do not include any explanation or markdown.\n" +
	"Required keys and example values: "

// RunnerOptions tunes a Runner. All fields are optional.
type RunnerOptions struct {
	// Store receives one RunRecord per executed case. Nil disables
	// persistence; Run still returns the records.
	Store *audit.Store

	// Concurrency bounds the number of in-flight cases. The default of 1
	// executes cases sequentially; raising it is an explicit opt-in and
	// can trip the gateway's rate limits.
	Concurrency int

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Runner executes catalogue cases through the gateway and scores them.
type Runner struct {
	gw          *gateway.Gateway
	store       *audit.Store
	concurrency int
	log         *slog.Logger

	now func() time.Time
}

// NewRunner creates a Runner on top of gw.
func NewRunner(gw *gateway.Gateway, opts RunnerOptions) *Runner {
	if gw == nil {
		panic("harness: gateway must not be nil")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		gw:          gw,
		store:       opts.Store,
		concurrency: concurrency,
		log:         log,
		now:         time.Now,
	}
}

// Run executes every case and returns the shared run ID plus one record
// per case, in catalogue order. A single failing case never aborts the
// run; the failure lands in its record. Records are appended to the store
// when one is configured.
func (r *Runner) Run(ctx context.Context, cases []catalog.Case) (string, []audit.RunRecord, error) {
	runID := uuid.New().String()
	records := make([]audit.RunRecord, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, c := range cases {
		g.Go(func() error {
			records[i] = r.runCase(gctx, runID, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return runID, records, err
	}

	if r.store != nil {
		for _, rec := range records {
			if err := r.store.Append(rec); err != nil {
				return runID, records, err
			}
		}
	}

	passed := 0
	for _, rec := range records {
		if rec.Passed {
			passed++
		}
	}
	r.log.Info("run_complete",
		slog.String("run_id", runID),
		slog.Int("total", len(records)),
		slog.Int("passed", passed),
	)

	return runID, records, nil
}

func (r *Runner) runCase(ctx context.Context, runID string, c catalog.Case) audit.RunRecord {
	req := buildRequest(c)
	resp := r.gw.Handle(ctx, req)

	rec := audit.RunRecord{
		CaseID:        c.CaseID,
		Name:          c.Name,
		Category:      c.Category,
		Severity:      c.Severity,
		RunID:         runID,
		Provider:      resp.Provider,
		Model:         resp.Model,
		PromptVersion: resp.PromptVersion,
		Timestamp:     r.now().UTC(),
		Output:        resp.Text,
		LatencyMs:     resp.LatencyMs,
		TokensIn:      resp.PromptTokens,
		TokensOut:     resp.CompletionTokens,
		CostUSD:       resp.CostUSD,
		Tags:          c.Tags,
		Owner:         c.Owner,
	}

	rec.Error, rec.FailureType = evaluate(c, resp)
	rec.Passed = rec.Error == "" && rec.Output != ""
	return rec
}

// buildRequest maps a case to a gateway request. S1 cases with a JSON
// exemplar get a synthesized JSON-mode instruction plus a derived schema;
// everything else is a plain text call.
func buildRequest(c catalog.Case) *gateway.TaskRequest {
	req := &gateway.TaskRequest{
		Messages:        []providers.Message{{Role: "user", Content: c.InputPrompt}},
		MaxOutputTokens: defaultMaxTokens,
	}

	if c.Severity != catalog.SeverityS1 || c.ExpectedOutput == "" {
		return req
	}
	schema, ok := deriveSchema(c.ExpectedOutput)
	if !ok {
		return req
	}

	req.Schema = schema
	req.MaxOutputTokens = s1MaxTokens
	req.Messages = []providers.Message{
		{Role: "system", Content: jsonModeInstruction + c.ExpectedOutput},
		{Role: "user", Content: c.InputPrompt},
	}
	return req
}

// deriveSchema turns a JSON exemplar into an object schema keyed by the
// exemplar's top-level fields.
func deriveSchema(expected string) (map[string]any, bool) {
	var exemplar map[string]any
	if err := json.Unmarshal([]byte(expected), &exemplar); err != nil {
		return nil, false
	}
	props := make(map[string]any, len(exemplar))
	for k, v := range exemplar {
		props[k] = map[string]any{"type": jsonTypeName(v)}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}, true
}

// evaluate scores a gateway response against the case expectation,
// returning the error text and failure type (both empty on pass).
func evaluate(c catalog.Case, resp *gateway.TaskResponse) (string, string) {
	if resp.ErrorKind != "" {
		return resp.ErrorKind, mapFailureType(resp.ErrorKind)
	}

	if c.Severity == catalog.SeverityS1 {
		if !json.Valid([]byte(resp.Text)) {
			return "Output is not valid JSON", FailBadJSON
		}
		if c.ExpectedOutput != "" {
			if ok, failType, reason := ValidateContract(c.ExpectedOutput, resp.Text); !ok {
				return reason, failType
			}
		}
		return "", ""
	}

	if c.ExpectedOutput != "" && !SoftMatch(resp.Text, c.ExpectedOutput) {
		expected := c.ExpectedOutput
		if len(expected) > 80 {
			expected = expected[:80]
		}
		return "Output does not match expected: " + expected, FailQuality
	}
	return "", ""
}

// mapFailureType translates a gateway error kind into a harness failure
// bucket. Timeouts stay timeouts, structural kinds keep their name, and
// anything else is a tool error.
func mapFailureType(errKind string) string {
	switch {
	case errKind == providers.ErrKindTimeout:
		return FailTimeout
	case strings.Contains(strings.ToLower(errKind), "timeout"):
		return FailTimeout
	case errKind == providers.ErrKindBadJSON:
		return FailBadJSON
	case errKind == providers.ErrKindRateLimited:
		return FailRateLimited
	default:
		return FailToolError
	}
}
