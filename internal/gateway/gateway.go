// Package gateway is the core task dispatcher.
//
// The Gateway receives a task request, applies rate limiting, checks the
// response cache, resolves the prompt version, and forwards the request to
// the configured provider through the retrying client — recording every
// task in the audit trail.
//
// Key design constraints:
//   - Cache, rate limiter, audit writer, and metrics are optional and nil-safe.
//   - All I/O uses context.Context so timeouts propagate correctly.
//   - Application-level failures still produce a normal response with the
//     error kind set; transport status stays 200.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nulpointcorp/llmops/internal/audit"
	"github.com/nulpointcorp/llmops/internal/cache"
	"github.com/nulpointcorp/llmops/internal/llmclient"
	"github.com/nulpointcorp/llmops/internal/metrics"
	"github.com/nulpointcorp/llmops/internal/pricing"
	"github.com/nulpointcorp/llmops/internal/prompts"
	"github.com/nulpointcorp/llmops/internal/providers"
	"github.com/nulpointcorp/llmops/internal/ratelimit"
)

// TaskRequest is the inbound body of POST /v1/task.
type TaskRequest struct {
	// RequestID is the trace ID; auto-generated when omitted.
	RequestID string `json:"request_id,omitempty"`

	// Messages are the conversation turns.
	Messages []providers.Message `json:"messages"`

	// Schema is an optional JSON output schema. When set, the provider is
	// asked for structured output and the response text is parsed.
	Schema map[string]any `json:"schema,omitempty"`

	// MaxOutputTokens bounds the completion length; 0 means the default
	// (256). The HTTP layer rejects values outside 1..4096; direct
	// callers are clamped into range.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`

	// PromptVersion selects a registry version; unknown versions fall back
	// to the configured default with a warning.
	PromptVersion string `json:"prompt_version,omitempty"`
}

// TaskResponse is the outbound body of POST /v1/task.
type TaskResponse struct {
	RequestID        string         `json:"request_id"`
	Text             string         `json:"text"`
	JSON             map[string]any `json:"json,omitempty"`
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	PromptVersion    string         `json:"prompt_version_used"`
	LatencyMs        float64        `json:"latency_ms"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	CostUSD          float64        `json:"cost_usd"`
	CacheHit         bool           `json:"cache_hit"`
	RateLimited      bool           `json:"rate_limited"`
	RateLimitReason  string         `json:"rate_limit_reason,omitempty"`
	ErrorKind        string         `json:"error_kind,omitempty"`
}

// Options holds optional tuning parameters for a Gateway. All fields have
// sensible defaults and can be omitted.
type Options struct {
	// Logger is the structured logger used for task events.
	// Defaults to slog.Default when nil.
	Logger *slog.Logger

	// Cache is the response cache. Nil disables caching.
	Cache cache.Cache

	// Limiter is the admission rate limiter. Nil disables rate limiting.
	Limiter *ratelimit.RateLimiter

	// SharedLimiter is the optional fleet-wide RPM ceiling, enforced via
	// Redis before the local buckets. Nil-safe.
	SharedLimiter *ratelimit.SharedLimiter

	// Writer is the async audit writer. Nil disables the audit trail.
	Writer *audit.Writer

	// Metrics enables Prometheus metrics collection. When nil, metrics are
	// disabled.
	Metrics *metrics.Registry

	// CacheTTL controls the TTL for cached responses. Default: 1h.
	CacheTTL time.Duration

	// PromptVersion is the default prompt version served when a request
	// does not name one. Default: prompts.DefaultVersion.
	PromptVersion string

	// CORSOrigins is the CORS allowlist. Empty means allow all.
	CORSOrigins []string
}

// Gateway is the task dispatcher — all dependencies are injected via the
// constructor so they can be replaced with doubles in unit tests.
type Gateway struct {
	client   *llmclient.Client
	model    string
	registry *prompts.Registry
	log      *slog.Logger

	cache   cache.Cache
	limiter *ratelimit.RateLimiter
	shared  *ratelimit.SharedLimiter
	writer  *audit.Writer
	metrics *metrics.Registry

	cacheTTL       time.Duration
	defaultVersion string
	corsOrigins    []string

	now func() time.Time
}

// New creates a Gateway serving the given model through client, with
// prompt versions from registry.
func New(client *llmclient.Client, model string, registry *prompts.Registry, opts Options) *Gateway {
	if client == nil {
		panic("gateway: client must not be nil")
	}
	if registry == nil {
		registry = prompts.NewRegistry()
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}

	defaultVersion := opts.PromptVersion
	if defaultVersion == "" {
		defaultVersion = prompts.DefaultVersion
	}

	return &Gateway{
		client:         client,
		model:          model,
		registry:       registry,
		log:            log,
		cache:          opts.Cache,
		limiter:        opts.Limiter,
		shared:         opts.SharedLimiter,
		writer:         opts.Writer,
		metrics:        opts.Metrics,
		cacheTTL:       cacheTTL,
		defaultVersion: defaultVersion,
		corsOrigins:    opts.CORSOrigins,
		now:            time.Now,
	}
}

// ProviderName returns the name of the serving provider.
func (g *Gateway) ProviderName() string {
	return g.client.Provider().Name()
}

// Handle runs one task through the full pipeline: admission, cache lookup,
// prompt resolution, provider call, cost accounting, cache insert, audit.
// The returned response is never nil; failures set ErrorKind.
func (g *Gateway) Handle(ctx context.Context, req *TaskRequest) *TaskResponse {
	start := g.now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	maxTokens := req.MaxOutputTokens
	switch {
	case maxTokens <= 0:
		maxTokens = providers.DefaultOutputTokens
	case maxTokens > providers.MaxOutputTokens:
		maxTokens = providers.MaxOutputTokens
	}

	provider := g.ProviderName()
	version := g.resolveVersion(requestID, req.PromptVersion)

	resp := &TaskResponse{
		RequestID:     requestID,
		Provider:      provider,
		Model:         g.model,
		PromptVersion: version,
	}

	// Admission. A declined request never reaches the provider or the cache.
	// The fleet-wide ceiling is checked first, then the local buckets.
	if allowed, _ := g.shared.Allow(ctx); !allowed {
		return g.decline(ctx, req, resp, start, "fleet_rpm")
	}
	if g.limiter != nil {
		allowed, reason := g.limiter.Allow(pricing.EstimateTokens(req.Messages) + maxTokens)
		if !allowed {
			return g.decline(ctx, req, resp, start, reason)
		}
		if g.metrics != nil {
			g.metrics.RecordRateLimit("allowed")
		}
	}

	messages := g.applySystemPrompt(req.Messages, version)
	cacheKey := cache.Key(messages, req.Schema, maxTokens, provider, g.model, version)

	// Cache lookup. A hit serves the stored response as recorded,
	// recomputing only the latency.
	if g.cache != nil {
		if body, ok := g.cache.Get(ctx, cacheKey); ok {
			var cached TaskResponse
			if err := json.Unmarshal(body, &cached); err == nil {
				if g.metrics != nil {
					g.metrics.CacheGetHit()
					g.metrics.RecordTask(provider, "ok", "hit", g.now().Sub(start))
				}
				g.log.DebugContext(ctx, "cache_hit",
					slog.String("request_id", requestID),
					slog.String("model", g.model),
				)
				cached.RequestID = requestID
				cached.CacheHit = true
				cached.LatencyMs = g.sinceMs(start)
				g.audit(req, &cached)
				return &cached
			}
			g.cache.Delete(ctx, cacheKey)
		}
		if g.metrics != nil {
			g.metrics.CacheGetMiss()
		}
	} else if g.metrics != nil {
		g.metrics.CacheGetBypass()
	}

	// Provider call through the retrying client.
	provResp := g.client.Complete(ctx, &providers.Request{
		Messages:  messages,
		Model:     g.model,
		MaxTokens: maxTokens,
		Schema:    req.Schema,
	})

	resp.Text = provResp.Text
	resp.PromptTokens = provResp.InputTokens
	resp.CompletionTokens = provResp.OutputTokens
	resp.TotalTokens = provResp.InputTokens + provResp.OutputTokens
	resp.ErrorKind = provResp.ErrorKind
	resp.CostUSD = pricing.Cost(provider, g.model, provResp.InputTokens, provResp.OutputTokens)
	resp.LatencyMs = g.sinceMs(start)

	if req.Schema != nil && resp.ErrorKind == "" {
		var obj map[string]any
		if err := json.Unmarshal([]byte(resp.Text), &obj); err != nil {
			resp.ErrorKind = providers.ErrKindBadJSON
		} else {
			resp.JSON = obj
		}
	}

	// Cache insert only for clean responses.
	if g.cache != nil && resp.ErrorKind == "" {
		if body, err := json.Marshal(resp); err == nil {
			if err := g.cache.Set(ctx, cacheKey, body, g.cacheTTL); err != nil {
				if g.metrics != nil {
					g.metrics.CacheSetError()
				}
				g.log.WarnContext(ctx, "cache_set_failed",
					slog.String("request_id", requestID),
					slog.String("error", err.Error()),
				)
			} else if g.metrics != nil {
				g.metrics.CacheSetOK()
			}
		}
	}

	if g.metrics != nil {
		outcome := "ok"
		if resp.ErrorKind != "" {
			outcome = resp.ErrorKind
		}
		g.metrics.RecordTask(provider, outcome, "miss", g.now().Sub(start))
		g.metrics.AddTokens(provider, resp.PromptTokens, resp.CompletionTokens, false)
		g.metrics.AddCost(provider, g.model, resp.CostUSD)
	}

	g.audit(req, resp)

	g.log.InfoContext(ctx, "task_done",
		slog.String("request_id", requestID),
		slog.String("provider", provider),
		slog.String("model", g.model),
		slog.String("error_kind", resp.ErrorKind),
		slog.Float64("latency_ms", resp.LatencyMs),
	)

	return resp
}

// decline finalizes a rate-limited response: the reason lands on the
// response, in the audit trail, and in the metrics.
func (g *Gateway) decline(ctx context.Context, req *TaskRequest, resp *TaskResponse, start time.Time, reason string) *TaskResponse {
	if g.metrics != nil {
		g.metrics.RecordRateLimit(reason)
	}
	g.log.WarnContext(ctx, "rate_limit_exceeded",
		slog.String("request_id", resp.RequestID),
		slog.String("reason", reason),
	)
	resp.ErrorKind = providers.ErrKindRateLimited
	resp.RateLimited = true
	resp.RateLimitReason = reason
	resp.LatencyMs = g.sinceMs(start)
	g.audit(req, resp)
	return resp
}

// resolveVersion maps the requested prompt version to a registry version,
// falling back to the default when unknown.
func (g *Gateway) resolveVersion(requestID, requested string) string {
	if requested == "" {
		return g.defaultVersion
	}
	if g.registry.Has(requested) {
		return requested
	}
	g.log.Warn("unknown_prompt_version",
		slog.String("request_id", requestID),
		slog.String("requested", requested),
		slog.String("fallback", g.defaultVersion),
	)
	return g.defaultVersion
}

// applySystemPrompt prepends the registry's system prompt for version when
// the request does not carry its own system message.
func (g *Gateway) applySystemPrompt(messages []providers.Message, version string) []providers.Message {
	for _, m := range messages {
		if m.Role == "system" {
			return messages
		}
	}
	p, err := g.registry.Get(version)
	if err != nil || p.SystemPrompt == "" {
		return messages
	}
	out := make([]providers.Message, 0, len(messages)+1)
	out = append(out, providers.Message{Role: "system", Content: p.SystemPrompt})
	return append(out, messages...)
}

func (g *Gateway) audit(req *TaskRequest, resp *TaskResponse) {
	if g.writer == nil {
		return
	}
	g.writer.Write(audit.TaskRecord{
		RequestID:       resp.RequestID,
		Timestamp:       g.now().UTC(),
		Provider:        resp.Provider,
		Model:           resp.Model,
		PromptVersion:   resp.PromptVersion,
		Messages:        audit.MaskMessages(req.Messages),
		HasSchema:       req.Schema != nil,
		JSONGenerated:   resp.JSON != nil,
		InputTokens:     resp.PromptTokens,
		OutputTokens:    resp.CompletionTokens,
		CostUSD:         resp.CostUSD,
		LatencyMs:       resp.LatencyMs,
		CacheHit:        resp.CacheHit,
		RateLimited:     resp.RateLimited,
		RateLimitReason: resp.RateLimitReason,
		ErrorKind:       resp.ErrorKind,
	})
}

func (g *Gateway) sinceMs(start time.Time) float64 {
	return float64(g.now().Sub(start)) / float64(time.Millisecond)
}
