// Package mock implements a deterministic in-process provider. Responses
// are a pure function of the request content, which makes every layer
// above it testable without network access or API keys.
package mock

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/nulpointcorp/llmops/internal/providers"
)

const providerName = "mock"

// Token counts reported by the mock. Fixed so cost accounting is
// reproducible across runs.
const (
	mockInputTokens      = 50
	mockTextOutputTokens = 80
	mockJSONOutputTokens = 130
)

// defaultLatency approximates a fast real provider round trip.
const defaultLatency = 50 * time.Millisecond

type Provider struct {
	latency time.Duration
}

type Option func(*Provider)

// WithLatency overrides the simulated latency. Zero disables the delay,
// which keeps tests fast.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

func New(opts ...Option) *Provider {
	p := &Provider{latency: defaultLatency}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) HealthCheck(ctx context.Context) error { return nil }

func (p *Provider) Complete(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if req.Schema != nil {
		return p.jsonResponse(req)
	}
	return p.textResponse(req), nil
}

// digest derives the deterministic seed for a request: the first 8 hex
// characters of the MD5 of all message contents joined by newlines.
func digest(messages []providers.Message) string {
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = m.Content
	}
	sum := md5.Sum([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])[:8]
}

func (p *Provider) textResponse(req *providers.Request) *providers.Response {
	text := "Mock response for " + digest(req.Messages) + ": Test output..."
	if req.MaxTokens > 0 && len(text) > req.MaxTokens {
		text = text[:req.MaxTokens]
	}
	return &providers.Response{
		Text:         text,
		InputTokens:  mockInputTokens,
		OutputTokens: mockTextOutputTokens,
	}
}

func (p *Provider) jsonResponse(req *providers.Request) (*providers.Response, error) {
	props := providers.SchemaProperties(req.Schema)
	if props == nil {
		return &providers.Response{
			InputTokens: mockInputTokens,
			ErrorKind:   providers.ErrKindBadJSON,
		}, nil
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	obj := make(map[string]any, len(keys))
	for _, k := range keys {
		obj[k] = "mock_" + k
	}

	body, err := json.Marshal(obj)
	if err != nil {
		return &providers.Response{
			InputTokens: mockInputTokens,
			ErrorKind:   providers.ErrKindBadJSON,
		}, nil
	}

	return &providers.Response{
		Text:         string(body),
		InputTokens:  mockInputTokens,
		OutputTokens: mockJSONOutputTokens,
	}, nil
}
