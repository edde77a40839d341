// Package llmclient wraps a provider with per-attempt timeouts and bounded
// retry. It converts transport failures into the closed error-kind set the
// rest of the platform keys on.
package llmclient

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nulpointcorp/llmops/internal/providers"
)

const (
	backoffBase = 100 * time.Millisecond
	backoffCap  = 2 * time.Second
)

// Client executes completions against a single provider with retry.
type Client struct {
	provider   providers.Provider
	timeout    time.Duration
	maxRetries int
}

// New creates a Client. timeout bounds each attempt; maxRetries is the
// number of additional attempts after the first (so maxRetries=2 means up
// to 3 attempts). Non-positive values fall back to defaults.
func New(p providers.Provider, timeout time.Duration, maxRetries int) *Client {
	if timeout <= 0 {
		timeout = providers.ProviderTimeout
	}
	if maxRetries < 0 {
		maxRetries = providers.DefaultMaxRetries
	}
	return &Client{provider: p, timeout: timeout, maxRetries: maxRetries}
}

// Provider returns the wrapped provider.
func (c *Client) Provider() providers.Provider { return c.provider }

// Complete runs the request with up to maxRetries+1 attempts. Timeouts and
// transport errors are retried; bad_json is returned as-is because
// retrying a deterministic schema failure cannot help. The returned
// Response is never nil: after the final failed attempt it carries an
// empty text and the last error kind.
func (c *Client) Complete(ctx context.Context, req *providers.Request) *providers.Response {
	var lastKind string

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if !sleepBackoff(ctx, attempt) {
				break
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.provider.Complete(attemptCtx, req)
		cancel()

		if err != nil {
			lastKind = classify(err)
			slog.Warn("llm_attempt_failed",
				slog.String("provider", c.provider.Name()),
				slog.Int("attempt", attempt),
				slog.String("error_kind", lastKind),
				slog.String("error", err.Error()),
			)
			continue
		}

		if resp.ErrorKind == providers.ErrKindBadJSON {
			// Schema-level failure, not transient.
			return resp
		}
		if resp.ErrorKind != "" {
			lastKind = resp.ErrorKind
			continue
		}
		return resp
	}

	if lastKind == "" {
		lastKind = providers.ErrKindProviderError
	}
	return &providers.Response{ErrorKind: lastKind}
}

func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return providers.ErrKindTimeout
	}
	return providers.ErrKindProviderError
}

// sleepBackoff waits before retry attempt n (1-based). Returns false when
// the context is done first.
func sleepBackoff(ctx context.Context, attempt int) bool {
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		d = backoffCap
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
