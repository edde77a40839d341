package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nulpointcorp/llmops/internal/providers"
	"github.com/nulpointcorp/llmops/internal/providers/mock"
)

// scriptedProvider returns canned results per attempt.
type scriptedProvider struct {
	calls   int
	results []func() (*providers.Response, error)
}

func (p *scriptedProvider) Name() string                          { return "scripted" }
func (p *scriptedProvider) HealthCheck(_ context.Context) error   { return nil }
func (p *scriptedProvider) Complete(_ context.Context, _ *providers.Request) (*providers.Response, error) {
	i := p.calls
	p.calls++
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	return p.results[i]()
}

// slowProvider blocks until its context expires.
type slowProvider struct{ calls int }

func (p *slowProvider) Name() string                        { return "slow" }
func (p *slowProvider) HealthCheck(_ context.Context) error { return nil }
func (p *slowProvider) Complete(ctx context.Context, _ *providers.Request) (*providers.Response, error) {
	p.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func req() *providers.Request {
	return &providers.Request{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
		Model:    "gpt-4-mock",
	}
}

func TestCompleteSuccessFirstAttempt(t *testing.T) {
	c := New(mock.New(mock.WithLatency(0)), time.Second, 2)

	resp := c.Complete(context.Background(), req())
	if resp.ErrorKind != "" {
		t.Fatalf("ErrorKind = %q, want success", resp.ErrorKind)
	}
	if resp.Text == "" {
		t.Fatal("expected non-empty text")
	}
}

func TestCompleteRetriesTransportError(t *testing.T) {
	p := &scriptedProvider{results: []func() (*providers.Response, error){
		func() (*providers.Response, error) { return nil, errors.New("connection refused") },
		func() (*providers.Response, error) { return nil, errors.New("connection refused") },
		func() (*providers.Response, error) { return &providers.Response{Text: "ok", OutputTokens: 1}, nil },
	}}
	c := New(p, time.Second, 2)

	resp := c.Complete(context.Background(), req())
	if resp.ErrorKind != "" || resp.Text != "ok" {
		t.Fatalf("resp = %+v, want recovered success", resp)
	}
	if p.calls != 3 {
		t.Fatalf("provider called %d times, want 3", p.calls)
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	p := &scriptedProvider{results: []func() (*providers.Response, error){
		func() (*providers.Response, error) { return nil, errors.New("boom") },
	}}
	c := New(p, time.Second, 2)

	resp := c.Complete(context.Background(), req())
	if resp.ErrorKind != providers.ErrKindProviderError {
		t.Fatalf("ErrorKind = %q, want %q", resp.ErrorKind, providers.ErrKindProviderError)
	}
	if resp.Text != "" {
		t.Fatalf("expected empty text on final failure, got %q", resp.Text)
	}
	if p.calls != 3 {
		t.Fatalf("provider called %d times, want 3 (1 + 2 retries)", p.calls)
	}
}

func TestCompleteTimeoutKind(t *testing.T) {
	p := &slowProvider{}
	c := New(p, 10*time.Millisecond, 1)

	resp := c.Complete(context.Background(), req())
	if resp.ErrorKind != providers.ErrKindTimeout {
		t.Fatalf("ErrorKind = %q, want %q", resp.ErrorKind, providers.ErrKindTimeout)
	}
	if p.calls != 2 {
		t.Fatalf("provider called %d times, want 2 (timeouts are retried)", p.calls)
	}
}

func TestCompleteBadJSONNotRetried(t *testing.T) {
	p := &scriptedProvider{results: []func() (*providers.Response, error){
		func() (*providers.Response, error) {
			return &providers.Response{ErrorKind: providers.ErrKindBadJSON}, nil
		},
	}}
	c := New(p, time.Second, 3)

	resp := c.Complete(context.Background(), req())
	if resp.ErrorKind != providers.ErrKindBadJSON {
		t.Fatalf("ErrorKind = %q, want %q", resp.ErrorKind, providers.ErrKindBadJSON)
	}
	if p.calls != 1 {
		t.Fatalf("provider called %d times, want 1 (bad_json must not retry)", p.calls)
	}
}
