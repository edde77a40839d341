package mock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nulpointcorp/llmops/internal/providers"
)

func newFast() *Provider { return New(WithLatency(0)) }

func TestCompleteDeterministic(t *testing.T) {
	p := newFast()
	req := &providers.Request{
		Messages: []providers.Message{{Role: "user", Content: "list files"}},
		Model:    "gpt-4-mock",
	}

	a, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	b, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if a.Text != b.Text {
		t.Fatalf("identical requests produced different text: %q vs %q", a.Text, b.Text)
	}
	if a.Text == "" {
		t.Fatal("expected non-empty text")
	}
}

func TestCompleteDifferentInputsDiffer(t *testing.T) {
	p := newFast()

	a, _ := p.Complete(context.Background(), &providers.Request{
		Messages: []providers.Message{{Role: "user", Content: "alpha"}},
	})
	b, _ := p.Complete(context.Background(), &providers.Request{
		Messages: []providers.Message{{Role: "user", Content: "beta"}},
	})

	if a.Text == b.Text {
		t.Fatalf("distinct inputs produced identical text: %q", a.Text)
	}
}

func TestCompleteTokenCounts(t *testing.T) {
	p := newFast()

	text, _ := p.Complete(context.Background(), &providers.Request{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
	})
	if text.InputTokens != 50 || text.OutputTokens != 80 {
		t.Fatalf("text usage = (%d,%d), want (50,80)", text.InputTokens, text.OutputTokens)
	}

	structured, _ := p.Complete(context.Background(), &providers.Request{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
		},
	})
	if structured.InputTokens != 50 || structured.OutputTokens != 130 {
		t.Fatalf("json usage = (%d,%d), want (50,130)", structured.InputTokens, structured.OutputTokens)
	}
}

func TestCompleteSchemaProducesJSON(t *testing.T) {
	p := newFast()
	resp, err := p.Complete(context.Background(), &providers.Request{
		Messages: []providers.Message{{Role: "user", Content: "make json"}},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{"type": "string"},
				"count":  map[string]any{"type": "integer"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.ErrorKind != "" {
		t.Fatalf("unexpected error kind %q", resp.ErrorKind)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(resp.Text), &obj); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, resp.Text)
	}
	if obj["status"] != "mock_status" {
		t.Fatalf(`obj["status"] = %v, want "mock_status"`, obj["status"])
	}
	if obj["count"] != "mock_count" {
		t.Fatalf(`obj["count"] = %v, want "mock_count"`, obj["count"])
	}
}

func TestCompleteInvalidSchema(t *testing.T) {
	p := newFast()
	resp, err := p.Complete(context.Background(), &providers.Request{
		Messages: []providers.Message{{Role: "user", Content: "make json"}},
		Schema:   map[string]any{"type": "object"}, // no properties
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.ErrorKind != providers.ErrKindBadJSON {
		t.Fatalf("ErrorKind = %q, want %q", resp.ErrorKind, providers.ErrKindBadJSON)
	}
	if resp.Text != "" {
		t.Fatalf("expected empty text on bad_json, got %q", resp.Text)
	}
}

func TestCompleteTruncatesToMaxTokens(t *testing.T) {
	p := newFast()
	resp, _ := p.Complete(context.Background(), &providers.Request{
		Messages:  []providers.Message{{Role: "user", Content: "hi"}},
		MaxTokens: 10,
	})
	if len(resp.Text) > 10 {
		t.Fatalf("text length %d exceeds max of 10: %q", len(resp.Text), resp.Text)
	}
}

func TestCompleteHonorsContextCancel(t *testing.T) {
	p := New() // real latency so cancellation wins
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Complete(ctx, &providers.Request{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
	}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
