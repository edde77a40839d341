// Package providers defines the common interface and normalized types
// implemented by every LLM backend (mock, OpenAI, Anthropic, Gemini).
//
// Each provider lives in its own sub-package and implements the Provider
// interface. Higher layers never talk to an SDK directly.
package providers

import (
	"context"
	"time"
)

type (
	// Message is a single turn in a conversation (role + text content).
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// Request — normalized completion request. Schema, when non-nil, asks
	// the provider for a JSON object described by a JSON-Schema-like map
	// with a top-level "properties" object.
	Request struct {
		Messages  []Message
		Model     string
		MaxTokens int
		Schema    map[string]any
	}

	// Response — normalized completion result. ErrorKind is empty on
	// success; on failure Text is empty and ErrorKind names the failure
	// class (see the ErrKind constants).
	Response struct {
		Text         string
		InputTokens  int
		OutputTokens int
		ErrorKind    string
	}
)

// Failed reports whether the response carries an application-level error.
func (r *Response) Failed() bool { return r != nil && r.ErrorKind != "" }

// Error kinds carried on Response.ErrorKind. The set is closed; downstream
// analytics bucket failures by these values.
const (
	ErrKindTimeout       = "timeout"
	ErrKindProviderError = "provider_error"
	ErrKindBadJSON       = "bad_json"
	ErrKindRateLimited   = "rate_limited"
)

// Provider — LLM backend interface.
type Provider interface {
	Name() string

	// Complete executes a single completion attempt. Transport and API
	// errors are returned as err; failures the provider detects itself
	// (e.g. an unusable schema) come back as a Response with ErrorKind
	// set and a nil error.
	Complete(ctx context.Context, req *Request) (*Response, error)

	HealthCheck(ctx context.Context) error
}

// Known provider names, used for config validation and pricing lookup.
var Known = []string{"mock", "openai", "anthropic", "gemini"}

// Default client constants.
const (
	DefaultMaxRetries = 2
	ProviderTimeout   = 30 * time.Second

	// Output token bounds enforced by the gateway.
	DefaultOutputTokens = 256
	MaxOutputTokens     = 4096
)

// SchemaProperties extracts the "properties" object from a schema map.
// Returns nil when the schema carries no usable properties object.
func SchemaProperties(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	return props
}

// StatusCoder is implemented by provider errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}
