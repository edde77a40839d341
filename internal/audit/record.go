// Package audit implements the platform's durable trail: append-only JSONL
// files, one per UTC day, holding gateway task records and harness run
// records. Raw message content never reaches disk — only a content hash
// and length.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/nulpointcorp/llmops/internal/providers"
)

// MaskedMessage is the audit representation of a chat message.
type MaskedMessage struct {
	Role          string `json:"role"`
	ContentHash   string `json:"content_hash"`
	ContentLength int    `json:"content_length"`
}

// MaskMessages converts messages to their audit form: SHA-256 prefix of
// the content plus its length.
func MaskMessages(messages []providers.Message) []MaskedMessage {
	out := make([]MaskedMessage, len(messages))
	for i, m := range messages {
		sum := sha256.Sum256([]byte(m.Content))
		out[i] = MaskedMessage{
			Role:          m.Role,
			ContentHash:   hex.EncodeToString(sum[:])[:8],
			ContentLength: len(m.Content),
		}
	}
	return out
}

// TaskRecord is one gateway request in the audit trail.
type TaskRecord struct {
	RequestID     string          `json:"request_id"`
	Timestamp     time.Time       `json:"ts"`
	Provider      string          `json:"provider"`
	Model         string          `json:"model"`
	PromptVersion string          `json:"prompt_version_used"`
	Messages      []MaskedMessage `json:"messages"`
	HasSchema     bool            `json:"has_schema"`
	JSONGenerated bool            `json:"json_generated"`
	InputTokens   int             `json:"input_tokens"`
	OutputTokens  int             `json:"output_tokens"`
	CostUSD       float64         `json:"cost_usd"`
	LatencyMs     float64         `json:"latency_ms"`
	CacheHit      bool            `json:"cache_hit"`

	// Admission declines, for dashboard queries over the trail.
	// Reasons: qps_limit, tpm_limit, fleet_rpm.
	RateLimited     bool   `json:"rate_limited"`
	RateLimitReason string `json:"rate_limit_reason,omitempty"`

	ErrorKind string `json:"error_kind,omitempty"`
}

// RunRecord is one harness case execution.
type RunRecord struct {
	CaseID        string    `json:"case_id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	Severity      string    `json:"severity"`
	RunID         string    `json:"run_id"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	PromptVersion string    `json:"prompt_version,omitempty"`
	Timestamp     time.Time `json:"ts"`
	Passed        bool      `json:"passed"`
	Output        string    `json:"output"`
	Error         string    `json:"error,omitempty"`
	FailureType   string    `json:"failure_type,omitempty"`
	LatencyMs     float64   `json:"latency_ms"`
	TokensIn      int       `json:"tokens_in"`
	TokensOut     int       `json:"tokens_out"`
	CostUSD       float64   `json:"cost_usd"`
	Tags          []string  `json:"tags,omitempty"`
	Owner         string    `json:"owner,omitempty"`
}

// FailureTypeOf names the failure bucket of a record: the explicit
// failure type, else the error string, else empty_output for a pass=false
// record with nothing else set.
func FailureTypeOf(r RunRecord) string {
	if r.FailureType != "" {
		return r.FailureType
	}
	if r.Error != "" {
		return r.Error
	}
	return "empty_output"
}

// GroupByRun buckets records by run ID.
func GroupByRun(records []RunRecord) map[string][]RunRecord {
	out := make(map[string][]RunRecord)
	for _, r := range records {
		out[r.RunID] = append(out[r.RunID], r)
	}
	return out
}
