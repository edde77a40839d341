// Package pricing computes the USD cost of completed LLM requests from
// provider-reported token usage. Rates are per 1K tokens and maintained
// by hand; models not listed here are billed at zero so that an unknown
// model never blocks a request.
package pricing

import (
	"math"

	"github.com/nulpointcorp/llmops/internal/providers"
)

// rate holds per-1K-token USD prices for a single model.
type rate struct {
	Input  float64
	Output float64
}

// openAIRates is the published OpenAI price table. gpt-4-mock is the
// deterministic in-process model and is free.
var openAIRates = map[string]rate{
	"gpt-4o":        {Input: 0.005, Output: 0.015},
	"gpt-4o-mini":   {Input: 0.00015, Output: 0.0006},
	"gpt-4-turbo":   {Input: 0.01, Output: 0.03},
	"gpt-3.5-turbo": {Input: 0.0005, Output: 0.0015},
	"gpt-4-mock":    {Input: 0, Output: 0},
}

// Cost returns the USD cost of a request, rounded to 6 decimal places.
// Only the openai provider has a price table; every other provider,
// including mock, costs 0 regardless of the model name.
func Cost(provider, model string, inputTokens, outputTokens int) float64 {
	if provider != "openai" {
		return 0
	}

	r, ok := openAIRates[model]
	if !ok {
		return 0
	}

	cost := float64(inputTokens)/1000*r.Input + float64(outputTokens)/1000*r.Output
	return math.Round(cost*1e6) / 1e6
}

// EstimateTokens approximates the token count of a message list for
// rate-limit admission before the provider reports real usage. Uses the
// common ~4 characters per token heuristic plus a small per-message
// overhead for role framing.
func EstimateTokens(messages []providers.Message) int {
	const (
		charsPerToken      = 4
		perMessageOverhead = 4
	)

	total := 0
	for _, m := range messages {
		total += len(m.Content)/charsPerToken + perMessageOverhead
	}
	return total
}
