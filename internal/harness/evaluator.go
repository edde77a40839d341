// Package harness executes regression catalogues through the gateway and
// scores the results. S1 cases are held to a JSON contract derived from
// the expected output; everything else gets a keyword soft match.
package harness

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Failure type buckets produced by evaluation.
const (
	FailBadJSON     = "bad_json"
	FailQuality     = "quality_fail"
	FailTimeout     = "timeout"
	FailToolError   = "tool_error"
	FailRateLimited = "rate_limited"
)

// ValidateContract checks that actual satisfies the JSON contract implied
// by expected: every top-level key of expected must be present in actual
// with a compatible type. Numbers are interchangeable, booleans must match
// exactly, extra keys are allowed. Returns ok, the failure type, and a
// human-readable reason.
func ValidateContract(expected, actual string) (bool, string, string) {
	var expectedObj map[string]any
	if err := json.Unmarshal([]byte(expected), &expectedObj); err != nil {
		return false, FailBadJSON, fmt.Sprintf("Expected output is not valid JSON: %s", err)
	}

	var actualObj map[string]any
	if err := json.Unmarshal([]byte(actual), &actualObj); err != nil {
		return false, FailBadJSON, fmt.Sprintf("Actual output is not valid JSON: %s", err)
	}

	keys := make([]string, 0, len(expectedObj))
	for k := range expectedObj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var missing []string
	for _, k := range keys {
		if _, ok := actualObj[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return false, FailQuality, "Missing required keys: " + strings.Join(missing, ", ")
	}

	var mismatches []string
	for _, k := range keys {
		want, got := expectedObj[k], actualObj[k]
		if !typesCompatible(want, got) {
			mismatches = append(mismatches,
				fmt.Sprintf("%s: expected %s, got %s", k, jsonTypeName(want), jsonTypeName(got)))
		}
	}
	if len(mismatches) > 0 {
		return false, FailQuality, "Type mismatches: " + strings.Join(mismatches, "; ")
	}

	return true, "", ""
}

// typesCompatible reports whether two decoded JSON values have compatible
// kinds. Numbers decode to float64 so int/float interchange is implicit;
// booleans never pass for numbers.
func typesCompatible(expected, actual any) bool {
	return jsonTypeName(expected) == jsonTypeName(actual)
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// softMatchNoise is stripped from the expected text before keyword
// extraction.
var softMatchNoise = []string{"a ", "an ", "the ", "or equivalent"}

// SoftMatch is the lightweight semantic check for non-S1 cases: at least
// half of the expected text's keywords (length >= 2, after noise
// stripping) must appear as substrings of the actual output. An empty
// keyword set always matches, whatever the actual output.
func SoftMatch(actual, expected string) bool {
	actualLower := strings.ToLower(actual)
	expectedLower := strings.ToLower(expected)
	for _, noise := range softMatchNoise {
		expectedLower = strings.ReplaceAll(expectedLower, noise, " ")
	}

	var keywords []string
	for _, w := range strings.Fields(expectedLower) {
		if len(w) >= 2 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) == 0 {
		return true
	}

	hits := 0
	for _, kw := range keywords {
		if strings.Contains(actualLower, kw) {
			hits++
		}
	}
	return float64(hits)/float64(len(keywords)) >= 0.5
}
