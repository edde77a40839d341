package harness

import (
	"strings"
	"testing"
)

func TestValidateContractPass(t *testing.T) {
	ok, failType, reason := ValidateContract(
		`{"id": 1, "name": "alice"}`,
		`{"id": 7, "name": "bob", "extra": true}`,
	)
	if !ok {
		t.Fatalf("expected pass, got %s: %s", failType, reason)
	}
}

func TestValidateContractNumbersInterchange(t *testing.T) {
	ok, _, reason := ValidateContract(`{"score": 1}`, `{"score": 0.5}`)
	if !ok {
		t.Fatalf("int/float must be interchangeable: %s", reason)
	}
}

func TestValidateContractBoolStrict(t *testing.T) {
	ok, failType, reason := ValidateContract(`{"active": true}`, `{"active": 1}`)
	if ok {
		t.Fatal("bool vs number must fail")
	}
	if failType != FailQuality {
		t.Fatalf("failType = %q, want quality_fail", failType)
	}
	if !strings.Contains(reason, "active: expected boolean, got number") {
		t.Fatalf("reason = %q", reason)
	}
}

func TestValidateContractMissingKeys(t *testing.T) {
	ok, failType, reason := ValidateContract(
		`{"id": 1, "name": "x", "role": "admin"}`,
		`{"id": 1}`,
	)
	if ok {
		t.Fatal("missing keys must fail")
	}
	if failType != FailQuality {
		t.Fatalf("failType = %q", failType)
	}
	if reason != "Missing required keys: name, role" {
		t.Fatalf("reason = %q", reason)
	}
}

func TestValidateContractBadJSON(t *testing.T) {
	if ok, failType, _ := ValidateContract(`{"id": 1}`, `not json`); ok || failType != FailBadJSON {
		t.Fatalf("unparseable actual: ok=%v failType=%q", ok, failType)
	}
	if ok, failType, _ := ValidateContract(`not json`, `{"id": 1}`); ok || failType != FailBadJSON {
		t.Fatalf("unparseable expected: ok=%v failType=%q", ok, failType)
	}
}

func TestSoftMatch(t *testing.T) {
	tests := []struct {
		name             string
		actual, expected string
		want             bool
	}{
		{"empty expected, output present", "anything", "", true},
		{"empty actual", "", "greeting", false},
		{"both empty", "", "", true},
		{"empty actual, noise-only expected", "", "or equivalent", true},
		{"exact substring", "here is a friendly greeting for you", "a friendly greeting", true},
		{"half keywords", "the user record was created", "user record deleted forever", true},
		{"below half", "completely unrelated text", "user record deleted forever", false},
		{"noise stripped", "equivalent only", "or equivalent", true},
		{"case insensitive", "HELLO WORLD", "hello world", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SoftMatch(tt.actual, tt.expected); got != tt.want {
				t.Fatalf("SoftMatch(%q, %q) = %v, want %v", tt.actual, tt.expected, got, tt.want)
			}
		})
	}
}

func TestJSONTypeName(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{true, "boolean"},
		{float64(3), "number"},
		{"x", "string"},
		{[]any{}, "array"},
		{map[string]any{}, "object"},
	}
	for _, tt := range tests {
		if got := jsonTypeName(tt.in); got != tt.want {
			t.Errorf("jsonTypeName(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
