// Package catalog loads regression test catalogues from CSV. Each row is
// one test case; severity labels are canonicalized at load time so the
// rest of the platform only ever sees S1, S2, or unclassified.
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Canonical severity buckets.
const (
	SeverityS1           = "S1"
	SeverityS2           = "S2"
	SeverityUnclassified = "unclassified"
)

// Case is a single catalogue row.
type Case struct {
	CaseID         string
	Name           string
	InputPrompt    string
	ExpectedOutput string
	Category       string
	Severity       string
	Owner          string
	Tags           []string
	MinPassRate    *float64
}

var requiredColumns = []string{
	"case_id", "name", "input_prompt", "expected_output", "category", "severity",
}

// CanonicalSeverity maps the label spellings that appear in catalogues to
// the canonical buckets. Unknown labels become unclassified.
func CanonicalSeverity(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "S1", "SEV1", "1", "CRITICAL":
		return SeverityS1
	case "S2", "SEV2", "2", "HIGH":
		return SeverityS2
	default:
		return SeverityUnclassified
	}
}

// Load parses the catalogue at path. Rows missing required fields are
// skipped with a warning rather than failing the whole file.
func Load(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	defer f.Close()

	return parse(csv.NewReader(f), path)
}

func parse(r *csv.Reader, path string) ([]Case, error) {
	r.FieldsPerRecord = -1 // ragged rows are handled per-row

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("catalog: read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.TrimSpace(strings.ToLower(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("catalog: missing required column %q", col)
		}
	}

	field := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var cases []Case
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			slog.Warn("catalog_skip_bad_row",
				slog.String("file", path),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}

		c := Case{
			CaseID:         field(row, "case_id"),
			Name:           field(row, "name"),
			InputPrompt:    field(row, "input_prompt"),
			ExpectedOutput: field(row, "expected_output"),
			Category:       field(row, "category"),
			Severity:       CanonicalSeverity(field(row, "severity")),
			Owner:          field(row, "owner"),
		}

		if missing := missingRequired(row, field); missing != "" {
			slog.Warn("catalog_skip_incomplete_row",
				slog.String("file", path),
				slog.Int("line", line),
				slog.String("missing", missing),
			)
			continue
		}

		if tags := field(row, "tags"); tags != "" {
			for _, t := range strings.Split(tags, ";") {
				if t = strings.TrimSpace(t); t != "" {
					c.Tags = append(c.Tags, t)
				}
			}
		}

		if raw := field(row, "min_pass_rate"); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				c.MinPassRate = &v
			}
			// Unparseable min_pass_rate is ignored, not fatal.
		}

		cases = append(cases, c)
	}
	return cases, nil
}

func missingRequired(row []string, field func([]string, string) string) string {
	for _, col := range requiredColumns {
		switch col {
		case "severity":
			// Severity always canonicalizes to something.
			continue
		case "expected_output":
			// The column is required, the value is not: open-ended cases
			// carry no reference output.
			continue
		}
		if field(row, col) == "" {
			return col
		}
	}
	return ""
}
