// Package gate decides whether a deployment may proceed by checking the
// current evaluation window against configured pass-rate thresholds.
// Thresholds layer in order: built-in defaults, the YAML config file,
// the first matching rule, then explicit CLI overrides.
package gate

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Built-in threshold defaults, in percent.
const (
	DefaultS1PassRate      = 100.0
	DefaultOverallPassRate = 80.0
	DefaultTopN            = 5
	DefaultOwnerFallback   = "platform-team"
)

// Thresholds are fully-resolved gate thresholds.
type Thresholds struct {
	S1PassRate      float64
	OverallPassRate float64
	TopN            int
}

// DefaultThresholds returns the built-in defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		S1PassRate:      DefaultS1PassRate,
		OverallPassRate: DefaultOverallPassRate,
		TopN:            DefaultTopN,
	}
}

// RuleMatch holds the conditions under which a rule applies.
type RuleMatch struct {
	Labels []string `yaml:"labels"`
	Paths  []string `yaml:"paths"`
}

// Rule overrides thresholds for a matching context. Fields missing from
// the rule's thresholds block inherit the config-level values.
type Rule struct {
	Name       string
	Match      RuleMatch
	Thresholds Thresholds
}

// Config is the gate configuration file.
type Config struct {
	Thresholds    Thresholds
	Rules         []Rule
	OwnerFallback string
}

// DefaultConfig returns a Config with built-in defaults and no rules.
func DefaultConfig() Config {
	return Config{
		Thresholds:    DefaultThresholds(),
		OwnerFallback: DefaultOwnerFallback,
	}
}

// Partial-override YAML shapes: absent fields stay nil so they can
// inherit from the layer below.
type rawThresholds struct {
	S1PassRate      *float64 `yaml:"s1_pass_rate"`
	OverallPassRate *float64 `yaml:"overall_pass_rate"`
	TopN            *int     `yaml:"top_n"`
}

type rawRule struct {
	Name       string        `yaml:"name"`
	Match      RuleMatch     `yaml:"match"`
	Thresholds rawThresholds `yaml:"thresholds"`
}

type rawConfig struct {
	Thresholds    rawThresholds `yaml:"thresholds"`
	Rules         []rawRule     `yaml:"rules"`
	OwnerFallback string        `yaml:"owner_fallback"`
}

func (r rawThresholds) resolve(defaults Thresholds) Thresholds {
	out := defaults
	if r.S1PassRate != nil {
		out.S1PassRate = *r.S1PassRate
	}
	if r.OverallPassRate != nil {
		out.OverallPassRate = *r.OverallPassRate
	}
	if r.TopN != nil {
		out.TopN = *r.TopN
	}
	return out
}

// configSearchNames are tried in order when no explicit path is given.
var configSearchNames = []string{".llmops.yml", ".llmops.yaml", "llmops.yml"}

// LoadConfig reads the gate config at path. An empty path auto-detects a
// config file in the working directory and falls back to defaults when
// none exists; an explicit path that is missing is an error.
func LoadConfig(path string) (Config, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("gate: read config: %w", err)
		}
		return ParseConfig(data)
	}

	for _, name := range configSearchNames {
		data, err := os.ReadFile(name)
		if err != nil {
			continue
		}
		return ParseConfig(data)
	}
	return DefaultConfig(), nil
}

// ParseConfig parses YAML config bytes, layering file values on the
// built-in defaults.
func ParseConfig(data []byte) (Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("gate: parse config: %w", err)
	}

	cfg := Config{
		Thresholds:    raw.Thresholds.resolve(DefaultThresholds()),
		OwnerFallback: DefaultOwnerFallback,
	}
	if raw.OwnerFallback != "" {
		cfg.OwnerFallback = raw.OwnerFallback
	}
	for _, rr := range raw.Rules {
		cfg.Rules = append(cfg.Rules, Rule{
			Name:       rr.Name,
			Match:      rr.Match,
			Thresholds: rr.Thresholds.resolve(cfg.Thresholds),
		})
	}
	return cfg, nil
}

// ResolveThresholds returns the effective thresholds for a context.
// Rules are evaluated top to bottom; the first match wins, otherwise the
// config-level thresholds apply.
func (c Config) ResolveThresholds(labels, changedFiles []string) Thresholds {
	for _, rule := range c.Rules {
		if ruleMatches(rule, labels, changedFiles) {
			return rule.Thresholds
		}
	}
	return c.Thresholds
}

// ruleMatches reports whether every specified condition holds: labels
// must intersect case-insensitively, and at least one changed file must
// match one of the rule's globs. A rule with no conditions never
// matches.
func ruleMatches(rule Rule, labels, changedFiles []string) bool {
	m := rule.Match
	if len(m.Labels) == 0 && len(m.Paths) == 0 {
		return false
	}

	if len(m.Labels) > 0 {
		have := make(map[string]bool, len(labels))
		for _, l := range labels {
			have[strings.ToLower(l)] = true
		}
		ok := false
		for _, l := range m.Labels {
			if have[strings.ToLower(l)] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if len(m.Paths) > 0 {
		ok := false
	outer:
		for _, f := range changedFiles {
			for _, pat := range m.Paths {
				if matched, err := path.Match(pat, f); err == nil && matched {
					ok = true
					break outer
				}
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
