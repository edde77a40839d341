// Package prompts manages versioned prompt templates. Versions are YAML
// descriptors, either built in or loaded from a directory, and are
// addressed as "v1", "v2", ... The gateway resolves a requested version
// through this registry and falls back to the default when unknown.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultVersion is the version the gateway falls back to.
const DefaultVersion = "v1"

const instructionSlot = "{instruction}"

// Example is a worked instruction/output pair attached to a prompt.
type Example struct {
	Instruction string `yaml:"instruction"`
	Output      string `yaml:"output"`
}

// Prompt is a single versioned prompt descriptor.
type Prompt struct {
	Version            string    `yaml:"version"`
	SystemPrompt       string    `yaml:"system_prompt"`
	UserPromptTemplate string    `yaml:"user_prompt_template"`
	Description        string    `yaml:"description"`
	Tags               []string  `yaml:"tags"`
	CreatedAt          string    `yaml:"created_at"`
	Examples           []Example `yaml:"examples"`
}

// Info is the metadata summary returned for listing endpoints.
type Info struct {
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	CreatedAt   string   `json:"created_at"`
	Examples    int      `json:"examples"`
}

// Registry holds prompt versions. Safe for concurrent reads after loading.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]*Prompt
}

// NewRegistry returns a registry seeded with the built-in versions.
func NewRegistry() *Registry {
	r := &Registry{versions: make(map[string]*Prompt)}
	for _, p := range builtins {
		r.versions[p.Version] = p
	}
	return r
}

// LoadDir registers every *.yaml / *.yml descriptor in dir, overriding
// built-ins with the same version. A missing directory is not an error so
// deployments without custom prompts run on the built-ins.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("prompts: read dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("prompts: read %s: %w", e.Name(), err)
		}

		var p Prompt
		if err := yaml.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("prompts: parse %s: %w", e.Name(), err)
		}
		if err := validate(&p); err != nil {
			return fmt.Errorf("prompts: %s: %w", e.Name(), err)
		}

		r.mu.Lock()
		r.versions[p.Version] = &p
		r.mu.Unlock()
	}
	return nil
}

func validate(p *Prompt) error {
	if p.Version == "" {
		return fmt.Errorf("missing version")
	}
	if !strings.Contains(p.UserPromptTemplate, instructionSlot) {
		return fmt.Errorf("user_prompt_template must contain %s", instructionSlot)
	}
	return nil
}

// Get returns the prompt for version, or an error when unknown.
func (r *Registry) Get(version string) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.versions[version]
	if !ok {
		return nil, fmt.Errorf("prompts: unknown version %q", version)
	}
	return p, nil
}

// Has reports whether version is registered.
func (r *Registry) Has(version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.versions[version]
	return ok
}

// GetLatest returns the prompt with the highest numeric version.
func (r *Registry) GetLatest() *Prompt {
	versions := r.List()
	if len(versions) == 0 {
		return nil
	}
	p, _ := r.Get(versions[0])
	return p
}

// List returns all registered versions sorted newest first.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.versions))
	for v := range r.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return versionNum(out[i]) > versionNum(out[j])
	})
	return out
}

// GetInfo returns the metadata summary for version.
func (r *Registry) GetInfo(version string) (Info, error) {
	p, err := r.Get(version)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Version:     p.Version,
		Description: p.Description,
		Tags:        p.Tags,
		CreatedAt:   p.CreatedAt,
		Examples:    len(p.Examples),
	}, nil
}

// Render expands the user template of version with the instruction and
// returns (systemPrompt, userPrompt).
func (r *Registry) Render(version, instruction string) (string, string, error) {
	p, err := r.Get(version)
	if err != nil {
		return "", "", err
	}
	user := strings.ReplaceAll(p.UserPromptTemplate, instructionSlot, instruction)
	return p.SystemPrompt, user, nil
}

// versionNum extracts the numeric part of "vN" labels; non-conforming
// labels sort last.
func versionNum(v string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(v, "v"))
	if err != nil {
		return -1
	}
	return n
}

var builtins = []*Prompt{
	{
		Version:            "v1",
		SystemPrompt:       "You are a precise assistant. Follow the instruction exactly and answer concisely.",
		UserPromptTemplate: "Task: {instruction}",
		Description:        "Baseline task prompt",
		Tags:               []string{"baseline"},
		CreatedAt:          "2025-11-03",
	},
	{
		Version:            "v2",
		SystemPrompt:       "You are a precise assistant. Follow the instruction exactly. Prefer structured, verifiable answers and do not add commentary.",
		UserPromptTemplate: "Task: {instruction}\nRespond with only the answer.",
		Description:        "Tightened output discipline, fewer filler phrases",
		Tags:               []string{"baseline", "strict-output"},
		CreatedAt:          "2026-01-19",
		Examples: []Example{
			{Instruction: "Name the capital of France.", Output: "Paris"},
		},
	},
}
