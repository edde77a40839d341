// Package config loads and validates all runtime configuration for the
// gateway and harness.
//
// Configuration is read from environment variables (preferred for
// containers) or from a config.yaml file in the working directory.
// Environment variables take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses
// the same names in lower_snake_case. For example LLM_PROVIDER becomes
// llm_provider in YAML.
//
// The mock provider needs no credentials, so the gateway starts with no
// configuration at all and serves deterministic canned responses.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info,
	// warn, error. Default: info.
	LogLevel string

	// Provider selects the LLM adapter: mock, openai, anthropic, or
	// gemini. Default: mock.
	Provider string

	// Model is the model name sent to the provider and used for cost
	// accounting. Default: gpt-4-mock.
	Model string

	// Timeout is the per-attempt provider timeout. Default: 30s.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Default: 2.
	MaxRetries int

	// Provider credentials — required only for the selected provider.
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Gemini    ProviderConfig

	// Redis holds the connection URL for the Redis-backed cache.
	// Required only when CacheMode is "redis".
	Redis RedisConfig

	// Cache controls response caching.
	Cache CacheConfig

	// RateLimit controls gateway admission.
	RateLimit RateLimitConfig

	// PromptVersion is the default prompt version. Default: v1.
	PromptVersion string

	// PromptsDir optionally holds extra prompt versions as YAML files,
	// loaded on top of the built-ins.
	PromptsDir string

	// LogDir is where the audit trail's JSONL day files land.
	// Default: runs/llmops.
	LogDir string

	// CORSOrigins is the list of allowed CORS origins. Use ["*"] to
	// allow any origin (default).
	CORSOrigins []string
}

// ProviderConfig holds credentials for a single LLM provider.
type ProviderConfig struct {
	// APIKey is the provider API key.
	APIKey string

	// BaseURL overrides the provider's default API endpoint. Useful
	// for local mocks and development.
	BaseURL string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Enabled turns caching on or off. Default: true.
	Enabled bool

	// Mode selects the cache backend:
	//   "memory" — in-process TTL cache, not shared across replicas.
	//   "redis"  — Redis-backed cache (requires REDIS_URL).
	// Default: "memory".
	Mode string

	// TTL is the time-to-live for cached responses. Default: 1h.
	TTL time.Duration

	// MaxEntries bounds the in-memory cache. 0 means unbounded.
	// Default: 1024.
	MaxEntries int
}

// RateLimitConfig controls gateway admission. A limit of 0 disables the
// corresponding bucket; when both are 0 admission control is off.
type RateLimitConfig struct {
	// QPS is the maximum requests per second.
	QPS int

	// TPM is the maximum estimated tokens per minute.
	TPM int
}

// Load reads configuration from environment variables and (optionally)
// from config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("LLM_PROVIDER", "mock")
	v.SetDefault("LLM_MODEL", "gpt-4-mock")
	v.SetDefault("LLM_TIMEOUT_SECONDS", 30)
	v.SetDefault("LLM_MAX_RETRIES", 2)

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL_SECONDS", 3600)
	v.SetDefault("CACHE_MAX_ENTRIES", 1024)

	// Rate limits: 0 = disabled.
	v.SetDefault("RATE_LIMIT_QPS", 0)
	v.SetDefault("RATE_LIMIT_TPM", 0)

	v.SetDefault("PROMPT_VERSION", "v1")
	v.SetDefault("LOG_DIR", "runs/llmops")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Provider:   strings.ToLower(v.GetString("LLM_PROVIDER")),
		Model:      v.GetString("LLM_MODEL"),
		Timeout:    time.Duration(v.GetInt("LLM_TIMEOUT_SECONDS")) * time.Second,
		MaxRetries: v.GetInt("LLM_MAX_RETRIES"),

		OpenAI:    ProviderConfig{APIKey: v.GetString("OPENAI_API_KEY"), BaseURL: v.GetString("OPENAI_BASE_URL")},
		Anthropic: ProviderConfig{APIKey: v.GetString("ANTHROPIC_API_KEY"), BaseURL: v.GetString("ANTHROPIC_BASE_URL")},
		Gemini:    ProviderConfig{APIKey: v.GetString("GOOGLE_API_KEY"), BaseURL: v.GetString("GEMINI_BASE_URL")},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Enabled:    v.GetBool("CACHE_ENABLED"),
			Mode:       strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:        time.Duration(v.GetInt("CACHE_TTL_SECONDS")) * time.Second,
			MaxEntries: v.GetInt("CACHE_MAX_ENTRIES"),
		},

		RateLimit: RateLimitConfig{
			QPS: v.GetInt("RATE_LIMIT_QPS"),
			TPM: v.GetInt("RATE_LIMIT_TPM"),
		},

		PromptVersion: v.GetString("PROMPT_VERSION"),
		PromptsDir:    v.GetString("PROMPTS_DIR"),
		LogDir:        v.GetString("LOG_DIR"),

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks the semantic constraints that cannot be expressed as
// defaults.
func (c *Config) validate() error {
	switch c.Provider {
	case "mock":
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("config: OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("config: ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("config: GOOGLE_API_KEY is required when LLM_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf(
			"config: invalid LLM_PROVIDER %q; must be one of: mock, openai, anthropic, gemini",
			c.Provider,
		)
	}

	switch c.Cache.Mode {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf(
				"config: REDIS_URL is required when CACHE_MODE=redis; " +
					"set CACHE_MODE=memory to use the built-in in-process cache",
			)
		}
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: memory, redis",
			c.Cache.Mode,
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("config: LLM_TIMEOUT_SECONDS must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: LLM_MAX_RETRIES must be ≥ 0, got %d", c.MaxRetries)
	}
	if c.RateLimit.QPS < 0 || c.RateLimit.TPM < 0 {
		return fmt.Errorf("config: rate limits must be ≥ 0")
	}
	if c.Model == "" {
		return fmt.Errorf("config: LLM_MODEL must not be empty")
	}
	if c.LogDir == "" {
		return fmt.Errorf("config: LOG_DIR must not be empty")
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
