package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/llmops/internal/audit"
	npCache "github.com/nulpointcorp/llmops/internal/cache"
	"github.com/nulpointcorp/llmops/internal/gateway"
	"github.com/nulpointcorp/llmops/internal/llmclient"
	"github.com/nulpointcorp/llmops/internal/metrics"
	"github.com/nulpointcorp/llmops/internal/prompts"
	"github.com/nulpointcorp/llmops/internal/ratelimit"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Enabled && a.cfg.Cache.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initProvider builds the configured LLM provider client.
func (a *App) initProvider(ctx context.Context) error {
	prov, err := buildProvider(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.prov = prov
	a.log.Info("provider loaded",
		slog.String("provider", prov.Name()),
		slog.String("model", a.cfg.Model),
	)
	return nil
}

// initServices creates the cache backend, the audit trail, the prompt
// registry, and the Prometheus metrics registry.
func (a *App) initServices(ctx context.Context) error {
	switch {
	case !a.cfg.Cache.Enabled:
		a.log.Info("cache backend: disabled")
	case a.cfg.Cache.Mode == "redis":
		a.log.Info("cache backend: redis")
	default:
		a.memCache = npCache.NewMemoryCache(ctx, a.cfg.Cache.MaxEntries)
		a.log.Info("cache backend: memory (in-process)",
			slog.Int("max_entries", a.cfg.Cache.MaxEntries))
	}

	a.store = audit.NewStore(a.cfg.LogDir)
	writer, err := audit.NewWriter(ctx, a.store)
	if err != nil {
		return fmt.Errorf("audit writer: %w", err)
	}
	a.writer = writer
	a.log.Info("audit trail enabled", slog.String("dir", a.cfg.LogDir))

	a.registry = prompts.NewRegistry()
	if a.cfg.PromptsDir != "" {
		if err := a.registry.LoadDir(a.cfg.PromptsDir); err != nil {
			return fmt.Errorf("prompts: %w", err)
		}
		a.log.Info("prompt versions loaded",
			slog.String("dir", a.cfg.PromptsDir),
			slog.Any("versions", a.registry.List()),
		)
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	var cacheImpl npCache.Cache
	switch {
	case !a.cfg.Cache.Enabled:
		// nil cache — gateway handles nil gracefully (no caching)
	case a.cfg.Cache.Mode == "redis":
		cacheImpl = npCache.NewRedisCacheFromClient(a.rdb)
	default:
		cacheImpl = a.memCache
	}

	opts := gateway.Options{
		Logger:        a.log,
		Cache:         cacheImpl,
		Writer:        a.writer,
		Metrics:       a.prom,
		CacheTTL:      a.cfg.Cache.TTL,
		PromptVersion: a.cfg.PromptVersion,
		CORSOrigins:   a.cfg.CORSOrigins,
	}

	if a.cfg.RateLimit.QPS > 0 || a.cfg.RateLimit.TPM > 0 {
		opts.Limiter = ratelimit.New(a.cfg.RateLimit.QPS, a.cfg.RateLimit.TPM)
		a.log.Info("rate limiting enabled",
			slog.Int("qps", a.cfg.RateLimit.QPS),
			slog.Int("tpm", a.cfg.RateLimit.TPM),
		)

		// With Redis present the per-second budget is also enforced
		// fleet-wide as requests per minute.
		if a.rdb != nil && a.cfg.RateLimit.QPS > 0 {
			opts.SharedLimiter = ratelimit.NewSharedLimiter(a.rdb, a.cfg.RateLimit.QPS*60)
			a.log.Info("shared rate limiting enabled",
				slog.Int("fleet_rpm", a.cfg.RateLimit.QPS*60))
		}
	}

	client := llmclient.New(a.prov, a.cfg.Timeout, a.cfg.MaxRetries)
	a.gw = gateway.New(client, a.cfg.Model, a.registry, opts)

	a.mgmt = &gateway.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	return nil
}
