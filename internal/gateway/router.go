package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fasthttp/router"
	"github.com/nulpointcorp/llmops/internal/cache"
	"github.com/nulpointcorp/llmops/internal/providers"
	"github.com/nulpointcorp/llmops/pkg/apierr"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handler functions
// that are registered alongside the task routes.
type ManagementRoutes struct {
	Metrics RouteHandler
}

// Start starts the HTTP server on addr (e.g. ":8080").
// Pass nil for routes to start without management endpoints.
func (g *Gateway) Start(addr string) error {
	return g.StartWithRoutes(addr, nil)
}

// StartWithRoutes starts the HTTP server with optional management routes.
func (g *Gateway) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	srv := &fasthttp.Server{
		Handler:      g.Handler(mgmt),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return srv.ListenAndServe(addr)
}

// Handler builds the full request handler with routing and middleware.
func (g *Gateway) Handler(mgmt *ManagementRoutes) fasthttp.RequestHandler {
	r := router.New()

	r.POST("/v1/task", g.handleTask)
	r.GET("/health", g.handleHealth)
	r.GET("/v1/prompts", g.handlePromptList)
	r.GET("/v1/prompts/{version}", g.handlePromptInfo)
	r.GET("/v1/stats", g.handleStats)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)
}

func (g *Gateway) handleTask(ctx *fasthttp.RequestCtx) {
	start := time.Now()

	if g.metrics != nil {
		g.metrics.IncInFlight()
		defer func() {
			g.metrics.DecInFlight()
			g.metrics.ObserveHTTP("task", ctx.Response.StatusCode(), time.Since(start))
		}()
	}

	var req TaskRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if len(req.Messages) == 0 {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"field 'messages' is required",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	// 0 means absent and gets the default; anything else must be in range.
	if req.MaxOutputTokens < 0 || req.MaxOutputTokens > providers.MaxOutputTokens {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("field 'max_output_tokens' must be between 1 and %d", providers.MaxOutputTokens),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if req.RequestID == "" {
		if id, ok := ctx.UserValue("request_id").(string); ok {
			req.RequestID = id
		}
	}

	resp := g.Handle(ctx, &req)
	writeJSON(ctx, resp)
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]string{
		"status":   "ok",
		"provider": g.ProviderName(),
	})
}

func (g *Gateway) handlePromptList(ctx *fasthttp.RequestCtx) {
	versions := g.registry.List()
	infos := make([]any, 0, len(versions))
	for _, v := range versions {
		if info, err := g.registry.GetInfo(v); err == nil {
			infos = append(infos, info)
		}
	}
	writeJSON(ctx, map[string]any{
		"default": g.defaultVersion,
		"prompts": infos,
	})
}

func (g *Gateway) handlePromptInfo(ctx *fasthttp.RequestCtx) {
	version, _ := ctx.UserValue("version").(string)
	info, err := g.registry.GetInfo(version)
	if err != nil {
		apierr.WriteNotFound(ctx, fmt.Sprintf("unknown prompt version %q", version))
		return
	}
	writeJSON(ctx, info)
}

func (g *Gateway) handleStats(ctx *fasthttp.RequestCtx) {
	stats := map[string]any{
		"provider": g.ProviderName(),
		"model":    g.model,
	}
	if mc, ok := g.cache.(*cache.MemoryCache); ok && mc != nil {
		stats["cache"] = mc.Stats()
	}
	if g.limiter != nil {
		stats["ratelimit"] = g.limiter.Stats()
	}
	if g.writer != nil {
		stats["audit_dropped"] = g.writer.Dropped()
	}
	writeJSON(ctx, stats)
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
