package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/tsuiseki/internal/auth"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/ratelimit"
	"github.com/ashita-ai/tsuiseki/internal/service/registry"
	"github.com/ashita-ai/tsuiseki/internal/service/tracking"
)

// Server is the tsuiseki tracking server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// JWTMgr and Keys are both nil when authentication is disabled. MCPServer and
// RateLimiter are optional.
type ServerConfig struct {
	// Required dependencies.
	Tracking *tracking.Service
	Registry *registry.Service
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	JWTMgr      *auth.JWTManager
	Keys        *auth.KeyVerifier
	MCPServer   *mcpserver.MCPServer
	RateLimiter ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	MaxArtifactBytes    int64
	OpenAPISpec         []byte // Embedded OpenAPI YAML.
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := NewHandlers(HandlersDeps{
		Tracking:            cfg.Tracking,
		Registry:            cfg.Registry,
		JWTMgr:              cfg.JWTMgr,
		Keys:                cfg.Keys,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxArtifactBytes:    cfg.MaxArtifactBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	mux := http.NewServeMux()

	// Auth and health (no auth required).
	mux.HandleFunc("POST /auth/token", h.HandleAuthToken)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// OpenAPI document (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Experiments.
	mux.HandleFunc("POST /v1/experiments", h.HandleCreateExperiment)
	mux.HandleFunc("GET /v1/experiments", h.HandleListExperiments)
	mux.HandleFunc("GET /v1/experiments/by-name", h.HandleGetExperimentByName)
	mux.HandleFunc("GET /v1/experiments/{experiment_id}", h.HandleGetExperiment)
	mux.HandleFunc("PATCH /v1/experiments/{experiment_id}", h.HandleRenameExperiment)
	mux.HandleFunc("DELETE /v1/experiments/{experiment_id}", h.HandleDeleteExperiment)
	mux.HandleFunc("POST /v1/experiments/{experiment_id}/restore", h.HandleRestoreExperiment)
	mux.HandleFunc("GET /v1/experiments/{experiment_id}/runs", h.HandleListRunInfos)

	// Runs.
	mux.HandleFunc("POST /v1/runs", h.HandleCreateRun)
	mux.HandleFunc("POST /v1/runs/search", h.HandleSearchRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", h.HandleGetRun)
	mux.HandleFunc("DELETE /v1/runs/{run_id}", h.HandleDeleteRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/restore", h.HandleRestoreRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/params", h.HandleLogParam)
	mux.HandleFunc("POST /v1/runs/{run_id}/metrics", h.HandleLogMetric)
	mux.HandleFunc("POST /v1/runs/{run_id}/tags", h.HandleSetTag)
	mux.HandleFunc("DELETE /v1/runs/{run_id}/tags/{key}", h.HandleDeleteTag)
	mux.HandleFunc("POST /v1/runs/{run_id}/batch", h.HandleLogBatch)
	mux.HandleFunc("POST /v1/runs/{run_id}/status", h.HandleUpdateRunStatus)
	mux.HandleFunc("GET /v1/runs/{run_id}/metrics/{key}/history", h.HandleMetricHistory)

	// Artifacts.
	mux.HandleFunc("GET /v1/runs/{run_id}/artifacts", h.HandleListArtifacts)
	mux.HandleFunc("PUT /v1/runs/{run_id}/artifacts/{path...}", h.HandlePutArtifact)
	mux.HandleFunc("GET /v1/runs/{run_id}/artifacts/{path...}", h.HandleGetArtifact)

	// Model registry.
	mux.HandleFunc("POST /v1/registered-models", h.HandleCreateRegisteredModel)
	mux.HandleFunc("GET /v1/registered-models", h.HandleListRegisteredModels)
	mux.HandleFunc("GET /v1/registered-models/{name}", h.HandleGetRegisteredModel)
	mux.HandleFunc("PATCH /v1/registered-models/{name}", h.HandleUpdateRegisteredModel)
	mux.HandleFunc("POST /v1/registered-models/{name}/versions", h.HandleRegisterModel)
	mux.HandleFunc("GET /v1/registered-models/{name}/versions", h.HandleListModelVersions)
	mux.HandleFunc("GET /v1/registered-models/{name}/latest", h.HandleLatestModelVersion)
	mux.HandleFunc("GET /v1/registered-models/{name}/versions/{version}", h.HandleGetModelVersion)
	mux.HandleFunc("POST /v1/registered-models/{name}/versions/{version}/stage", h.HandleTransitionStage)
	mux.HandleFunc("DELETE /v1/registered-models/{name}/versions/{version}", h.HandleDeleteModelVersion)
	mux.HandleFunc("POST /v1/models/resolve", h.HandleResolveModelURI)

	// MCP StreamableHTTP transport (auth required when enabled).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → rate limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = ratelimit.Middleware(cfg.RateLimiter, rateLimitKey,
		ratelimit.RetryAfter(1, func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "rate limit exceeded")
		}))(handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(mux, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server starting", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// rateLimitKey buckets authenticated callers by subject and everyone else by
// client IP. Token requests get their own per-IP bucket so a burst of
// logging traffic cannot lock a caller out of re-authenticating.
func rateLimitKey(r *http.Request) string {
	switch r.URL.Path {
	case "/health", "/openapi.yaml":
		return ""
	case "/auth/token":
		return "auth:" + ratelimit.ClientIP(r)
	}
	if claims := ClaimsFromContext(r.Context()); claims != nil && claims.Subject != "" {
		return "sub:" + claims.Subject
	}
	return "ip:" + ratelimit.ClientIP(r)
}
