// Package tsuiseki is the public API for embedding the tsuiseki tracking
// server.
//
//	app, err := tsuiseki.New(ctx,
//	    tsuiseki.WithVersion(version),
//	    tsuiseki.WithLogger(logger),
//	    tsuiseki.WithBackendStoreURI("postgres://..."),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// Training code talks to a running server (or directly to a store) through
// the client package.
package tsuiseki

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/tsuiseki/api"
	"github.com/ashita-ai/tsuiseki/internal/artifact"
	"github.com/ashita-ai/tsuiseki/internal/auth"
	"github.com/ashita-ai/tsuiseki/internal/config"
	"github.com/ashita-ai/tsuiseki/internal/mcp"
	"github.com/ashita-ai/tsuiseki/internal/ratelimit"
	"github.com/ashita-ai/tsuiseki/internal/server"
	"github.com/ashita-ai/tsuiseki/internal/service/registry"
	"github.com/ashita-ai/tsuiseki/internal/service/tracking"
	"github.com/ashita-ai/tsuiseki/internal/storage"
	"github.com/ashita-ai/tsuiseki/internal/telemetry"
	"github.com/ashita-ai/tsuiseki/migrations"
)

// App is the tracking server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string

	shutdownOnce sync.Once
	shutdownErr  error
}

// New opens the metadata store, runs migrations and wires the services and
// HTTP server. It does not accept connections; call Run or Serve.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.backendStoreURI != "" {
		cfg.BackendStoreURI = o.backendStoreURI
	}
	if o.artifactRoot != "" {
		cfg.ArtifactRoot = o.artifactRoot
	}
	if o.apiKey != nil {
		cfg.APIKey = *o.apiKey
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("tsuiseki starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.BackendStoreURI, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	fail := func(err error) (*App, error) {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	fsys, ok := migrations.For(string(db.Dialect()))
	if !ok {
		return fail(fmt.Errorf("migrations: no schema for dialect %q", db.Dialect()))
	}
	if err := db.RunMigrations(ctx, fsys); err != nil {
		return fail(fmt.Errorf("migrations: %w", err))
	}

	root, err := artifact.ResolveRoot(cfg.ArtifactRoot, cfg.BackendStoreURI)
	if err != nil {
		return fail(fmt.Errorf("artifact root: %w", err))
	}

	tr := tracking.New(db, artifact.NewLocalStore(cfg.MaxArtifactBytes), root, logger)
	reg := registry.New(db, tr, logger)

	var (
		jwtMgr *auth.JWTManager
		keys   *auth.KeyVerifier
	)
	if cfg.APIKey != "" {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
		if err != nil {
			return fail(fmt.Errorf("auth: %w", err))
		}
		keys, err = auth.NewKeyVerifier(cfg.APIKey)
		if err != nil {
			return fail(fmt.Errorf("auth: %w", err))
		}
	} else {
		logger.Warn("authentication disabled", "reason", "TSUISEKI_API_KEY is empty")
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}

	mcpSrv := mcp.New(tr, reg, logger, version)

	srv := server.New(server.ServerConfig{
		Tracking:            tr,
		Registry:            reg,
		Logger:              logger,
		JWTMgr:              jwtMgr,
		Keys:                keys,
		MCPServer:           mcpSrv.MCPServer(),
		RateLimiter:         limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxArtifactBytes:    cfg.MaxArtifactBytes,
		OpenAPISpec:         api.OpenAPISpec,
	})

	logger.Info("tsuiseki ready",
		"store", db.Dialect(),
		"artifact_root", root,
		"auth", jwtMgr != nil,
	)

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for embedding in another server
// or for tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run listens on the configured port and blocks until ctx is cancelled or
// the server fails. On return, Shutdown has been called.
func (a *App) Run(ctx context.Context) error {
	return a.serve(ctx, a.srv.Start)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	return a.serve(ctx, func() error { return a.srv.Serve(ln) })
}

func (a *App) serve(ctx context.Context, start func() error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})
	return g.Wait()
}

// Shutdown stops accepting requests, waits for in-flight ones up to the
// configured timeout, then closes the store and flushes telemetry. It is
// safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		httpCtx, cancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.srv.Shutdown(httpCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		if err := a.otelShutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
		a.shutdownErr = errors.Join(errs...)
		a.logger.Info("tsuiseki stopped")
	})
	return a.shutdownErr
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
