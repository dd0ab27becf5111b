package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/tsuiseki/internal/auth"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/service/registry"
	"github.com/ashita-ai/tsuiseki/internal/service/tracking"
)

// Default body limits when the config leaves them unset.
const (
	defaultMaxRequestBodyBytes = 4 << 20
	defaultMaxArtifactBytes    = 512 << 20
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	tracking            *tracking.Service
	registry            *registry.Service
	jwtMgr              *auth.JWTManager
	keys                *auth.KeyVerifier
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	maxArtifactBytes    int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): JWTMgr, Keys, OpenAPISpec.
type HandlersDeps struct {
	Tracking            *tracking.Service
	Registry            *registry.Service
	JWTMgr              *auth.JWTManager
	Keys                *auth.KeyVerifier
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	MaxArtifactBytes    int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	if d.MaxRequestBodyBytes <= 0 {
		d.MaxRequestBodyBytes = defaultMaxRequestBodyBytes
	}
	if d.MaxArtifactBytes <= 0 {
		d.MaxArtifactBytes = defaultMaxArtifactBytes
	}
	return &Handlers{
		tracking:            d.Tracking,
		registry:            d.Registry,
		jwtMgr:              d.JWTMgr,
		keys:                d.Keys,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		maxArtifactBytes:    d.MaxArtifactBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.jwtMgr == nil || h.keys == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is disabled on this server")
		return
	}
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if !h.keys.Verify(req.APIKey) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.Subject)
	if err != nil {
		writeInternalError(h.logger, w, r, "failed to issue token", err)
		return
	}
	h.logger.Info("token issued", "subject", req.Subject, "remote_addr", r.RemoteAddr, "expires_at", expiresAt)

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	db := h.tracking.DB()
	if err := db.Ping(r.Context()); err != nil {
		dbStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Database: dbStatus,
		Dialect:  string(db.Dialect()),
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(h.logger, w, r, err)
}

// pathVersion parses the {version} path value.
func pathVersion(r *http.Request) (int, bool) {
	v, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// queryStage parses an optional ?stage= filter.
func queryStage(r *http.Request) (*model.Stage, error) {
	raw := r.URL.Query().Get("stage")
	if raw == "" {
		return nil, nil
	}
	st, err := model.ParseStage(raw)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// HandleOpenAPISpec serves the embedded OpenAPI document.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}
