package model

import (
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateExperimentRequest is the request body for POST /v1/experiments.
type CreateExperimentRequest struct {
	Name string `json:"name"`
}

// RenameExperimentRequest is the request body for PATCH /v1/experiments/{experiment_id}.
type RenameExperimentRequest struct {
	Name string `json:"name"`
}

// UpdateRunStatusRequest is the request body for POST /v1/runs/{run_id}/status.
type UpdateRunStatusRequest struct {
	Status  RunStatus  `json:"status"`
	EndTime *time.Time `json:"end_time,omitempty"`
}

// LogMetricRequest is the request body for POST /v1/runs/{run_id}/metrics.
// A zero Timestamp is replaced with the server's clock.
type LogMetricRequest struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Step      int64     `json:"step"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// CreateRegisteredModelRequest is the request body for POST /v1/registered-models.
type CreateRegisteredModelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UpdateDescriptionRequest is the request body for PATCH /v1/registered-models/{name}.
type UpdateDescriptionRequest struct {
	Description string `json:"description"`
}

// RegisterModelRequest is the request body for POST /v1/registered-models/{name}/versions.
type RegisterModelRequest struct {
	ModelURI string `json:"model_uri"`
}

// TransitionStageRequest is the request body for
// POST /v1/registered-models/{name}/versions/{version}/stage.
type TransitionStageRequest struct {
	Stage           string `json:"stage"`
	ArchiveExisting bool   `json:"archive_existing,omitempty"`
}

// ResolveModelURIRequest is the request body for POST /v1/models/resolve.
type ResolveModelURIRequest struct {
	URI string `json:"uri"`
}

// ResolveModelURIResponse names the run artifact a model URI points at.
type ResolveModelURIResponse struct {
	RunID string `json:"run_id"`
	Path  string `json:"path"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Subject string `json:"subject,omitempty"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	Dialect  string `json:"dialect"`
	Uptime   int64  `json:"uptime_seconds"`
}
