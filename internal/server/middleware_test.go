package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsuiseki/internal/auth"
	"github.com/ashita-ai/tsuiseki/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "train-job-42")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "train-job-42", seen)
	assert.Equal(t, "train-job-42", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("a", 200))
	handler.ServeHTTP(rec, req)
	assert.Len(t, seen, 36, "oversized IDs are replaced with a UUID")
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(quietLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/experiments", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var env model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, model.ErrCodeInternalError, env.Error.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestRecoveryMiddleware_AbortHandler(t *testing.T) {
	handler := recoveryMiddleware(quietLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestAuthMiddleware(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Minute)
	require.NoError(t, err)

	var subject string
	handler := authMiddleware(jwtMgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := ClaimsFromContext(r.Context()); c != nil {
			subject = c.Subject
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is open", "/health", "", http.StatusNoContent},
		{"token endpoint is open", "/auth/token", "", http.StatusNoContent},
		{"missing header", "/v1/runs/x", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/runs/x", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "/v1/runs/x", "Bearer abc", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	token, _, err := jwtMgr.IssueToken("trainer")
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil)
	req.Header.Set("Authorization", "bearer "+token)
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "trainer", subject)
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	authMiddleware(nil, inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err      error
		wantCode string
		want     int
	}{
		{fmt.Errorf("get run: %w", model.ErrNotFound), model.ErrCodeNotFound, http.StatusNotFound},
		{fmt.Errorf("create: %w", model.ErrAlreadyExists), model.ErrCodeAlreadyExists, http.StatusConflict},
		{fmt.Errorf("log: %w", model.ErrInvalidState), model.ErrCodeInvalidState, http.StatusConflict},
		{fmt.Errorf("load: %w", model.ErrUnsupportedFormat), model.ErrCodeUnsupportedFormat, http.StatusUnprocessableEntity},
		{fmt.Errorf("filter: %w", model.ErrInvalidArgument), model.ErrCodeInvalidInput, http.StatusBadRequest},
		{errors.New("disk on fire"), model.ErrCodeInternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(quietLogger(), rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.want, rec.Code)

			var env model.APIError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestWriteJSONUnencodable(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil), http.StatusOK, map[string]float64{"rmse": math.Inf(1)})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var env model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, model.ErrCodeInternalError, env.Error.Code)
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}
	run := func(payload string, limit int64) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/experiments", strings.NewReader(payload))
		var b body
		if err := decodeJSON(rec, req, &b, limit); err != nil {
			handleDecodeError(rec, req, err)
		} else {
			rec.WriteHeader(http.StatusOK)
		}
		return rec
	}

	assert.Equal(t, http.StatusOK, run(`{"name":"wine"}`, 1024).Code)
	assert.Equal(t, http.StatusBadRequest, run(``, 1024).Code)
	assert.Equal(t, http.StatusBadRequest, run(`{"name":"wine","color":"red"}`, 1024).Code)
	assert.Equal(t, http.StatusBadRequest, run(`{"name":"a"}{"name":"b"}`, 1024).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, run(`{"name":"`+strings.Repeat("x", 100)+`"}`, 16).Code)
}
