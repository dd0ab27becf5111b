package server

import (
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// HandleListArtifacts handles GET /v1/runs/{run_id}/artifacts?path=.
func (h *Handlers) HandleListArtifacts(w http.ResponseWriter, r *http.Request) {
	files, err := h.tracking.ListArtifacts(r.Context(), r.PathValue("run_id"), r.URL.Query().Get("path"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, files)
}

// HandlePutArtifact handles PUT /v1/runs/{run_id}/artifacts/{path...}.
// The request body is the raw file content.
func (h *Handlers) HandlePutArtifact(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxArtifactBytes {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodePayloadTooLarge,
			"artifact exceeds "+strconv.FormatInt(h.maxArtifactBytes, 10)+" bytes")
		return
	}
	body := http.MaxBytesReader(w, r.Body, h.maxArtifactBytes)
	n, err := h.tracking.PutArtifact(r.Context(), r.PathValue("run_id"), r.PathValue("path"), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, model.FileInfo{Path: r.PathValue("path"), FileSize: n})
}

// HandleGetArtifact handles GET /v1/runs/{run_id}/artifacts/{path...}.
// Success responses carry the raw file content, not the JSON envelope.
func (h *Handlers) HandleGetArtifact(w http.ResponseWriter, r *http.Request) {
	runID, relPath := r.PathValue("run_id"), r.PathValue("path")
	info, err := h.tracking.StatArtifact(r.Context(), runID, relPath)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if info.IsDir {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, relPath+" is a directory; list it instead")
		return
	}
	rc, err := h.tracking.OpenArtifact(r.Context(), runID, relPath)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(info.FileSize, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(relPath)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("artifact download interrupted", "run_id", runID, "path", relPath, "error", err)
	}
}
