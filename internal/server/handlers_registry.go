package server

import (
	"net/http"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// HandleCreateRegisteredModel handles POST /v1/registered-models.
func (h *Handlers) HandleCreateRegisteredModel(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRegisteredModelRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	rm, err := h.registry.CreateRegisteredModel(r.Context(), req.Name, req.Description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rm)
}

// HandleListRegisteredModels handles GET /v1/registered-models.
func (h *Handlers) HandleListRegisteredModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.registry.ListRegisteredModels(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, models)
}

// HandleGetRegisteredModel handles GET /v1/registered-models/{name}.
func (h *Handlers) HandleGetRegisteredModel(w http.ResponseWriter, r *http.Request) {
	rm, err := h.registry.GetRegisteredModel(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rm)
}

// HandleUpdateRegisteredModel handles PATCH /v1/registered-models/{name}.
func (h *Handlers) HandleUpdateRegisteredModel(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateDescriptionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	name := r.PathValue("name")
	if err := h.registry.UpdateDescription(r.Context(), name, req.Description); err != nil {
		h.fail(w, r, err)
		return
	}
	rm, err := h.registry.GetRegisteredModel(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rm)
}

// HandleRegisterModel handles POST /v1/registered-models/{name}/versions.
func (h *Handlers) HandleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterModelRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	mv, err := h.registry.RegisterModel(r.Context(), req.ModelURI, r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, mv)
}

// HandleListModelVersions handles GET /v1/registered-models/{name}/versions?stage=.
func (h *Handlers) HandleListModelVersions(w http.ResponseWriter, r *http.Request) {
	stage, err := queryStage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	versions, err := h.registry.ListModelVersions(r.Context(), r.PathValue("name"), stage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, versions)
}

// HandleLatestModelVersion handles GET /v1/registered-models/{name}/latest?stage=.
func (h *Handlers) HandleLatestModelVersion(w http.ResponseWriter, r *http.Request) {
	stage, err := queryStage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	mv, err := h.registry.GetLatestVersion(r.Context(), r.PathValue("name"), stage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, mv)
}

// HandleGetModelVersion handles GET /v1/registered-models/{name}/versions/{version}.
func (h *Handlers) HandleGetModelVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := pathVersion(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "version must be a positive integer")
		return
	}
	mv, err := h.registry.GetModelVersion(r.Context(), r.PathValue("name"), version)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, mv)
}

// HandleTransitionStage handles
// POST /v1/registered-models/{name}/versions/{version}/stage.
func (h *Handlers) HandleTransitionStage(w http.ResponseWriter, r *http.Request) {
	version, ok := pathVersion(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "version must be a positive integer")
		return
	}
	var req model.TransitionStageRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	mv, err := h.registry.TransitionStage(r.Context(), r.PathValue("name"), version, req.Stage, req.ArchiveExisting)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, mv)
}

// HandleDeleteModelVersion handles DELETE /v1/registered-models/{name}/versions/{version}.
func (h *Handlers) HandleDeleteModelVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := pathVersion(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "version must be a positive integer")
		return
	}
	if err := h.registry.DeleteModelVersion(r.Context(), r.PathValue("name"), version); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleResolveModelURI handles POST /v1/models/resolve.
func (h *Handlers) HandleResolveModelURI(w http.ResponseWriter, r *http.Request) {
	var req model.ResolveModelURIRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	runID, relPath, err := h.registry.ResolveModelURI(r.Context(), req.URI)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.ResolveModelURIResponse{RunID: runID, Path: relPath})
}
