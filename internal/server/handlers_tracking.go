package server

import (
	"net/http"
	"time"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// HandleCreateExperiment handles POST /v1/experiments.
func (h *Handlers) HandleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req model.CreateExperimentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	exp, err := h.tracking.CreateExperiment(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, exp)
}

// HandleListExperiments handles GET /v1/experiments?view=.
func (h *Handlers) HandleListExperiments(w http.ResponseWriter, r *http.Request) {
	view, err := model.ParseViewType(r.URL.Query().Get("view"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	exps, err := h.tracking.ListExperiments(r.Context(), view)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, exps)
}

// HandleGetExperimentByName handles GET /v1/experiments/by-name?name=.
func (h *Handlers) HandleGetExperimentByName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}
	exp, err := h.tracking.GetExperimentByName(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, exp)
}

// HandleGetExperiment handles GET /v1/experiments/{experiment_id}.
func (h *Handlers) HandleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := h.tracking.GetExperiment(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, exp)
}

// HandleRenameExperiment handles PATCH /v1/experiments/{experiment_id}.
func (h *Handlers) HandleRenameExperiment(w http.ResponseWriter, r *http.Request) {
	var req model.RenameExperimentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	id := r.PathValue("experiment_id")
	if err := h.tracking.RenameExperiment(r.Context(), id, req.Name); err != nil {
		h.fail(w, r, err)
		return
	}
	exp, err := h.tracking.GetExperiment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, exp)
}

// HandleDeleteExperiment handles DELETE /v1/experiments/{experiment_id}.
func (h *Handlers) HandleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	if err := h.tracking.DeleteExperiment(r.Context(), r.PathValue("experiment_id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRestoreExperiment handles POST /v1/experiments/{experiment_id}/restore.
func (h *Handlers) HandleRestoreExperiment(w http.ResponseWriter, r *http.Request) {
	if err := h.tracking.RestoreExperiment(r.Context(), r.PathValue("experiment_id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListRunInfos handles GET /v1/experiments/{experiment_id}/runs.
func (h *Handlers) HandleListRunInfos(w http.ResponseWriter, r *http.Request) {
	infos, err := h.tracking.ListRunInfos(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, infos)
}

// HandleCreateRun handles POST /v1/runs.
func (h *Handlers) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	run, err := h.tracking.CreateRun(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, run)
}

// HandleSearchRuns handles POST /v1/runs/search.
func (h *Handlers) HandleSearchRuns(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRunsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res, err := h.tracking.SearchRuns(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.tracking.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleDeleteRun handles DELETE /v1/runs/{run_id}.
func (h *Handlers) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.tracking.DeleteRun(r.Context(), r.PathValue("run_id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRestoreRun handles POST /v1/runs/{run_id}/restore.
func (h *Handlers) HandleRestoreRun(w http.ResponseWriter, r *http.Request) {
	if err := h.tracking.RestoreRun(r.Context(), r.PathValue("run_id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogParam handles POST /v1/runs/{run_id}/params.
func (h *Handlers) HandleLogParam(w http.ResponseWriter, r *http.Request) {
	var p model.Param
	if err := decodeJSON(w, r, &p, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := h.tracking.LogParam(r.Context(), r.PathValue("run_id"), p); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogMetric handles POST /v1/runs/{run_id}/metrics.
func (h *Handlers) HandleLogMetric(w http.ResponseWriter, r *http.Request) {
	var req model.LogMetricRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	m := model.Metric{Key: req.Key, Value: req.Value, Step: req.Step, Timestamp: req.Timestamp}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if err := h.tracking.LogMetric(r.Context(), r.PathValue("run_id"), m); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetTag handles POST /v1/runs/{run_id}/tags.
func (h *Handlers) HandleSetTag(w http.ResponseWriter, r *http.Request) {
	var t model.Tag
	if err := decodeJSON(w, r, &t, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := h.tracking.SetTag(r.Context(), r.PathValue("run_id"), t); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteTag handles DELETE /v1/runs/{run_id}/tags/{key}.
func (h *Handlers) HandleDeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := h.tracking.DeleteTag(r.Context(), r.PathValue("run_id"), r.PathValue("key")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogBatch handles POST /v1/runs/{run_id}/batch.
func (h *Handlers) HandleLogBatch(w http.ResponseWriter, r *http.Request) {
	var b model.Batch
	if err := decodeJSON(w, r, &b, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	now := time.Now()
	for i := range b.Metrics {
		if b.Metrics[i].Timestamp.IsZero() {
			b.Metrics[i].Timestamp = now
		}
	}
	if err := h.tracking.LogBatch(r.Context(), r.PathValue("run_id"), b); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpdateRunStatus handles POST /v1/runs/{run_id}/status.
func (h *Handlers) HandleUpdateRunStatus(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateRunStatusRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	status, err := model.ParseRunStatus(string(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end := time.Now()
	if req.EndTime != nil {
		end = *req.EndTime
	}
	runID := r.PathValue("run_id")
	if err := h.tracking.UpdateRunStatus(r.Context(), runID, status, end); err != nil {
		h.fail(w, r, err)
		return
	}
	run, err := h.tracking.GetRun(r.Context(), runID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run.RunInfo)
}

// HandleMetricHistory handles GET /v1/runs/{run_id}/metrics/{key}/history.
func (h *Handlers) HandleMetricHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.tracking.GetMetricHistory(r.Context(), r.PathValue("run_id"), r.PathValue("key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, history)
}
