package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/tsuiseki/internal/artifact"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/modelfmt"
	"github.com/ashita-ai/tsuiseki/internal/service/tracking"
)

// remoteBackend calls a tracking server's HTTP API. It is safe for
// concurrent use.
type remoteBackend struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager // nil when no API key is configured
}

func newRemote(baseURL string, o options) *remoteBackend {
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}
	b := &remoteBackend{baseURL: baseURL, client: httpClient}
	if o.apiKey != "" {
		b.tokenMgr = newTokenManager(baseURL, o.subject, o.apiKey, httpClient)
	}
	return b
}

func (b *remoteBackend) setExperiment(ctx context.Context, name string) (model.Experiment, error) {
	exp, err := b.getExperimentByName(ctx, name)
	if err == nil || !errors.Is(err, model.ErrNotFound) {
		return exp, err
	}
	exp, err = b.createExperiment(ctx, name)
	if errors.Is(err, model.ErrAlreadyExists) {
		return b.getExperimentByName(ctx, name)
	}
	return exp, err
}

func (b *remoteBackend) createExperiment(ctx context.Context, name string) (model.Experiment, error) {
	var exp model.Experiment
	err := b.post(ctx, "/v1/experiments", model.CreateExperimentRequest{Name: name}, &exp)
	return exp, err
}

func (b *remoteBackend) getExperiment(ctx context.Context, id string) (model.Experiment, error) {
	var exp model.Experiment
	err := b.get(ctx, "/v1/experiments/"+url.PathEscape(id), &exp)
	return exp, err
}

func (b *remoteBackend) getExperimentByName(ctx context.Context, name string) (model.Experiment, error) {
	var exp model.Experiment
	err := b.get(ctx, "/v1/experiments/by-name?"+url.Values{"name": {name}}.Encode(), &exp)
	return exp, err
}

func (b *remoteBackend) listExperiments(ctx context.Context, view model.ViewType) ([]model.Experiment, error) {
	var exps []model.Experiment
	err := b.get(ctx, "/v1/experiments?"+url.Values{"view": {string(view)}}.Encode(), &exps)
	return exps, err
}

func (b *remoteBackend) deleteExperiment(ctx context.Context, id string) error {
	return b.do(ctx, http.MethodDelete, "/v1/experiments/"+url.PathEscape(id), nil, nil)
}

func (b *remoteBackend) restoreExperiment(ctx context.Context, id string) error {
	return b.post(ctx, "/v1/experiments/"+url.PathEscape(id)+"/restore", nil, nil)
}

func (b *remoteBackend) createRun(ctx context.Context, req model.CreateRunRequest) (model.Run, error) {
	var run model.Run
	err := b.post(ctx, "/v1/runs", req, &run)
	return run, err
}

func (b *remoteBackend) getRun(ctx context.Context, runID string) (model.Run, error) {
	var run model.Run
	err := b.get(ctx, runPath(runID), &run)
	return run, err
}

func (b *remoteBackend) deleteRun(ctx context.Context, runID string) error {
	return b.do(ctx, http.MethodDelete, runPath(runID), nil, nil)
}

func (b *remoteBackend) restoreRun(ctx context.Context, runID string) error {
	return b.post(ctx, runPath(runID)+"/restore", nil, nil)
}

func (b *remoteBackend) logBatch(ctx context.Context, runID string, batch model.Batch) error {
	if err := model.ValidateBatch(batch); err != nil {
		return err
	}
	return b.post(ctx, runPath(runID)+"/batch", batch, nil)
}

func (b *remoteBackend) setTag(ctx context.Context, runID string, t model.Tag) error {
	return b.post(ctx, runPath(runID)+"/tags", t, nil)
}

func (b *remoteBackend) updateRunStatus(ctx context.Context, runID string, status model.RunStatus, end time.Time) error {
	req := model.UpdateRunStatusRequest{Status: status}
	if !end.IsZero() {
		req.EndTime = &end
	}
	return b.post(ctx, runPath(runID)+"/status", req, nil)
}

func (b *remoteBackend) searchRuns(ctx context.Context, req model.SearchRunsRequest) (model.SearchRunsResult, error) {
	var res model.SearchRunsResult
	err := b.post(ctx, "/v1/runs/search", req, &res)
	return res, err
}

func (b *remoteBackend) listRunInfos(ctx context.Context, experimentID string) ([]model.RunInfo, error) {
	var infos []model.RunInfo
	err := b.get(ctx, "/v1/experiments/"+url.PathEscape(experimentID)+"/runs", &infos)
	return infos, err
}

func (b *remoteBackend) metricHistory(ctx context.Context, runID, key string) ([]model.Metric, error) {
	var history []model.Metric
	err := b.get(ctx, runPath(runID)+"/metrics/"+url.PathEscape(key)+"/history", &history)
	return history, err
}

func (b *remoteBackend) logArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	dest, err := artifact.CleanPath(artifactPath)
	if err != nil {
		return fmt.Errorf("tsuiseki: log artifact: %w", err)
	}
	// The run ID stands in for the artifact root; the server resolves it.
	return artifact.PutTree(ctx, remoteStore{b}, runID, localPath, dest)
}

func (b *remoteBackend) openArtifact(ctx context.Context, runID, relPath string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+artifactURLPath(runID, relPath), nil)
	if err != nil {
		return nil, fmt.Errorf("tsuiseki: create request: %w", err)
	}
	resp, err := b.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(resp.Body)
		return nil, parseErrorResponse(resp.StatusCode, data)
	}
	return resp.Body, nil
}

func (b *remoteBackend) listArtifacts(ctx context.Context, runID, relPath string) ([]model.FileInfo, error) {
	var files []model.FileInfo
	err := b.get(ctx, runPath(runID)+"/artifacts?"+url.Values{"path": {relPath}}.Encode(), &files)
	return files, err
}

func (b *remoteBackend) putArtifact(ctx context.Context, runID, relPath string, r io.Reader) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.baseURL+artifactURLPath(runID, relPath), r)
	if err != nil {
		return 0, fmt.Errorf("tsuiseki: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	var info model.FileInfo
	if err := b.doRequest(ctx, req, &info); err != nil {
		return 0, err
	}
	return info.FileSize, nil
}

// logModel writes the model files through the artifact API and records the
// logged-model history tag, mirroring tracking.Service.LogModel.
func (b *remoteBackend) logModel(ctx context.Context, runID string, m modelfmt.Model, artifactPath string) (string, error) {
	dest, err := artifact.CleanPath(artifactPath)
	if err != nil {
		return "", fmt.Errorf("tsuiseki: log model: %w", err)
	}
	if dest == "" {
		return "", fmt.Errorf("tsuiseki: log model: %w: artifact path must not be empty", model.ErrInvalidArgument)
	}
	run, err := b.getRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if run.Status.Terminal() {
		return "", fmt.Errorf("tsuiseki: log model: %w: run %s is %s", model.ErrInvalidState, runID, run.Status)
	}

	put := func(relPath string, r io.Reader) error {
		_, err := b.putArtifact(ctx, runID, relPath, r)
		return err
	}
	man, err := modelfmt.Write(m, runID, dest, modelfmt.DataFileName(m), time.Now(), put)
	if err != nil {
		return "", fmt.Errorf("tsuiseki: log model: %w", err)
	}
	history, _ := tracking.AppendLoggedModel(run.Tags[model.TagLoggedModel], man)
	if err := b.setTag(ctx, runID, model.Tag{Key: model.TagLoggedModel, Value: history}); err != nil {
		return "", fmt.Errorf("tsuiseki: log model: %w", err)
	}
	return artifact.RunsURI(runID, dest), nil
}

func (b *remoteBackend) createRegisteredModel(ctx context.Context, name, description string) (model.RegisteredModel, error) {
	var rm model.RegisteredModel
	err := b.post(ctx, "/v1/registered-models", model.CreateRegisteredModelRequest{Name: name, Description: description}, &rm)
	return rm, err
}

func (b *remoteBackend) getRegisteredModel(ctx context.Context, name string) (model.RegisteredModel, error) {
	var rm model.RegisteredModel
	err := b.get(ctx, modelPath(name), &rm)
	return rm, err
}

func (b *remoteBackend) listRegisteredModels(ctx context.Context) ([]model.RegisteredModel, error) {
	var rms []model.RegisteredModel
	err := b.get(ctx, "/v1/registered-models", &rms)
	return rms, err
}

func (b *remoteBackend) updateDescription(ctx context.Context, name, description string) error {
	return b.do(ctx, http.MethodPatch, modelPath(name), model.UpdateDescriptionRequest{Description: description}, nil)
}

func (b *remoteBackend) registerModel(ctx context.Context, modelURI, name string) (model.ModelVersion, error) {
	var mv model.ModelVersion
	err := b.post(ctx, modelPath(name)+"/versions", model.RegisterModelRequest{ModelURI: modelURI}, &mv)
	return mv, err
}

func (b *remoteBackend) transitionStage(ctx context.Context, name string, version int, stage string, archiveExisting bool) (model.ModelVersion, error) {
	var mv model.ModelVersion
	err := b.post(ctx, versionPath(name, version)+"/stage",
		model.TransitionStageRequest{Stage: stage, ArchiveExisting: archiveExisting}, &mv)
	return mv, err
}

func (b *remoteBackend) latestVersion(ctx context.Context, name string, stage *model.Stage) (model.ModelVersion, error) {
	var mv model.ModelVersion
	err := b.get(ctx, modelPath(name)+"/latest"+stageQuery(stage), &mv)
	return mv, err
}

func (b *remoteBackend) getModelVersion(ctx context.Context, name string, version int) (model.ModelVersion, error) {
	var mv model.ModelVersion
	err := b.get(ctx, versionPath(name, version), &mv)
	return mv, err
}

func (b *remoteBackend) listModelVersions(ctx context.Context, name string, stage *model.Stage) ([]model.ModelVersion, error) {
	var versions []model.ModelVersion
	err := b.get(ctx, modelPath(name)+"/versions"+stageQuery(stage), &versions)
	return versions, err
}

func (b *remoteBackend) deleteModelVersion(ctx context.Context, name string, version int) error {
	return b.do(ctx, http.MethodDelete, versionPath(name, version), nil, nil)
}

func (b *remoteBackend) resolveModelURI(ctx context.Context, uri string) (string, string, error) {
	var res model.ResolveModelURIResponse
	if err := b.post(ctx, "/v1/models/resolve", model.ResolveModelURIRequest{URI: uri}, &res); err != nil {
		return "", "", err
	}
	return res.RunID, res.Path, nil
}

func (b *remoteBackend) close() error {
	b.client.CloseIdleConnections()
	return nil
}

// remoteStore adapts the artifact upload endpoint to artifact.Store so
// artifact.PutTree can walk local directories. Roots are run IDs.
type remoteStore struct{ b *remoteBackend }

func (s remoteStore) Put(ctx context.Context, runID, relPath string, r io.Reader) (int64, error) {
	return s.b.putArtifact(ctx, runID, relPath, r)
}

func (s remoteStore) Get(ctx context.Context, runID, relPath string) (io.ReadCloser, error) {
	return s.b.openArtifact(ctx, runID, relPath)
}

func (s remoteStore) List(ctx context.Context, runID, relPath string) ([]model.FileInfo, error) {
	return s.b.listArtifacts(ctx, runID, relPath)
}

func (s remoteStore) Stat(ctx context.Context, runID, relPath string) (model.FileInfo, error) {
	return model.FileInfo{}, fmt.Errorf("tsuiseki: stat over HTTP: %w", errors.ErrUnsupported)
}

func runPath(runID string) string {
	return "/v1/runs/" + url.PathEscape(runID)
}

func artifactURLPath(runID, relPath string) string {
	segs := strings.Split(relPath, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return runPath(runID) + "/artifacts/" + strings.Join(segs, "/")
}

func modelPath(name string) string {
	return "/v1/registered-models/" + url.PathEscape(name)
}

func versionPath(name string, version int) string {
	return modelPath(name) + "/versions/" + strconv.Itoa(version)
}

func stageQuery(stage *model.Stage) string {
	if stage == nil {
		return ""
	}
	return "?" + url.Values{"stage": {string(*stage)}}.Encode()
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *remoteBackend) get(ctx context.Context, path string, dest any) error {
	return b.do(ctx, http.MethodGet, path, nil, dest)
}

func (b *remoteBackend) post(ctx context.Context, path string, body, dest any) error {
	return b.do(ctx, http.MethodPost, path, body, dest)
}

func (b *remoteBackend) do(ctx context.Context, method, path string, body, dest any) error {
	var r io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tsuiseki: marshal request body: %w", err)
		}
		r = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("tsuiseki: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return b.doRequest(ctx, req, dest)
}

func (b *remoteBackend) doRequest(ctx context.Context, req *http.Request, dest any) error {
	resp, err := b.send(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return handleResponse(resp, dest)
}

// send attaches the bearer token, if any, and performs req.
func (b *remoteBackend) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	if b.tokenMgr != nil {
		token, err := b.tokenMgr.getToken(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tsuiseki: %s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tsuiseki: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("tsuiseki: decode response envelope: %w", err)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return fmt.Errorf("tsuiseki: decode response data: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}
	return apiErr
}
