package client

import (
	"context"
	"io"
	"time"

	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/modelfmt"
)

// backend is the storage surface a Client drives. localBackend runs the
// tracking and registry services in-process; remoteBackend calls a tracking
// server over HTTP.
type backend interface {
	setExperiment(ctx context.Context, name string) (model.Experiment, error)
	createExperiment(ctx context.Context, name string) (model.Experiment, error)
	getExperiment(ctx context.Context, id string) (model.Experiment, error)
	getExperimentByName(ctx context.Context, name string) (model.Experiment, error)
	listExperiments(ctx context.Context, view model.ViewType) ([]model.Experiment, error)
	deleteExperiment(ctx context.Context, id string) error
	restoreExperiment(ctx context.Context, id string) error

	createRun(ctx context.Context, req model.CreateRunRequest) (model.Run, error)
	getRun(ctx context.Context, runID string) (model.Run, error)
	deleteRun(ctx context.Context, runID string) error
	restoreRun(ctx context.Context, runID string) error
	logBatch(ctx context.Context, runID string, b model.Batch) error
	setTag(ctx context.Context, runID string, t model.Tag) error
	updateRunStatus(ctx context.Context, runID string, status model.RunStatus, end time.Time) error
	searchRuns(ctx context.Context, req model.SearchRunsRequest) (model.SearchRunsResult, error)
	listRunInfos(ctx context.Context, experimentID string) ([]model.RunInfo, error)
	metricHistory(ctx context.Context, runID, key string) ([]model.Metric, error)

	logArtifact(ctx context.Context, runID, localPath, artifactPath string) error
	openArtifact(ctx context.Context, runID, relPath string) (io.ReadCloser, error)
	listArtifacts(ctx context.Context, runID, relPath string) ([]model.FileInfo, error)
	logModel(ctx context.Context, runID string, m modelfmt.Model, artifactPath string) (string, error)

	createRegisteredModel(ctx context.Context, name, description string) (model.RegisteredModel, error)
	getRegisteredModel(ctx context.Context, name string) (model.RegisteredModel, error)
	listRegisteredModels(ctx context.Context) ([]model.RegisteredModel, error)
	updateDescription(ctx context.Context, name, description string) error
	registerModel(ctx context.Context, modelURI, name string) (model.ModelVersion, error)
	transitionStage(ctx context.Context, name string, version int, stage string, archiveExisting bool) (model.ModelVersion, error)
	latestVersion(ctx context.Context, name string, stage *model.Stage) (model.ModelVersion, error)
	getModelVersion(ctx context.Context, name string, version int) (model.ModelVersion, error)
	listModelVersions(ctx context.Context, name string, stage *model.Stage) ([]model.ModelVersion, error)
	deleteModelVersion(ctx context.Context, name string, version int) error
	resolveModelURI(ctx context.Context, uri string) (runID, relPath string, err error)

	close() error
}
