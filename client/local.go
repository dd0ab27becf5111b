package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ashita-ai/tsuiseki/internal/artifact"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/modelfmt"
	"github.com/ashita-ai/tsuiseki/internal/service/registry"
	"github.com/ashita-ai/tsuiseki/internal/service/tracking"
	"github.com/ashita-ai/tsuiseki/internal/storage"
	"github.com/ashita-ai/tsuiseki/migrations"
)

// localBackend talks to a metadata store and artifact root directly.
type localBackend struct {
	db       *storage.DB
	tracking *tracking.Service
	registry *registry.Service
}

// openLocal opens storeURI (a directory, file:// URI or Postgres DSN),
// applies pending migrations and wires the services on top of it.
func openLocal(ctx context.Context, storeURI, artifactRoot string, logger *slog.Logger) (*localBackend, error) {
	root, err := artifact.ResolveRoot(artifactRoot, storeURI)
	if err != nil {
		return nil, fmt.Errorf("tsuiseki: artifact root: %w", err)
	}
	db, err := storage.New(ctx, storeURI, logger)
	if err != nil {
		return nil, fmt.Errorf("tsuiseki: open store: %w", err)
	}
	fsys, _ := migrations.For(string(db.Dialect()))
	if err := db.RunMigrations(ctx, fsys); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tsuiseki: migrate store: %w", err)
	}
	tr := tracking.New(db, artifact.NewLocalStore(0), root, logger)
	return &localBackend{
		db:       db,
		tracking: tr,
		registry: registry.New(db, tr, logger),
	}, nil
}

func (b *localBackend) setExperiment(ctx context.Context, name string) (model.Experiment, error) {
	return b.tracking.SetExperiment(ctx, name)
}

func (b *localBackend) createExperiment(ctx context.Context, name string) (model.Experiment, error) {
	return b.tracking.CreateExperiment(ctx, name)
}

func (b *localBackend) getExperiment(ctx context.Context, id string) (model.Experiment, error) {
	return b.tracking.GetExperiment(ctx, id)
}

func (b *localBackend) getExperimentByName(ctx context.Context, name string) (model.Experiment, error) {
	return b.tracking.GetExperimentByName(ctx, name)
}

func (b *localBackend) listExperiments(ctx context.Context, view model.ViewType) ([]model.Experiment, error) {
	return b.tracking.ListExperiments(ctx, view)
}

func (b *localBackend) deleteExperiment(ctx context.Context, id string) error {
	return b.tracking.DeleteExperiment(ctx, id)
}

func (b *localBackend) restoreExperiment(ctx context.Context, id string) error {
	return b.tracking.RestoreExperiment(ctx, id)
}

func (b *localBackend) createRun(ctx context.Context, req model.CreateRunRequest) (model.Run, error) {
	return b.tracking.CreateRun(ctx, req)
}

func (b *localBackend) getRun(ctx context.Context, runID string) (model.Run, error) {
	return b.tracking.GetRun(ctx, runID)
}

func (b *localBackend) deleteRun(ctx context.Context, runID string) error {
	return b.tracking.DeleteRun(ctx, runID)
}

func (b *localBackend) restoreRun(ctx context.Context, runID string) error {
	return b.tracking.RestoreRun(ctx, runID)
}

func (b *localBackend) logBatch(ctx context.Context, runID string, batch model.Batch) error {
	return b.tracking.LogBatch(ctx, runID, batch)
}

func (b *localBackend) setTag(ctx context.Context, runID string, t model.Tag) error {
	return b.tracking.SetTag(ctx, runID, t)
}

func (b *localBackend) updateRunStatus(ctx context.Context, runID string, status model.RunStatus, end time.Time) error {
	return b.tracking.UpdateRunStatus(ctx, runID, status, end)
}

func (b *localBackend) searchRuns(ctx context.Context, req model.SearchRunsRequest) (model.SearchRunsResult, error) {
	return b.tracking.SearchRuns(ctx, req)
}

func (b *localBackend) listRunInfos(ctx context.Context, experimentID string) ([]model.RunInfo, error) {
	return b.tracking.ListRunInfos(ctx, experimentID)
}

func (b *localBackend) metricHistory(ctx context.Context, runID, key string) ([]model.Metric, error) {
	return b.tracking.GetMetricHistory(ctx, runID, key)
}

func (b *localBackend) logArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	return b.tracking.LogArtifact(ctx, runID, localPath, artifactPath)
}

func (b *localBackend) openArtifact(ctx context.Context, runID, relPath string) (io.ReadCloser, error) {
	return b.tracking.OpenArtifact(ctx, runID, relPath)
}

func (b *localBackend) listArtifacts(ctx context.Context, runID, relPath string) ([]model.FileInfo, error) {
	return b.tracking.ListArtifacts(ctx, runID, relPath)
}

func (b *localBackend) logModel(ctx context.Context, runID string, m modelfmt.Model, artifactPath string) (string, error) {
	return b.tracking.LogModel(ctx, runID, m, artifactPath)
}

func (b *localBackend) createRegisteredModel(ctx context.Context, name, description string) (model.RegisteredModel, error) {
	return b.registry.CreateRegisteredModel(ctx, name, description)
}

func (b *localBackend) getRegisteredModel(ctx context.Context, name string) (model.RegisteredModel, error) {
	return b.registry.GetRegisteredModel(ctx, name)
}

func (b *localBackend) listRegisteredModels(ctx context.Context) ([]model.RegisteredModel, error) {
	return b.registry.ListRegisteredModels(ctx)
}

func (b *localBackend) updateDescription(ctx context.Context, name, description string) error {
	return b.registry.UpdateDescription(ctx, name, description)
}

func (b *localBackend) registerModel(ctx context.Context, modelURI, name string) (model.ModelVersion, error) {
	return b.registry.RegisterModel(ctx, modelURI, name)
}

func (b *localBackend) transitionStage(ctx context.Context, name string, version int, stage string, archiveExisting bool) (model.ModelVersion, error) {
	return b.registry.TransitionStage(ctx, name, version, stage, archiveExisting)
}

func (b *localBackend) latestVersion(ctx context.Context, name string, stage *model.Stage) (model.ModelVersion, error) {
	return b.registry.GetLatestVersion(ctx, name, stage)
}

func (b *localBackend) getModelVersion(ctx context.Context, name string, version int) (model.ModelVersion, error) {
	return b.registry.GetModelVersion(ctx, name, version)
}

func (b *localBackend) listModelVersions(ctx context.Context, name string, stage *model.Stage) ([]model.ModelVersion, error) {
	return b.registry.ListModelVersions(ctx, name, stage)
}

func (b *localBackend) deleteModelVersion(ctx context.Context, name string, version int) error {
	return b.registry.DeleteModelVersion(ctx, name, version)
}

func (b *localBackend) resolveModelURI(ctx context.Context, uri string) (string, string, error) {
	return b.registry.ResolveModelURI(ctx, uri)
}

func (b *localBackend) close() error {
	return b.db.Close()
}
