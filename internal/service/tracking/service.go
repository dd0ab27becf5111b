// Package tracking provides the shared business logic for experiments, runs
// and run artifacts.
//
// The HTTP API, the MCP tools and the in-process client backend all delegate
// to this service so validation, defaults and artifact handling behave the
// same on every surface.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/tsuiseki/internal/artifact"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/storage"
	"github.com/ashita-ai/tsuiseki/internal/telemetry"
)

// Service encapsulates tracking logic shared by HTTP, MCP and local clients.
type Service struct {
	db           *storage.DB
	artifacts    artifact.Store
	artifactRoot string
	logger       *slog.Logger

	tracer        trace.Tracer
	runsCreated   metric.Int64Counter
	artifactBytes metric.Int64Counter
}

// New creates a tracking Service. artifactRoot is the URI under which new
// experiments get their artifact location (<root>/<experiment id>).
func New(db *storage.DB, artifacts artifact.Store, artifactRoot string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	meter := telemetry.Meter("tsuiseki/tracking")
	runsCreated, _ := meter.Int64Counter("tsuiseki.runs.created",
		metric.WithDescription("Runs created"),
	)
	artifactBytes, _ := meter.Int64Counter("tsuiseki.artifacts.bytes_written",
		metric.WithDescription("Artifact bytes written"),
		metric.WithUnit("By"),
	)
	return &Service{
		db:            db,
		artifacts:     artifacts,
		artifactRoot:  artifactRoot,
		logger:        logger,
		tracer:        telemetry.Tracer("tsuiseki/tracking"),
		runsCreated:   runsCreated,
		artifactBytes: artifactBytes,
	}
}

// DB exposes the underlying store for health checks.
func (s *Service) DB() *storage.DB { return s.db }

// SetExperiment returns the active experiment called name, creating it if
// needed. Two callers racing to create the same name both get the one that
// won.
func (s *Service) SetExperiment(ctx context.Context, name string) (model.Experiment, error) {
	exp, err := s.db.GetExperimentByName(ctx, name)
	if err == nil {
		return exp, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Experiment{}, err
	}
	exp, err = s.CreateExperiment(ctx, name)
	if errors.Is(err, model.ErrAlreadyExists) {
		return s.db.GetExperimentByName(ctx, name)
	}
	return exp, err
}

// CreateExperiment creates a new experiment under the service's artifact root.
func (s *Service) CreateExperiment(ctx context.Context, name string) (model.Experiment, error) {
	exp, err := s.db.CreateExperiment(ctx, name, s.artifactRoot)
	if err != nil {
		return model.Experiment{}, err
	}
	s.logger.Info("experiment created", "experiment_id", exp.ID, "name", exp.Name)
	return exp, nil
}

func (s *Service) GetExperiment(ctx context.Context, id string) (model.Experiment, error) {
	return s.db.GetExperiment(ctx, id)
}

func (s *Service) GetExperimentByName(ctx context.Context, name string) (model.Experiment, error) {
	return s.db.GetExperimentByName(ctx, name)
}

func (s *Service) ListExperiments(ctx context.Context, view model.ViewType) ([]model.Experiment, error) {
	return s.db.ListExperiments(ctx, view)
}

func (s *Service) RenameExperiment(ctx context.Context, id, name string) error {
	return s.db.RenameExperiment(ctx, id, name)
}

func (s *Service) DeleteExperiment(ctx context.Context, id string) error {
	return s.db.DeleteExperiment(ctx, id)
}

func (s *Service) RestoreExperiment(ctx context.Context, id string) error {
	return s.db.RestoreExperiment(ctx, id)
}

// CreateRun starts a run. The run name defaults to "run-" plus the first
// characters of a random suffix, and is mirrored into the run-name tag; a
// parent run is mirrored into the parent tag.
func (s *Service) CreateRun(ctx context.Context, req model.CreateRunRequest) (_ model.Run, err error) {
	ctx, span := s.tracer.Start(ctx, "tracking.CreateRun",
		trace.WithAttributes(attribute.String("tsuiseki.experiment_id", req.ExperimentID)))
	defer telemetry.End(span, &err)

	tags := make(map[string]string, len(req.Tags)+2)
	for k, v := range req.Tags {
		tags[k] = v
	}
	if req.Name == "" {
		req.Name = "run-" + storage.NewRunID()[:8]
	}
	tags[model.TagRunName] = req.Name
	if req.ParentRunID != nil {
		tags[model.TagParentRunID] = *req.ParentRunID
	}
	req.Tags = tags

	run, err := s.db.CreateRun(ctx, req)
	if err != nil {
		return model.Run{}, err
	}
	s.runsCreated.Add(ctx, 1)
	span.SetAttributes(attribute.String("tsuiseki.run_id", run.ID))
	s.logger.Debug("run created", "run_id", run.ID, "experiment_id", run.ExperimentID, "parent_run_id", req.ParentRunID)
	return run, nil
}

func (s *Service) GetRun(ctx context.Context, runID string) (model.Run, error) {
	return s.db.GetRun(ctx, runID)
}

func (s *Service) LogParam(ctx context.Context, runID string, p model.Param) error {
	return s.db.LogParam(ctx, runID, p)
}

func (s *Service) LogMetric(ctx context.Context, runID string, m model.Metric) error {
	return s.db.LogMetric(ctx, runID, m)
}

func (s *Service) SetTag(ctx context.Context, runID string, t model.Tag) error {
	return s.db.SetTag(ctx, runID, t)
}

func (s *Service) DeleteTag(ctx context.Context, runID, key string) error {
	return s.db.DeleteTag(ctx, runID, key)
}

// LogBatch writes params, metrics and tags atomically.
func (s *Service) LogBatch(ctx context.Context, runID string, b model.Batch) (err error) {
	ctx, span := s.tracer.Start(ctx, "tracking.LogBatch", trace.WithAttributes(
		attribute.String("tsuiseki.run_id", runID),
		attribute.Int("tsuiseki.batch.params", len(b.Params)),
		attribute.Int("tsuiseki.batch.metrics", len(b.Metrics)),
		attribute.Int("tsuiseki.batch.tags", len(b.Tags)),
	))
	defer telemetry.End(span, &err)
	return s.db.LogBatch(ctx, runID, b)
}

// UpdateRunStatus ends a run. A zero endTime means now.
func (s *Service) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, endTime time.Time) error {
	if err := s.db.UpdateRunStatus(ctx, runID, status, endTime); err != nil {
		return err
	}
	s.logger.Debug("run ended", "run_id", runID, "status", status)
	return nil
}

func (s *Service) DeleteRun(ctx context.Context, runID string) error {
	return s.db.DeleteRun(ctx, runID)
}

func (s *Service) RestoreRun(ctx context.Context, runID string) error {
	return s.db.RestoreRun(ctx, runID)
}

func (s *Service) GetMetricHistory(ctx context.Context, runID, key string) ([]model.Metric, error) {
	return s.db.GetMetricHistory(ctx, runID, key)
}

func (s *Service) SearchRuns(ctx context.Context, req model.SearchRunsRequest) (model.SearchRunsResult, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("tsuiseki.filter", req.Filter))
	return s.db.SearchRuns(ctx, req)
}

func (s *Service) ListRunInfos(ctx context.Context, experimentID string) ([]model.RunInfo, error) {
	return s.db.ListRunInfos(ctx, experimentID)
}

// writableRun returns the run if artifacts may still be added to it.
func (s *Service) writableRun(ctx context.Context, runID string) (model.Run, error) {
	run, err := s.db.GetRun(ctx, runID)
	if err != nil {
		return model.Run{}, err
	}
	if run.Status.Terminal() {
		return model.Run{}, fmt.Errorf("tracking: %w: run %s is %s", model.ErrInvalidState, runID, run.Status)
	}
	if run.LifecycleStage != model.LifecycleActive {
		return model.Run{}, fmt.Errorf("tracking: %w: run %s is deleted", model.ErrInvalidState, runID)
	}
	if run.ArtifactURI == "" {
		return model.Run{}, fmt.Errorf("tracking: %w: run %s has no artifact location", model.ErrInvalidState, runID)
	}
	return run, nil
}

// LogArtifact copies a local file, or a directory tree, into the run's
// artifacts under artifactPath ("" for the artifact root).
func (s *Service) LogArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	run, err := s.writableRun(ctx, runID)
	if err != nil {
		return err
	}
	dest, err := artifact.CleanPath(artifactPath)
	if err != nil {
		return fmt.Errorf("tracking: log artifact: %w", err)
	}
	if err := artifact.PutTree(ctx, s.artifacts, run.ArtifactURI, localPath, dest); err != nil {
		return fmt.Errorf("tracking: log artifact: %w", err)
	}
	s.logger.Debug("artifact logged", "run_id", runID, "local_path", localPath, "artifact_path", dest)
	return nil
}

// PutArtifact writes one artifact file from r.
func (s *Service) PutArtifact(ctx context.Context, runID, relPath string, r io.Reader) (int64, error) {
	run, err := s.writableRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	n, err := s.artifacts.Put(ctx, run.ArtifactURI, relPath, r)
	if err != nil {
		return 0, fmt.Errorf("tracking: put artifact: %w", err)
	}
	s.artifactBytes.Add(ctx, n)
	return n, nil
}

// OpenArtifact opens one artifact file of a run.
func (s *Service) OpenArtifact(ctx context.Context, runID, relPath string) (io.ReadCloser, error) {
	run, err := s.db.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.artifacts.Get(ctx, run.ArtifactURI, relPath)
}

// StatArtifact describes one artifact path of a run.
func (s *Service) StatArtifact(ctx context.Context, runID, relPath string) (model.FileInfo, error) {
	run, err := s.db.GetRun(ctx, runID)
	if err != nil {
		return model.FileInfo{}, err
	}
	return s.artifacts.Stat(ctx, run.ArtifactURI, relPath)
}

// ListArtifacts lists the direct children of relPath in a run's artifacts.
func (s *Service) ListArtifacts(ctx context.Context, runID, relPath string) ([]model.FileInfo, error) {
	run, err := s.db.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.artifacts.List(ctx, run.ArtifactURI, relPath)
}

// LoadArtifact reads the artifact a runs:/ URI points at.
func (s *Service) LoadArtifact(ctx context.Context, uri string) ([]byte, error) {
	runID, relPath, err := artifact.ParseRunsURI(uri)
	if err != nil {
		return nil, err
	}
	rc, err := s.OpenArtifact(ctx, runID, relPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("tracking: read artifact %s: %w", uri, err)
	}
	return data, nil
}

// ArtifactURI joins a run's artifact root and a relative path.
func ArtifactURI(run model.RunInfo, relPath string) (string, error) {
	clean, err := artifact.CleanPath(relPath)
	if err != nil {
		return "", err
	}
	if clean == "" {
		return run.ArtifactURI, nil
	}
	return run.ArtifactURI + "/" + clean, nil
}
