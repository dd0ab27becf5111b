// Package registry provides the model registry: named, versioned pointers
// to run artifacts with a lifecycle stage per version.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/tsuiseki/internal/artifact"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/service/tracking"
	"github.com/ashita-ai/tsuiseki/internal/storage"
	"github.com/ashita-ai/tsuiseki/internal/telemetry"
)

// Service encapsulates registry logic shared by HTTP, MCP and local clients.
type Service struct {
	db       *storage.DB
	tracking *tracking.Service
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a registry Service. The tracking service is used to verify
// that registered artifacts exist.
func New(db *storage.DB, tracking *tracking.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, tracking: tracking, logger: logger, tracer: telemetry.Tracer("tsuiseki/registry")}
}

func (s *Service) CreateRegisteredModel(ctx context.Context, name, description string) (model.RegisteredModel, error) {
	return s.db.CreateRegisteredModel(ctx, name, description)
}

func (s *Service) GetRegisteredModel(ctx context.Context, name string) (model.RegisteredModel, error) {
	return s.db.GetRegisteredModel(ctx, name)
}

func (s *Service) ListRegisteredModels(ctx context.Context) ([]model.RegisteredModel, error) {
	return s.db.ListRegisteredModels(ctx)
}

func (s *Service) UpdateDescription(ctx context.Context, name, description string) error {
	return s.db.UpdateRegisteredModelDescription(ctx, name, description)
}

// RegisterModel creates the next version of name pointing at the artifact
// behind modelURI (runs:/{run_id}/{path}). The registered model is created
// on first use. The run and the artifact path must exist.
func (s *Service) RegisterModel(ctx context.Context, modelURI, name string) (_ model.ModelVersion, err error) {
	ctx, span := s.tracer.Start(ctx, "registry.RegisterModel", trace.WithAttributes(
		attribute.String("tsuiseki.model_name", name),
		attribute.String("tsuiseki.model_uri", modelURI),
	))
	defer telemetry.End(span, &err)

	if err := model.ValidateModelName(name); err != nil {
		return model.ModelVersion{}, fmt.Errorf("registry: register model: %w", err)
	}
	runID, relPath, err := s.ResolveModelURI(ctx, modelURI)
	if err != nil {
		return model.ModelVersion{}, fmt.Errorf("registry: register model: %w", err)
	}
	run, err := s.tracking.GetRun(ctx, runID)
	if err != nil {
		return model.ModelVersion{}, fmt.Errorf("registry: register model: %w", err)
	}
	if _, err := s.tracking.StatArtifact(ctx, runID, relPath); err != nil {
		return model.ModelVersion{}, fmt.Errorf("registry: register model: %w", err)
	}
	source, err := tracking.ArtifactURI(run.RunInfo, relPath)
	if err != nil {
		return model.ModelVersion{}, fmt.Errorf("registry: register model: %w", err)
	}

	mv, err := s.db.CreateModelVersion(ctx, model.ModelVersion{
		Name:         name,
		RunID:        runID,
		Source:       source,
		ArtifactPath: relPath,
	})
	if err != nil {
		return model.ModelVersion{}, err
	}
	span.SetAttributes(attribute.Int("tsuiseki.model_version", mv.Version))
	s.logger.Info("model version registered", "name", name, "version", mv.Version, "run_id", runID, "path", relPath)
	return mv, nil
}

// TransitionStage moves a version to stage. Other versions already in that
// stage keep it unless archiveExisting is set.
func (s *Service) TransitionStage(ctx context.Context, name string, version int, stage string, archiveExisting bool) (model.ModelVersion, error) {
	st, err := model.ParseStage(stage)
	if err != nil {
		return model.ModelVersion{}, fmt.Errorf("registry: transition stage: %w", err)
	}
	mv, err := s.db.UpdateModelVersionStage(ctx, name, version, st, archiveExisting)
	if err != nil {
		return model.ModelVersion{}, err
	}
	s.logger.Info("model version stage changed", "name", name, "version", version, "stage", st, "archive_existing", archiveExisting)
	return mv, nil
}

// GetLatestVersion returns the highest version of name, optionally limited
// to one stage. model.ErrNotFound when nothing matches.
func (s *Service) GetLatestVersion(ctx context.Context, name string, stage *model.Stage) (model.ModelVersion, error) {
	versions, err := s.db.ListModelVersions(ctx, name, stage)
	if err != nil {
		return model.ModelVersion{}, err
	}
	if len(versions) == 0 {
		if stage != nil {
			return model.ModelVersion{}, fmt.Errorf("registry: %w: no version of %q in stage %s", model.ErrNotFound, name, *stage)
		}
		return model.ModelVersion{}, fmt.Errorf("registry: %w: %q has no versions", model.ErrNotFound, name)
	}
	return versions[0], nil
}

func (s *Service) GetModelVersion(ctx context.Context, name string, version int) (model.ModelVersion, error) {
	return s.db.GetModelVersion(ctx, name, version)
}

func (s *Service) ListModelVersions(ctx context.Context, name string, stage *model.Stage) ([]model.ModelVersion, error) {
	return s.db.ListModelVersions(ctx, name, stage)
}

func (s *Service) DeleteModelVersion(ctx context.Context, name string, version int) error {
	if err := s.db.DeleteModelVersion(ctx, name, version); err != nil {
		return err
	}
	s.logger.Info("model version deleted", "name", name, "version", version)
	return nil
}

// ResolveModelURI maps runs:/ and models:/ URIs to the run and artifact
// path they reference.
func (s *Service) ResolveModelURI(ctx context.Context, uri string) (runID, relPath string, err error) {
	runID, relPath, err = artifact.ParseRunsURI(uri)
	if err == nil {
		return runID, relPath, nil
	}
	ref, mErr := artifact.ParseModelsURI(uri)
	if mErr != nil {
		return "", "", errors.Join(err, mErr)
	}

	var mv model.ModelVersion
	switch {
	case ref.Version > 0:
		mv, err = s.db.GetModelVersion(ctx, ref.Name, ref.Version)
	case ref.Latest:
		mv, err = s.GetLatestVersion(ctx, ref.Name, nil)
	default:
		mv, err = s.GetLatestVersion(ctx, ref.Name, &ref.Stage)
	}
	if err != nil {
		return "", "", err
	}
	return mv.RunID, mv.ArtifactPath, nil
}
