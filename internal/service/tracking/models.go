package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/tsuiseki/internal/artifact"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/modelfmt"
	"github.com/ashita-ai/tsuiseki/internal/telemetry"
)

// LoggedModel is one entry of a run's logged-model history tag.
type LoggedModel struct {
	ArtifactPath string    `json:"artifact_path"`
	Format       string    `json:"format"`
	CreatedAt    time.Time `json:"utc_time_created"`
}

// LogModel writes m and its MLmodel manifest under artifactPath of a running
// run, records it in the run's logged-model history tag and returns
// runs:/{run_id}/{artifactPath}.
func (s *Service) LogModel(ctx context.Context, runID string, m modelfmt.Model, artifactPath string) (_ string, err error) {
	ctx, span := s.tracer.Start(ctx, "tracking.LogModel", trace.WithAttributes(
		attribute.String("tsuiseki.run_id", runID),
		attribute.String("tsuiseki.model_format", m.Format()),
	))
	defer telemetry.End(span, &err)

	run, err := s.writableRun(ctx, runID)
	if err != nil {
		return "", err
	}
	dest, err := artifact.CleanPath(artifactPath)
	if err != nil {
		return "", fmt.Errorf("tracking: log model: %w", err)
	}
	if dest == "" {
		return "", fmt.Errorf("tracking: log model: %w: artifact path must not be empty", model.ErrInvalidArgument)
	}

	put := func(relPath string, r io.Reader) error {
		n, err := s.artifacts.Put(ctx, run.ArtifactURI, relPath, r)
		s.artifactBytes.Add(ctx, n)
		return err
	}
	man, err := modelfmt.Write(m, runID, dest, modelfmt.DataFileName(m), time.Now(), put)
	if err != nil {
		return "", fmt.Errorf("tracking: log model: %w", err)
	}

	history, err := AppendLoggedModel(run.Tags[model.TagLoggedModel], man)
	if err != nil {
		s.logger.Warn("tracking: logged-model history unreadable, starting over", "run_id", runID, "error", err)
	}
	if err := s.db.SetTag(ctx, runID, model.Tag{Key: model.TagLoggedModel, Value: history}); err != nil {
		return "", fmt.Errorf("tracking: log model: %w", err)
	}

	uri := artifact.RunsURI(runID, dest)
	s.logger.Info("model logged", "run_id", runID, "uri", uri, "format", man.Format)
	return uri, nil
}

// AppendLoggedModel adds man to a JSON history tag value. A malformed
// existing value is replaced, and the error is returned alongside the new
// value.
func AppendLoggedModel(existing string, man modelfmt.Manifest) (string, error) {
	var (
		entries []LoggedModel
		readErr error
	)
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &entries); err != nil {
			entries = nil
			readErr = err
		}
	}
	entries = append(entries, LoggedModel{
		ArtifactPath: man.ArtifactPath,
		Format:       man.Format,
		CreatedAt:    man.CreatedAt,
	})
	out, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(out), readErr
}
