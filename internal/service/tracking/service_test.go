package tracking_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashita-ai/tsuiseki/internal/artifact"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/modelfmt"
	"github.com/ashita-ai/tsuiseki/internal/service/tracking"
	"github.com/ashita-ai/tsuiseki/internal/testutil"
	"github.com/ashita-ai/tsuiseki/linear"
)

func newService(t *testing.T) *tracking.Service {
	t.Helper()
	root, err := artifact.FileURI(t.TempDir())
	require.NoError(t, err)
	return tracking.New(testutil.NewSQLiteDB(t), artifact.NewLocalStore(0), root, testutil.TestLogger())
}

func startRun(t *testing.T, svc *tracking.Service) model.Run {
	t.Helper()
	ctx := context.Background()
	exp, err := svc.SetExperiment(ctx, "wine-quality-local")
	require.NoError(t, err)
	run, err := svc.CreateRun(ctx, model.CreateRunRequest{ExperimentID: exp.ID})
	require.NoError(t, err)
	return run
}

func TestSetExperimentGetOrCreate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exp, err := svc.SetExperiment(ctx, "shared")
			assert.NoError(t, err)
			mu.Lock()
			ids[exp.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)

	_, err := svc.CreateExperiment(ctx, "shared")
	assert.ErrorIs(t, err, model.ErrAlreadyExists)
}

func TestCreateRunDefaults(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	parent := startRun(t, svc)

	assert.True(t, strings.HasPrefix(parent.Name, "run-"))
	assert.Equal(t, parent.Name, parent.Tags[model.TagRunName])
	assert.True(t, strings.HasPrefix(parent.ArtifactURI, "file://"))

	child, err := svc.CreateRun(ctx, model.CreateRunRequest{
		ExperimentID: parent.ExperimentID,
		ParentRunID:  &parent.ID,
		Name:         "alpha=0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha=0.1", child.Name)
	assert.Equal(t, parent.ID, child.Tags[model.TagParentRunID])
}

func TestLogArtifactAndLoad(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	run := startRun(t, svc)

	local := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(local, []byte("best alpha 0.01"), 0o644))
	require.NoError(t, svc.LogArtifact(ctx, run.ID, local, "docs"))

	data, err := svc.LoadArtifact(ctx, artifact.RunsURI(run.ID, "docs/notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "best alpha 0.01", string(data))

	list, err := svc.ListArtifacts(ctx, run.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []model.FileInfo{{Path: "docs", IsDir: true}}, list)

	uri, err := tracking.ArtifactURI(run.RunInfo, "docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, run.ArtifactURI+"/docs/notes.txt", uri)

	_, err = svc.LoadArtifact(ctx, artifact.RunsURI(run.ID, "docs/missing.txt"))
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.LoadArtifact(ctx, artifact.RunsURI("ffffffffffffffffffffffffffffffff", "x"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestArtifactsRejectedAfterFinish(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	run := startRun(t, svc)
	require.NoError(t, svc.UpdateRunStatus(ctx, run.ID, model.RunStatusFinished, run.StartTime))

	local := filepath.Join(t.TempDir(), "late.txt")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))
	assert.ErrorIs(t, svc.LogArtifact(ctx, run.ID, local, ""), model.ErrInvalidState)
	assert.ErrorIs(t, svc.LogParam(ctx, run.ID, model.Param{Key: "a", Value: "1"}), model.ErrInvalidState)

	_, err := svc.PutArtifact(ctx, run.ID, "x.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestLogModelWritesManifest(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	run := startRun(t, svc)

	m, err := linear.New(linear.Params{Alpha: 0.01, L1Ratio: 0.2, MaxIter: 100, Tol: 1e-4, FitIntercept: true})
	require.NoError(t, err)
	require.NoError(t, m.Fit([][]float64{{1, 0}, {0, 1}, {1, 1}, {2, 1}}, []float64{1, 2, 3, 4}))

	uri, err := svc.LogModel(ctx, run.ID, m, "models")
	require.NoError(t, err)
	assert.Equal(t, "runs:/"+run.ID+"/models", uri)

	raw, err := svc.LoadArtifact(ctx, uri+"/"+modelfmt.ManifestFile)
	require.NoError(t, err)
	man, err := modelfmt.DecodeManifest(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, linear.Format, man.Format)
	assert.Equal(t, linear.DataFile, man.DataFile)
	assert.Equal(t, run.ID, man.RunID)
	assert.Equal(t, 2, man.FeatureCount)

	got, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	var history []tracking.LoggedModel
	require.NoError(t, json.Unmarshal([]byte(got.Tags[model.TagLoggedModel]), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "models", history[0].ArtifactPath)

	_, err = svc.LogModel(ctx, run.ID, m, "")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestAppendLoggedModelRecoversFromGarbage(t *testing.T) {
	out, err := tracking.AppendLoggedModel("not json", modelfmt.Manifest{ArtifactPath: "m", Format: "f"})
	assert.Error(t, err)
	var entries []tracking.LoggedModel
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 1)
}

func TestServiceSpans(t *testing.T) {
	rec := testutil.RecordSpans(t)
	svc := newService(t)
	ctx := context.Background()
	run := startRun(t, svc)

	require.NoError(t, svc.LogBatch(ctx, run.ID, model.Batch{Metrics: []model.Metric{{Key: "rmse", Value: 0.7}}}))
	err := svc.LogBatch(ctx, run.ID, model.Batch{Params: []model.Param{{Key: "", Value: "x"}}})
	require.ErrorIs(t, err, model.ErrInvalidArgument)

	m, err := linear.New(linear.DefaultParams())
	require.NoError(t, err)
	require.NoError(t, m.Fit([][]float64{{1}, {2}, {3}}, []float64{2, 4, 6}))
	_, err = svc.LogModel(ctx, run.ID, m, "model")
	require.NoError(t, err)

	assert.Equal(t, []string{"tracking.CreateRun", "tracking.LogBatch", "tracking.LogBatch", "tracking.LogModel"},
		testutil.SpanNames(rec))

	spans := rec.Ended()
	assert.Contains(t, spans[0].Attributes(), attribute.String("tsuiseki.experiment_id", run.ExperimentID))
	assert.Contains(t, spans[1].Attributes(), attribute.Int("tsuiseki.batch.metrics", 1))
	// A rejected batch is a caller error: recorded, but the span is not failed.
	require.Len(t, spans[2].Events(), 1)
	assert.Equal(t, codes.Unset, spans[2].Status().Code)
}
