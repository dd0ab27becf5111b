package registry_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ashita-ai/tsuiseki/internal/artifact"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/service/registry"
	"github.com/ashita-ai/tsuiseki/internal/service/tracking"
	"github.com/ashita-ai/tsuiseki/internal/testutil"
)

type fixture struct {
	tracking *tracking.Service
	registry *registry.Service
	run      model.Run
}

// newFixture returns services over a fresh store and a run with a "models"
// artifact directory.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	root, err := artifact.FileURI(t.TempDir())
	require.NoError(t, err)
	db := testutil.NewSQLiteDB(t)
	tr := tracking.New(db, artifact.NewLocalStore(0), root, testutil.TestLogger())
	reg := registry.New(db, tr, testutil.TestLogger())

	exp, err := tr.SetExperiment(ctx, "wine-quality")
	require.NoError(t, err)
	run, err := tr.CreateRun(ctx, model.CreateRunRequest{ExperimentID: exp.ID})
	require.NoError(t, err)
	_, err = tr.PutArtifact(ctx, run.ID, "models/model.json", strings.NewReader("{}"))
	require.NoError(t, err)
	return fixture{tracking: tr, registry: reg, run: run}
}

func TestRegisterModelNumbersVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uri := artifact.RunsURI(f.run.ID, "models")

	v1, err := f.registry.RegisterModel(ctx, uri, "wine-quality-model")
	require.NoError(t, err)
	v2, err := f.registry.RegisterModel(ctx, uri, "wine-quality-model")
	require.NoError(t, err)

	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, f.run.ID, v2.RunID)
	assert.Equal(t, "models", v2.ArtifactPath)
	assert.Equal(t, f.run.ArtifactURI+"/models", v2.Source)
	assert.Equal(t, "models:/wine-quality-model/2", v2.ModelURI())

	rm, err := f.registry.GetRegisteredModel(ctx, "wine-quality-model")
	require.NoError(t, err)
	assert.Equal(t, 2, rm.LatestVersion)
}

func TestRegisterModelSpan(t *testing.T) {
	rec := testutil.RecordSpans(t)
	f := newFixture(t)
	ctx := context.Background()

	mv, err := f.registry.RegisterModel(ctx, artifact.RunsURI(f.run.ID, "models"), "traced")
	require.NoError(t, err)

	var found bool
	for _, s := range rec.Ended() {
		if s.Name() != "registry.RegisterModel" {
			continue
		}
		found = true
		assert.Contains(t, s.Attributes(), attribute.String("tsuiseki.model_name", "traced"))
		assert.Contains(t, s.Attributes(), attribute.Int("tsuiseki.model_version", mv.Version))
	}
	assert.True(t, found, "spans: %v", testutil.SpanNames(rec))
}

func TestRegisterModelConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uri := artifact.RunsURI(f.run.ID, "models")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions []int
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mv, err := f.registry.RegisterModel(ctx, uri, "race")
			assert.NoError(t, err)
			mu.Lock()
			versions = append(versions, mv.Version)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.ElementsMatch(t, []int{1, 2}, versions)
}

func TestRegisterModelRequiresExistingArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.RegisterModel(ctx, artifact.RunsURI(f.run.ID, "nothing-here"), "m")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.registry.RegisterModel(ctx, artifact.RunsURI("ffffffffffffffffffffffffffffffff", "models"), "m")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.registry.RegisterModel(ctx, "s3://bucket/model", "m")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = f.registry.RegisterModel(ctx, artifact.RunsURI(f.run.ID, "models"), "bad/name")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestStagesAndResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uri := artifact.RunsURI(f.run.ID, "models")
	for range 3 {
		_, err := f.registry.RegisterModel(ctx, uri, "wine")
		require.NoError(t, err)
	}

	_, err := f.registry.TransitionStage(ctx, "wine", 1, "Production", false)
	require.NoError(t, err)
	_, err = f.registry.TransitionStage(ctx, "wine", 2, "staging", false)
	require.NoError(t, err)
	_, err = f.registry.TransitionStage(ctx, "wine", 3, "shipped", false)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	latest, err := f.registry.GetLatestVersion(ctx, "wine", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)

	prod := model.StageProduction
	inProd, err := f.registry.GetLatestVersion(ctx, "wine", &prod)
	require.NoError(t, err)
	assert.Equal(t, 1, inProd.Version)

	archived := model.StageArchived
	_, err = f.registry.GetLatestVersion(ctx, "wine", &archived)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.registry.GetLatestVersion(ctx, "ghost", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)

	uris := []string{
		"models:/wine/2",
		"models:/wine/production",
		"models:/wine/Staging",
		"models:/wine/latest",
		"runs:/" + f.run.ID + "/models",
	}
	for _, in := range uris {
		runID, p, err := f.registry.ResolveModelURI(ctx, in)
		require.NoError(t, err, in)
		assert.Equal(t, f.run.ID, runID, in)
		assert.Equal(t, "models", p, in)
	}

	_, _, err = f.registry.ResolveModelURI(ctx, "models:/wine/9")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, _, err = f.registry.ResolveModelURI(ctx, "models:/wine/archived")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, f.registry.DeleteModelVersion(ctx, "wine", 3))
	mv, err := f.registry.RegisterModel(ctx, uri, "wine")
	require.NoError(t, err)
	assert.Equal(t, 4, mv.Version)
}
