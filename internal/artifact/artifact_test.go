package artifact

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

func TestCleanPath(t *testing.T) {
	ok := map[string]string{
		"":               "",
		".":              "",
		"model":          "model",
		"model/MLmodel":  "model/MLmodel",
		"a//b/./c":       "a/b/c",
		`plots\roc.png`:  "plots/roc.png",
		"trailing/dir/":  "trailing/dir",
	}
	for in, want := range ok {
		got, err := CleanPath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"/etc/passwd", "../x", "a/../../x", "a/.."} {
		_, err := CleanPath(bad)
		assert.ErrorIs(t, err, model.ErrInvalidArgument, bad)
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	root, err := FileURI(t.TempDir())
	require.NoError(t, err)
	s := NewLocalStore(0)

	n, err := s.Put(ctx, root, "model/model.json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	// Overwrite is allowed; last write wins.
	_, err = s.Put(ctx, root, "model/model.json", strings.NewReader(`{"a":2}`))
	require.NoError(t, err)

	rc, err := s.Get(ctx, root, "model/model.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, `{"a":2}`, string(data))

	list, err := s.List(ctx, root, "")
	require.NoError(t, err)
	assert.Equal(t, []model.FileInfo{{Path: "model", IsDir: true}}, list)

	list, err = s.List(ctx, root, "model")
	require.NoError(t, err)
	assert.Equal(t, []model.FileInfo{{Path: "model/model.json", FileSize: 7}}, list)

	fi, err := s.Stat(ctx, root, "model")
	require.NoError(t, err)
	assert.True(t, fi.IsDir)

	_, err = s.Get(ctx, root, "model/missing.bin")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.Stat(ctx, root, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)

	empty, err := s.List(ctx, root, "nothing/here")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocalStoreRejects(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := NewLocalStore(4)

	_, err := s.Put(ctx, root, "big.bin", bytes.NewReader(make([]byte, 5)))
	assert.ErrorIs(t, err, ErrTooLarge)
	_, statErr := os.Stat(filepath.Join(root, "big.bin"))
	assert.True(t, os.IsNotExist(statErr), "rejected payload must not be visible")

	_, err = s.Put(ctx, root, "../escape", strings.NewReader("x"))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = s.Put(ctx, "s3://bucket/prefix", "x", strings.NewReader("x"))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = s.Put(ctx, root, "", strings.NewReader("x"))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestPutTree(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("bb"), 0o644))

	root := t.TempDir()
	s := NewLocalStore(0)
	require.NoError(t, PutTree(ctx, s, root, src, "data"))

	fi, err := s.Stat(ctx, root, "data/nested/b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fi.FileSize)

	single := filepath.Join(src, "a.txt")
	require.NoError(t, PutTree(ctx, s, root, single, ""))
	_, err = s.Stat(ctx, root, "a.txt")
	require.NoError(t, err)
}

func TestRunsURI(t *testing.T) {
	assert.Equal(t, "runs:/abc/model", RunsURI("abc", "model"))
	assert.Equal(t, "runs:/abc", RunsURI("abc", ""))

	id, p, err := ParseRunsURI("runs:/abc/model/MLmodel")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "model/MLmodel", p)

	id, p, err = ParseRunsURI("runs:/abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.Empty(t, p)

	for _, bad := range []string{"models:/x/1", "runs:/", "runs:/abc/../../etc"} {
		_, _, err := ParseRunsURI(bad)
		assert.ErrorIs(t, err, model.ErrInvalidArgument, bad)
	}
}

func TestParseModelsURI(t *testing.T) {
	ref, err := ParseModelsURI("models:/ElasticnetWineModel/3")
	require.NoError(t, err)
	assert.Equal(t, ModelRef{Name: "ElasticnetWineModel", Version: 3}, ref)

	ref, err = ParseModelsURI("models:/ElasticnetWineModel/Production")
	require.NoError(t, err)
	assert.Equal(t, ModelRef{Name: "ElasticnetWineModel", Stage: model.StageProduction}, ref)

	ref, err = ParseModelsURI("models:/wine/latest")
	require.NoError(t, err)
	assert.True(t, ref.Latest)

	for _, bad := range []string{"models:/wine", "models:/wine/0", "models:/wine/shipping", "runs:/x/y", "models:/a/b/c"} {
		_, err := ParseModelsURI(bad)
		assert.ErrorIs(t, err, model.ErrInvalidArgument, bad)
	}
}

func TestResolveRoot(t *testing.T) {
	dir := t.TempDir()

	got, err := ResolveRoot("", dir)
	require.NoError(t, err)
	want, err := FileURI(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = ResolveRoot(dir, "postgres://u:p@db/tsuiseki")
	require.NoError(t, err)
	want, err = FileURI(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = ResolveRoot("", "postgresql://db/tsuiseki")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, "/tsuiseki-artifacts"), got)

	_, err = ResolveRoot("s3://bucket/prefix", dir)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}
