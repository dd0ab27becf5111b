package modelfmt

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

type constPredictor float64

func (c constPredictor) Predict(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = float64(c)
	}
	return out, nil
}

func TestManifestYAML(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := Manifest{
		Format:       "linear.elasticnet/v1",
		DataFile:     "model.json",
		RunID:        "0123456789abcdef0123456789abcdef",
		ArtifactPath: "model",
		CreatedAt:    created,
		FeatureCount: 11,
		Dependencies: []string{"github.com/ashita-ai/tsuiseki/linear"},
	}
	raw, err := EncodeManifest(m)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "format: linear.elasticnet/v1")
	assert.Contains(t, string(raw), "feature_count: 11")

	got, err := DecodeManifest(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, m.Format, got.Format)
	assert.Equal(t, m.DataFile, got.DataFile)
	assert.Equal(t, m.FeatureCount, got.FeatureCount)
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestDecodeManifestRejectsIncomplete(t *testing.T) {
	_, err := DecodeManifest(strings.NewReader("run_id: abc\n"))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = DecodeManifest(strings.NewReader("format: [unterminated\n"))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("const/v1", func(r io.Reader) (Predictor, error) {
		return constPredictor(4.2), nil
	})
	reg.Register("broken/v1", func(r io.Reader) (Predictor, error) {
		return nil, errors.New("corrupt")
	})
	assert.Equal(t, []string{"broken/v1", "const/v1"}, reg.Formats())

	p, err := reg.Load("const/v1", strings.NewReader(""))
	require.NoError(t, err)
	out, err := p.Predict([][]float64{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, []float64{4.2, 4.2}, out)

	_, err = reg.Load("pickle/v0", strings.NewReader(""))
	assert.ErrorIs(t, err, model.ErrUnsupportedFormat)

	_, err = reg.Load("broken/v1", strings.NewReader(""))
	assert.ErrorContains(t, err, "corrupt")
}
