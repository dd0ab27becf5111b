// Package modelfmt defines how logged models are persisted as artifacts: a
// YAML manifest named MLmodel next to a format-specific data file, and a
// registry mapping format identifiers to loaders.
package modelfmt

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// ManifestFile is the manifest's file name inside a model directory.
const ManifestFile = "MLmodel"

// Predictor produces one prediction per input row.
type Predictor interface {
	Predict(x [][]float64) ([]float64, error)
}

// Model is a trained model that can be written as an artifact.
type Model interface {
	Predictor
	// Format identifies the loader able to read the data file back.
	Format() string
	// NumFeatures is the expected width of input rows.
	NumFeatures() int
	// Encode writes the data file.
	Encode(w io.Writer) error
}

// Manifest describes a logged model.
type Manifest struct {
	Format       string            `yaml:"format"`
	DataFile     string            `yaml:"data"`
	RunID        string            `yaml:"run_id"`
	ArtifactPath string            `yaml:"artifact_path"`
	CreatedAt    time.Time         `yaml:"utc_time_created"`
	FeatureCount int               `yaml:"feature_count"`
	Dependencies []string          `yaml:"dependencies,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`
}

// Validate checks the fields a loader relies on.
func (m Manifest) Validate() error {
	if m.Format == "" {
		return fmt.Errorf("%w: manifest has no format", model.ErrInvalidArgument)
	}
	if m.DataFile == "" {
		return fmt.Errorf("%w: manifest has no data file", model.ErrInvalidArgument)
	}
	return nil
}

// EncodeManifest renders m as YAML.
func EncodeManifest(m Manifest) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("modelfmt: encode manifest: %w", err)
	}
	out, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("modelfmt: encode manifest: %w", err)
	}
	return out, nil
}

// DecodeManifest parses a YAML manifest.
func DecodeManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("modelfmt: decode manifest: %w: %v", model.ErrInvalidArgument, err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("modelfmt: decode manifest: %w", err)
	}
	return m, nil
}

// Loader reconstructs a predictor from a data file.
type Loader func(r io.Reader) (Predictor, error)

// Registry maps format identifiers to loaders. The zero value is not usable;
// call NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// Register adds or replaces the loader for format.
func (r *Registry) Register(format string, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[format] = l
}

// Formats lists the registered format identifiers.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.loaders))
	for f := range r.loaders {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Load decodes data with the loader registered for format.
// Unknown formats return model.ErrUnsupportedFormat.
func (r *Registry) Load(format string, data io.Reader) (Predictor, error) {
	r.mu.RLock()
	l, ok := r.loaders[format]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("modelfmt: %w: %q", model.ErrUnsupportedFormat, format)
	}
	p, err := l(data)
	if err != nil {
		return nil, fmt.Errorf("modelfmt: load %s: %w", format, err)
	}
	return p, nil
}

// PutFunc stores one file of a model directory; relPath is relative to the
// run's artifact root.
type PutFunc func(relPath string, r io.Reader) error

// Write stores m under artifactPath as a data file plus manifest. The data
// file goes first so a visible manifest always has its data.
func Write(m Model, runID, artifactPath, dataFile string, created time.Time, put PutFunc) (Manifest, error) {
	man := Manifest{
		Format:       m.Format(),
		DataFile:     dataFile,
		RunID:        runID,
		ArtifactPath: artifactPath,
		CreatedAt:    created.UTC(),
		FeatureCount: m.NumFeatures(),
		Dependencies: []string{"github.com/ashita-ai/tsuiseki"},
	}
	manifest, err := EncodeManifest(man)
	if err != nil {
		return Manifest{}, err
	}

	var data bytes.Buffer
	if err := m.Encode(&data); err != nil {
		return Manifest{}, fmt.Errorf("modelfmt: encode %s: %w", man.Format, err)
	}
	if err := put(path.Join(artifactPath, dataFile), &data); err != nil {
		return Manifest{}, fmt.Errorf("modelfmt: write data: %w", err)
	}
	if err := put(path.Join(artifactPath, ManifestFile), bytes.NewReader(manifest)); err != nil {
		return Manifest{}, fmt.Errorf("modelfmt: write manifest: %w", err)
	}
	return man, nil
}

// DataFileName returns the data file name m asks for, or "model.data".
func DataFileName(m Model) string {
	if named, ok := m.(interface{ DataFile() string }); ok && named.DataFile() != "" {
		return named.DataFile()
	}
	return "model.data"
}
