// Package client is the tracking client used by training code. It records
// experiments, runs, params, metrics, tags, artifacts and models, and drives
// the model registry, against either a local store or a tracking server.
//
// The tracking URI picks the backend:
//
//	""                      ./tsuiseki-data (SQLite + local artifacts)
//	/path, file:///path     SQLite store in that directory
//	postgres://...          PostgreSQL store with local artifacts
//	http://host:port        remote tracking server
//	host:port               remote tracking server over http
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/tsuiseki/internal/artifact"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/modelfmt"
	"github.com/ashita-ai/tsuiseki/linear"
)

// DefaultExperimentName is used for runs started before SetExperiment.
const DefaultExperimentName = "Default"

// Public aliases for the record types returned by the client.
type (
	Experiment      = model.Experiment
	Run             = model.Run
	RunInfo         = model.RunInfo
	RunStatus       = model.RunStatus
	Param           = model.Param
	Metric          = model.Metric
	Tag             = model.Tag
	FileInfo        = model.FileInfo
	ViewType        = model.ViewType
	RegisteredModel = model.RegisteredModel
	ModelVersion    = model.ModelVersion
	Stage           = model.Stage

	Predictor = modelfmt.Predictor
	Model     = modelfmt.Model
	Loader    = modelfmt.Loader
	Manifest  = modelfmt.Manifest
)

const (
	RunStatusRunning  = model.RunStatusRunning
	RunStatusFinished = model.RunStatusFinished
	RunStatusFailed   = model.RunStatusFailed
	RunStatusKilled   = model.RunStatusKilled

	ViewActiveOnly  = model.ViewActiveOnly
	ViewDeletedOnly = model.ViewDeletedOnly
	ViewAll         = model.ViewAll

	StageNone       = model.StageNone
	StageStaging    = model.StageStaging
	StageProduction = model.StageProduction
	StageArchived   = model.StageArchived
)

// Client is safe for concurrent use. Active runs are carried on the
// context, not on the Client, so goroutines hold independent run stacks.
type Client struct {
	backend backend
	logger  *slog.Logger
	formats *modelfmt.Registry
	loads   singleflight.Group

	mu         sync.Mutex
	experiment *model.Experiment
}

var hostPort = regexp.MustCompile(`^[A-Za-z0-9.\-]+:[0-9]+$`)

// New opens a client for trackingURI.
func New(ctx context.Context, trackingURI string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	var (
		b   backend
		err error
	)
	switch {
	case strings.HasPrefix(trackingURI, "http://"), strings.HasPrefix(trackingURI, "https://"):
		b = newRemote(trackingURI, o)
	case hostPort.MatchString(trackingURI):
		b = newRemote("http://"+trackingURI, o)
	default:
		b, err = openLocal(ctx, trackingURI, o.artifactRoot, o.logger)
		if err != nil {
			return nil, err
		}
	}

	formats := modelfmt.NewRegistry()
	formats.Register(linear.Format, func(r io.Reader) (modelfmt.Predictor, error) {
		return linear.Load(r)
	})
	for format, l := range o.loaders {
		formats.Register(format, l)
	}

	return &Client{backend: b, logger: o.logger, formats: formats}, nil
}

// Close releases the backend's resources.
func (c *Client) Close() error {
	return c.backend.close()
}

// SetExperiment makes name the experiment new runs are created in,
// creating it if needed.
func (c *Client) SetExperiment(ctx context.Context, name string) (Experiment, error) {
	exp, err := c.backend.setExperiment(ctx, name)
	if err != nil {
		return Experiment{}, err
	}
	c.mu.Lock()
	c.experiment = &exp
	c.mu.Unlock()
	return exp, nil
}

// defaultExperimentID returns the experiment set by SetExperiment, falling
// back to DefaultExperimentName.
func (c *Client) defaultExperimentID(ctx context.Context) (string, error) {
	c.mu.Lock()
	exp := c.experiment
	c.mu.Unlock()
	if exp != nil {
		return exp.ID, nil
	}
	e, err := c.SetExperiment(ctx, DefaultExperimentName)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// CreateExperiment creates an experiment. It fails with ErrAlreadyExists
// when the name is taken.
func (c *Client) CreateExperiment(ctx context.Context, name string) (Experiment, error) {
	return c.backend.createExperiment(ctx, name)
}

// GetExperiment returns an experiment by ID, including deleted ones.
func (c *Client) GetExperiment(ctx context.Context, id string) (Experiment, error) {
	return c.backend.getExperiment(ctx, id)
}

// GetExperimentByName returns the active experiment called name.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (Experiment, error) {
	return c.backend.getExperimentByName(ctx, name)
}

// ListExperiments lists experiments in the given lifecycle view.
func (c *Client) ListExperiments(ctx context.Context, view ViewType) ([]Experiment, error) {
	return c.backend.listExperiments(ctx, view)
}

// DeleteExperiment soft-deletes an experiment and its active runs.
func (c *Client) DeleteExperiment(ctx context.Context, id string) error {
	return c.backend.deleteExperiment(ctx, id)
}

// RestoreExperiment reactivates a deleted experiment and the runs its
// deletion took down.
func (c *Client) RestoreExperiment(ctx context.Context, id string) error {
	return c.backend.restoreExperiment(ctx, id)
}

// GetRun returns a run with its params, latest metrics and tags.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	return c.backend.getRun(ctx, runID)
}

// DeleteRun soft-deletes a run. Its data and artifacts are kept.
func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	return c.backend.deleteRun(ctx, runID)
}

// RestoreRun reactivates a deleted run.
func (c *Client) RestoreRun(ctx context.Context, runID string) error {
	return c.backend.restoreRun(ctx, runID)
}

// ListRunInfos lists the run records of an experiment without their data.
func (c *Client) ListRunInfos(ctx context.Context, experimentID string) ([]RunInfo, error) {
	return c.backend.listRunInfos(ctx, experimentID)
}

// GetMetricHistory returns every value logged for key in the order the
// values were logged.
func (c *Client) GetMetricHistory(ctx context.Context, runID, key string) ([]Metric, error) {
	return c.backend.metricHistory(ctx, runID, key)
}

// SearchQuery selects runs for SearchRuns.
type SearchQuery struct {
	ExperimentIDs []string
	// Filter is an expression such as
	// "metrics.rmse < 0.7 and params.alpha = '0.1'".
	Filter string
	// OrderBy entries look like "metrics.rmse", "start_time DESC".
	OrderBy  []string
	ViewType ViewType
	// PageSize bounds each backend round trip. Zero uses the server default.
	PageSize int
}

// SearchRuns yields the runs matching q, fetching pages lazily. Iteration
// stops at the first error, which is yielded once. The sequence can be
// ranged over again to restart the search.
func (c *Client) SearchRuns(ctx context.Context, q SearchQuery) iter.Seq2[Run, error] {
	return func(yield func(Run, error) bool) {
		token := ""
		for {
			res, err := c.backend.searchRuns(ctx, model.SearchRunsRequest{
				ExperimentIDs: q.ExperimentIDs,
				Filter:        q.Filter,
				OrderBy:       q.OrderBy,
				ViewType:      q.ViewType,
				MaxResults:    q.PageSize,
				PageToken:     token,
			})
			if err != nil {
				yield(Run{}, err)
				return
			}
			for _, r := range res.Runs {
				if !yield(r, nil) {
					return
				}
			}
			if res.NextPageToken == "" {
				return
			}
			token = res.NextPageToken
		}
	}
}

// CollectRuns drains SearchRuns into a slice.
func (c *Client) CollectRuns(ctx context.Context, q SearchQuery) ([]Run, error) {
	var runs []Run
	for r, err := range c.SearchRuns(ctx, q) {
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// ListArtifacts lists the direct children of relPath in a run's artifacts.
func (c *Client) ListArtifacts(ctx context.Context, runID, relPath string) ([]FileInfo, error) {
	return c.backend.listArtifacts(ctx, runID, relPath)
}

// OpenArtifact streams one artifact file. The caller closes the reader.
func (c *Client) OpenArtifact(ctx context.Context, runID, relPath string) (io.ReadCloser, error) {
	return c.backend.openArtifact(ctx, runID, relPath)
}

// LoadArtifact reads the artifact file named by a runs:/ or models:/ URI.
func (c *Client) LoadArtifact(ctx context.Context, uri string) ([]byte, error) {
	runID, relPath, err := c.backend.resolveModelURI(ctx, uri)
	if err != nil {
		return nil, err
	}
	return c.readArtifact(ctx, runID, relPath)
}

func (c *Client) readArtifact(ctx context.Context, runID, relPath string) ([]byte, error) {
	rc, err := c.backend.openArtifact(ctx, runID, relPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("tsuiseki: read artifact %s: %w", artifact.RunsURI(runID, relPath), err)
	}
	return data, nil
}

// LogArtifactTo uploads a local file or directory into a run that is not
// necessarily the active one.
func (c *Client) LogArtifactTo(ctx context.Context, runID, localPath, artifactPath string) error {
	return c.backend.logArtifact(ctx, runID, localPath, artifactPath)
}

// LoadModel reconstructs a predictor from a runs:/ URI or a models:/
// reference. It fails with ErrUnsupportedFormat when no loader is
// registered for the manifest's format. Concurrent loads of the same URI
// share one fetch; a caller whose ctx ends stops waiting without failing
// the others.
func (c *Client) LoadModel(ctx context.Context, uri string) (Predictor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := c.loads.DoChan(uri, func() (any, error) {
		return c.loadModel(context.WithoutCancel(ctx), uri)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Predictor), nil
	}
}

func (c *Client) loadModel(ctx context.Context, uri string) (Predictor, error) {
	man, runID, dir, err := c.readManifest(ctx, uri)
	if err != nil {
		return nil, err
	}
	data, err := c.readArtifact(ctx, runID, path.Join(dir, man.DataFile))
	if err != nil {
		return nil, fmt.Errorf("tsuiseki: load model %s: %w", uri, err)
	}
	p, err := c.formats.Load(man.Format, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("tsuiseki: load model %s: %w", uri, err)
	}
	c.logger.Debug("model loaded", "uri", uri, "run_id", runID, "format", man.Format)
	return p, nil
}

// GetManifest reads the manifest of the model a URI points at.
func (c *Client) GetManifest(ctx context.Context, uri string) (Manifest, error) {
	man, _, _, err := c.readManifest(ctx, uri)
	return man, err
}

func (c *Client) readManifest(ctx context.Context, uri string) (Manifest, string, string, error) {
	runID, dir, err := c.backend.resolveModelURI(ctx, uri)
	if err != nil {
		return Manifest{}, "", "", err
	}
	raw, err := c.readArtifact(ctx, runID, path.Join(dir, modelfmt.ManifestFile))
	if errors.Is(err, model.ErrNotFound) {
		return Manifest{}, "", "", fmt.Errorf("tsuiseki: %s has no %s: %w", uri, modelfmt.ManifestFile, model.ErrUnsupportedFormat)
	}
	if err != nil {
		return Manifest{}, "", "", err
	}
	man, err := modelfmt.DecodeManifest(bytes.NewReader(raw))
	if err != nil {
		return Manifest{}, "", "", fmt.Errorf("tsuiseki: manifest of %s: %w", uri, err)
	}
	return man, runID, dir, nil
}

// Formats lists the model formats LoadModel can reconstruct.
func (c *Client) Formats() []string {
	return c.formats.Formats()
}

// ResolveModelURI maps a runs:/ or models:/ URI to the run and artifact
// path it refers to.
func (c *Client) ResolveModelURI(ctx context.Context, uri string) (runID, relPath string, err error) {
	return c.backend.resolveModelURI(ctx, uri)
}

// CreateRegisteredModel creates an empty registered model.
func (c *Client) CreateRegisteredModel(ctx context.Context, name, description string) (RegisteredModel, error) {
	return c.backend.createRegisteredModel(ctx, name, description)
}

// GetRegisteredModel returns a registered model with its latest version
// number.
func (c *Client) GetRegisteredModel(ctx context.Context, name string) (RegisteredModel, error) {
	return c.backend.getRegisteredModel(ctx, name)
}

// ListRegisteredModels lists every registered model by name.
func (c *Client) ListRegisteredModels(ctx context.Context) ([]RegisteredModel, error) {
	return c.backend.listRegisteredModels(ctx)
}

// UpdateDescription replaces a registered model's description.
func (c *Client) UpdateDescription(ctx context.Context, name, description string) error {
	return c.backend.updateDescription(ctx, name, description)
}

// RegisterModel registers the model at modelURI as the next version of
// name, creating the registered model on first use.
func (c *Client) RegisterModel(ctx context.Context, modelURI, name string) (ModelVersion, error) {
	return c.backend.registerModel(ctx, modelURI, name)
}

// TransitionStage moves a version to stage. With archiveExisting, other
// versions currently in that stage are archived.
func (c *Client) TransitionStage(ctx context.Context, name string, version int, stage Stage, archiveExisting bool) (ModelVersion, error) {
	return c.backend.transitionStage(ctx, name, version, string(stage), archiveExisting)
}

// GetLatestVersion returns the highest version of name, optionally
// restricted to one stage.
func (c *Client) GetLatestVersion(ctx context.Context, name string, stage *Stage) (ModelVersion, error) {
	return c.backend.latestVersion(ctx, name, stage)
}

// GetModelVersion returns one version of a registered model.
func (c *Client) GetModelVersion(ctx context.Context, name string, version int) (ModelVersion, error) {
	return c.backend.getModelVersion(ctx, name, version)
}

// ListModelVersions lists the versions of name, newest first, optionally
// restricted to one stage.
func (c *Client) ListModelVersions(ctx context.Context, name string, stage *Stage) ([]ModelVersion, error) {
	return c.backend.listModelVersions(ctx, name, stage)
}

// DeleteModelVersion removes a version. Its number is never reused.
func (c *Client) DeleteModelVersion(ctx context.Context, name string, version int) error {
	return c.backend.deleteModelVersion(ctx, name, version)
}
