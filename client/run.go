package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/service/tracking"
)

type activeRunKey struct{}

// ActiveRun is a run started by StartRun. Its End is idempotent: once a
// call finalizes the run, later calls return nil.
type ActiveRun struct {
	c      *Client
	info   model.RunInfo
	parent *ActiveRun

	mu    sync.Mutex
	ended atomic.Bool
}

// ID returns the run ID.
func (r *ActiveRun) ID() string { return r.info.ID }

// Info returns the run record as it was when the run started.
func (r *ActiveRun) Info() RunInfo { return r.info }

// Parent returns the enclosing run of a nested run, or nil.
func (r *ActiveRun) Parent() *ActiveRun { return r.parent }

// End sets the run's terminal status. Status defaults to finished.
// If the store cannot be updated the run stays active and End can be
// retried.
func (r *ActiveRun) End(ctx context.Context, status RunStatus) error {
	if status == "" {
		status = RunStatusFinished
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended.Load() {
		return nil
	}
	err := r.c.backend.updateRunStatus(ctx, r.info.ID, status, time.Time{})
	if errors.Is(err, model.ErrInvalidTransition) {
		// Already terminal in the store.
		r.ended.Store(true)
		return err
	}
	if err != nil {
		return err
	}
	r.ended.Store(true)
	r.c.logger.Debug("run ended", "run_id", r.info.ID, "status", status)
	return nil
}

// ActiveRunFromContext returns the innermost run started on ctx that has
// not ended.
func ActiveRunFromContext(ctx context.Context) (*ActiveRun, bool) {
	r, _ := ctx.Value(activeRunKey{}).(*ActiveRun)
	for r != nil && r.ended.Load() {
		r = r.parent
	}
	return r, r != nil
}

// RunOptions configures StartRun.
type RunOptions struct {
	// ExperimentID defaults to the experiment chosen by SetExperiment.
	ExperimentID string
	Name         string
	// Nested starts the run as a child of the context's active run. Without
	// it, starting a run while another is active fails.
	Nested bool
	Tags   map[string]string
}

// StartRun creates a run and returns a context carrying it. Logging calls
// made with the returned context write to this run until it ends.
func (c *Client) StartRun(ctx context.Context, opts RunOptions) (context.Context, *ActiveRun, error) {
	parent, hasParent := ActiveRunFromContext(ctx)
	if hasParent && !opts.Nested {
		return ctx, nil, fmt.Errorf("tsuiseki: run %s is already active; start nested runs with Nested: %w",
			parent.ID(), model.ErrInvalidState)
	}

	expID := opts.ExperimentID
	if expID == "" {
		switch {
		case hasParent:
			expID = parent.info.ExperimentID
		default:
			var err error
			if expID, err = c.defaultExperimentID(ctx); err != nil {
				return ctx, nil, err
			}
		}
	}

	tags := make(map[string]string, len(opts.Tags)+1)
	tags[model.TagSource] = filepath.Base(os.Args[0])
	for k, v := range opts.Tags {
		tags[k] = v
	}
	req := model.CreateRunRequest{ExperimentID: expID, Name: opts.Name, Tags: tags}
	if hasParent {
		id := parent.ID()
		req.ParentRunID = &id
	}

	run, err := c.backend.createRun(ctx, req)
	if err != nil {
		return ctx, nil, err
	}
	ar := &ActiveRun{c: c, info: run.RunInfo}
	if hasParent {
		ar.parent = parent
	}
	c.logger.Debug("run started", "run_id", run.ID, "experiment_id", expID, "nested", hasParent)
	return context.WithValue(ctx, activeRunKey{}, ar), ar, nil
}

// WithRun starts a run, calls fn with it and ends it: finished when fn
// returns nil, failed when fn returns an error or panics. fn's error is
// returned as is and a panic is re-raised after the run is ended.
func (c *Client) WithRun(ctx context.Context, opts RunOptions, fn func(ctx context.Context, run *ActiveRun) error) error {
	runCtx, run, err := c.StartRun(ctx, opts)
	if err != nil {
		return err
	}
	endCtx := context.WithoutCancel(ctx)
	defer func() {
		if p := recover(); p != nil {
			if endErr := run.End(endCtx, RunStatusFailed); endErr != nil {
				c.logger.Warn("tsuiseki: end run after panic", "run_id", run.ID(), "error", endErr)
			}
			panic(p)
		}
	}()

	if err := fn(runCtx, run); err != nil {
		if endErr := run.End(endCtx, RunStatusFailed); endErr != nil {
			c.logger.Warn("tsuiseki: end failed run", "run_id", run.ID(), "error", endErr)
		}
		return err
	}
	return run.End(endCtx, RunStatusFinished)
}

// EndRun ends the context's active run with status (finished when empty).
func (c *Client) EndRun(ctx context.Context, status RunStatus) error {
	run, err := activeRun(ctx)
	if err != nil {
		return err
	}
	return run.End(ctx, status)
}

func activeRun(ctx context.Context) (*ActiveRun, error) {
	run, ok := ActiveRunFromContext(ctx)
	if !ok {
		return nil, model.ErrNoActiveRun
	}
	return run, nil
}

// LogParam records a write-once param on the active run. Re-logging the
// same value succeeds; a different value fails with ErrConflict.
func (c *Client) LogParam(ctx context.Context, key, value string) error {
	return c.LogParams(ctx, map[string]string{key: value})
}

// LogParams records several params in one call.
func (c *Client) LogParams(ctx context.Context, params map[string]string) error {
	run, err := activeRun(ctx)
	if err != nil {
		return err
	}
	b := model.Batch{Params: make([]model.Param, 0, len(params))}
	for _, k := range sortedKeys(params) {
		b.Params = append(b.Params, model.Param{Key: k, Value: params[k]})
	}
	return c.backend.logBatch(ctx, run.ID(), b)
}

// LogMetric appends a value to a metric series at step 0.
func (c *Client) LogMetric(ctx context.Context, key string, value float64) error {
	return c.LogMetricStep(ctx, key, value, 0)
}

// LogMetricStep appends a value to a metric series at step.
func (c *Client) LogMetricStep(ctx context.Context, key string, value float64, step int64) error {
	run, err := activeRun(ctx)
	if err != nil {
		return err
	}
	m := model.Metric{Key: key, Value: value, Step: step, Timestamp: time.Now()}
	return c.backend.logBatch(ctx, run.ID(), model.Batch{Metrics: []model.Metric{m}})
}

// LogMetrics appends one value per metric at step, sharing a timestamp.
func (c *Client) LogMetrics(ctx context.Context, metrics map[string]float64, step int64) error {
	run, err := activeRun(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	b := model.Batch{Metrics: make([]model.Metric, 0, len(metrics))}
	for _, k := range sortedKeys(metrics) {
		b.Metrics = append(b.Metrics, model.Metric{Key: k, Value: metrics[k], Step: step, Timestamp: now})
	}
	return c.backend.logBatch(ctx, run.ID(), b)
}

// SetTag sets a mutable tag on the active run.
func (c *Client) SetTag(ctx context.Context, key, value string) error {
	run, err := activeRun(ctx)
	if err != nil {
		return err
	}
	return c.backend.setTag(ctx, run.ID(), model.Tag{Key: key, Value: value})
}

// LogArtifact uploads a local file or directory under artifactPath in the
// active run's artifacts. An empty artifactPath places it at the root.
func (c *Client) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	run, err := activeRun(ctx)
	if err != nil {
		return err
	}
	return c.backend.logArtifact(ctx, run.ID(), localPath, artifactPath)
}

// LogModel writes m and its manifest under artifactPath and returns the
// model's runs:/ URI.
func (c *Client) LogModel(ctx context.Context, m Model, artifactPath string) (string, error) {
	run, err := activeRun(ctx)
	if err != nil {
		return "", err
	}
	return c.backend.logModel(ctx, run.ID(), m, artifactPath)
}

// GetArtifactURI returns the storage URI of artifactPath in the active
// run. It does not check that the artifact exists.
func (c *Client) GetArtifactURI(ctx context.Context, artifactPath string) (string, error) {
	run, err := activeRun(ctx)
	if err != nil {
		return "", err
	}
	return tracking.ArtifactURI(run.info, artifactPath)
}

// ArtifactURI returns the storage URI of artifactPath in any run.
func (c *Client) ArtifactURI(ctx context.Context, runID, artifactPath string) (string, error) {
	run, err := c.backend.getRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return tracking.ArtifactURI(run.RunInfo, artifactPath)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
