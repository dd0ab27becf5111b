package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

const runColumns = `run_id, experiment_id, parent_run_id, name, status, start_time, end_time, lifecycle_stage, artifact_uri`

// NewRunID returns a fresh 32-character hex run identifier.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func scanRunInfo(r rowScanner) (model.RunInfo, error) {
	var (
		info      model.RunInfo
		expID     int64
		parent    sql.NullString
		status    string
		start     int64
		end       sql.NullInt64
		lifecycle string
	)
	if err := r.Scan(&info.ID, &expID, &parent, &info.Name, &status, &start, &end, &lifecycle, &info.ArtifactURI); err != nil {
		return model.RunInfo{}, err
	}
	info.ExperimentID = fmt.Sprint(expID)
	if parent.Valid {
		p := parent.String
		info.ParentRunID = &p
	}
	info.Status = model.RunStatus(status)
	info.StartTime = fromMillis(start)
	info.EndTime = fromNullMillis(end)
	info.LifecycleStage = model.LifecycleStage(lifecycle)
	return info, nil
}

// CreateRun inserts a running run under an active experiment. The run's
// artifact URI is fixed here as <experiment artifact location>/<run id>/artifacts.
// Returns model.ErrNotFound if the experiment or parent run does not exist.
func (db *DB) CreateRun(ctx context.Context, req model.CreateRunRequest) (model.Run, error) {
	expID, err := parseExperimentID(req.ExperimentID)
	if err != nil {
		return model.Run{}, fmt.Errorf("storage: create run: %w", err)
	}
	for k, v := range req.Tags {
		if err := model.ValidateBatch(model.Batch{Tags: []model.Tag{{Key: k, Value: v}}}); err != nil {
			return model.Run{}, fmt.Errorf("storage: create run: %w", err)
		}
	}

	start := req.StartTime
	if start.IsZero() {
		start = db.now()
	}
	runID := NewRunID()

	err = db.inTx(ctx, func(c conn) error {
		var (
			location  string
			lifecycle string
		)
		err := c.queryRow(ctx,
			`SELECT artifact_location, lifecycle_stage FROM experiments WHERE experiment_id = ?`, expID,
		).Scan(&location, &lifecycle)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && lifecycle != string(model.LifecycleActive)) {
			return fmt.Errorf("%w: active experiment %s", ErrNotFound, req.ExperimentID)
		}
		if err != nil {
			return err
		}

		if req.ParentRunID != nil {
			var exists int
			err := c.queryRow(ctx, `SELECT 1 FROM runs WHERE run_id = ?`, *req.ParentRunID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: parent run %s", ErrNotFound, *req.ParentRunID)
			}
			if err != nil {
				return err
			}
		}

		artifactURI := ""
		if location != "" {
			artifactURI = strings.TrimRight(location, "/") + "/" + runID + "/artifacts"
		}

		if _, err := c.exec(ctx,
			`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL, 'active', ?)`,
			runID, expID, req.ParentRunID, req.Name, string(model.RunStatusRunning), toMillis(start), artifactURI,
		); err != nil {
			return err
		}
		for k, v := range req.Tags {
			if err := upsertTag(ctx, c, runID, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Run{}, fmt.Errorf("storage: create run: %w", err)
	}
	return db.GetRun(ctx, runID)
}

// GetRun retrieves a run with its params, current metrics and tags.
func (db *DB) GetRun(ctx context.Context, runID string) (model.Run, error) {
	c := db.reader()
	info, err := scanRunInfo(c.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Run{}, fmt.Errorf("storage: get run: %w: run %s", ErrNotFound, runID)
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	runs, err := db.hydrate(ctx, c, []model.RunInfo{info})
	if err != nil {
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return runs[0], nil
}

// hydrateBatch bounds the IN list per query. SQLite caps bound variables
// at 32766.
const hydrateBatch = 500

// hydrate loads params, latest metrics and tags for the given runs.
func (db *DB) hydrate(ctx context.Context, c conn, infos []model.RunInfo) ([]model.Run, error) {
	if len(infos) == 0 {
		return nil, nil
	}
	byID := make(map[string]*model.Run, len(infos))
	runs := make([]model.Run, len(infos))
	ids := make([]any, len(infos))
	for i, info := range infos {
		runs[i] = model.Run{
			RunInfo: info,
			Params:  map[string]string{},
			Metrics: map[string]model.Metric{},
			Tags:    map[string]string{},
		}
		byID[info.ID] = &runs[i]
		ids[i] = info.ID
	}
	for start := 0; start < len(ids); start += hydrateBatch {
		end := min(start+hydrateBatch, len(ids))
		if err := hydrateChunk(ctx, c, byID, ids[start:end]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func hydrateChunk(ctx context.Context, c conn, byID map[string]*model.Run, ids []any) error {
	in := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")"

	kv := func(table string, dst func(*model.Run) map[string]string) error {
		rows, err := c.query(ctx, `SELECT run_id, key, value FROM `+table+` WHERE run_id IN `+in, ids...)
		if err != nil {
			return fmt.Errorf("load %s: %w", table, err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var id, k, v string
			if err := rows.Scan(&id, &k, &v); err != nil {
				return fmt.Errorf("scan %s: %w", table, err)
			}
			dst(byID[id])[k] = v
		}
		return rows.Err()
	}
	if err := kv("params", func(r *model.Run) map[string]string { return r.Params }); err != nil {
		return err
	}
	if err := kv("tags", func(r *model.Run) map[string]string { return r.Tags }); err != nil {
		return err
	}

	rows, err := c.query(ctx,
		`SELECT run_id, key, value, step, timestamp FROM latest_metrics WHERE run_id IN `+in, ids...)
	if err != nil {
		return fmt.Errorf("load latest metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id string
			m  model.Metric
			ts int64
		)
		if err := rows.Scan(&id, &m.Key, &m.Value, &m.Step, &ts); err != nil {
			return fmt.Errorf("scan latest metric: %w", err)
		}
		m.Timestamp = fromMillis(ts)
		byID[id].Metrics[m.Key] = m
	}
	return rows.Err()
}

// ListRunInfos returns the active runs of an experiment, newest first.
func (db *DB) ListRunInfos(ctx context.Context, experimentID string) ([]model.RunInfo, error) {
	if _, err := db.GetExperiment(ctx, experimentID); err != nil {
		return nil, fmt.Errorf("storage: list run infos: %w", err)
	}
	expID, _ := parseExperimentID(experimentID)
	rows, err := db.reader().query(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE experiment_id = ? AND lifecycle_stage = 'active'
		 ORDER BY start_time DESC, run_id`, expID)
	if err != nil {
		return nil, fmt.Errorf("storage: list run infos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RunInfo
	for rows.Next() {
		info, err := scanRunInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run info: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// UpdateRunStatus moves a running run to a terminal status. Terminal runs
// cannot change status again and nothing may move back to running; both
// cases return model.ErrInvalidTransition.
func (db *DB) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, endTime time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("storage: update run status: %w: cannot move run to %q", model.ErrInvalidTransition, status)
	}
	if endTime.IsZero() {
		endTime = db.now()
	}
	err := db.inTx(ctx, func(c conn) error {
		var current string
		err := c.queryRow(ctx, `SELECT status FROM runs WHERE run_id = ?`+db.forUpdate(), runID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		if err != nil {
			return err
		}
		if model.RunStatus(current).Terminal() {
			return fmt.Errorf("%w: run %s is already %s", model.ErrInvalidTransition, runID, current)
		}
		_, err = c.exec(ctx, `UPDATE runs SET status = ?, end_time = ? WHERE run_id = ?`,
			string(status), toMillis(endTime), runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: update run status: %w", err)
	}
	return nil
}

// DeleteRun marks a run deleted. Its data is kept.
func (db *DB) DeleteRun(ctx context.Context, runID string) error {
	return db.setRunLifecycle(ctx, "delete run", runID, model.LifecycleDeleted)
}

// RestoreRun reactivates a deleted run.
func (db *DB) RestoreRun(ctx context.Context, runID string) error {
	return db.setRunLifecycle(ctx, "restore run", runID, model.LifecycleActive)
}

func (db *DB) setRunLifecycle(ctx context.Context, op, runID string, stage model.LifecycleStage) error {
	err := db.inTx(ctx, func(c conn) error {
		res, err := c.exec(ctx, `UPDATE runs SET lifecycle_stage = ?, deleted_with_experiment = 0 WHERE run_id = ?`, string(stage), runID)
		if err != nil {
			return err
		}
		return requireAffected(res, "run", runID)
	})
	if err != nil {
		return fmt.Errorf("storage: %s: %w", op, err)
	}
	return nil
}
