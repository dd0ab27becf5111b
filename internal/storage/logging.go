package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// LogParam records a write-once param. Re-logging the same value is a no-op;
// a different value returns model.ErrConflict.
func (db *DB) LogParam(ctx context.Context, runID string, p model.Param) error {
	return db.LogBatch(ctx, runID, model.Batch{Params: []model.Param{p}})
}

// LogMetric appends one metric value to the run's history.
func (db *DB) LogMetric(ctx context.Context, runID string, m model.Metric) error {
	return db.LogBatch(ctx, runID, model.Batch{Metrics: []model.Metric{m}})
}

// SetTag creates or overwrites a tag. Tags stay writable after a run ends.
func (db *DB) SetTag(ctx context.Context, runID string, t model.Tag) error {
	return db.LogBatch(ctx, runID, model.Batch{Tags: []model.Tag{t}})
}

// DeleteTag removes a tag from a run.
func (db *DB) DeleteTag(ctx context.Context, runID, key string) error {
	err := db.inTx(ctx, func(c conn) error {
		if _, err := runState(ctx, c, db, runID); err != nil {
			return err
		}
		res, err := c.exec(ctx, `DELETE FROM tags WHERE run_id = ? AND key = ?`, runID, key)
		if err != nil {
			return err
		}
		return requireAffected(res, "tag", key)
	})
	if err != nil {
		return fmt.Errorf("storage: delete tag: %w", err)
	}
	return nil
}

// LogBatch writes params, metrics and tags in one transaction. Any failure,
// including a param conflict, leaves the run unchanged.
//
// Params and metrics require a running, active run (model.ErrInvalidState
// otherwise); tags only require an active run.
func (db *DB) LogBatch(ctx context.Context, runID string, b model.Batch) error {
	if b.Empty() {
		return nil
	}
	if err := model.ValidateBatch(b); err != nil {
		return fmt.Errorf("storage: log batch: %w", err)
	}
	now := db.now()

	err := db.inTx(ctx, func(c conn) error {
		status, err := runState(ctx, c, db, runID)
		if err != nil {
			return err
		}
		if status.Terminal() && (len(b.Params) > 0 || len(b.Metrics) > 0) {
			return fmt.Errorf("%w: run %s is %s", model.ErrInvalidState, runID, status)
		}

		for _, p := range b.Params {
			if err := insertParam(ctx, c, runID, p); err != nil {
				return err
			}
		}
		for _, m := range b.Metrics {
			if m.Timestamp.IsZero() {
				m.Timestamp = now
			}
			if err := insertMetric(ctx, c, runID, m); err != nil {
				return err
			}
		}
		for _, t := range b.Tags {
			if err := upsertTag(ctx, c, runID, t.Key, t.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: log batch: %w", err)
	}
	return nil
}

// runState locks the run row (on Postgres) and returns its status.
// Deleted runs are not writable.
func runState(ctx context.Context, c conn, db *DB, runID string) (model.RunStatus, error) {
	var status, lifecycle string
	err := c.queryRow(ctx,
		`SELECT status, lifecycle_stage FROM runs WHERE run_id = ?`+db.forUpdate(), runID,
	).Scan(&status, &lifecycle)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	if err != nil {
		return "", err
	}
	if lifecycle != string(model.LifecycleActive) {
		return "", fmt.Errorf("%w: run %s is deleted", model.ErrInvalidState, runID)
	}
	return model.RunStatus(status), nil
}

func insertParam(ctx context.Context, c conn, runID string, p model.Param) error {
	var existing string
	err := c.queryRow(ctx, `SELECT value FROM params WHERE run_id = ? AND key = ?`, runID, p.Key).Scan(&existing)
	switch {
	case err == nil:
		if existing != p.Value {
			return fmt.Errorf("%w: param %q already logged as %q, refusing %q", model.ErrConflict, p.Key, existing, p.Value)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return err
	}
	if _, err := c.exec(ctx, `INSERT INTO params (run_id, key, value) VALUES (?, ?, ?)`, runID, p.Key, p.Value); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: param %q was logged concurrently", model.ErrConflict, p.Key)
		}
		return err
	}
	return nil
}

// insertMetric appends to the history and advances latest_metrics when the
// new point is at a later step, or the same step with a timestamp at least
// as recent.
func insertMetric(ctx context.Context, c conn, runID string, m model.Metric) error {
	ts := toMillis(m.Timestamp)
	if _, err := c.exec(ctx,
		`INSERT INTO metrics (run_id, key, value, step, timestamp) VALUES (?, ?, ?, ?, ?)`,
		runID, m.Key, m.Value, m.Step, ts,
	); err != nil {
		return err
	}
	_, err := c.exec(ctx,
		`INSERT INTO latest_metrics (run_id, key, value, step, timestamp) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, key) DO UPDATE
		 SET value = excluded.value, step = excluded.step, timestamp = excluded.timestamp
		 WHERE excluded.step > latest_metrics.step
		    OR (excluded.step = latest_metrics.step AND excluded.timestamp >= latest_metrics.timestamp)`,
		runID, m.Key, m.Value, m.Step, ts,
	)
	return err
}

func upsertTag(ctx context.Context, c conn, runID, key, value string) error {
	_, err := c.exec(ctx,
		`INSERT INTO tags (run_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (run_id, key) DO UPDATE SET value = excluded.value`,
		runID, key, value,
	)
	return err
}

// GetMetricHistory returns every logged value of a metric in insertion order.
// An unknown key yields an empty history; an unknown run is model.ErrNotFound.
func (db *DB) GetMetricHistory(ctx context.Context, runID, key string) ([]model.Metric, error) {
	c := db.reader()
	var exists int
	if err := c.queryRow(ctx, `SELECT 1 FROM runs WHERE run_id = ?`, runID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("storage: get metric history: %w: run %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("storage: get metric history: %w", err)
	}

	rows, err := c.query(ctx,
		`SELECT key, value, step, timestamp FROM metrics WHERE run_id = ? AND key = ? ORDER BY seq`, runID, key)
	if err != nil {
		return nil, fmt.Errorf("storage: get metric history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Metric{}
	for rows.Next() {
		var (
			m  model.Metric
			ts int64
		)
		if err := rows.Scan(&m.Key, &m.Value, &m.Step, &ts); err != nil {
			return nil, fmt.Errorf("storage: scan metric: %w", err)
		}
		m.Timestamp = fromMillis(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}
