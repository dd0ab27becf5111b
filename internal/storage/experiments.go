package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

const experimentColumns = `experiment_id, name, artifact_location, lifecycle_stage, creation_time, last_update_time`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(r rowScanner) (model.Experiment, error) {
	var (
		e         model.Experiment
		id        int64
		created   int64
		updated   int64
		lifecycle string
	)
	if err := r.Scan(&id, &e.Name, &e.ArtifactLocation, &lifecycle, &created, &updated); err != nil {
		return model.Experiment{}, err
	}
	e.ID = strconv.FormatInt(id, 10)
	e.LifecycleStage = model.LifecycleStage(lifecycle)
	e.CreationTime = fromMillis(created)
	e.LastUpdateTime = fromMillis(updated)
	return e, nil
}

func parseExperimentID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: experiment id %q", model.ErrNotFound, id)
	}
	return n, nil
}

// CreateExperiment inserts a new active experiment. If artifactRoot is
// non-empty the experiment's artifact location is artifactRoot/<id>.
// Returns model.ErrAlreadyExists when an active experiment has the same name.
func (db *DB) CreateExperiment(ctx context.Context, name, artifactRoot string) (model.Experiment, error) {
	if strings.TrimSpace(name) == "" {
		return model.Experiment{}, fmt.Errorf("storage: create experiment: %w: name must not be empty", model.ErrInvalidArgument)
	}
	now := toMillis(db.now())

	var exp model.Experiment
	err := db.inTx(ctx, func(c conn) error {
		var id int64
		err := c.queryRow(ctx,
			`INSERT INTO experiments (name, lifecycle_stage, creation_time, last_update_time)
			 VALUES (?, 'active', ?, ?) RETURNING experiment_id`,
			name, now, now,
		).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: experiment %q", model.ErrAlreadyExists, name)
			}
			return err
		}

		location := ""
		if artifactRoot != "" {
			location = strings.TrimRight(artifactRoot, "/") + "/" + strconv.FormatInt(id, 10)
			if _, err := c.exec(ctx,
				`UPDATE experiments SET artifact_location = ? WHERE experiment_id = ?`, location, id,
			); err != nil {
				return err
			}
		}

		exp, err = scanExperiment(c.queryRow(ctx,
			`SELECT `+experimentColumns+` FROM experiments WHERE experiment_id = ?`, id))
		return err
	})
	if err != nil {
		return model.Experiment{}, fmt.Errorf("storage: create experiment: %w", err)
	}
	return exp, nil
}

// GetExperiment retrieves an experiment by ID regardless of lifecycle stage.
func (db *DB) GetExperiment(ctx context.Context, id string) (model.Experiment, error) {
	n, err := parseExperimentID(id)
	if err != nil {
		return model.Experiment{}, fmt.Errorf("storage: get experiment: %w", err)
	}
	exp, err := scanExperiment(db.reader().queryRow(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE experiment_id = ?`, n))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Experiment{}, fmt.Errorf("storage: get experiment: %w: %s", ErrNotFound, id)
		}
		return model.Experiment{}, fmt.Errorf("storage: get experiment: %w", err)
	}
	return exp, nil
}

// GetExperimentByName retrieves the active experiment with the given name.
func (db *DB) GetExperimentByName(ctx context.Context, name string) (model.Experiment, error) {
	exp, err := scanExperiment(db.reader().queryRow(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE name = ? AND lifecycle_stage = 'active'`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Experiment{}, fmt.Errorf("storage: get experiment by name: %w: %q", ErrNotFound, name)
		}
		return model.Experiment{}, fmt.Errorf("storage: get experiment by name: %w", err)
	}
	return exp, nil
}

// ListExperiments returns experiments in the requested view ordered by ID.
func (db *DB) ListExperiments(ctx context.Context, view model.ViewType) ([]model.Experiment, error) {
	where, args := lifecycleFilter("lifecycle_stage", view)
	rows, err := db.reader().query(ctx,
		`SELECT `+experimentColumns+` FROM experiments`+where+` ORDER BY experiment_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list experiments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan experiment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RenameExperiment changes an experiment's name. Renaming is refused with
// model.ErrInvalidState once the experiment has runs.
func (db *DB) RenameExperiment(ctx context.Context, id, newName string) error {
	if strings.TrimSpace(newName) == "" {
		return fmt.Errorf("storage: rename experiment: %w: name must not be empty", model.ErrInvalidArgument)
	}
	n, err := parseExperimentID(id)
	if err != nil {
		return fmt.Errorf("storage: rename experiment: %w", err)
	}
	err = db.inTx(ctx, func(c conn) error {
		var runs int
		if err := c.queryRow(ctx, `SELECT COUNT(*) FROM runs WHERE experiment_id = ?`, n).Scan(&runs); err != nil {
			return err
		}
		if runs > 0 {
			return fmt.Errorf("%w: experiment %s already has %d runs", model.ErrInvalidState, id, runs)
		}
		res, err := c.exec(ctx,
			`UPDATE experiments SET name = ?, last_update_time = ? WHERE experiment_id = ?`,
			newName, toMillis(db.now()), n)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: experiment %q", model.ErrAlreadyExists, newName)
			}
			return err
		}
		return requireAffected(res, "experiment", id)
	})
	if err != nil {
		return fmt.Errorf("storage: rename experiment: %w", err)
	}
	return nil
}

// DeleteExperiment marks an experiment and its runs deleted.
func (db *DB) DeleteExperiment(ctx context.Context, id string) error {
	return db.setExperimentLifecycle(ctx, "delete experiment", id, model.LifecycleDeleted)
}

// RestoreExperiment reactivates a deleted experiment and the runs its
// deletion took down. Runs deleted on their own stay deleted. Fails with
// model.ErrAlreadyExists if its name was reused meanwhile.
func (db *DB) RestoreExperiment(ctx context.Context, id string) error {
	return db.setExperimentLifecycle(ctx, "restore experiment", id, model.LifecycleActive)
}

func (db *DB) setExperimentLifecycle(ctx context.Context, op, id string, stage model.LifecycleStage) error {
	n, err := parseExperimentID(id)
	if err != nil {
		return fmt.Errorf("storage: %s: %w", op, err)
	}
	err = db.inTx(ctx, func(c conn) error {
		res, err := c.exec(ctx,
			`UPDATE experiments SET lifecycle_stage = ?, last_update_time = ? WHERE experiment_id = ?`,
			string(stage), toMillis(db.now()), n)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: an active experiment already uses this name", model.ErrAlreadyExists)
			}
			return err
		}
		if err := requireAffected(res, "experiment", id); err != nil {
			return err
		}
		if stage == model.LifecycleDeleted {
			_, err = c.exec(ctx,
				`UPDATE runs SET lifecycle_stage = ?, deleted_with_experiment = 1
				 WHERE experiment_id = ? AND lifecycle_stage = ?`,
				string(model.LifecycleDeleted), n, string(model.LifecycleActive))
			return err
		}
		_, err = c.exec(ctx,
			`UPDATE runs SET lifecycle_stage = ?, deleted_with_experiment = 0
			 WHERE experiment_id = ? AND deleted_with_experiment = 1`,
			string(model.LifecycleActive), n)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: %s: %w", op, err)
	}
	return nil
}

func lifecycleFilter(column string, view model.ViewType) (string, []any) {
	switch view {
	case model.ViewAll:
		return "", nil
	case model.ViewDeletedOnly:
		return " WHERE " + column + " = ?", []any{string(model.LifecycleDeleted)}
	default:
		return " WHERE " + column + " = ?", []any{string(model.LifecycleActive)}
	}
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}
