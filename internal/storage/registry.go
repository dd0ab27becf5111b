package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

const registeredModelColumns = `name, description, latest_version, creation_time, last_updated_time`

const modelVersionColumns = `name, version, run_id, source, artifact_path, current_stage, description, creation_time, last_updated_time`

func scanRegisteredModel(r rowScanner) (model.RegisteredModel, error) {
	var (
		m                model.RegisteredModel
		created, updated int64
	)
	if err := r.Scan(&m.Name, &m.Description, &m.LatestVersion, &created, &updated); err != nil {
		return model.RegisteredModel{}, err
	}
	m.CreationTime = fromMillis(created)
	m.LastUpdatedTime = fromMillis(updated)
	return m, nil
}

func scanModelVersion(r rowScanner) (model.ModelVersion, error) {
	var (
		v                model.ModelVersion
		stage            string
		created, updated int64
	)
	if err := r.Scan(&v.Name, &v.Version, &v.RunID, &v.Source, &v.ArtifactPath, &stage, &v.Description, &created, &updated); err != nil {
		return model.ModelVersion{}, err
	}
	v.Stage = model.Stage(stage)
	v.CreationTime = fromMillis(created)
	v.LastUpdatedTime = fromMillis(updated)
	return v, nil
}

// CreateRegisteredModel inserts a registered model with no versions.
func (db *DB) CreateRegisteredModel(ctx context.Context, name, description string) (model.RegisteredModel, error) {
	if err := model.ValidateModelName(name); err != nil {
		return model.RegisteredModel{}, fmt.Errorf("storage: create registered model: %w", err)
	}
	now := toMillis(db.now())
	err := db.inTx(ctx, func(c conn) error {
		_, err := c.exec(ctx,
			`INSERT INTO registered_models (`+registeredModelColumns+`) VALUES (?, ?, 0, ?, ?)`,
			name, description, now, now)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: registered model %q", model.ErrAlreadyExists, name)
		}
		return err
	})
	if err != nil {
		return model.RegisteredModel{}, fmt.Errorf("storage: create registered model: %w", err)
	}
	return db.GetRegisteredModel(ctx, name)
}

// GetRegisteredModel retrieves a registered model by name.
func (db *DB) GetRegisteredModel(ctx context.Context, name string) (model.RegisteredModel, error) {
	m, err := scanRegisteredModel(db.reader().queryRow(ctx,
		`SELECT `+registeredModelColumns+` FROM registered_models WHERE name = ?`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RegisteredModel{}, fmt.Errorf("storage: get registered model: %w: %q", ErrNotFound, name)
		}
		return model.RegisteredModel{}, fmt.Errorf("storage: get registered model: %w", err)
	}
	return m, nil
}

// ListRegisteredModels returns all registered models ordered by name.
func (db *DB) ListRegisteredModels(ctx context.Context) ([]model.RegisteredModel, error) {
	rows, err := db.reader().query(ctx, `SELECT `+registeredModelColumns+` FROM registered_models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list registered models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RegisteredModel
	for rows.Next() {
		m, err := scanRegisteredModel(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan registered model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateRegisteredModelDescription replaces a registered model's description.
func (db *DB) UpdateRegisteredModelDescription(ctx context.Context, name, description string) error {
	err := db.inTx(ctx, func(c conn) error {
		res, err := c.exec(ctx,
			`UPDATE registered_models SET description = ?, last_updated_time = ? WHERE name = ?`,
			description, toMillis(db.now()), name)
		if err != nil {
			return err
		}
		return requireAffected(res, "registered model", name)
	})
	if err != nil {
		return fmt.Errorf("storage: update registered model: %w", err)
	}
	return nil
}

// CreateModelVersion allocates the next version number of a registered
// model, creating the model first if it does not exist. Numbers come from a
// per-model counter bumped under the row lock, so they strictly increase
// and are never reused, even after a version is deleted.
func (db *DB) CreateModelVersion(ctx context.Context, v model.ModelVersion) (model.ModelVersion, error) {
	if err := model.ValidateModelName(v.Name); err != nil {
		return model.ModelVersion{}, fmt.Errorf("storage: create model version: %w", err)
	}
	now := toMillis(db.now())
	var version int
	err := db.inTx(ctx, func(c conn) error {
		if _, err := c.exec(ctx,
			`INSERT INTO registered_models (`+registeredModelColumns+`) VALUES (?, '', 0, ?, ?)
			 ON CONFLICT (name) DO NOTHING`,
			v.Name, now, now,
		); err != nil {
			return err
		}
		if err := c.queryRow(ctx,
			`UPDATE registered_models SET latest_version = latest_version + 1, last_updated_time = ?
			 WHERE name = ? RETURNING latest_version`,
			now, v.Name,
		).Scan(&version); err != nil {
			return err
		}
		_, err := c.exec(ctx,
			`INSERT INTO model_versions (`+modelVersionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.Name, version, v.RunID, v.Source, v.ArtifactPath, string(model.StageNone), v.Description, now, now)
		return err
	})
	if err != nil {
		return model.ModelVersion{}, fmt.Errorf("storage: create model version: %w", err)
	}
	return db.GetModelVersion(ctx, v.Name, version)
}

// GetModelVersion retrieves one version of a registered model.
func (db *DB) GetModelVersion(ctx context.Context, name string, version int) (model.ModelVersion, error) {
	v, err := scanModelVersion(db.reader().queryRow(ctx,
		`SELECT `+modelVersionColumns+` FROM model_versions WHERE name = ? AND version = ?`, name, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ModelVersion{}, fmt.Errorf("storage: get model version: %w: %s version %d", ErrNotFound, name, version)
		}
		return model.ModelVersion{}, fmt.Errorf("storage: get model version: %w", err)
	}
	return v, nil
}

// ListModelVersions returns the versions of a model, newest first,
// optionally restricted to one stage. An unknown model is model.ErrNotFound.
func (db *DB) ListModelVersions(ctx context.Context, name string, stage *model.Stage) ([]model.ModelVersion, error) {
	if _, err := db.GetRegisteredModel(ctx, name); err != nil {
		return nil, fmt.Errorf("storage: list model versions: %w", err)
	}
	query := `SELECT ` + modelVersionColumns + ` FROM model_versions WHERE name = ?`
	args := []any{name}
	if stage != nil {
		query += ` AND current_stage = ?`
		args = append(args, string(*stage))
	}
	query += ` ORDER BY version DESC`

	rows, err := db.reader().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list model versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.ModelVersion{}
	for rows.Next() {
		v, err := scanModelVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan model version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateModelVersionStage moves a version to stage. With archiveExisting,
// other versions currently in the same stage move to archived in the same
// transaction (only for staging and production).
func (db *DB) UpdateModelVersionStage(ctx context.Context, name string, version int, stage model.Stage, archiveExisting bool) (model.ModelVersion, error) {
	now := toMillis(db.now())
	err := db.inTx(ctx, func(c conn) error {
		var exists int
		err := c.queryRow(ctx,
			`SELECT 1 FROM registered_models WHERE name = ?`+db.forUpdate(), name).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: registered model %q", ErrNotFound, name)
		}
		if err != nil {
			return err
		}
		res, err := c.exec(ctx,
			`UPDATE model_versions SET current_stage = ?, last_updated_time = ? WHERE name = ? AND version = ?`,
			string(stage), now, name, version)
		if err != nil {
			return err
		}
		if err := requireAffected(res, "model version", fmt.Sprintf("%s/%d", name, version)); err != nil {
			return err
		}
		if archiveExisting && (stage == model.StageStaging || stage == model.StageProduction) {
			_, err = c.exec(ctx,
				`UPDATE model_versions SET current_stage = ?, last_updated_time = ?
				 WHERE name = ? AND version <> ? AND current_stage = ?`,
				string(model.StageArchived), now, name, version, string(stage))
			return err
		}
		return nil
	})
	if err != nil {
		return model.ModelVersion{}, fmt.Errorf("storage: update model version stage: %w", err)
	}
	return db.GetModelVersion(ctx, name, version)
}

// DeleteModelVersion removes one version. The registered model's counter is
// left untouched, so the number is never handed out again.
func (db *DB) DeleteModelVersion(ctx context.Context, name string, version int) error {
	err := db.inTx(ctx, func(c conn) error {
		res, err := c.exec(ctx, `DELETE FROM model_versions WHERE name = ? AND version = ?`, name, version)
		if err != nil {
			return err
		}
		return requireAffected(res, "model version", fmt.Sprintf("%s/%d", name, version))
	})
	if err != nil {
		return fmt.Errorf("storage: delete model version: %w", err)
	}
	return nil
}
