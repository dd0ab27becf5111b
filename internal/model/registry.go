package model

import (
	"fmt"
	"strings"
	"time"
)

// Stage is the lifecycle stage of a model version.
type Stage string

const (
	StageNone       Stage = "none"
	StageStaging    Stage = "staging"
	StageProduction Stage = "production"
	StageArchived   Stage = "archived"
)

// ParseStage parses a stage name case-insensitively ("Production" and
// "production" are the same stage).
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StageNone, StageStaging, StageProduction, StageArchived:
		return st, nil
	default:
		return "", fmt.Errorf("%w: stage %q (want none, staging, production or archived)", ErrInvalidArgument, s)
	}
}

// RegisteredModel is a named pointer table of model versions.
type RegisteredModel struct {
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	LatestVersion   int       `json:"latest_version"`
	CreationTime    time.Time `json:"creation_time"`
	LastUpdatedTime time.Time `json:"last_updated_time"`
}

// ModelVersion points a registered model version at a run's artifact.
type ModelVersion struct {
	Name            string    `json:"name"`
	Version         int       `json:"version"`
	RunID           string    `json:"run_id"`
	Source          string    `json:"source"`
	ArtifactPath    string    `json:"artifact_path"`
	Stage           Stage     `json:"current_stage"`
	Description     string    `json:"description"`
	CreationTime    time.Time `json:"creation_time"`
	LastUpdatedTime time.Time `json:"last_updated_time"`
}

// ModelURI returns the models:/ reference of this version.
func (v ModelVersion) ModelURI() string {
	return fmt.Sprintf("models:/%s/%d", v.Name, v.Version)
}

// MaxModelNameLen bounds registered model names.
const MaxModelNameLen = 256

// ValidateModelName rejects empty names and names that cannot round-trip
// through a models:/ URI.
func ValidateModelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidArgument)
	}
	if len(name) > MaxModelNameLen {
		return fmt.Errorf("%w: model name exceeds %d characters", ErrInvalidArgument, MaxModelNameLen)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("%w: model name %q must not contain '/'", ErrInvalidArgument, name)
	}
	return nil
}
