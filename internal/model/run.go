// Package model defines the core domain types for tsuiseki.
//
// Types correspond directly to the metadata tables (experiments, runs,
// params, metrics, tags, registered_models, model_versions) and to the JSON
// bodies of the HTTP API. Timestamps are stored with millisecond precision.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// LifecycleStage marks whether an experiment or run is visible by default.
type LifecycleStage string

const (
	LifecycleActive  LifecycleStage = "active"
	LifecycleDeleted LifecycleStage = "deleted"
)

// ViewType selects which lifecycle stages a listing includes.
type ViewType string

const (
	ViewActiveOnly  ViewType = "active"
	ViewDeletedOnly ViewType = "deleted"
	ViewAll         ViewType = "all"
)

// ParseViewType parses a view type, defaulting to ViewActiveOnly.
func ParseViewType(s string) (ViewType, error) {
	switch ViewType(strings.ToLower(s)) {
	case "", ViewActiveOnly:
		return ViewActiveOnly, nil
	case ViewDeletedOnly:
		return ViewDeletedOnly, nil
	case ViewAll:
		return ViewAll, nil
	default:
		return "", fmt.Errorf("%w: view type %q", ErrInvalidArgument, s)
	}
}

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
	RunStatusFailed   RunStatus = "failed"
	RunStatusKilled   RunStatus = "killed"
)

// Terminal reports whether s is an absorbing state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusFinished, RunStatusFailed, RunStatusKilled:
		return true
	default:
		return false
	}
}

// ParseRunStatus parses a run status name, case-insensitively.
func ParseRunStatus(s string) (RunStatus, error) {
	st := RunStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case RunStatusRunning, RunStatusFinished, RunStatusFailed, RunStatusKilled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: run status %q", ErrInvalidArgument, s)
	}
}

// Experiment groups runs under a unique, human-readable name.
type Experiment struct {
	ID               string         `json:"experiment_id"`
	Name             string         `json:"name"`
	ArtifactLocation string         `json:"artifact_location"`
	LifecycleStage   LifecycleStage `json:"lifecycle_stage"`
	CreationTime     time.Time      `json:"creation_time"`
	LastUpdateTime   time.Time      `json:"last_update_time"`
}

// RunInfo is the metadata of a run without its params, metrics and tags.
type RunInfo struct {
	ID             string         `json:"run_id"`
	ExperimentID   string         `json:"experiment_id"`
	ParentRunID    *string        `json:"parent_run_id,omitempty"`
	Name           string         `json:"run_name"`
	Status         RunStatus      `json:"status"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	LifecycleStage LifecycleStage `json:"lifecycle_stage"`
	ArtifactURI    string         `json:"artifact_uri"`
}

// Run is a single execution of training code, with everything it logged.
// Metrics holds the current (latest-step) value per key.
type Run struct {
	RunInfo
	Params  map[string]string `json:"params"`
	Metrics map[string]Metric `json:"metrics"`
	Tags    map[string]string `json:"tags"`
}

// Param is a write-once key/value pair.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metric is one append-only numeric measurement.
type Metric struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Step      int64     `json:"step"`
	Timestamp time.Time `json:"timestamp"`
}

// Tag is an overwritable key/value pair.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Batch is an all-or-nothing group of params, metrics and tags.
type Batch struct {
	Params  []Param  `json:"params,omitempty"`
	Metrics []Metric `json:"metrics,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`
}

// Empty reports whether the batch carries nothing to write.
func (b Batch) Empty() bool {
	return len(b.Params) == 0 && len(b.Metrics) == 0 && len(b.Tags) == 0
}

// CreateRunRequest is the input for creating a run.
type CreateRunRequest struct {
	ExperimentID string            `json:"experiment_id"`
	ParentRunID  *string           `json:"parent_run_id,omitempty"`
	Name         string            `json:"run_name,omitempty"`
	StartTime    time.Time         `json:"start_time,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// Reserved tag keys written by the tracking client.
const (
	TagParentRunID = "tsuiseki.parentRunId"
	TagRunName     = "tsuiseki.runName"
	TagSource      = "tsuiseki.source.name"
	TagLoggedModel = "tsuiseki.log-model.history"
)

// Key length limits mirror what the SQL schema stores.
const (
	MaxKeyLen        = 250
	MaxParamValueLen = 6000
	MaxTagValueLen   = 8000
)

// ValidateKey checks a param, metric or tag key.
func ValidateKey(kind, key string) error {
	if key == "" {
		return fmt.Errorf("%w: %s key must not be empty", ErrInvalidArgument, kind)
	}
	if len(key) > MaxKeyLen {
		return fmt.Errorf("%w: %s key exceeds %d characters", ErrInvalidArgument, kind, MaxKeyLen)
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %s key %q is not a valid name", ErrInvalidArgument, kind, key)
	}
	return nil
}

// ValidateBatch checks every key and value length in b. Metric values must
// be finite.
func ValidateBatch(b Batch) error {
	for _, p := range b.Params {
		if err := ValidateKey("param", p.Key); err != nil {
			return err
		}
		if len(p.Value) > MaxParamValueLen {
			return fmt.Errorf("%w: param %q value exceeds %d characters", ErrInvalidArgument, p.Key, MaxParamValueLen)
		}
	}
	for _, m := range b.Metrics {
		if err := ValidateKey("metric", m.Key); err != nil {
			return err
		}
		if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			return fmt.Errorf("%w: metric %q is %v", ErrInvalidArgument, m.Key, m.Value)
		}
	}
	for _, t := range b.Tags {
		if err := ValidateKey("tag", t.Key); err != nil {
			return err
		}
		if len(t.Value) > MaxTagValueLen {
			return fmt.Errorf("%w: tag %q value exceeds %d characters", ErrInvalidArgument, t.Key, MaxTagValueLen)
		}
	}
	return nil
}
