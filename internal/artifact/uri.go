package artifact

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// URI schemes understood by the tracking client and registry.
const (
	RunsScheme   = "runs:/"
	ModelsScheme = "models:/"
)

// RunsURI builds runs:/{runID}/{path}.
func RunsURI(runID, relPath string) string {
	relPath = strings.TrimPrefix(relPath, "/")
	if relPath == "" {
		return RunsScheme + runID
	}
	return RunsScheme + runID + "/" + relPath
}

// ParseRunsURI splits runs:/{run_id}/{path} into its run ID and cleaned path.
// The path may be empty (the run's artifact root).
func ParseRunsURI(uri string) (runID, relPath string, err error) {
	rest, ok := strings.CutPrefix(uri, RunsScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a runs:/ URI", model.ErrInvalidArgument, uri)
	}
	rest = strings.TrimPrefix(rest, "/")
	runID, relPath, _ = strings.Cut(rest, "/")
	if runID == "" {
		return "", "", fmt.Errorf("%w: %q has no run id", model.ErrInvalidArgument, uri)
	}
	relPath, err = CleanPath(relPath)
	if err != nil {
		return "", "", err
	}
	return runID, relPath, nil
}

// ModelRef is a parsed models:/ URI. Exactly one of Version, Stage or
// Latest is set.
type ModelRef struct {
	Name    string
	Version int
	Stage   model.Stage
	Latest  bool
}

// ParseModelsURI parses models:/{name}/{version}, models:/{name}/{stage}
// (case-insensitive) and models:/{name}/latest.
func ParseModelsURI(uri string) (ModelRef, error) {
	rest, ok := strings.CutPrefix(uri, ModelsScheme)
	if !ok {
		return ModelRef{}, fmt.Errorf("%w: %q is not a models:/ URI", model.ErrInvalidArgument, uri)
	}
	name, ref, ok := strings.Cut(strings.Trim(rest, "/"), "/")
	if !ok || name == "" || ref == "" || strings.Contains(ref, "/") {
		return ModelRef{}, fmt.Errorf("%w: %q must look like models:/<name>/<version|stage>", model.ErrInvalidArgument, uri)
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 {
			return ModelRef{}, fmt.Errorf("%w: version in %q must be positive", model.ErrInvalidArgument, uri)
		}
		return ModelRef{Name: name, Version: n}, nil
	}
	if strings.EqualFold(ref, "latest") {
		return ModelRef{Name: name, Latest: true}, nil
	}
	stage, err := model.ParseStage(ref)
	if err != nil {
		return ModelRef{}, err
	}
	return ModelRef{Name: name, Stage: stage}, nil
}
