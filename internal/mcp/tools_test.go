package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsuiseki/internal/artifact"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/service/registry"
	"github.com/ashita-ai/tsuiseki/internal/service/tracking"
	"github.com/ashita-ai/tsuiseki/internal/testutil"
)

type fixture struct {
	server *Server
	exp    model.Experiment
	runs   []model.Run
}

// newFixture seeds one experiment with three finished runs (rmse 0.9, 0.6,
// 0.65) and registers the best one as version 1 of "wine" in production.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	root, err := artifact.FileURI(t.TempDir())
	require.NoError(t, err)
	db := testutil.NewSQLiteDB(t)
	logger := testutil.TestLogger()
	tr := tracking.New(db, artifact.NewLocalStore(0), root, logger)
	reg := registry.New(db, tr, logger)

	exp, err := tr.SetExperiment(ctx, "wine-quality")
	require.NoError(t, err)

	var runs []model.Run
	for i, rmse := range []float64{0.9, 0.6, 0.65} {
		run, err := tr.CreateRun(ctx, model.CreateRunRequest{ExperimentID: exp.ID})
		require.NoError(t, err)
		require.NoError(t, tr.LogBatch(ctx, run.ID, model.Batch{
			Params:  []model.Param{{Key: "alpha", Value: []string{"0.2", "0.01", "0.05"}[i]}},
			Metrics: []model.Metric{{Key: "rmse", Value: rmse, Timestamp: time.Now()}},
		}))
		_, err = tr.PutArtifact(ctx, run.ID, "models/model.json", jsonReader(t, map[string]float64{"rmse": rmse}))
		require.NoError(t, err)
		require.NoError(t, tr.UpdateRunStatus(ctx, run.ID, model.RunStatusFinished, time.Now()))
		runs = append(runs, run)
	}

	_, err = reg.RegisterModel(ctx, artifact.RunsURI(runs[1].ID, "models"), "wine")
	require.NoError(t, err)
	_, err = reg.TransitionStage(ctx, "wine", 1, "production", false)
	require.NoError(t, err)

	return fixture{server: New(tr, reg, logger, "test"), exp: exp, runs: runs}
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func TestListExperimentsTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleListExperiments(context.Background(), toolRequest("tsuiseki_list_experiments", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var body struct {
		Experiments []model.Experiment `json:"experiments"`
		Total       int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, "wine-quality", body.Experiments[0].Name)

	result, err = f.server.handleListExperiments(context.Background(), toolRequest("tsuiseki_list_experiments", map[string]any{"view": "sideways"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSearchRunsTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleSearchRuns(context.Background(), toolRequest("tsuiseki_search_runs", map[string]any{
		"experiment_ids": f.exp.ID,
		"filter":         "metrics.rmse < 0.7",
		"order_by":       "metrics.rmse ASC",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var body struct {
		Runs    []model.Run `json:"runs"`
		Total   int         `json:"total"`
		HasMore bool        `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &body))
	require.Equal(t, 2, body.Total)
	assert.Equal(t, f.runs[1].ID, body.Runs[0].ID)
	assert.Equal(t, f.runs[2].ID, body.Runs[1].ID)
	assert.False(t, body.HasMore)
}

func TestSearchRunsToolErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.server.handleSearchRuns(ctx, toolRequest("tsuiseki_search_runs", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.server.handleSearchRuns(ctx, toolRequest("tsuiseki_search_runs", map[string]any{
		"experiment_ids": f.exp.ID,
		"filter":         "metrics.rmse <<< 1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "search failed")
}

func TestGetRunTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleGetRun(context.Background(), toolRequest("tsuiseki_get_run", map[string]any{"run_id": f.runs[0].ID}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var run model.Run
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &run))
	assert.Equal(t, "0.2", run.Params["alpha"])
	assert.InDelta(t, 0.9, run.Metrics["rmse"].Value, 1e-12)

	result, err = f.server.handleGetRun(context.Background(), toolRequest("tsuiseki_get_run", map[string]any{"run_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestLatestModelVersionTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.server.handleLatestModelVersion(ctx, toolRequest("tsuiseki_latest_model_version", map[string]any{
		"name":  "wine",
		"stage": "Production",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var body struct {
		ModelVersion model.ModelVersion `json:"model_version"`
		ModelURI     string             `json:"model_uri"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &body))
	assert.Equal(t, 1, body.ModelVersion.Version)
	assert.Equal(t, f.runs[1].ID, body.ModelVersion.RunID)
	assert.Equal(t, "models:/wine/1", body.ModelURI)

	result, err = f.server.handleLatestModelVersion(ctx, toolRequest("tsuiseki_latest_model_version", map[string]any{
		"name":  "wine",
		"stage": "staging",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.server.handleLatestModelVersion(ctx, toolRequest("tsuiseki_latest_model_version", map[string]any{
		"name":  "wine",
		"stage": "qa",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExperimentsResource(t *testing.T) {
	f := newFixture(t)

	contents, err := f.server.handleExperimentsResource(context.Background(), mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, experimentsResourceURI, text.URI)
	assert.Contains(t, text.Text, "wine-quality")
}

func jsonReader(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}
