package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 200
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("tsuiseki_list_experiments",
			mcplib.WithDescription(`List experiments.

WHEN TO USE: First, to find the experiment IDs tsuiseki_search_runs needs.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("view",
				mcplib.Description("Which experiments to include"),
				mcplib.Enum("active", "deleted", "all"),
				mcplib.DefaultString("active"),
			),
		),
		s.handleListExperiments,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("tsuiseki_search_runs",
			mcplib.WithDescription(`Search runs of one or more experiments by params, metrics, tags and attributes.

FILTER SYNTAX: clauses joined with AND, e.g.
  metrics.rmse < 0.7 AND params.alpha = '0.01' AND attributes.status = 'finished'

ORDER BY: e.g. "metrics.rmse ASC" or "start_time DESC". Runs missing an
ordering key sort last.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("experiment_ids",
				mcplib.Description("Comma-separated experiment IDs"),
				mcplib.Required(),
			),
			mcplib.WithString("filter",
				mcplib.Description("Filter expression; empty matches every run"),
			),
			mcplib.WithString("order_by",
				mcplib.Description("Comma-separated order clauses"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum runs to return"),
				mcplib.Min(1),
				mcplib.Max(maxSearchLimit),
				mcplib.DefaultNumber(defaultSearchLimit),
			),
		),
		s.handleSearchRuns,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("tsuiseki_get_run",
			mcplib.WithDescription("Get one run with its params, latest metrics and tags."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("The 32-character run ID"),
				mcplib.Required(),
			),
		),
		s.handleGetRun,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("tsuiseki_latest_model_version",
			mcplib.WithDescription(`Get the newest version of a registered model, optionally limited to a stage.

EXAMPLE: name="wine-quality-model", stage="production" returns the version
currently serving production and the run it came from.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("name",
				mcplib.Description("Registered model name"),
				mcplib.Required(),
			),
			mcplib.WithString("stage",
				mcplib.Description("Optional stage: none, staging, production or archived"),
			),
		),
		s.handleLatestModelVersion,
	)
}

func (s *Server) handleListExperiments(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	view, err := model.ParseViewType(request.GetString("view", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	exps, err := s.tracking.ListExperiments(ctx, view)
	if err != nil {
		return errorResult(fmt.Sprintf("list experiments failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"experiments": exps,
		"total":       len(exps),
	})
}

func (s *Server) handleSearchRuns(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ids := splitList(request.GetString("experiment_ids", ""))
	if len(ids) == 0 {
		return errorResult("experiment_ids is required"), nil
	}
	limit := request.GetInt("limit", defaultSearchLimit)
	if limit <= 0 || limit > maxSearchLimit {
		limit = defaultSearchLimit
	}

	res, err := s.tracking.SearchRuns(ctx, model.SearchRunsRequest{
		ExperimentIDs: ids,
		Filter:        request.GetString("filter", ""),
		OrderBy:       splitList(request.GetString("order_by", "")),
		MaxResults:    limit,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"runs":     res.Runs,
		"total":    len(res.Runs),
		"has_more": res.NextPageToken != "",
	})
}

func (s *Server) handleGetRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID == "" {
		return errorResult("run_id is required"), nil
	}
	run, err := s.tracking.GetRun(ctx, runID)
	if err != nil {
		return errorResult(fmt.Sprintf("get run failed: %v", err)), nil
	}
	return jsonResult(run)
}

func (s *Server) handleLatestModelVersion(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return errorResult("name is required"), nil
	}
	var stage *model.Stage
	if raw := request.GetString("stage", ""); raw != "" {
		st, err := model.ParseStage(raw)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		stage = &st
	}
	mv, err := s.registry.GetLatestVersion(ctx, name, stage)
	if err != nil {
		return errorResult(fmt.Sprintf("lookup failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"model_version": mv,
		"model_uri":     mv.ModelURI(),
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
