// Package mcp implements the Model Context Protocol server for tsuiseki.
//
// It exposes read-only views of experiments, runs and the model registry as
// MCP tools and resources, so agents can compare runs and find the model
// currently serving a stage without going through the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/service/registry"
	"github.com/ashita-ai/tsuiseki/internal/service/tracking"
)

const experimentsResourceURI = "tsuiseki://experiments"

// Server wraps the MCP server with the tracking and registry services.
type Server struct {
	mcpServer *mcpserver.MCPServer
	tracking  *tracking.Service
	registry  *registry.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(tr *tracking.Service, reg *registry.Service, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		tracking: tr,
		registry: reg,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"tsuiseki",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions("tsuiseki tracks ML experiments. Use tsuiseki_search_runs to compare runs by metrics and params, and tsuiseki_latest_model_version to find the registered model serving a stage."),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			experimentsResourceURI,
			"Experiments",
			mcplib.WithResourceDescription("All active experiments with their IDs and artifact locations"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleExperimentsResource,
	)
}

func (s *Server) handleExperimentsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	exps, err := s.tracking.ListExperiments(ctx, model.ViewActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("mcp: list experiments: %w", err)
	}
	data, err := json.MarshalIndent(exps, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal experiments: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      experimentsResourceURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// jsonResult renders v as an indented JSON text result.
func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
