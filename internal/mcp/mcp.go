// Package mcp implements the Model Context Protocol server for Kensa.
//
// The MCP server exposes the operational surface of the HTTP API (alert
// snapshots, incident overrides, latency summaries and emergency triage)
// through MCP resources, tools and prompts, so an on-call assistant can
// inspect and acknowledge incidents.
package mcp

import (
	"context"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kensa/internal/alerts"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/overrides"
	"github.com/ashita-ai/kensa/internal/telemetry"
)

// snapshotWindow is how long a kensa_alerts call counts as a recent look at
// the incident board for kensa_override_set.
const snapshotWindow = 15 * time.Minute

// Triager classifies an emergency description.
type Triager interface {
	Classify(ctx context.Context, subjectID int64, description string) model.Judgment
}

// Deps are the services the MCP server exposes.
type Deps struct {
	Evaluator  alerts.Snapshotter
	Overrides  *overrides.Registry
	Summarizer *telemetry.Summarizer
	Triage     Triager
	Logger     *slog.Logger
	Version    string
}

// Server wraps the MCP server with Kensa's service layer.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	evaluator  alerts.Snapshotter
	overrides  *overrides.Registry
	summarizer *telemetry.Summarizer
	triage     Triager
	logger     *slog.Logger
	viewed     *viewTracker
}

// New creates and configures a new MCP server with all resources, tools
// and prompts.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		evaluator:  d.Evaluator,
		overrides:  d.Overrides,
		summarizer: d.Summarizer,
		triage:     d.Triage,
		logger:     d.Logger,
		viewed:     newViewTracker(snapshotWindow),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kensa",
		d.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const serverInstructions = `Kensa watches the listing platform's background jobs, identity checks, payments and latency, and raises alerts.

Typical workflow:
1. Call kensa_alerts to see what is firing.
2. Investigate using kensa_latency for latency alerts.
3. If an incident is known and being handled, call kensa_override_set with a reason so the alert is marked suppressed.
4. Call kensa_override_clear when the incident is resolved.`

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}
