package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/telemetry"
)

const (
	uriAlertSnapshot   = "kensa://alerts/snapshot"
	uriOverridesActive = "kensa://overrides/active"
	uriLatencyPrefix   = "kensa://telemetry/latency/"
)

func (s *Server) registerResources() {
	// kensa://alerts/snapshot: the current alert board.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriAlertSnapshot,
			"Alert Snapshot",
			mcplib.WithResourceDescription("Alerts currently firing, worst first, with override suppression applied"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAlertSnapshotResource,
	)

	// kensa://overrides/active: unexpired incident overrides.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriOverridesActive,
			"Active Overrides",
			mcplib.WithResourceDescription("Incident overrides that have not yet expired"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleOverridesResource,
	)

	// kensa://telemetry/latency/{area}: latency summary for one area.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			uriLatencyPrefix+"{area}",
			"Latency Summary",
			mcplib.WithTemplateDescription("Latency summary for an area over the default trailing window"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleLatencyResource,
	)
}

func (s *Server) handleAlertSnapshotResource(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonResource(uriAlertSnapshot, s.evaluator.Snapshot(ctx))
}

func (s *Server) handleOverridesResource(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	list, err := s.overrides.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list overrides: %w", err)
	}
	return jsonResource(uriOverridesActive, list)
}

func (s *Server) handleLatencyResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	area := model.LatencyArea(strings.TrimPrefix(uri, uriLatencyPrefix))
	if area == "" || string(area) == uri || !model.ValidLatencyArea(area) {
		return nil, fmt.Errorf("mcp: invalid latency URI: %s", uri)
	}

	return jsonResource(uri, map[string]any{
		"area":           area,
		"window_minutes": int(telemetry.DefaultWindow.Minutes()),
		"summary":        s.summarizer.Summarize(ctx, area, telemetry.DefaultWindow),
	})
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
