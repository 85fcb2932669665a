package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kensa/internal/ctxutil"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/overrides"
	"github.com/ashita-ai/kensa/internal/telemetry"
)

func (s *Server) registerTools() {
	// kensa_alerts: current alert snapshot.
	s.mcpServer.AddTool(
		mcplib.NewTool("kensa_alerts",
			mcplib.WithDescription(`List the alerts currently firing, worst first.

WHEN TO USE: At the start of any incident investigation, and before setting
an override. Alerts covered by an active override are returned with
suppressed=true and the override attached.

WHAT YOU GET BACK:
- summary: one line describing the board
- alerts: id, area, severity, message, suppressed and override per alert`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithBoolean("include_suppressed",
				mcplib.Description("Include alerts suppressed by an override (default true)"),
				mcplib.DefaultBool(true),
			),
			mcplib.WithString("format",
				mcplib.Description(`"compact" (default) drops rule metadata; "full" returns every field`),
				mcplib.Enum("compact", "full"),
			),
		),
		s.handleAlerts,
	)

	// kensa_override_set: mark a service incident as known.
	s.mcpServer.AddTool(
		mcplib.NewTool("kensa_override_set",
			mcplib.WithDescription(`Record that an incident on a service is known and being handled.

IMPORTANT: Call kensa_alerts FIRST so you know what the override will
suppress. The override expires automatically after the configured TTL.

Services: emergency_cron, telemetry, abn_recheck, monetization.
Statuses: investigating, temporarily_down.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("service",
				mcplib.Description("Service the incident affects"),
				mcplib.Required(),
			),
			mcplib.WithString("status",
				mcplib.Description("Incident status"),
				mcplib.Required(),
				mcplib.Enum(string(model.OverrideInvestigating), string(model.OverrideTemporarilyDown)),
			),
			mcplib.WithString("reason",
				mcplib.Description("Short human-readable reason, shown on suppressed alerts"),
			),
		),
		s.handleOverrideSet,
	)

	// kensa_override_clear: resolve an incident override.
	s.mcpServer.AddTool(
		mcplib.NewTool("kensa_override_clear",
			mcplib.WithDescription("Remove the override for a service once the incident is resolved. Clearing a service with no override is not an error."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("service",
				mcplib.Description("Service whose override to remove"),
				mcplib.Required(),
			),
		),
		s.handleOverrideClear,
	)

	// kensa_latency: latency summary for one area.
	s.mcpServer.AddTool(
		mcplib.NewTool("kensa_latency",
			mcplib.WithDescription("Summarize recent latency samples for an area: count, average, nearest-rank p95 and success rate."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("area",
				mcplib.Description("Latency area, e.g. search_suburbs, emergency_triage_api, abn_verify_api"),
				mcplib.Required(),
			),
			mcplib.WithNumber("window_minutes",
				mcplib.Description("Trailing window in minutes"),
				mcplib.Min(1),
				mcplib.Max(24*60),
				mcplib.DefaultNumber(60),
			),
		),
		s.handleLatency,
	)

	// kensa_triage: classify an emergency description.
	s.mcpServer.AddTool(
		mcplib.NewTool("kensa_triage",
			mcplib.WithDescription(`Classify a dog emergency description as medical, stray, crisis or normal.

The result is recorded in the decision ledger when subject_id is given.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("description",
				mcplib.Description("Free-text description of the situation"),
				mcplib.Required(),
			),
			mcplib.WithNumber("subject_id",
				mcplib.Description("Triage record ID to attach the judgment to"),
				mcplib.Min(0),
			),
		),
		s.handleTriage,
	)
}

func (s *Server) handleAlerts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	includeSuppressed := request.GetBool("include_suppressed", true)
	full := request.GetString("format", "compact") == "full"

	snap := s.evaluator.Snapshot(ctx)
	s.viewed.Record(ctxutil.OperatorID(ctx))

	alerts := make([]any, 0, len(snap.Alerts))
	for _, a := range snap.Alerts {
		if a.Suppressed && !includeSuppressed {
			continue
		}
		if full {
			alerts = append(alerts, a)
		} else {
			alerts = append(alerts, compactAlert(a))
		}
	}

	return jsonResult(map[string]any{
		"generated_at": snap.GeneratedAt,
		"summary":      summarizeAlerts(snap.Alerts),
		"alerts":       alerts,
	})
}

func (s *Server) handleOverrideSet(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if !ctxutil.HasRole(ctx, model.RoleOperator) {
		return errorResult("operator role required to set overrides"), nil
	}
	service := strings.TrimSpace(request.GetString("service", ""))
	status := model.OverrideStatus(request.GetString("status", ""))
	reason := request.GetString("reason", "")

	req := model.OverrideRequest{Service: service, Status: status}
	if reason != "" {
		req.Reason = &reason
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	o, err := s.overrides.Set(ctx, service, status, reason)
	if err != nil {
		if errors.Is(err, overrides.ErrInvalid) {
			return errorResult(err.Error()), nil
		}
		return errorResult(fmt.Sprintf("failed to set override: %v", err)), nil
	}

	operatorID := ctxutil.OperatorID(ctx)
	s.logger.Info("override set via mcp", "service", o.Service, "status", o.Status, "operator_id", operatorID)

	resp := map[string]any{
		"override": o,
		"status":   "set",
	}
	if !s.viewed.Recent(operatorID) {
		resp["note"] = "No recent kensa_alerts call. Review the alert board to confirm what this override suppresses."
	}
	return jsonResult(resp)
}

func (s *Server) handleOverrideClear(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if !ctxutil.HasRole(ctx, model.RoleOperator) {
		return errorResult("operator role required to clear overrides"), nil
	}
	service := strings.TrimSpace(request.GetString("service", ""))
	if service == "" {
		return errorResult("service is required"), nil
	}
	if err := s.overrides.Clear(ctx, service); err != nil {
		return errorResult(fmt.Sprintf("failed to clear override: %v", err)), nil
	}
	s.logger.Info("override cleared via mcp", "service", service, "operator_id", ctxutil.OperatorID(ctx))
	return jsonResult(map[string]any{"service": service, "status": "cleared"})
}

func (s *Server) handleLatency(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	area := model.LatencyArea(request.GetString("area", ""))
	if !model.ValidLatencyArea(area) {
		return errorResult("unknown area: " + string(area)), nil
	}
	window := time.Duration(request.GetInt("window_minutes", 60)) * time.Minute
	if window <= 0 {
		window = telemetry.DefaultWindow
	}

	summary := s.summarizer.Summarize(ctx, area, window)
	return jsonResult(map[string]any{
		"area":           area,
		"window_minutes": int(window / time.Minute),
		"summary":        summary,
		"has_data":       summary != nil,
	})
}

func (s *Server) handleTriage(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if !ctxutil.HasRole(ctx, model.RoleOperator) {
		return errorResult("operator role required to run triage"), nil
	}
	description := strings.TrimSpace(request.GetString("description", ""))
	if description == "" {
		return errorResult("description is required"), nil
	}
	if len(description) > model.MaxDescriptionLen {
		return errorResult(fmt.Sprintf("description exceeds maximum length of %d bytes", model.MaxDescriptionLen)), nil
	}
	subjectID := int64(request.GetInt("subject_id", 0))
	if subjectID < 0 {
		return errorResult("subject_id must not be negative"), nil
	}

	return jsonResult(s.triage.Classify(ctx, subjectID, description))
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return textResult(string(data)), nil
}
