package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// incident-review: walks the assistant through the alert board.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("incident-review",
			mcplib.WithPromptDescription("Review the alert board and decide which incidents need an override"),
		),
		s.handleIncidentReviewPrompt,
	)

	// acknowledge-incident: records a known incident on a service.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("acknowledge-incident",
			mcplib.WithPromptDescription("Acknowledge a known incident on a service so its alerts are suppressed"),
			mcplib.WithArgument("service",
				mcplib.ArgumentDescription("Service the incident affects (emergency_cron, telemetry, abn_recheck, monetization)"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("reason",
				mcplib.ArgumentDescription("What is known about the incident"),
			),
		),
		s.handleAcknowledgeIncidentPrompt,
	)
}

func (s *Server) handleIncidentReviewPrompt(_ context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Review firing alerts",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `Review the current operational alerts.

1. CALL kensa_alerts to list what is firing.

2. For each unsuppressed critical alert:
   - For latency alerts, CALL kensa_latency with the alert's area to see
     the count, average and p95 behind it.
   - For cron alerts, check whether the emergency verification job is
     running at all.

3. REPORT a short summary: what is firing, what is already acknowledged,
   and which alerts look new.

4. Only if an operator confirms an incident is known, CALL
   kensa_override_set with the affected service and a reason. Do not
   suppress alerts nobody is handling.`,
				},
			},
		},
	}, nil
}

func (s *Server) handleAcknowledgeIncidentPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	service := request.Params.Arguments["service"]
	if service == "" {
		return nil, fmt.Errorf("service argument is required")
	}
	reason := request.Params.Arguments["reason"]
	if reason == "" {
		reason = "incident under investigation"
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Acknowledge an incident on %s", service),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`An operator has confirmed a known incident on %[1]s.

1. CALL kensa_alerts and note which alerts belong to %[1]s.

2. CALL kensa_override_set with:
   - service: "%[1]s"
   - status: "investigating" (or "temporarily_down" if the service is off on purpose)
   - reason: "%[2]s"

3. CONFIRM which alerts are now suppressed and when the override expires.
   When the incident is resolved, CALL kensa_override_clear with service "%[1]s".`, service, reason),
				},
			},
		},
	}, nil
}
