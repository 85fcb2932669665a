package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensa/internal/alerts"
	"github.com/ashita-ai/kensa/internal/arbiter"
	"github.com/ashita-ai/kensa/internal/auth"
	"github.com/ashita-ai/kensa/internal/ctxutil"
	"github.com/ashita-ai/kensa/internal/mode"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/overrides"
	"github.com/ashita-ai/kensa/internal/service/triage"
	"github.com/ashita-ai/kensa/internal/storage/sqlite"
	"github.com/ashita-ai/kensa/internal/telemetry"
	"github.com/ashita-ai/kensa/internal/testutil"
)

var (
	testStore  *sqlite.Store
	testServer *Server
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	logger := testutil.TestLogger()

	var err error
	testStore, err = sqlite.Open(ctx, "file:mcp_test?mode=memory&cache=shared")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: open store: %v\n", err)
		os.Exit(1)
	}

	reg := overrides.New(testStore, logger)
	summarizer := telemetry.NewSummarizer(testStore, logger)
	arb := arbiter.New(nil, mode.NewResolver(mode.Config{Global: "disabled"}, logger),
		arbiter.NewRecorder(testStore, testStore, logger), logger, arbiter.Config{})

	testServer = New(Deps{
		Evaluator: alerts.NewEvaluator(alerts.Sources{
			Cron:      testStore,
			Fallbacks: testStore,
			Payments:  testStore,
			Latency:   summarizer,
			Overrides: reg,
		}, alerts.DefaultThresholds(), logger),
		Overrides:  reg,
		Summarizer: summarizer,
		Triage:     triage.New(arb, logger),
		Logger:     logger,
		Version:    "test",
	})

	code := m.Run()
	_ = testStore.Close(ctx)
	os.Exit(code)
}

func ctxAs(operatorID string, role model.OperatorRole) context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{OperatorID: operatorID, Role: role})
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

type alertsResponse struct {
	Summary string           `json:"summary"`
	Alerts  []map[string]any `json:"alerts"`
}

func callAlerts(t *testing.T, ctx context.Context, args map[string]any) alertsResponse {
	t.Helper()
	result, err := testServer.handleAlerts(ctx, toolRequest("kensa_alerts", args))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var resp alertsResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	return resp
}

func alertByID(resp alertsResponse, id string) map[string]any {
	for _, a := range resp.Alerts {
		if a["id"] == id {
			return a
		}
	}
	return nil
}

func TestAlertsAndOverrideFlow(t *testing.T) {
	ctx := ctxAs("oncall", model.RoleOperator)
	t.Cleanup(func() { _ = testStore.DeleteOverride(context.Background(), alerts.ServiceEmergencyCron) })

	resp := callAlerts(t, ctx, nil)
	a := alertByID(resp, alerts.RuleEmergencyCronMissing)
	require.NotNil(t, a, "empty store has no emergency cron runs")
	assert.Equal(t, false, a["suppressed"])
	assert.NotContains(t, a, "meta", "compact format drops metadata")
	assert.Contains(t, resp.Summary, "active")

	result, err := testServer.handleOverrideSet(ctx, toolRequest("kensa_override_set", map[string]any{
		"service": alerts.ServiceEmergencyCron,
		"status":  "investigating",
		"reason":  "cron host rebooting",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	assert.NotContains(t, parseToolText(t, result), "note", "alerts were viewed just before")

	resp = callAlerts(t, ctx, nil)
	a = alertByID(resp, alerts.RuleEmergencyCronMissing)
	require.NotNil(t, a)
	assert.Equal(t, true, a["suppressed"])
	assert.Contains(t, resp.Summary, "suppressed by override")

	resp = callAlerts(t, ctx, map[string]any{"include_suppressed": false})
	assert.Nil(t, alertByID(resp, alerts.RuleEmergencyCronMissing))

	result, err = testServer.handleOverrideClear(ctx, toolRequest("kensa_override_clear", map[string]any{
		"service": alerts.ServiceEmergencyCron,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	resp = callAlerts(t, ctx, nil)
	assert.Equal(t, false, alertByID(resp, alerts.RuleEmergencyCronMissing)["suppressed"])
}

func TestAlerts_FullFormat(t *testing.T) {
	resp := callAlerts(t, ctxAs("dashboard", model.RoleReader), map[string]any{"format": "full"})
	a := alertByID(resp, alerts.RuleEmergencyCronMissing)
	require.NotNil(t, a)
	assert.Contains(t, a, "severity")
	assert.Contains(t, a, "triggered_at")
}

func TestOverrideSet_NudgesWithoutRecentView(t *testing.T) {
	ctx := ctxAs("blind-operator", model.RoleOperator)
	t.Cleanup(func() { _ = testStore.DeleteOverride(context.Background(), alerts.ServiceTelemetry) })

	result, err := testServer.handleOverrideSet(ctx, toolRequest("kensa_override_set", map[string]any{
		"service": alerts.ServiceTelemetry,
		"status":  "temporarily_down",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))
	assert.Contains(t, parseToolText(t, result), "No recent kensa_alerts call")
}

func TestOverrideSet_Validation(t *testing.T) {
	ctx := ctxAs("oncall", model.RoleOperator)

	result, err := testServer.handleOverrideSet(ctx, toolRequest("kensa_override_set", map[string]any{
		"service": alerts.ServiceTelemetry,
		"status":  "resolved",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = testServer.handleOverrideSet(ctx, toolRequest("kensa_override_set", map[string]any{
		"status": "investigating",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "service is required")
}

func TestWriteToolsRequireOperator(t *testing.T) {
	ctx := ctxAs("dashboard", model.RoleReader)

	result, err := testServer.handleOverrideSet(ctx, toolRequest("kensa_override_set", map[string]any{
		"service": alerts.ServiceTelemetry,
		"status":  "investigating",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "operator role required")

	result, err = testServer.handleOverrideClear(ctx, toolRequest("kensa_override_clear", map[string]any{
		"service": alerts.ServiceTelemetry,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = testServer.handleTriage(context.Background(), toolRequest("kensa_triage", map[string]any{
		"description": "stray dog",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "no claims means no role")
}

func TestLatencyTool(t *testing.T) {
	ctx := ctxAs("dashboard", model.RoleReader)
	now := time.Now().UTC()
	_, err := testStore.InsertLatencySamples(context.Background(), []model.LatencySample{
		{Area: model.AreaABNVerifyAPI, Route: "/verify", DurationMs: 120, OccurredAt: now},
		{Area: model.AreaABNVerifyAPI, Route: "/verify", DurationMs: 480, OccurredAt: now},
	})
	require.NoError(t, err)

	result, err := testServer.handleLatency(ctx, toolRequest("kensa_latency", map[string]any{
		"area": "abn_verify_api",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var resp struct {
		HasData bool                  `json:"has_data"`
		Summary *model.LatencySummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	require.True(t, resp.HasData)
	assert.Equal(t, 2, resp.Summary.Count)
	assert.Equal(t, 300, resp.Summary.AvgMs)
	assert.Equal(t, 480, resp.Summary.P95Ms)

	result, err = testServer.handleLatency(ctx, toolRequest("kensa_latency", map[string]any{
		"area": "weather",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTriageTool(t *testing.T) {
	ctx := ctxAs("oncall", model.RoleOperator)

	result, err := testServer.handleTriage(ctx, toolRequest("kensa_triage", map[string]any{
		"description": "Found a stray dog wandering with no collar",
		"subject_id":  float64(42),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var j model.Judgment
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &j))
	assert.Equal(t, "stray", j.Action)
	assert.Equal(t, model.SourceHeuristic, j.Source)

	entry, err := testStore.GetLedgerEntry(context.Background(), model.DomainTriage, 42)
	require.NoError(t, err)
	assert.Equal(t, "stray", entry.Action)

	result, err = testServer.handleTriage(ctx, toolRequest("kensa_triage", map[string]any{
		"description": "   ",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
