package mcp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensa/internal/model"
)

func TestCompactAlert(t *testing.T) {
	reason := "vendor outage"
	a := model.Alert{
		ID:          "abn-fallback-rate",
		Area:        "identity",
		Severity:    model.SeverityWarning,
		Message:     strings.Repeat("x", 300),
		TriggeredAt: time.Now(),
		Suppressed:  true,
		Override:    &model.Override{Service: "abn_recheck", Status: model.OverrideInvestigating, Reason: &reason},
		Meta:        map[string]any{"rate": 0.4},
	}

	m := compactAlert(a)
	assert.Equal(t, "abn-fallback-rate", m["id"])
	assert.NotContains(t, m, "meta")
	assert.Len(t, []rune(m["message"].(string)), maxCompactMessage+3)

	o, ok := m["override"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "vendor outage", o["reason"])
	assert.NotContains(t, o, "service")
}

func TestSummarizeAlerts(t *testing.T) {
	tests := []struct {
		name   string
		alerts []model.Alert
		want   string
	}{
		{"empty", nil, "All clear. No alerts are firing."},
		{
			"mixed",
			[]model.Alert{
				{Severity: model.SeverityCritical},
				{Severity: model.SeverityWarning},
				{Severity: model.SeverityWarning, Suppressed: true},
			},
			"2 active alerts (1 critical, 1 warning). 1 suppressed by override. Critical alerts need attention.",
		},
		{
			"single warning",
			[]model.Alert{{Severity: model.SeverityWarning}},
			"1 active alert (1 warning).",
		},
		{
			"all suppressed",
			[]model.Alert{{Severity: model.SeverityCritical, Suppressed: true}},
			"No unsuppressed alerts. 1 suppressed by override.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarizeAlerts(tt.alerts))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "日本...", truncate("日本語テキスト", 2))
}
