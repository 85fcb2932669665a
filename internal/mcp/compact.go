package mcp

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/kensa/internal/model"
)

const maxCompactMessage = 200

// compactAlert returns a minimal representation of an alert for MCP
// responses. Rule metadata (thresholds, raw counts) is dropped; the override
// keeps only what a responder acts on.
func compactAlert(a model.Alert) map[string]any {
	m := map[string]any{
		"id":           a.ID,
		"area":         a.Area,
		"severity":     a.Severity,
		"message":      truncate(a.Message, maxCompactMessage),
		"triggered_at": a.TriggeredAt,
		"suppressed":   a.Suppressed,
	}
	if a.Override != nil {
		o := map[string]any{
			"status":     a.Override.Status,
			"expires_at": a.Override.ExpiresAt,
		}
		if a.Override.Reason != nil && *a.Override.Reason != "" {
			o["reason"] = *a.Override.Reason
		}
		m["override"] = o
	}
	return m
}

// summarizeAlerts produces a one-line description of the alert board.
func summarizeAlerts(alerts []model.Alert) string {
	if len(alerts) == 0 {
		return "All clear. No alerts are firing."
	}

	counts := map[model.Severity]int{}
	suppressed := 0
	for _, a := range alerts {
		if a.Suppressed {
			suppressed++
			continue
		}
		counts[a.Severity]++
	}
	active := len(alerts) - suppressed

	var b strings.Builder
	if active == 0 {
		b.WriteString("No unsuppressed alerts.")
	} else {
		var parts []string
		for _, sev := range []model.Severity{model.SeverityCritical, model.SeverityWarning, model.SeverityInfo} {
			if n := counts[sev]; n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, sev))
			}
		}
		fmt.Fprintf(&b, "%d active %s (%s).", active, plural(active, "alert", "alerts"), strings.Join(parts, ", "))
	}
	if suppressed > 0 {
		fmt.Fprintf(&b, " %d suppressed by override.", suppressed)
	}
	if counts[model.SeverityCritical] > 0 {
		b.WriteString(" Critical alerts need attention.")
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
