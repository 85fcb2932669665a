package kensa

import "time"

// Severity ranks alerts. Critical is the most urgent.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Alert is an operational alert forwarded by the alert watcher.
type Alert struct {
	ID          string         `json:"id"`
	Area        string         `json:"area"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	TriggeredAt time.Time      `json:"triggered_at"`
	Suppressed  bool           `json:"suppressed"`
	Meta        map[string]any `json:"meta,omitempty"`
}
