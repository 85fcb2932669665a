package model

import (
	"fmt"
	"time"
)

// Severity ranks alerts. Critical sorts first.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank returns the sort position of s; lower ranks sort first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// OverrideStatus is the operator-declared state of a service.
type OverrideStatus string

const (
	OverrideInvestigating   OverrideStatus = "investigating"
	OverrideTemporarilyDown OverrideStatus = "temporarily_down"
)

// ValidateOverrideStatus rejects unknown override statuses.
func ValidateOverrideStatus(s OverrideStatus) error {
	switch s {
	case OverrideInvestigating, OverrideTemporarilyDown:
		return nil
	default:
		return fmt.Errorf("status must be %q or %q (got %q)", OverrideInvestigating, OverrideTemporarilyDown, s)
	}
}

// Override suppresses alerts for a service until ExpiresAt.
type Override struct {
	Service   string         `json:"service"`
	Status    OverrideStatus `json:"status"`
	Reason    *string        `json:"reason,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
}

// ActiveAt reports whether o is still in effect at now.
func (o Override) ActiveAt(now time.Time) bool {
	return o.ExpiresAt.After(now)
}

// Alert is one fired rule in a snapshot. Alerts are derived and never stored.
type Alert struct {
	ID          string         `json:"id"`
	Area        string         `json:"area"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	TriggeredAt time.Time      `json:"triggered_at"`
	Suppressed  bool           `json:"suppressed"`
	Override    *Override      `json:"override,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// AlertSnapshot is the evaluator's point-in-time view.
type AlertSnapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	Alerts      []Alert   `json:"alerts"`
}
