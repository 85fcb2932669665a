package model

import (
	"math"
	"strings"
	"time"
)

// Mode controls whether a domain's AI path is consulted and whether its answer
// takes effect.
type Mode string

const (
	ModeLive     Mode = "live"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

// ParseMode normalizes s into a Mode. The boolean is false for unknown values.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLive:
		return ModeLive, true
	case ModeShadow:
		return ModeShadow, true
	case ModeDisabled:
		return ModeDisabled, true
	default:
		return "", false
	}
}

// Source records which path produced a judgment's action.
type Source string

const (
	SourceAI        Source = "ai"
	SourceHeuristic Source = "heuristic"
	SourceManual    Source = "manual"
)

// Judgment domains.
const (
	DomainTriage     = "triage"
	DomainModeration = "moderation"
	DomainIdentity   = "identity"
	DomainDigest     = "digest"
)

// ValidDomain reports whether d names a known judgment domain.
func ValidDomain(d string) bool {
	switch d {
	case DomainTriage, DomainModeration, DomainIdentity, DomainDigest:
		return true
	}
	return false
}

// Verdict is the domain-level answer produced by either a heuristic policy or
// a decoded AI response, before provenance is attached.
type Verdict struct {
	Action     string         `json:"action"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	Details    map[string]any `json:"details,omitempty"`
}

// Judgment is the outcome of one arbitration.
type Judgment struct {
	Action     string       `json:"action"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
	Source     Source       `json:"source"`
	Meta       JudgmentMeta `json:"meta"`
}

// JudgmentMeta carries provenance for a Judgment.
type JudgmentMeta struct {
	Mode           Mode           `json:"mode"`
	Provider       string         `json:"provider,omitempty"`
	Model          string         `json:"model,omitempty"`
	ShadowAction   string         `json:"shadow_ai_action,omitempty"`
	FallbackReason FallbackReason `json:"fallback_reason,omitempty"`
	LatencyMs      int64          `json:"latency_ms,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// ClampConfidence bounds c to [0,1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// FallbackReason is the reason code stored with a FallbackEvent.
type FallbackReason string

// Identity reason codes.
const (
	ReasonIdentityError        FallbackReason = "identity_error"
	ReasonIdentityInactive     FallbackReason = "identity_inactive"
	ReasonIdentityManualReview FallbackReason = "identity_manual_review"
)

// AIErrorReason is the reason recorded when a domain's provider call fails.
func AIErrorReason(domain string) FallbackReason {
	return FallbackReason(domain + "_ai_error")
}

// InvalidFormatReason is the reason recorded when a provider answer fails
// validation.
func InvalidFormatReason(domain string) FallbackReason {
	return FallbackReason(domain + "_invalid_format")
}

// FallbackEvent records that a heuristic path was taken instead of the AI path.
type FallbackEvent struct {
	ID         int64          `json:"id"`
	Domain     string         `json:"domain"`
	SubjectID  *int64         `json:"subject_id,omitempty"`
	Reason     FallbackReason `json:"reason"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// FallbackStats summarizes identity verification outcomes over a window.
type FallbackStats struct {
	FallbackCount int           `json:"fallback_count"`
	VerifiedCount int           `json:"verified_count"`
	SampleSize    int           `json:"sample_size"`
	Rate          float64       `json:"rate"`
	ByReason      []ReasonCount `json:"by_reason,omitempty"`
	Since         time.Time     `json:"since"`
}

// ReasonCount is a per-reason fallback tally.
type ReasonCount struct {
	Reason FallbackReason `json:"reason"`
	Count  int            `json:"count"`
}

// LedgerEntry is the persisted record of the action actually taken for a
// subject within a domain. One row per (Domain, SubjectID).
type LedgerEntry struct {
	Domain       string    `json:"domain"`
	SubjectID    int64     `json:"subject_id"`
	Action       string    `json:"action"`
	Confidence   float64   `json:"confidence"`
	Reason       string    `json:"reason"`
	Source       Source    `json:"source"`
	Mode         Mode      `json:"mode"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	ShadowAction string    `json:"shadow_ai_action,omitempty"`
	RawResponse  []byte    `json:"raw_response,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LedgerEntryFromJudgment builds the ledger row for j.
func LedgerEntryFromJudgment(domain string, subjectID int64, j Judgment, raw []byte) LedgerEntry {
	return LedgerEntry{
		Domain:       domain,
		SubjectID:    subjectID,
		Action:       j.Action,
		Confidence:   j.Confidence,
		Reason:       j.Reason,
		Source:       j.Source,
		Mode:         j.Meta.Mode,
		Provider:     j.Meta.Provider,
		Model:        j.Meta.Model,
		ShadowAction: j.Meta.ShadowAction,
		RawResponse:  raw,
	}
}
