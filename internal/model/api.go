package model

import (
	"fmt"
	"time"
)

// Field length limits for judgment inputs. These bound prompt size and keep
// caller-controlled text from filling TEXT columns.
const (
	MaxDescriptionLen  = 8 * 1024
	MaxReviewTextLen   = 16 * 1024
	MaxBusinessNameLen = 300
	MaxServiceNameLen  = 100
	MaxOverrideReason  = 1024
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	OperatorID string `json:"operator_id"`
	APIKey     string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Store       string `json:"store"`
	BufferDepth int    `json:"buffer_depth"`
	Uptime      int64  `json:"uptime_seconds"`
}

// TriageRequest is the request body for POST /v1/judgments/triage.
type TriageRequest struct {
	SubjectID   int64  `json:"subject_id"`
	Description string `json:"description"`
}

// Validate checks boundary constraints.
func (r TriageRequest) Validate() error {
	if r.SubjectID <= 0 {
		return fmt.Errorf("subject_id must be a positive integer")
	}
	if len(r.Description) > MaxDescriptionLen {
		return fmt.Errorf("description exceeds maximum length of %d bytes", MaxDescriptionLen)
	}
	return nil
}

// ModerationRequest is the request body for POST /v1/judgments/moderation.
type ModerationRequest struct {
	SubjectID int64  `json:"subject_id"`
	Rating    int    `json:"rating"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

// Validate checks boundary constraints.
func (r ModerationRequest) Validate() error {
	if r.SubjectID <= 0 {
		return fmt.Errorf("subject_id must be a positive integer")
	}
	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5")
	}
	if len(r.Title)+len(r.Content) > MaxReviewTextLen {
		return fmt.Errorf("review exceeds maximum length of %d bytes", MaxReviewTextLen)
	}
	return nil
}

// IdentityRequest is the request body for POST /v1/judgments/identity.
type IdentityRequest struct {
	Identifier   string `json:"identifier"`
	BusinessName string `json:"business_name"`
	BusinessID   *int64 `json:"business_id,omitempty"`
}

// IdentityResult is the response for POST /v1/judgments/identity.
type IdentityResult struct {
	Judgment             Judgment        `json:"judgment"`
	Verified             bool            `json:"verified"`
	Similarity           float64         `json:"similarity"`
	MatchedName          string          `json:"matched_name,omitempty"`
	RequiresManualReview bool            `json:"requires_manual_review"`
	Record               *RegistryRecord `json:"record,omitempty"`
}

// OverrideRequest is the request body for POST /v1/ops/overrides.
type OverrideRequest struct {
	Service string         `json:"service"`
	Status  OverrideStatus `json:"status"`
	Reason  *string        `json:"reason,omitempty"`
}

// Validate checks boundary constraints.
func (r OverrideRequest) Validate() error {
	if r.Service == "" {
		return fmt.Errorf("service is required")
	}
	if len(r.Service) > MaxServiceNameLen {
		return fmt.Errorf("service exceeds maximum length of %d characters", MaxServiceNameLen)
	}
	if r.Status == "" {
		return fmt.Errorf("status is required")
	}
	if err := ValidateOverrideStatus(r.Status); err != nil {
		return err
	}
	if r.Reason != nil && len(*r.Reason) > MaxOverrideReason {
		return fmt.Errorf("reason exceeds maximum length of %d bytes", MaxOverrideReason)
	}
	return nil
}

// CronRunRequest is the request body for POST /v1/ops/cron-runs.
type CronRunRequest struct {
	JobName      string     `json:"job_name"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// PaymentEventRequest is the request body for POST /v1/ops/payment-events.
type PaymentEventRequest struct {
	EventType  string         `json:"event_type"`
	Status     string         `json:"status"`
	BusinessID *int64         `json:"business_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
