package model

import "time"

// Cron run statuses.
const (
	CronStatusSuccess = "success"
	CronStatusFailed  = "failed"
	CronStatusRunning = "running"
)

// CronRun is one background job execution report.
type CronRun struct {
	ID           int64      `json:"id,omitempty"`
	JobName      string     `json:"job_name"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   *int       `json:"duration_ms,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// CronSnapshot is the job heartbeat read by the alert evaluator.
type CronSnapshot struct {
	JobName       string     `json:"job_name"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// PaymentEvent is one payment or subscription audit record.
type PaymentEvent struct {
	ID         int64          `json:"id,omitempty"`
	EventType  string         `json:"event_type"`
	Status     string         `json:"status"`
	BusinessID *int64         `json:"business_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Payment event classification.
const (
	PaymentStatusFailed    = "failed"
	PaymentStatusSyncError = "sync_error"

	PaymentEventInvoiceFailed       = "invoice.payment_failed"
	PaymentEventSubscriptionDeleted = "customer.subscription.deleted"
	PaymentEventSyncError           = "subscription_sync_error"
)

// IsFailure reports whether e counts towards the payment failure rate.
func (e PaymentEvent) IsFailure() bool {
	return e.Status == PaymentStatusFailed ||
		e.EventType == PaymentEventInvoiceFailed ||
		e.EventType == PaymentEventSubscriptionDeleted
}

// IsSyncError reports whether e is a subscription sync error.
func (e PaymentEvent) IsSyncError() bool {
	return e.Status == PaymentStatusSyncError || e.EventType == PaymentEventSyncError
}

// PaymentStats summarizes payment audit events over a window.
type PaymentStats struct {
	Total       int     `json:"total"`
	Failures    int     `json:"failures"`
	SyncErrors  int     `json:"sync_errors"`
	FailureRate float64 `json:"failure_rate"`
}

// Review is a user review awaiting moderation.
type Review struct {
	ID         int64     `json:"id"`
	BusinessID int64     `json:"business_id"`
	Rating     int       `json:"rating"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Approved   bool      `json:"approved"`
	Rejected   bool      `json:"rejected"`
	CreatedAt  time.Time `json:"created_at"`
}

// ModerationRunResult summarizes one moderation cycle.
type ModerationRunResult struct {
	Processed      int `json:"processed"`
	AutoApproved   int `json:"auto_approved"`
	AutoRejected   int `json:"auto_rejected"`
	ManualReview   int `json:"manual_review"`
	AlreadyDecided int `json:"already_decided"`
}

// OpsMetrics is the daily snapshot fed to the digest.
type OpsMetrics struct {
	OnboardingToday               int      `json:"onboarding_today"`
	PendingIdentityManual         int      `json:"pending_abn_manual"`
	EmergencyLogsToday            int      `json:"emergency_logs_today"`
	EmergencyAccuracyPct          *float64 `json:"emergency_accuracy_pct,omitempty"`
	EmergencyPendingVerifications int      `json:"emergency_pending_verifications"`
	ErrorsLast24h                 int      `json:"errors_last24h"`
}

// Digest is the daily ops summary. One row per Date.
type Digest struct {
	Date      string     `json:"date"`
	Summary   string     `json:"summary"`
	Metrics   OpsMetrics `json:"metrics"`
	Source    Source     `json:"source"`
	Mode      Mode       `json:"mode"`
	Model     string     `json:"model,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// RegistryRecord is an immutable business registry lookup result. Only
// Identifier and Status are guaranteed when a record exists.
type RegistryRecord struct {
	Identifier       string   `json:"identifier"`
	Status           string   `json:"status"`
	EntityName       *string  `json:"entity_name,omitempty"`
	BusinessNames    []string `json:"business_names,omitempty"`
	PreviousIDs      []string `json:"previous_ids,omitempty"`
	GSTRegistered    *bool    `json:"gst_registered,omitempty"`
	GSTEffectiveFrom *string  `json:"gst_effective_from,omitempty"`
	State            *string  `json:"state,omitempty"`
	Postcode         *string  `json:"postcode,omitempty"`
	Raw              []byte   `json:"-"`
}

// DisplayName returns the entity name, falling back to the first business name.
func (r RegistryRecord) DisplayName() string {
	if r.EntityName != nil && *r.EntityName != "" {
		return *r.EntityName
	}
	if len(r.BusinessNames) > 0 {
		return r.BusinessNames[0]
	}
	return ""
}

// IdentityCheck is one Verify call, logged whether or not a business id
// was supplied. It is the denominator side of the fallback rate.
type IdentityCheck struct {
	BusinessID *int64
	Identifier string
	Verified   bool
	Reason     FallbackReason
	CheckedAt  time.Time
}

// IdentityVerification is the persisted outcome of one identity check.
type IdentityVerification struct {
	ID           int64          `json:"id,omitempty"`
	BusinessID   *int64         `json:"business_id,omitempty"`
	Identifier   string         `json:"identifier"`
	BusinessName string         `json:"business_name"`
	MatchedName  string         `json:"matched_name,omitempty"`
	Similarity   float64        `json:"similarity"`
	Status       string         `json:"status"`
	Verified     bool           `json:"verified"`
	Reason       FallbackReason `json:"reason,omitempty"`
	Raw          []byte         `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
}
