package model

import "time"

// LatencyArea tags a latency sample with the functional area it measures.
type LatencyArea string

const (
	AreaSearchSuburbs       LatencyArea = "search_suburbs"
	AreaSearchTriage        LatencyArea = "search_triage"
	AreaCommercialFunnel    LatencyArea = "commercial_funnel"
	AreaTrainerProfilePage  LatencyArea = "trainer_profile_page"
	AreaEmergencyTriageAPI  LatencyArea = "emergency_triage_api"
	AreaEmergencyVerifyAPI  LatencyArea = "emergency_verify_api"
	AreaEmergencyWeeklyAPI  LatencyArea = "emergency_weekly_api"
	AreaAdminHealthEndpoint LatencyArea = "admin_health_endpoint"
	AreaAIHealthEndpoint    LatencyArea = "ai_health_endpoint"
	AreaABNVerifyAPI        LatencyArea = "abn_verify_api"
	AreaOnboardingAPI       LatencyArea = "onboarding_api"
	AreaMonetizationAPI     LatencyArea = "monetization_api"
)

var latencyAreas = map[LatencyArea]struct{}{
	AreaSearchSuburbs: {}, AreaSearchTriage: {}, AreaCommercialFunnel: {},
	AreaTrainerProfilePage: {}, AreaEmergencyTriageAPI: {}, AreaEmergencyVerifyAPI: {},
	AreaEmergencyWeeklyAPI: {}, AreaAdminHealthEndpoint: {}, AreaAIHealthEndpoint: {},
	AreaABNVerifyAPI: {}, AreaOnboardingAPI: {}, AreaMonetizationAPI: {},
}

// ValidLatencyArea reports whether a is a known area.
func ValidLatencyArea(a LatencyArea) bool {
	_, ok := latencyAreas[a]
	return ok
}

// LatencySample is one timed outcome. Success is nil when the caller did not
// report it; only an explicit false counts as a failure.
type LatencySample struct {
	ID         int64          `json:"id,omitempty"`
	Area       LatencyArea    `json:"area"`
	Route      string         `json:"route"`
	DurationMs int            `json:"duration_ms"`
	Success    *bool          `json:"success,omitempty"`
	StatusCode *int           `json:"status_code,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Failed reports whether the sample was explicitly marked unsuccessful.
func (s LatencySample) Failed() bool {
	return s.Success != nil && !*s.Success
}

// LatencySummary is a rolling summary over recent samples.
type LatencySummary struct {
	Count       int     `json:"count"`
	AvgMs       int     `json:"avg_ms"`
	P95Ms       int     `json:"p95_ms"`
	SuccessRate float64 `json:"success_rate"`
}

// Commercial funnel stages, in order. A funnel sample's Route is its stage.
const (
	StageTriageSubmit           = "triage_submit"
	StageSearchResults          = "search_results"
	StageTrainerProfileView     = "trainer_profile_view"
	StagePromotePageView        = "promote_page_view"
	StagePromoteCheckoutSession = "promote_checkout_session"
)

// FunnelStages lists the commercial funnel in order.
var FunnelStages = []string{
	StageTriageSubmit,
	StageSearchResults,
	StageTrainerProfileView,
	StagePromotePageView,
	StagePromoteCheckoutSession,
}

// FunnelStageSummary summarizes one funnel stage.
type FunnelStageSummary struct {
	Stage       string     `json:"stage"`
	Count       int        `json:"count"`
	AvgMs       int        `json:"avg_ms"`
	P95Ms       int        `json:"p95_ms"`
	SuccessRate float64    `json:"success_rate"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// FunnelDropoff describes conversion between two adjacent stages.
type FunnelDropoff struct {
	From           string  `json:"from"`
	To             string  `json:"to"`
	FromCount      int     `json:"from_count"`
	ToCount        int     `json:"to_count"`
	ConversionRate float64 `json:"conversion_rate"`
	DropoffCount   int     `json:"dropoff_count"`
}

// FunnelSummary is the commercial funnel report.
type FunnelSummary struct {
	Stages  []FunnelStageSummary `json:"stages"`
	Dropoff []FunnelDropoff      `json:"dropoff"`
}
