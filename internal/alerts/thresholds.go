package alerts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds are the rule limits. The zero value is not useful; start from
// DefaultThresholds.
type Thresholds struct {
	EmergencyCronMinutes  float64 `yaml:"emergency_cron_minutes"`
	FallbackRate          float64 `yaml:"fallback_rate"`
	FallbackMinSample     int     `yaml:"fallback_min_sample"`
	AIHealthSuccessRate   float64 `yaml:"ai_health_success_rate"`
	CronHealthSuccessRate float64 `yaml:"cron_health_success_rate"`
	SearchP95Ms           int     `yaml:"search_p95_ms"`
	EmergencyTriageP95Ms  int     `yaml:"emergency_triage_p95_ms"`
	EmergencyVerifyP95Ms  int     `yaml:"emergency_verify_p95_ms"`
	ABNVerifyP95Ms        int     `yaml:"abn_verify_p95_ms"`
	TrainerProfileP95Ms   int     `yaml:"trainer_profile_p95_ms"`
	OnboardingP95Ms       int     `yaml:"onboarding_p95_ms"`
	PaymentFailureRate    float64 `yaml:"payment_failure_rate"`
	PaymentCriticalRate   float64 `yaml:"payment_critical_rate"`
	PaymentSyncErrors     int     `yaml:"payment_sync_errors"`
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EmergencyCronMinutes:  30,
		FallbackRate:          0.30,
		FallbackMinSample:     10,
		AIHealthSuccessRate:   0.75,
		CronHealthSuccessRate: 0.80,
		SearchP95Ms:           3000,
		EmergencyTriageP95Ms:  3000,
		EmergencyVerifyP95Ms:  5000,
		ABNVerifyP95Ms:        3500,
		TrainerProfileP95Ms:   3000,
		OnboardingP95Ms:       3500,
		PaymentFailureRate:    0.15,
		PaymentCriticalRate:   0.35,
		PaymentSyncErrors:     3,
	}
}

// LoadThresholds reads a YAML file over the defaults. An empty path returns
// the defaults. Unknown keys are rejected so typos do not silently fall back.
func LoadThresholds(path string) (Thresholds, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("alerts: read thresholds: %w", err)
	}
	return ParseThresholds(data)
}

// ParseThresholds decodes YAML over the defaults.
func ParseThresholds(data []byte) (Thresholds, error) {
	t := DefaultThresholds()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Thresholds{}, fmt.Errorf("alerts: parse thresholds: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

// Validate checks that rates are fractions and limits are non-negative.
func (t Thresholds) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"fallback_rate":            t.FallbackRate,
		"ai_health_success_rate":   t.AIHealthSuccessRate,
		"cron_health_success_rate": t.CronHealthSuccessRate,
		"payment_failure_rate":     t.PaymentFailureRate,
		"payment_critical_rate":    t.PaymentCriticalRate,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("alerts: %s must be within [0,1] (got %v)", name, v))
		}
	}
	for name, v := range map[string]int{
		"fallback_min_sample":     t.FallbackMinSample,
		"search_p95_ms":           t.SearchP95Ms,
		"emergency_triage_p95_ms": t.EmergencyTriageP95Ms,
		"emergency_verify_p95_ms": t.EmergencyVerifyP95Ms,
		"abn_verify_p95_ms":       t.ABNVerifyP95Ms,
		"trainer_profile_p95_ms":  t.TrainerProfileP95Ms,
		"onboarding_p95_ms":       t.OnboardingP95Ms,
		"payment_sync_errors":     t.PaymentSyncErrors,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("alerts: %s must be non-negative (got %d)", name, v))
		}
	}
	if t.EmergencyCronMinutes <= 0 {
		errs = append(errs, fmt.Errorf("alerts: emergency_cron_minutes must be positive (got %v)", t.EmergencyCronMinutes))
	}
	return errors.Join(errs...)
}
