package model_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensa/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestParseMode(t *testing.T) {
	m, ok := model.ParseMode(" Shadow ")
	require.True(t, ok)
	assert.Equal(t, model.ModeShadow, m)

	_, ok = model.ParseMode("sometimes")
	assert.False(t, ok)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, model.ClampConfidence(-0.3))
	assert.Equal(t, 1.0, model.ClampConfidence(1.7))
	assert.Equal(t, 0.42, model.ClampConfidence(0.42))
	assert.Equal(t, 0.0, model.ClampConfidence(math.NaN()))
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, model.SeverityCritical.Rank(), model.SeverityWarning.Rank())
	assert.Less(t, model.SeverityWarning.Rank(), model.SeverityInfo.Rank())
}

func TestOverrideActiveAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := model.Override{Service: "monetization", ExpiresAt: now.Add(time.Minute)}
	assert.True(t, o.ActiveAt(now))
	assert.False(t, o.ActiveAt(now.Add(time.Minute)), "expiry instant is already inactive")
}

func TestOverrideRequestValidate(t *testing.T) {
	ok := model.OverrideRequest{Service: "abn_recheck", Status: model.OverrideInvestigating}
	assert.NoError(t, ok.Validate())

	err := model.OverrideRequest{Status: model.OverrideInvestigating}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service")

	err = model.OverrideRequest{Service: "x", Status: "maybe"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status")
}

func TestPaymentEventClassification(t *testing.T) {
	assert.True(t, model.PaymentEvent{EventType: "invoice.payment_failed"}.IsFailure())
	assert.True(t, model.PaymentEvent{Status: "failed"}.IsFailure())
	assert.False(t, model.PaymentEvent{EventType: "invoice.paid", Status: "ok"}.IsFailure())
	assert.True(t, model.PaymentEvent{EventType: "subscription_sync_error"}.IsSyncError())
	assert.True(t, model.PaymentEvent{Status: "sync_error"}.IsSyncError())
}

func TestRegistryRecordDisplayName(t *testing.T) {
	r := model.RegistryRecord{BusinessNames: []string{"Good Dog Training"}}
	assert.Equal(t, "Good Dog Training", r.DisplayName())

	r.EntityName = ptr("GOOD DOG PTY LTD")
	assert.Equal(t, "GOOD DOG PTY LTD", r.DisplayName())

	assert.Equal(t, "", model.RegistryRecord{}.DisplayName())
}

func TestLatencySampleFailed(t *testing.T) {
	assert.False(t, model.LatencySample{}.Failed(), "missing success is not a failure")
	assert.False(t, model.LatencySample{Success: ptr(true)}.Failed())
	assert.True(t, model.LatencySample{Success: ptr(false)}.Failed())
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, model.RoleAtLeast(model.RoleAdmin, model.RoleOperator))
	assert.True(t, model.RoleAtLeast(model.RoleOperator, model.RoleOperator))
	assert.False(t, model.RoleAtLeast(model.RoleReader, model.RoleOperator))
	assert.False(t, model.RoleAtLeast("", model.RoleReader))
}
