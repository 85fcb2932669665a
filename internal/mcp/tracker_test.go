package mcp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestViewTracker_RecordAndRecent(t *testing.T) {
	tracker := newViewTracker(time.Hour)

	assert.False(t, tracker.Recent("ops-bot"), "no view recorded yet")
	tracker.Record("ops-bot")
	assert.True(t, tracker.Recent("ops-bot"))
	assert.False(t, tracker.Recent("dashboard"), "views are per operator")
}

func TestViewTracker_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := newViewTracker(15 * time.Minute)
	tracker.now = func() time.Time { return now }

	tracker.Record("ops-bot")
	now = now.Add(14 * time.Minute)
	assert.True(t, tracker.Recent("ops-bot"))

	now = now.Add(2 * time.Minute)
	assert.False(t, tracker.Recent("ops-bot"))
	assert.Empty(t, tracker.views, "expired entry is deleted on read")
}

func TestViewTracker_PurgeOnGrowth(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := newViewTracker(time.Minute)
	tracker.now = func() time.Time { return now }

	for i := range 1000 {
		tracker.Record(fmt.Sprintf("op-%d", i))
	}
	now = now.Add(time.Hour)
	tracker.Record("fresh")

	assert.Len(t, tracker.views, 1)
	assert.True(t, tracker.Recent("fresh"))
}
