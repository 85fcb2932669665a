package moderation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensa/internal/arbiter"
	"github.com/ashita-ai/kensa/internal/heuristics"
	"github.com/ashita-ai/kensa/internal/mode"
	"github.com/ashita-ai/kensa/internal/model"
	"github.com/ashita-ai/kensa/internal/service/moderation"
	"github.com/ashita-ai/kensa/internal/storage/sqlite"
	"github.com/ashita-ai/kensa/internal/testutil"
)

func setup(t *testing.T, cfg moderation.Config) (*moderation.Service, *sqlite.Store) {
	t.Helper()
	store := testutil.NewSQLiteStore(t)

	modes := mode.NewResolver(mode.Config{Global: "disabled"}, nil)
	arb := arbiter.New(nil, modes, arbiter.NewRecorder(store, store, nil), nil, arbiter.Config{})
	return moderation.New(arb, store, cfg, nil), store
}

func addReview(t *testing.T, store *sqlite.Store, at time.Time, rating int, content string) model.Review {
	t.Helper()
	r, err := store.CreateReview(context.Background(), model.Review{BusinessID: 1, Rating: rating, Content: content, CreatedAt: at})
	require.NoError(t, err)
	return r
}

func TestModerateSpamRejectedRegardlessOfRating(t *testing.T) {
	svc, _ := setup(t, moderation.Config{})
	j := svc.Moderate(context.Background(), 1, heuristics.ReviewInput{Rating: 5, Content: "Amazing! visit www.cheap-leads.biz"})
	assert.Equal(t, heuristics.ActionAutoReject, j.Action)
	assert.Equal(t, 0.92, j.Confidence)
}

func TestMinLengthIsConfigurable(t *testing.T) {
	review := heuristics.ReviewInput{Rating: 5, Content: "Great session, really helped."}

	svc, _ := setup(t, moderation.Config{})
	assert.Equal(t, heuristics.ActionManual, svc.Moderate(context.Background(), 1, review).Action)

	short, _ := setup(t, moderation.Config{MinLength: 10})
	assert.Equal(t, heuristics.ActionAutoApprove, short.Moderate(context.Background(), 1, review).Action)
}

func TestRunCycleAppliesDecisionsAndSkipsDecided(t *testing.T) {
	svc, store := setup(t, moderation.Config{})
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

	good := addReview(t, store, base, 5,
		"Great trainer, patient and kind. Our reactive dog made real progress after every session with her.")
	spam := addReview(t, store, base.Add(time.Minute), 4, "buy now at http://spam.example")
	low := addReview(t, store, base.Add(2*time.Minute), 1, "Did not turn up.")

	res, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ModerationRunResult{Processed: 3, AutoApproved: 1, AutoRejected: 1, ManualReview: 1}, res)

	pending, err := store.PendingReviews(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, low.ID, pending[0].ID)

	for _, id := range []int64{good.ID, spam.ID, low.ID} {
		_, err := store.GetLedgerEntry(ctx, model.DomainModeration, id)
		require.NoError(t, err)
	}

	res, err = svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ModerationRunResult{AlreadyDecided: 1}, res)

	snap, err := store.CronSnapshot(ctx, moderation.JobName)
	require.NoError(t, err)
	assert.NotNil(t, snap.LastSuccessAt)
	assert.Nil(t, snap.LastFailureAt)
}

func TestRunCycleRespectsBatchSize(t *testing.T) {
	svc, store := setup(t, moderation.Config{BatchSize: 2})
	base := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	for i := range 3 {
		addReview(t, store, base.Add(time.Duration(i)*time.Minute), 3, "fine")
	}
	res, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
}

func TestRunCycleWithoutStore(t *testing.T) {
	svc := moderation.New(arbiter.New(nil, nil, nil, nil, arbiter.Config{}), nil, moderation.Config{}, nil)
	_, err := svc.RunCycle(context.Background())
	assert.Error(t, err)
}
