//go:build integration

package integrationtests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/store/cases"
	"kycflow/internal/kyc/store/idemkeys"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/testutil/containers"
)

func newCase(userID uuid.UUID) *models.Case {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Case{
		ID:         uuid.NewString(),
		UserID:     userID,
		DocFrontID: uuid.NewString(),
		DocBackID:  uuid.NewString(),
		SelfieID:   uuid.NewString(),
		AddressID:  uuid.NewString(),
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestPostgresCaseStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := cases.NewPostgres(pg.DB)
	ctx := context.Background()

	t.Run("claim is granted exactly once under contention", func(t *testing.T) {
		require.NoError(t, pg.Truncate(ctx))
		c := newCase(uuid.New())
		require.NoError(t, store.Create(ctx, c))

		const workers = 20
		var wg sync.WaitGroup
		wins := make(chan bool, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.TryClaim(ctx, c.ID)
				require.NoError(t, err)
				wins <- ok
			}()
		}
		wg.Wait()
		close(wins)

		won := 0
		for ok := range wins {
			if ok {
				won++
			}
		}
		assert.Equal(t, 1, won)

		require.NoError(t, store.Release(ctx, c.ID))
		ok, err := store.TryClaim(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, ok, "claim must be grantable again after release")
	})

	t.Run("stale version update conflicts", func(t *testing.T) {
		require.NoError(t, pg.Truncate(ctx))
		c := newCase(uuid.New())
		require.NoError(t, store.Create(ctx, c))

		fresh, err := store.Get(ctx, c.ID)
		require.NoError(t, err)
		stale, err := store.Get(ctx, c.ID)
		require.NoError(t, err)

		fresh.ReviewerNotes = "first writer"
		require.NoError(t, store.Update(ctx, fresh))

		stale.ReviewerNotes = "second writer"
		err = store.Update(ctx, stale)
		assert.True(t, errors.Is(err, sentinel.ErrConflict))
	})

	t.Run("candidates come back oldest first and claimed ones are skipped", func(t *testing.T) {
		require.NoError(t, pg.Truncate(ctx))
		older := newCase(uuid.New())
		older.CreatedAt = older.CreatedAt.Add(-time.Hour)
		older.UpdatedAt = older.CreatedAt
		newer := newCase(uuid.New())
		claimed := newCase(uuid.New())
		for _, c := range []*models.Case{newer, older, claimed} {
			require.NoError(t, store.Create(ctx, c))
		}
		ok, err := store.TryClaim(ctx, claimed.ID)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := store.FindAutoReviewCandidates(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, older.ID, got[0].ID)
		assert.Equal(t, newer.ID, got[1].ID)
	})

	t.Run("nullable decision fields round-trip", func(t *testing.T) {
		require.NoError(t, pg.Truncate(ctx))
		c := newCase(uuid.New())
		require.NoError(t, store.Create(ctx, c))

		reviewer := uuid.New()
		decidedAt := time.Now().UTC().Truncate(time.Microsecond)
		c.Status = models.StatusUnderReview
		c.DecisionReason = "needs another look"
		c.ReviewedBy = &reviewer
		c.DecidedAt = &decidedAt
		require.NoError(t, store.Update(ctx, c))

		got, err := store.Get(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ReviewedBy)
		assert.Equal(t, reviewer, *got.ReviewedBy)
		require.NotNil(t, got.DecidedAt)
		assert.WithinDuration(t, decidedAt, *got.DecidedAt, time.Millisecond)
		assert.Equal(t, int64(1), got.Version)
	})
}

func TestPostgresIdemKeyStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := idemkeys.NewPostgres(pg.DB)
	ctx := context.Background()

	userID := uuid.New()
	first := &models.IdemKey{
		ID:        uuid.New(),
		UserID:    userID,
		Key:       "submit-1",
		CaseID:    uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Put(ctx, first))

	dup := &models.IdemKey{
		ID:        uuid.New(),
		UserID:    userID,
		Key:       "submit-1",
		CaseID:    uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	err := store.Put(ctx, dup)
	assert.True(t, errors.Is(err, sentinel.ErrConflict))

	got, err := store.Find(ctx, userID, "submit-1")
	require.NoError(t, err)
	assert.Equal(t, first.CaseID, got.CaseID)

	_, err = store.Find(ctx, userID, "unknown")
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}
