package cases

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/kyc/models"
	"kycflow/pkg/platform/sentinel"
)

func newTestCase(userID uuid.UUID, status models.CaseStatus, createdAt time.Time) *models.Case {
	return &models.Case{
		ID:         uuid.NewString(),
		UserID:     userID,
		DocFrontID: uuid.NewString(),
		DocBackID:  uuid.NewString(),
		SelfieID:   uuid.NewString(),
		AddressID:  uuid.NewString(),
		Status:     status,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCase(uuid.New(), models.StatusPending, time.Now())

	require.NoError(t, store.Create(ctx, c))

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_ConcurrentClaim_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCase(uuid.New(), models.StatusPending, time.Now())
	require.NoError(t, store.Create(ctx, c))

	const goroutines = 50
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TryClaim(ctx, c.ID)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one claimer must win")

	require.NoError(t, store.Release(ctx, c.ID))
	ok, err := store.TryClaim(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok, "claim must be available again after release")
}

func TestMemoryStore_Update_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCase(uuid.New(), models.StatusPending, time.Now())
	require.NoError(t, store.Create(ctx, c))

	first, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	second, err := store.Get(ctx, c.ID)
	require.NoError(t, err)

	first.Status = models.StatusAutoReview
	require.NoError(t, store.Update(ctx, first))

	second.Status = models.StatusUnderReview
	err = store.Update(ctx, second)
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAutoReview, got.Status, "losing writer must not clobber")
}

func TestMemoryStore_FindActiveByUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	userID := uuid.New()
	now := time.Now()

	require.NoError(t, store.Create(ctx, newTestCase(userID, models.StatusRejected, now.Add(-2*time.Hour))))
	active := newTestCase(userID, models.StatusNeedsMoreInfo, now.Add(-time.Hour))
	require.NoError(t, store.Create(ctx, active))

	got, err := store.FindActiveByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)

	_, err = store.FindActiveByUser(ctx, uuid.New())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_FindAutoReviewCandidates_FIFO(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	oldest := newTestCase(uuid.New(), models.StatusPending, now.Add(-3*time.Hour))
	middle := newTestCase(uuid.New(), models.StatusPending, now.Add(-2*time.Hour))
	newest := newTestCase(uuid.New(), models.StatusPending, now.Add(-time.Hour))
	claimed := newTestCase(uuid.New(), models.StatusPending, now.Add(-4*time.Hour))
	claimed.Processing = true
	done := newTestCase(uuid.New(), models.StatusApproved, now.Add(-5*time.Hour))

	for _, c := range []*models.Case{newest, oldest, claimed, middle, done} {
		require.NoError(t, store.Create(ctx, c))
	}

	got, err := store.FindAutoReviewCandidates(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, oldest.ID, got[0].ID)
	assert.Equal(t, middle.ID, got[1].ID)
}

func TestMemoryStore_ListByStatus_Paging(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, newTestCase(uuid.New(), models.StatusUnderReview, now.Add(time.Duration(i)*time.Minute))))
	}

	page, total, err := store.ListByStatus(ctx, models.StatusUnderReview, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 2)

	empty, total, err := store.ListByStatus(ctx, models.StatusApproved, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, empty)
}

func TestMemoryStore_FindPurgeable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	old := newTestCase(uuid.New(), models.StatusRejected, now.Add(-40*24*time.Hour))
	old.UpdatedAt = now.Add(-31 * 24 * time.Hour)
	fresh := newTestCase(uuid.New(), models.StatusApproved, now)
	stillActive := newTestCase(uuid.New(), models.StatusUnderReview, now.Add(-60*24*time.Hour))
	stillActive.UpdatedAt = stillActive.CreatedAt

	for _, c := range []*models.Case{old, fresh, stillActive} {
		require.NoError(t, store.Create(ctx, c))
	}

	got, err := store.FindPurgeable(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, old.ID, got[0].ID)
}
