package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/kyc/store/uploads"
	"kycflow/pkg/requestcontext"
)

// StoreChecker derives the daily count from the uploads store. Used when
// Redis is not configured; the count is implicit in the created records, so
// Record is a no-op.
type StoreChecker struct {
	uploads uploads.Store
	limit   int64
}

func NewStoreChecker(store uploads.Store) *StoreChecker {
	return &StoreChecker{uploads: store, limit: DailyUploadLimit}
}

func (c *StoreChecker) Allow(ctx context.Context, userID uuid.UUID) (bool, error) {
	now := requestcontext.Now(ctx)
	todayStart := now.UTC().Truncate(24 * time.Hour)
	n, err := c.uploads.CountByUserSince(ctx, userID, todayStart)
	if err != nil {
		return false, fmt.Errorf("count today's uploads: %w", err)
	}
	return n < c.limit, nil
}

func (c *StoreChecker) Record(context.Context, uuid.UUID) error {
	return nil
}
