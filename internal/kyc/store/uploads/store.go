// Package uploads persists immutable records of stored evidence files.
package uploads

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/kyc/models"
)

// Store is the persistence contract for upload records. Records are written
// once and never mutated.
type Store interface {
	Create(ctx context.Context, u *models.Upload) error
	Get(ctx context.Context, id uuid.UUID) (*models.Upload, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Upload, error)

	// CountOwned reports how many of the given ids exist and belong to userID.
	CountOwned(ctx context.Context, ids []uuid.UUID, userID uuid.UUID) (int64, error)

	// CountByUserSince reports how many uploads the user created after the
	// given instant. Backs the daily upload quota when Redis is not wired.
	CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
}
