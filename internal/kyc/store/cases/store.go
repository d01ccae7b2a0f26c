// Package cases persists verification cases. The store owns the two
// concurrency primitives the pipeline relies on: the atomic claim on the
// processing flag and optimistic versioning on case updates.
package cases

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/kyc/models"
)

// Store is the persistence contract for cases.
type Store interface {
	Create(ctx context.Context, c *models.Case) error
	Get(ctx context.Context, id string) (*models.Case, error)

	// Update persists every mutable field of the case. It fails with
	// sentinel.ErrConflict when the stored version differs from c.Version
	// (lost update) and bumps c.Version on success.
	Update(ctx context.Context, c *models.Case) error

	// FindLatestByUser returns the most recently created case for the user,
	// or sentinel.ErrNotFound.
	FindLatestByUser(ctx context.Context, userID uuid.UUID) (*models.Case, error)

	// FindActiveByUser returns the most recently created case in a
	// non-terminal status, or sentinel.ErrNotFound.
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Case, error)

	ListByStatus(ctx context.Context, status models.CaseStatus, offset, limit int) ([]*models.Case, int64, error)

	// TryClaim atomically sets processing=true if it is currently false.
	// Exactly one concurrent caller observes true.
	TryClaim(ctx context.Context, id string) (bool, error)

	// Release clears the processing flag unconditionally.
	Release(ctx context.Context, id string) error

	// FindAutoReviewCandidates returns up to limit unclaimed PENDING cases,
	// oldest created first.
	FindAutoReviewCandidates(ctx context.Context, limit int) ([]*models.Case, error)

	// FindPurgeable returns terminal (APPROVED/REJECTED) cases whose last
	// update is older than cutoff.
	FindPurgeable(ctx context.Context, cutoff time.Time) ([]*models.Case, error)
}
