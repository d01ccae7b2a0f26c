// Package idemkeys maps client idempotency keys to previously created cases.
package idemkeys

import (
	"context"

	"github.com/google/uuid"

	"kycflow/internal/kyc/models"
)

// Store is the persistence contract for idempotency keys. Put fails with
// sentinel.ErrConflict when (userID, key) already exists; a race between two
// first-time submissions with the same key resolves to exactly one winner and
// the loser re-reads the stored mapping.
type Store interface {
	Put(ctx context.Context, k *models.IdemKey) error
	Find(ctx context.Context, userID uuid.UUID, key string) (*models.IdemKey, error)
}
