// Package checks persists the append-only audit trail of ML sub-checks.
package checks

import (
	"context"

	"kycflow/internal/kyc/models"
)

// Store is the persistence contract for check records. Rows are appended and
// never updated or deleted by the pipeline.
type Store interface {
	Append(ctx context.Context, c *models.Check) error
	ListByCase(ctx context.Context, caseID string) ([]*models.Check, error)
}
