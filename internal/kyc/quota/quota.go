// Package quota enforces the per-user daily upload limit.
package quota

import (
	"context"

	"github.com/google/uuid"
)

// DailyUploadLimit caps how many evidence files one user may upload per UTC day.
const DailyUploadLimit = 20

// Checker answers whether a user may upload another file today and records
// accepted uploads.
type Checker interface {
	// Allow reports whether the user is under today's limit. It does not
	// consume quota; call Record after the upload is accepted.
	Allow(ctx context.Context, userID uuid.UUID) (bool, error)

	// Record consumes one unit of today's quota.
	Record(ctx context.Context, userID uuid.UUID) error
}
