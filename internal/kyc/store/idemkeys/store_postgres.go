package idemkeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"kycflow/internal/kyc/models"
	"kycflow/pkg/platform/sentinel"
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaches.
const uniqueViolation = "23505"

// PostgresStore persists idempotency keys in PostgreSQL. The unique index on
// (user_id, idem_key) is the mutual-exclusion mechanism for duplicate submits.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, k *models.IdemKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kyc_idem_keys (id, user_id, idem_key, case_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		k.ID, k.UserID, k.Key, k.CaseID, k.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("idempotency key %q for user %s: %w", k.Key, k.UserID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, userID uuid.UUID, key string) (*models.IdemKey, error) {
	var k models.IdemKey
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, idem_key, case_id, created_at
		FROM kyc_idem_keys
		WHERE user_id = $1 AND idem_key = $2`,
		userID, key,
	).Scan(&k.ID, &k.UserID, &k.Key, &k.CaseID, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("idempotency key %q for user %s: %w", key, userID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find idempotency key: %w", err)
	}
	return &k, nil
}
