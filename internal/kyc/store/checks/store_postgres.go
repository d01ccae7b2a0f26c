package checks

import (
	"context"
	"database/sql"
	"fmt"

	"kycflow/internal/kyc/models"
)

// PostgresStore persists check records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, c *models.Check) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kyc_checks (id, case_id, type, score, passed, details_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.CaseID, c.Type, nullFloat(c.Score), nullBool(c.Passed), c.Details, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByCase(ctx context.Context, caseID string) ([]*models.Check, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, type, score, passed, details_json, created_at
		FROM kyc_checks
		WHERE case_id = $1
		ORDER BY created_at ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer rows.Close()

	var out []*models.Check
	for rows.Next() {
		var (
			c      models.Check
			score  sql.NullFloat64
			passed sql.NullBool
		)
		if err := rows.Scan(&c.ID, &c.CaseID, &c.Type, &score, &passed, &c.Details, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		if score.Valid {
			v := score.Float64
			c.Score = &v
		}
		if passed.Valid {
			v := passed.Bool
			c.Passed = &v
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checks: %w", err)
	}
	return out, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
