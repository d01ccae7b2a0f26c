package cases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/kyc/models"
	"kycflow/pkg/platform/sentinel"
)

// PostgresStore persists cases in PostgreSQL. The claim is a conditional
// UPDATE affecting 0 or 1 rows, so it stays correct across scaled-out
// instances without any in-process locking.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const caseColumns = `id, user_id, doc_front_id, doc_back_id, selfie_id, address_id,
	status, processing, version, decision_reason, reviewer_notes, reviewed_by,
	decided_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, c *models.Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kyc_cases (`+caseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.UserID, c.DocFrontID, c.DocBackID, c.SelfieID, c.AddressID,
		string(c.Status), c.Processing, c.Version,
		nullString(c.DecisionReason), nullString(c.ReviewerNotes), nullUUID(c.ReviewedBy),
		nullTime(c.DecidedAt), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Case, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM kyc_cases WHERE id = $1`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Update(ctx context.Context, c *models.Case) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE kyc_cases
		SET doc_front_id = $1, doc_back_id = $2, selfie_id = $3, address_id = $4,
			status = $5, processing = $6, decision_reason = $7, reviewer_notes = $8,
			reviewed_by = $9, decided_at = $10, updated_at = $11, version = version + 1
		WHERE id = $12 AND version = $13`,
		c.DocFrontID, c.DocBackID, c.SelfieID, c.AddressID,
		string(c.Status), c.Processing,
		nullString(c.DecisionReason), nullString(c.ReviewerNotes), nullUUID(c.ReviewedBy),
		nullTime(c.DecidedAt), c.UpdatedAt, c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update case rows: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM kyc_cases WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update case existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("case %s: %w", c.ID, sentinel.ErrNotFound)
		}
		return fmt.Errorf("case %s version %d: %w", c.ID, c.Version, sentinel.ErrConflict)
	}
	c.Version++
	return nil
}

func (s *PostgresStore) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*models.Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+caseColumns+` FROM kyc_cases
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, userID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest case for user %s: %w", userID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find latest case: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+caseColumns+` FROM kyc_cases
		WHERE user_id = $1 AND status IN ('PENDING', 'AUTO_REVIEW', 'UNDER_REVIEW', 'NEEDS_MORE_INFO')
		ORDER BY created_at DESC
		LIMIT 1`, userID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active case for user %s: %w", userID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find active case: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.CaseStatus, offset, limit int) ([]*models.Case, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kyc_cases WHERE status = $1`, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cases by status: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+caseColumns+` FROM kyc_cases
		WHERE status = $1
		ORDER BY created_at ASC
		OFFSET $2 LIMIT $3`, string(status), offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list cases by status: %w", err)
	}
	defer rows.Close()

	out, err := collectCases(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *PostgresStore) TryClaim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE kyc_cases
		SET processing = TRUE, updated_at = $2
		WHERE id = $1 AND processing = FALSE`, id, time.Now())
	if err != nil {
		return false, fmt.Errorf("claim case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim case rows: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Release(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE kyc_cases
		SET processing = FALSE, updated_at = $2
		WHERE id = $1`, id, time.Now())
	if err != nil {
		return fmt.Errorf("release case: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindAutoReviewCandidates(ctx context.Context, limit int) ([]*models.Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+caseColumns+` FROM kyc_cases
		WHERE status = 'PENDING' AND processing = FALSE
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("find auto-review candidates: %w", err)
	}
	defer rows.Close()
	return collectCases(rows)
}

func (s *PostgresStore) FindPurgeable(ctx context.Context, cutoff time.Time) ([]*models.Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+caseColumns+` FROM kyc_cases
		WHERE status IN ('APPROVED', 'REJECTED') AND updated_at < $1
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find purgeable cases: %w", err)
	}
	defer rows.Close()
	return collectCases(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*models.Case, error) {
	var (
		c              models.Case
		status         string
		decisionReason sql.NullString
		reviewerNotes  sql.NullString
		reviewedBy     sql.Null[uuid.UUID]
		decidedAt      sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.DocFrontID, &c.DocBackID, &c.SelfieID, &c.AddressID,
		&status, &c.Processing, &c.Version, &decisionReason, &reviewerNotes, &reviewedBy,
		&decidedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = models.CaseStatus(status)
	c.DecisionReason = decisionReason.String
	c.ReviewerNotes = reviewerNotes.String
	if reviewedBy.Valid {
		rb := reviewedBy.V
		c.ReviewedBy = &rb
	}
	if decidedAt.Valid {
		da := decidedAt.Time
		c.DecidedAt = &da
	}
	return &c, nil
}

func collectCases(rows *sql.Rows) ([]*models.Case, error) {
	var out []*models.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullUUID(u *uuid.UUID) sql.Null[uuid.UUID] {
	if u == nil {
		return sql.Null[uuid.UUID]{}
	}
	return sql.Null[uuid.UUID]{V: *u, Valid: true}
}
