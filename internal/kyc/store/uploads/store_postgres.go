package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"kycflow/internal/kyc/models"
	"kycflow/pkg/platform/sentinel"
)

// PostgresStore persists upload records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uploadColumns = `id, type, uploaded_by, checksum_sha256, size_bytes, content_type, storage_path, created_at`

func (s *PostgresStore) Create(ctx context.Context, u *models.Upload) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kyc_uploads (`+uploadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, string(u.Type), u.UploadedBy, u.Checksum, u.SizeBytes, u.ContentType, u.StoragePath, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Upload, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM kyc_uploads WHERE id = $1`, id)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("upload %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Upload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+uploadColumns+` FROM kyc_uploads WHERE id = ANY($1::uuid[])`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("find uploads: %w", err)
	}
	defer rows.Close()

	var out []*models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountOwned(ctx context.Context, ids []uuid.UUID, userID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kyc_uploads WHERE id = ANY($1::uuid[]) AND uploaded_by = $2`,
		pq.Array(uuidStrings(ids)), userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count owned uploads: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kyc_uploads WHERE uploaded_by = $1 AND created_at > $2`,
		userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count uploads since: %w", err)
	}
	return n, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (*models.Upload, error) {
	var (
		u           models.Upload
		uploadType  string
		contentType sql.NullString
		checksum    sql.NullString
	)
	err := row.Scan(&u.ID, &uploadType, &u.UploadedBy, &checksum, &u.SizeBytes, &contentType, &u.StoragePath, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Type = models.UploadType(uploadType)
	u.Checksum = checksum.String
	u.ContentType = contentType.String
	return &u, nil
}
