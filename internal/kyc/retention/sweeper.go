// Package retention purges stored evidence for old, settled cases. Case rows
// stay behind as the compliance record; only the imagery is discarded.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kycflow/internal/blob"
	"kycflow/internal/kyc/metrics"
	"kycflow/internal/kyc/store/cases"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/requestcontext"
)

// Sweeper deletes blobs of terminal cases past the retention window.
type Sweeper struct {
	cases   cases.Store
	blobs   blob.Store
	audit   *audit.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger

	window   time.Duration
	interval time.Duration
}

func New(
	caseStore cases.Store,
	blobStore blob.Store,
	auditPub *audit.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	window, interval time.Duration,
) *Sweeper {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		cases:    caseStore,
		blobs:    blobStore,
		audit:    auditPub,
		metrics:  m,
		logger:   logger,
		window:   window,
		interval: interval,
	}
}

// PurgeOnce deletes the evidence blobs of every settled case whose last
// update is older than the window. Per-blob failures are logged and ignored;
// the case record is never touched.
func (s *Sweeper) PurgeOnce(ctx context.Context) (int, error) {
	cutoff := requestcontext.Now(ctx).Add(-s.window)
	expired, err := s.cases.FindPurgeable(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find purgeable cases: %w", err)
	}

	purged := 0
	for _, c := range expired {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}
		deleted := 0
		for _, raw := range c.UploadIDs() {
			id, err := uuid.Parse(raw)
			if err != nil {
				s.logger.WarnContext(ctx, "skipping malformed upload id during purge",
					"case_id", c.ID, "upload_id", raw)
				continue
			}
			if err := s.blobs.Delete(ctx, id); err != nil {
				s.logger.WarnContext(ctx, "blob delete failed, continuing sweep",
					"case_id", c.ID, "upload_id", raw, "error", err)
				continue
			}
			deleted++
		}
		purged++
		s.metrics.AddBlobsPurged(deleted)
		if s.audit != nil {
			err := s.audit.Emit(ctx, audit.Event{
				UserID:  c.UserID.String(),
				Subject: c.ID,
				Action:  audit.ActionCaseBlobsPurged,
			})
			if err != nil {
				s.logger.WarnContext(ctx, "audit emit failed", "case_id", c.ID, "error", err)
			}
		}
		s.logger.InfoContext(ctx, "purged case evidence",
			"case_id", c.ID, "blobs_deleted", deleted)
	}
	return purged, nil
}

// Loop sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Loop(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.PurgeOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
			}
		}
	}
}
