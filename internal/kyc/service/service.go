// Package service implements the case API: submission, lookup, review
// decisions and the upload intake. It owns every legality check around the
// case state machine; stores stay mechanical.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"kycflow/internal/blob"
	"kycflow/internal/kyc/metrics"
	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/quota"
	"kycflow/internal/kyc/store/cases"
	"kycflow/internal/kyc/store/checks"
	"kycflow/internal/kyc/store/idemkeys"
	"kycflow/internal/kyc/store/uploads"
	"kycflow/pkg/domainerrors"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/platform/sentinel"
	"kycflow/pkg/requestcontext"
)

// SystemReviewer marks decisions made by automation rather than a human.
var SystemReviewer = uuid.Nil

// Upload intake limits, matching the public contract.
const (
	maxUploadBytes = 10 << 20
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Service is the case API. All methods return coded domain errors.
type Service struct {
	cases    cases.Store
	uploads  uploads.Store
	checks   checks.Store
	idemKeys idemkeys.Store
	blobs    blob.Store
	quota    quota.Checker
	audit    *audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(
	caseStore cases.Store,
	uploadStore uploads.Store,
	checkStore checks.Store,
	idemKeyStore idemkeys.Store,
	blobStore blob.Store,
	quotaChecker quota.Checker,
	auditPub *audit.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		cases:    caseStore,
		uploads:  uploadStore,
		checks:   checkStore,
		idemKeys: idemKeyStore,
		blobs:    blobStore,
		quota:    quotaChecker,
		audit:    auditPub,
		metrics:  m,
		logger:   logger,
	}
}

// Upload validates and stores one evidence file, returning its record.
func (s *Service) Upload(ctx context.Context, userID uuid.UUID, declaredType, contentType string, data []byte) (*models.Upload, error) {
	uploadType := models.UploadType(declaredType)
	if !models.AllowedUploadTypes[uploadType] {
		return nil, domainerrors.Newf(domainerrors.CodeBadRequest, "invalid upload type %q", declaredType)
	}
	if len(data) == 0 {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "empty file")
	}
	if len(data) > maxUploadBytes {
		return nil, domainerrors.New(domainerrors.CodePayloadTooLarge, "max upload size is 10MiB")
	}
	ct := strings.ToLower(contentType)
	if !allowedContentTypes[ct] {
		return nil, domainerrors.New(domainerrors.CodeUnsupportedMedia, "jpeg/png/webp only")
	}

	ok, err := s.quota.Allow(ctx, userID)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "quota check failed")
	}
	if !ok {
		return nil, domainerrors.New(domainerrors.CodeTooManyRequests, "daily upload limit reached")
	}

	sum := sha256.Sum256(data)
	upload := &models.Upload{
		ID:          uuid.New(),
		Type:        uploadType,
		UploadedBy:  userID,
		Checksum:    hex.EncodeToString(sum[:]),
		SizeBytes:   int64(len(data)),
		ContentType: ct,
		CreatedAt:   requestcontext.Now(ctx),
	}

	path, err := s.blobs.Store(ctx, upload.ID, data, ct)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "store file")
	}
	upload.StoragePath = path

	if err := s.uploads.Create(ctx, upload); err != nil {
		// Best effort: don't leave an orphan blob behind a failed record.
		if delErr := s.blobs.Delete(ctx, upload.ID); delErr != nil {
			s.logger.WarnContext(ctx, "orphan blob left after failed upload record",
				"upload_id", upload.ID, "error", delErr)
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "record upload")
	}

	if err := s.quota.Record(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "failed to record upload quota", "user_id", userID, "error", err)
	}
	s.metrics.IncrementUploads()
	return upload, nil
}

// SubmitParams are the inputs of one submit call.
type SubmitParams struct {
	DocFrontID     string
	DocBackID      string
	SelfieID       string
	AddressID      string
	Consent        bool
	IdempotencyKey string
}

// Submit validates the four uploads and creates or reuses the user's case.
// A repeated call with the same idempotency key returns the case the first
// call produced.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, p SubmitParams) (*models.Case, error) {
	if !p.Consent {
		s.metrics.IncrementSubmitted("rejected")
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "consent required")
	}

	if p.IdempotencyKey != "" {
		if key, err := s.idemKeys.Find(ctx, userID, p.IdempotencyKey); err == nil {
			c, err := s.cases.Get(ctx, key.CaseID)
			if err != nil {
				return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load case for idempotency key")
			}
			s.metrics.IncrementSubmitted("reused")
			return c, nil
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "idempotency lookup failed")
		}
	}

	ids, err := parseUploadIDs(p)
	if err != nil {
		s.metrics.IncrementSubmitted("rejected")
		return nil, err
	}

	if err := s.validateUploads(ctx, userID, p, ids); err != nil {
		s.metrics.IncrementSubmitted("rejected")
		return nil, err
	}

	c, created, err := s.createOrReuseCase(ctx, userID, p)
	if err != nil {
		s.metrics.IncrementSubmitted("rejected")
		return nil, err
	}

	if p.IdempotencyKey != "" {
		c, err = s.recordIdemKey(ctx, userID, p.IdempotencyKey, c)
		if err != nil {
			return nil, err
		}
	}

	outcome := "reused"
	if created {
		outcome = "created"
	}
	s.metrics.IncrementSubmitted(outcome)
	s.emitAudit(ctx, audit.Event{
		UserID:  userID.String(),
		Subject: c.ID,
		Action:  audit.ActionCaseSubmitted,
	})
	return c, nil
}

func parseUploadIDs(p SubmitParams) ([4]uuid.UUID, error) {
	var ids [4]uuid.UUID
	for i, raw := range []string{p.DocFrontID, p.DocBackID, p.SelfieID, p.AddressID} {
		id, err := uuid.Parse(raw)
		if err != nil {
			return ids, domainerrors.New(domainerrors.CodeBadRequest, "upload ids must be valid UUIDs")
		}
		ids[i] = id
	}
	seen := make(map[uuid.UUID]bool, 4)
	for _, id := range ids {
		if seen[id] {
			return ids, domainerrors.New(domainerrors.CodeBadRequest, "uploads must be four distinct files")
		}
		seen[id] = true
	}
	return ids, nil
}

func (s *Service) validateUploads(ctx context.Context, userID uuid.UUID, p SubmitParams, ids [4]uuid.UUID) error {
	owned, err := s.uploads.CountOwned(ctx, ids[:], userID)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "ownership check failed")
	}
	if owned != int64(len(ids)) {
		return domainerrors.New(domainerrors.CodeBadRequest, "upload ids invalid or not owned by user")
	}

	found, err := s.uploads.FindByIDs(ctx, ids[:])
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "upload lookup failed")
	}
	byID := make(map[uuid.UUID]*models.Upload, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}

	slots := []struct {
		field    string
		id       uuid.UUID
		expected models.UploadType
	}{
		{"docFrontId", ids[0], models.UploadDocFront},
		{"docBackId", ids[1], models.UploadDocBack},
		{"selfieId", ids[2], models.UploadSelfie},
		{"addressId", ids[3], models.UploadAddressProof},
	}
	for _, slot := range slots {
		u, ok := byID[slot.id]
		if !ok {
			return domainerrors.Newf(domainerrors.CodeBadRequest, "missing upload for %s", slot.field)
		}
		if u.Type != slot.expected {
			return domainerrors.Newf(domainerrors.CodeBadRequest,
				"%s type mismatch: expected %s but was %s", slot.field, slot.expected, u.Type)
		}
	}
	return nil
}

func (s *Service) createOrReuseCase(ctx context.Context, userID uuid.UUID, p SubmitParams) (*models.Case, bool, error) {
	now := requestcontext.Now(ctx)

	active, err := s.cases.FindActiveByUser(ctx, userID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, domainerrors.Wrap(err, domainerrors.CodeInternal, "active case lookup failed")
	}

	if active == nil {
		c := &models.Case{
			ID:         uuid.NewString(),
			UserID:     userID,
			DocFrontID: p.DocFrontID,
			DocBackID:  p.DocBackID,
			SelfieID:   p.SelfieID,
			AddressID:  p.AddressID,
			Status:     models.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.cases.Create(ctx, c); err != nil {
			return nil, false, domainerrors.Wrap(err, domainerrors.CodeInternal, "create case")
		}
		return c, true, nil
	}

	switch active.Status {
	case models.StatusPending, models.StatusNeedsMoreInfo:
		active.DocFrontID = p.DocFrontID
		active.DocBackID = p.DocBackID
		active.SelfieID = p.SelfieID
		active.AddressID = p.AddressID
		active.DecisionReason = ""
		active.ReviewerNotes = ""
		active.ReviewedBy = nil
		active.DecidedAt = nil
		active.UpdatedAt = now
		if err := s.cases.Update(ctx, active); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return nil, false, domainerrors.New(domainerrors.CodeConflict, "case was modified concurrently")
			}
			return nil, false, domainerrors.Wrap(err, domainerrors.CodeInternal, "refresh case")
		}
		return active, false, nil
	default:
		return nil, false, domainerrors.Newf(domainerrors.CodeConflict,
			"an active case already exists with status %s", active.Status)
	}
}

// recordIdemKey stores the key mapping; on a duplicate-key race the loser
// re-reads the winner's case and returns that instead.
func (s *Service) recordIdemKey(ctx context.Context, userID uuid.UUID, key string, c *models.Case) (*models.Case, error) {
	err := s.idemKeys.Put(ctx, &models.IdemKey{
		ID:        uuid.New(),
		UserID:    userID,
		Key:       key,
		CaseID:    c.ID,
		CreatedAt: requestcontext.Now(ctx),
	})
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sentinel.ErrConflict) {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "record idempotency key")
	}
	winner, ferr := s.idemKeys.Find(ctx, userID, key)
	if ferr != nil {
		return nil, domainerrors.Wrap(ferr, domainerrors.CodeInternal, "resolve idempotency race")
	}
	existing, gerr := s.cases.Get(ctx, winner.CaseID)
	if gerr != nil {
		return nil, domainerrors.Wrap(gerr, domainerrors.CodeInternal, "load case for idempotency key")
	}
	return existing, nil
}

// GetMyLatest returns the user's most recently created case.
func (s *Service) GetMyLatest(ctx context.Context, userID uuid.UUID) (*models.Case, error) {
	c, err := s.cases.FindLatestByUser(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, domainerrors.New(domainerrors.CodeNotFound, "no case")
	}
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "latest case lookup failed")
	}
	return c, nil
}

// ListByStatus is the paged admin query.
func (s *Service) ListByStatus(ctx context.Context, status models.CaseStatus, page, size int) ([]*models.Case, int64, error) {
	if !status.Valid() {
		return nil, 0, domainerrors.Newf(domainerrors.CodeBadRequest, "unknown status %q", status)
	}
	if page < 0 {
		page = 0
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	list, total, err := s.cases.ListByStatus(ctx, status, page*size, size)
	if err != nil {
		return nil, 0, domainerrors.Wrap(err, domainerrors.CodeInternal, "list cases")
	}
	return list, total, nil
}

// Decide applies a reviewer verdict to a case.
func (s *Service) Decide(ctx context.Context, caseID string, target models.CaseStatus, reason string, reviewerID uuid.UUID) (*models.Case, error) {
	switch target {
	case models.StatusApproved, models.StatusRejected, models.StatusNeedsMoreInfo:
	default:
		return nil, domainerrors.New(domainerrors.CodeBadRequest,
			"decision must be APPROVED, REJECTED or NEEDS_MORE_INFO")
	}

	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanTransitionTo(target) {
		return nil, domainerrors.Newf(domainerrors.CodeNoSuchTransition,
			"no such transition: %s -> %s", c.Status, target)
	}

	now := requestcontext.Now(ctx)
	c.Status = target
	c.DecisionReason = reason
	c.ReviewerNotes = reason
	c.ReviewedBy = &reviewerID
	c.DecidedAt = &now
	c.UpdatedAt = now
	if err := s.updateCase(ctx, c); err != nil {
		return nil, err
	}

	s.emitAudit(ctx, audit.Event{
		UserID:   c.UserID.String(),
		Subject:  c.ID,
		Action:   audit.ActionCaseDecided,
		Decision: string(target),
		Reason:   reason,
		ActorID:  reviewerID.String(),
	})
	return c, nil
}

// MarkStatus is the automation write path. Re-requesting the current status
// is an idempotent note-only update.
func (s *Service) MarkStatus(ctx context.Context, caseID string, status models.CaseStatus, note string) (*models.Case, error) {
	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	if c.Status == status {
		if note != "" {
			c.ReviewerNotes = note
		}
		c.UpdatedAt = now
		if err := s.updateCase(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	}

	if !c.Status.CanTransitionTo(status) {
		return nil, domainerrors.Newf(domainerrors.CodeNoSuchTransition,
			"no such transition: %s -> %s", c.Status, status)
	}
	c.Status = status
	if note != "" {
		c.ReviewerNotes = note
	}
	c.UpdatedAt = now
	if err := s.updateCase(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListChecks returns the check audit trail of a case for its owner or an
// administrator.
func (s *Service) ListChecks(ctx context.Context, callerID uuid.UUID, isAdmin bool, caseID string) ([]*models.Check, error) {
	c, err := s.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.UserID != callerID && !isAdmin {
		return nil, domainerrors.New(domainerrors.CodeForbidden, "not your case")
	}
	list, err := s.checks.ListByCase(ctx, caseID)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list checks")
	}
	return list, nil
}

// ReadFile returns a stored evidence file for its owner or an administrator.
func (s *Service) ReadFile(ctx context.Context, callerID uuid.UUID, isAdmin bool, uploadID uuid.UUID) (*models.Upload, []byte, error) {
	u, err := s.uploads.Get(ctx, uploadID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, domainerrors.New(domainerrors.CodeNotFound, "no such file")
	}
	if err != nil {
		return nil, nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "upload lookup failed")
	}
	if u.UploadedBy != callerID && !isAdmin {
		return nil, nil, domainerrors.New(domainerrors.CodeForbidden, "not your file")
	}
	data, err := s.blobs.Read(ctx, uploadID)
	if err != nil {
		return nil, nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "read file")
	}
	return u, data, nil
}

func (s *Service) getCase(ctx context.Context, caseID string) (*models.Case, error) {
	c, err := s.cases.Get(ctx, caseID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, domainerrors.Newf(domainerrors.CodeNotFound, "case not found: %s", caseID)
	}
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "case lookup failed")
	}
	return c, nil
}

func (s *Service) updateCase(ctx context.Context, c *models.Case) error {
	err := s.cases.Update(ctx, c)
	if errors.Is(err, sentinel.ErrConflict) {
		return domainerrors.New(domainerrors.CodeConflict, "case was modified concurrently")
	}
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "update case")
	}
	return nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}
