package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/blob"
	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/quota"
	"kycflow/internal/kyc/store/cases"
	"kycflow/internal/kyc/store/checks"
	"kycflow/internal/kyc/store/idemkeys"
	"kycflow/internal/kyc/store/uploads"
	"kycflow/pkg/domainerrors"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/requestcontext"
)

type fixture struct {
	svc     *Service
	cases   *cases.MemoryStore
	uploads *uploads.MemoryStore
	checks  *checks.MemoryStore
	blobs   *blob.MemoryStore
	sink    *audit.MemorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	caseStore := cases.NewMemoryStore()
	uploadStore := uploads.NewMemoryStore()
	checkStore := checks.NewMemoryStore()
	blobStore := blob.NewMemoryStore()
	sink := audit.NewMemorySink()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(
		caseStore,
		uploadStore,
		checkStore,
		idemkeys.NewMemoryStore(),
		blobStore,
		quota.NewStoreChecker(uploadStore),
		audit.NewPublisher(sink),
		nil,
		logger,
	)
	return &fixture{svc: svc, cases: caseStore, uploads: uploadStore, checks: checkStore, blobs: blobStore, sink: sink}
}

// seedUploads stores one upload record per slot type and returns submit
// params referencing them.
func (f *fixture) seedUploads(t *testing.T, userID uuid.UUID) SubmitParams {
	t.Helper()
	ctx := context.Background()
	ids := make(map[models.UploadType]string, 4)
	for _, typ := range []models.UploadType{
		models.UploadDocFront, models.UploadDocBack,
		models.UploadSelfie, models.UploadAddressProof,
	} {
		u := &models.Upload{
			ID:          uuid.New(),
			Type:        typ,
			UploadedBy:  userID,
			Checksum:    "ab",
			SizeBytes:   4,
			ContentType: "image/png",
			StoragePath: "mem",
			CreatedAt:   time.Now(),
		}
		require.NoError(t, f.uploads.Create(ctx, u))
		ids[typ] = u.ID.String()
	}
	return SubmitParams{
		DocFrontID: ids[models.UploadDocFront],
		DocBackID:  ids[models.UploadDocBack],
		SelfieID:   ids[models.UploadSelfie],
		AddressID:  ids[models.UploadAddressProof],
		Consent:    true,
	}
}

func TestSubmitCreatesPendingCase(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	p := f.seedUploads(t, userID)

	c, err := f.svc.Submit(context.Background(), userID, p)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Equal(t, userID, c.UserID)
	assert.Equal(t, p.DocFrontID, c.DocFrontID)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionCaseSubmitted, events[0].Action)
	assert.Equal(t, c.ID, events[0].Subject)
}

func TestSubmitRequiresConsent(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	p := f.seedUploads(t, userID)
	p.Consent = false

	_, err := f.svc.Submit(context.Background(), userID, p)
	assert.Equal(t, domainerrors.CodeBadRequest, domainerrors.CodeOf(err))
}

func TestSubmitRejectsDuplicateUploadIDs(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	p := f.seedUploads(t, userID)
	p.DocBackID = p.DocFrontID

	_, err := f.svc.Submit(context.Background(), userID, p)
	assert.Equal(t, domainerrors.CodeBadRequest, domainerrors.CodeOf(err))
}

func TestSubmitRejectsSlotTypeMismatch(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	p := f.seedUploads(t, userID)
	// A selfie in the doc-front slot is a mismatch even though it is owned.
	p.DocFrontID, p.SelfieID = p.SelfieID, p.DocFrontID

	_, err := f.svc.Submit(context.Background(), userID, p)
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeBadRequest, domainerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "mismatch")
}

func TestSubmitRejectsUnownedUploads(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	p := f.seedUploads(t, owner)

	_, err := f.svc.Submit(context.Background(), uuid.New(), p)
	assert.Equal(t, domainerrors.CodeBadRequest, domainerrors.CodeOf(err))
}

func TestSubmitReusesPendingCase(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, userID, f.seedUploads(t, userID))
	require.NoError(t, err)

	second := f.seedUploads(t, userID)
	reused, err := f.svc.Submit(ctx, userID, second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, reused.ID)
	assert.Equal(t, second.DocFrontID, reused.DocFrontID)
	assert.Equal(t, models.StatusPending, reused.Status)
}

func TestSubmitClearsDecisionFieldsOnReuse(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	c, err := f.svc.Submit(ctx, userID, f.seedUploads(t, userID))
	require.NoError(t, err)

	reviewer := uuid.New()
	_, err = f.svc.MarkStatus(ctx, c.ID, models.StatusUnderReview, "manual route")
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, c.ID, models.StatusNeedsMoreInfo, "blurry selfie", reviewer)
	require.NoError(t, err)

	reused, err := f.svc.Submit(ctx, userID, f.seedUploads(t, userID))
	require.NoError(t, err)
	assert.Equal(t, c.ID, reused.ID)
	assert.Equal(t, models.StatusNeedsMoreInfo, reused.Status)
	assert.Empty(t, reused.DecisionReason)
	assert.Nil(t, reused.ReviewedBy)
	assert.Nil(t, reused.DecidedAt)
}

func TestSubmitConflictsOnUnderReviewCase(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	c, err := f.svc.Submit(ctx, userID, f.seedUploads(t, userID))
	require.NoError(t, err)
	_, err = f.svc.MarkStatus(ctx, c.ID, models.StatusUnderReview, "")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, userID, f.seedUploads(t, userID))
	assert.Equal(t, domainerrors.CodeConflict, domainerrors.CodeOf(err))
}

func TestSubmitIdempotencyKeyReturnsSameCase(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	p := f.seedUploads(t, userID)
	p.IdempotencyKey = "key-1"
	first, err := f.svc.Submit(ctx, userID, p)
	require.NoError(t, err)

	// Replay short-circuits before validation, so the stale params are fine.
	again, err := f.svc.Submit(ctx, userID, p)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestGetMyLatestNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetMyLatest(context.Background(), uuid.New())
	assert.Equal(t, domainerrors.CodeNotFound, domainerrors.CodeOf(err))
}

func TestListByStatusRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.ListByStatus(context.Background(), "BOGUS", 0, 20)
	assert.Equal(t, domainerrors.CodeBadRequest, domainerrors.CodeOf(err))
}

func TestDecideApprovesFromUnderReview(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	c, err := f.svc.Submit(ctx, userID, f.seedUploads(t, userID))
	require.NoError(t, err)
	_, err = f.svc.MarkStatus(ctx, c.ID, models.StatusUnderReview, "")
	require.NoError(t, err)

	reviewer := uuid.New()
	at := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	decided, err := f.svc.Decide(requestcontext.WithTime(ctx, at), c.ID, models.StatusApproved, "documents verified", reviewer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, decided.Status)
	assert.Equal(t, "documents verified", decided.DecisionReason)
	require.NotNil(t, decided.ReviewedBy)
	assert.Equal(t, reviewer, *decided.ReviewedBy)
	require.NotNil(t, decided.DecidedAt)
	assert.Equal(t, at, *decided.DecidedAt)

	events := f.sink.Events()
	last := events[len(events)-1]
	assert.Equal(t, audit.ActionCaseDecided, last.Action)
	assert.Equal(t, string(models.StatusApproved), last.Decision)
}

func TestDecideRejectsIllegalTransition(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	c, err := f.svc.Submit(ctx, userID, f.seedUploads(t, userID))
	require.NoError(t, err)

	// PENDING cannot go straight to APPROVED.
	_, err = f.svc.Decide(ctx, c.ID, models.StatusApproved, "", uuid.New())
	assert.Equal(t, domainerrors.CodeNoSuchTransition, domainerrors.CodeOf(err))
}

func TestDecideRejectsInvalidTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Decide(context.Background(), uuid.NewString(), models.StatusPending, "", uuid.New())
	assert.Equal(t, domainerrors.CodeBadRequest, domainerrors.CodeOf(err))
}

func TestDecideUnknownCase(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Decide(context.Background(), uuid.NewString(), models.StatusApproved, "", uuid.New())
	assert.Equal(t, domainerrors.CodeNotFound, domainerrors.CodeOf(err))
}

func TestMarkStatusSameStatusIsIdempotent(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	c, err := f.svc.Submit(ctx, userID, f.seedUploads(t, userID))
	require.NoError(t, err)

	same, err := f.svc.MarkStatus(ctx, c.ID, models.StatusPending, "requeued")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, same.Status)
	assert.Equal(t, "requeued", same.ReviewerNotes)
}

func TestMarkStatusIllegalTransition(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	c, err := f.svc.Submit(ctx, userID, f.seedUploads(t, userID))
	require.NoError(t, err)

	_, err = f.svc.MarkStatus(ctx, c.ID, models.StatusRejected, "")
	assert.Equal(t, domainerrors.CodeNoSuchTransition, domainerrors.CodeOf(err))
}

func TestUploadStoresFileAndRecord(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	data := bytes.Repeat([]byte{0xAB}, 128)

	u, err := f.svc.Upload(context.Background(), userID, string(models.UploadSelfie), "image/jpeg", data)
	require.NoError(t, err)
	assert.Equal(t, models.UploadSelfie, u.Type)
	assert.Equal(t, int64(128), u.SizeBytes)
	assert.Len(t, u.Checksum, 64)
	assert.Equal(t, 1, f.blobs.Len())

	stored, err := f.blobs.Read(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestUploadRejectsBadType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Upload(context.Background(), uuid.New(), "PASSPORT", "image/png", []byte("x"))
	assert.Equal(t, domainerrors.CodeBadRequest, domainerrors.CodeOf(err))
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	f := newFixture(t)
	data := make([]byte, maxUploadBytes+1)
	_, err := f.svc.Upload(context.Background(), uuid.New(), string(models.UploadSelfie), "image/png", data)
	assert.Equal(t, domainerrors.CodePayloadTooLarge, domainerrors.CodeOf(err))
}

func TestUploadRejectsUnsupportedContentType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Upload(context.Background(), uuid.New(), string(models.UploadSelfie), "application/pdf", []byte("x"))
	assert.Equal(t, domainerrors.CodeUnsupportedMedia, domainerrors.CodeOf(err))
}

func TestUploadEnforcesDailyQuota(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	for i := 0; i < quota.DailyUploadLimit; i++ {
		_, err := f.svc.Upload(ctx, userID, string(models.UploadSelfie), "image/png", []byte("x"))
		require.NoError(t, err)
	}
	_, err := f.svc.Upload(ctx, userID, string(models.UploadSelfie), "image/png", []byte("x"))
	assert.Equal(t, domainerrors.CodeTooManyRequests, domainerrors.CodeOf(err))
}

func TestListChecksRequiresOwnerOrAdmin(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	c, err := f.svc.Submit(ctx, userID, f.seedUploads(t, userID))
	require.NoError(t, err)

	_, err = f.svc.ListChecks(ctx, uuid.New(), false, c.ID)
	assert.Equal(t, domainerrors.CodeForbidden, domainerrors.CodeOf(err))

	_, err = f.svc.ListChecks(ctx, userID, false, c.ID)
	assert.NoError(t, err)

	_, err = f.svc.ListChecks(ctx, uuid.New(), true, c.ID)
	assert.NoError(t, err)
}

func TestReadFileRequiresOwnerOrAdmin(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()

	u, err := f.svc.Upload(ctx, userID, string(models.UploadSelfie), "image/png", []byte("pic"))
	require.NoError(t, err)

	_, _, err = f.svc.ReadFile(ctx, uuid.New(), false, u.ID)
	assert.Equal(t, domainerrors.CodeForbidden, domainerrors.CodeOf(err))

	got, data, err := f.svc.ReadFile(ctx, userID, false, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, []byte("pic"), data)
}
