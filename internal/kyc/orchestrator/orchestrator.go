// Package orchestrator drives claimed cases through automated review: claim,
// evidence collection, scoring and the resulting status write.
package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kycflow/internal/blob"
	"kycflow/internal/kyc/metrics"
	"kycflow/internal/kyc/ml"
	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/service"
	"kycflow/internal/kyc/store/cases"
	"kycflow/internal/kyc/store/checks"
	"kycflow/pkg/platform/audit"
	"kycflow/pkg/requestcontext"
)

// maxEncodedEvidence caps the base64 size of a single evidence payload sent
// to the scoring service. Oversize files are treated as absent, not fatal.
const maxEncodedEvidence = 6 << 20

// checkTypeError records a failed automation attempt on the check trail.
const checkTypeError = "ERROR"

// Scorer is the slice of the ML client the orchestrator needs.
type Scorer interface {
	Aggregate(ctx context.Context, req ml.AggregateRequest) (*ml.AggregateResult, error)
}

// Orchestrator runs automated review for individual cases and in batches.
type Orchestrator struct {
	cases   cases.Store
	checks  checks.Store
	blobs   blob.Store
	svc     *service.Service
	scorer  Scorer
	audit   *audit.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger

	batchSize int
	interval  time.Duration
}

func New(
	caseStore cases.Store,
	checkStore checks.Store,
	blobStore blob.Store,
	svc *service.Service,
	scorer Scorer,
	auditPub *audit.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	batchSize int,
	interval time.Duration,
) *Orchestrator {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Orchestrator{
		cases:     caseStore,
		checks:    checkStore,
		blobs:     blobStore,
		svc:       svc,
		scorer:    scorer,
		audit:     auditPub,
		metrics:   m,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run drives one case through automated review. Losing the claim race or
// finding the case already resolved is a no-op, not an error. The claim is
// released on every path.
func (o *Orchestrator) Run(ctx context.Context, caseID string) error {
	c, err := o.cases.Get(ctx, caseID)
	if err != nil {
		return fmt.Errorf("load case %s: %w", caseID, err)
	}
	if c.Status != models.StatusPending && c.Status != models.StatusAutoReview {
		return nil
	}

	claimed, err := o.cases.TryClaim(ctx, caseID)
	if err != nil {
		return fmt.Errorf("claim case %s: %w", caseID, err)
	}
	if !claimed {
		o.logger.DebugContext(ctx, "case already claimed, skipping", "case_id", caseID)
		return nil
	}
	defer func() {
		if err := o.cases.Release(context.WithoutCancel(ctx), caseID); err != nil {
			o.logger.ErrorContext(ctx, "failed to release case claim", "case_id", caseID, "error", err)
		}
	}()

	if c.Status == models.StatusPending {
		if c, err = o.svc.MarkStatus(ctx, caseID, models.StatusAutoReview, ""); err != nil {
			return fmt.Errorf("advance case %s to auto review: %w", caseID, err)
		}
	}

	req := o.collectEvidence(ctx, c)
	start := time.Now()
	result, err := o.scorer.Aggregate(ctx, req)
	o.metrics.ObserveMLLatency(time.Since(start))
	if err != nil {
		return o.routeToHumanAfterFailure(ctx, c, err)
	}
	if result == nil || result.Body == nil {
		// A 2xx with an empty or undecodable body is a response without a
		// decision, not a call failure.
		return o.applyDecision(ctx, c, &ml.AggregateResponse{})
	}

	o.persistChecks(ctx, c.ID, result.Body.Checks)
	return o.applyDecision(ctx, c, result.Body)
}

// collectEvidence reads the four referenced files concurrently and encodes
// those that fit under the size ceiling. Unreadable or oversize files become
// absent fields; scoring proceeds with what is available.
func (o *Orchestrator) collectEvidence(ctx context.Context, c *models.Case) ml.AggregateRequest {
	ids := c.UploadIDs()
	encoded := make([]string, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range ids {
		g.Go(func() error {
			id, err := uuid.Parse(raw)
			if err != nil {
				o.logger.WarnContext(gctx, "case references malformed upload id",
					"case_id", c.ID, "upload_id", raw)
				return nil
			}
			data, err := o.blobs.Read(gctx, id)
			if err != nil {
				o.logger.WarnContext(gctx, "evidence file unreadable, scoring without it",
					"case_id", c.ID, "upload_id", raw, "error", err)
				return nil
			}
			if base64.StdEncoding.EncodedLen(len(data)) > maxEncodedEvidence {
				o.logger.WarnContext(gctx, "evidence file over size ceiling, scoring without it",
					"case_id", c.ID, "upload_id", raw, "size_bytes", len(data))
				return nil
			}
			encoded[i] = base64.StdEncoding.EncodeToString(data)
			return nil
		})
	}
	_ = g.Wait() // goroutines only ever return nil

	return ml.AggregateRequest{
		DocFrontImage:     encoded[0],
		DocBackImage:      encoded[1],
		Selfie:            encoded[2],
		AddressProofImage: encoded[3],
		Meta: map[string]string{
			"caseId": c.ID,
			"userId": c.UserID.String(),
		},
	}
}

// routeToHumanAfterFailure records one ERROR check describing the failed
// attempt and hands the case to human review. The failure itself is handled,
// not propagated.
func (o *Orchestrator) routeToHumanAfterFailure(ctx context.Context, c *models.Case, cause error) error {
	details, _ := json.Marshal(map[string]string{"error": cause.Error()})
	zero := 0.0
	failed := false
	check := &models.Check{
		ID:        uuid.NewString(),
		CaseID:    c.ID,
		Type:      checkTypeError,
		Score:     &zero,
		Passed:    &failed,
		Details:   string(details),
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := o.checks.Append(ctx, check); err != nil {
		o.logger.ErrorContext(ctx, "failed to record error check", "case_id", c.ID, "error", err)
	}

	if _, err := o.svc.MarkStatus(ctx, c.ID, models.StatusUnderReview, "ml_unavailable"); err != nil {
		return fmt.Errorf("route case %s to human review: %w", c.ID, err)
	}
	o.finishAutoReview(ctx, c, models.StatusUnderReview, "ml_unavailable")
	return nil
}

func (o *Orchestrator) persistChecks(ctx context.Context, caseID string, results []ml.CheckResult) {
	now := requestcontext.Now(ctx)
	for _, r := range results {
		check := &models.Check{
			ID:        uuid.NewString(),
			CaseID:    caseID,
			Type:      r.Type,
			Score:     r.Score,
			Passed:    r.Passed,
			Details:   string(r.Details),
			CreatedAt: now,
		}
		if err := o.checks.Append(ctx, check); err != nil {
			o.logger.ErrorContext(ctx, "failed to record check", "case_id", caseID, "type", r.Type, "error", err)
		}
	}
}

func (o *Orchestrator) applyDecision(ctx context.Context, c *models.Case, resp *ml.AggregateResponse) error {
	switch resp.Decision {
	case ml.DecisionApprove:
		if _, err := o.svc.Decide(ctx, c.ID, models.StatusApproved, "auto_approved", service.SystemReviewer); err != nil {
			return fmt.Errorf("auto-approve case %s: %w", c.ID, err)
		}
		o.finishAutoReview(ctx, c, models.StatusApproved, "auto_approved")
	case ml.DecisionReject:
		reason := strings.Join(resp.Reasons, ";")
		if reason == "" {
			reason = "auto_rejected"
		}
		if _, err := o.svc.Decide(ctx, c.ID, models.StatusRejected, reason, service.SystemReviewer); err != nil {
			return fmt.Errorf("auto-reject case %s: %w", c.ID, err)
		}
		o.finishAutoReview(ctx, c, models.StatusRejected, reason)
	default:
		// Any other or absent decision hands the case to a human reviewer
		// with the service's reasons preserved as the triage note.
		note := strings.Join(resp.Reasons, ";")
		if note == "" {
			note = "ml_response_empty"
		}
		if _, err := o.svc.MarkStatus(ctx, c.ID, models.StatusUnderReview, note); err != nil {
			return fmt.Errorf("route case %s to human review: %w", c.ID, err)
		}
		o.finishAutoReview(ctx, c, models.StatusUnderReview, note)
	}
	return nil
}

func (o *Orchestrator) finishAutoReview(ctx context.Context, c *models.Case, outcome models.CaseStatus, reason string) {
	o.metrics.IncrementAutoReview(string(outcome))
	if o.audit != nil {
		err := o.audit.Emit(ctx, audit.Event{
			UserID:   c.UserID.String(),
			Subject:  c.ID,
			Action:   audit.ActionCaseAutoReviewed,
			Decision: string(outcome),
			Reason:   reason,
			ActorID:  service.SystemReviewer.String(),
		})
		if err != nil {
			o.logger.WarnContext(ctx, "audit emit failed", "case_id", c.ID, "error", err)
		}
	}
	o.logger.InfoContext(ctx, "automated review finished",
		"case_id", c.ID, "outcome", string(outcome), "reason", reason)
}

// RunBatch processes up to one batch of unclaimed pending cases in FIFO
// order. A failing case is routed to human review best-effort and never
// stops the batch.
func (o *Orchestrator) RunBatch(ctx context.Context) error {
	candidates, err := o.cases.FindAutoReviewCandidates(ctx, o.batchSize)
	if err != nil {
		return fmt.Errorf("find auto review candidates: %w", err)
	}
	for _, c := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.Run(ctx, c.ID); err != nil {
			o.logger.ErrorContext(ctx, "automated review failed", "case_id", c.ID, "error", err)
			if _, merr := o.svc.MarkStatus(ctx, c.ID, models.StatusUnderReview, "auto_review_failed"); merr != nil {
				o.logger.WarnContext(ctx, "could not route failed case to human review",
					"case_id", c.ID, "error", merr)
			}
		}
	}
	return nil
}

// Loop runs batches on a fixed interval until the context is cancelled.
func (o *Orchestrator) Loop(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.RunBatch(ctx); err != nil && ctx.Err() == nil {
				o.logger.ErrorContext(ctx, "batch run failed", "error", err)
			}
		}
	}
}
