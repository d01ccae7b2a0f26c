// Package handler is the HTTP surface of the case pipeline. It delegates to
// the case service and keeps business rules out of the transport layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kycflow/internal/kyc/metrics"
	"kycflow/internal/kyc/models"
	"kycflow/internal/kyc/service"
	"kycflow/internal/platform/middleware"
	"kycflow/pkg/domainerrors"
	"kycflow/pkg/requestcontext"
)

// maxUploadBody bounds the multipart request body: the 10MiB file plus room
// for part headers and the type field.
const maxUploadBody = 11 << 20

// AutoReviewer kicks automated review for one case. The periodic batch is
// the safety net; this direct trigger just shortens the happy-path latency.
type AutoReviewer interface {
	Run(ctx context.Context, caseID string) error
}

// Handler handles case pipeline endpoints.
type Handler struct {
	svc          *service.Service
	reviewer     AutoReviewer
	jwtValidator middleware.JWTValidator
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func New(
	svc *service.Service,
	reviewer AutoReviewer,
	jwtValidator middleware.JWTValidator,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		svc:          svc,
		reviewer:     reviewer,
		jwtValidator: jwtValidator,
		metrics:      m,
		logger:       logger,
	}
}

// Register mounts the customer and admin routes on the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.RequestTime)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(h.latency)
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

		r.Route("/kyc", func(r chi.Router) {
			r.Post("/upload", h.handleUpload)
			r.Post("/submit", h.handleSubmit)
			r.Get("/me", h.handleGetMyLatest)
			r.Get("/files/{uploadID}", h.handleGetFile)
			r.Get("/{caseID}/checks", h.handleListChecks)
		})

		r.Route("/admin/kyc", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.logger))
			r.Get("/", h.handleAdminList)
			r.Post("/{caseID}/decision", h.handleAdminDecide)
			r.Get("/{caseID}/checks", h.handleListChecks)
		})
	})
}

func (h *Handler) latency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		h.metrics.ObserveRequest(route, strconv.Itoa(rec.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(ctx, w, domainerrors.New(domainerrors.CodePayloadTooLarge, "max upload size is 10MiB"))
			return
		}
		h.writeError(ctx, w, domainerrors.New(domainerrors.CodeBadRequest, "expected multipart form data"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(ctx, w, domainerrors.New(domainerrors.CodeBadRequest, "missing file part"))
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(ctx, w, domainerrors.Wrap(err, domainerrors.CodeBadRequest, "read file part"))
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	upload, err := h.svc.Upload(ctx, userID, r.FormValue("type"), contentType, data)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusCreated, toUploadResponse(upload))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}

	c, err := h.svc.Submit(ctx, userID, service.SubmitParams{
		DocFrontID:     req.DocFrontID,
		DocBackID:      req.DocBackID,
		SelfieID:       req.SelfieID,
		AddressID:      req.AddressID,
		Consent:        req.Consent,
		IdempotencyKey: r.Header.Get("X-Idempotency-Key"),
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	// Kick automation right away; the batch loop picks the case up anyway if
	// this fails, so errors are logged and swallowed.
	if h.reviewer != nil && c.Status == models.StatusPending {
		go func() {
			runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
			defer cancel()
			if err := h.reviewer.Run(runCtx, c.ID); err != nil {
				h.logger.WarnContext(runCtx, "direct auto-review trigger failed",
					"case_id", c.ID, "error", err)
			}
		}()
	}

	h.writeJSON(ctx, w, http.StatusCreated, toCaseResponse(c))
}

func (h *Handler) handleGetMyLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.svc.GetMyLatest(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, toCaseResponse(c))
}

func (h *Handler) handleListChecks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "caseID")
	list, err := h.svc.ListChecks(ctx, requestcontext.UserID(ctx), requestcontext.IsAdmin(ctx), caseID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]any{"checks": toCheckResponses(list)})
}

func (h *Handler) handleGetFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uploadID, err := uuid.Parse(chi.URLParam(r, "uploadID"))
	if err != nil {
		h.writeError(ctx, w, domainerrors.New(domainerrors.CodeBadRequest, "invalid file id"))
		return
	}

	upload, data, err := h.svc.ReadFile(ctx, requestcontext.UserID(ctx), requestcontext.IsAdmin(ctx), uploadID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", upload.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(upload.SizeBytes, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.WarnContext(ctx, "failed to write file response", "upload_id", uploadID, "error", err)
	}
}

func (h *Handler) handleAdminList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := models.CaseStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.StatusUnderReview
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil {
		size = 20
	}

	list, total, err := h.svc.ListByStatus(ctx, status, page, size)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	resp := caseListResponse{Cases: make([]caseResponse, 0, len(list)), Total: total, Page: page, Size: size}
	for _, c := range list {
		resp.Cases = append(resp.Cases, toCaseResponse(c))
	}
	h.writeJSON(ctx, w, http.StatusOK, resp)
}

func (h *Handler) handleAdminDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "caseID")

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}

	c, err := h.svc.Decide(ctx, caseID, models.CaseStatus(req.Decision), req.Reason, requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, toCaseResponse(c))
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.ErrorContext(ctx, "failed to encode response",
			"request_id", requestcontext.RequestID(ctx), "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	status := domainerrors.ToHTTPStatus(code)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed",
			"request_id", requestcontext.RequestID(ctx), "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	werr := json.NewEncoder(w).Encode(map[string]string{
		"error":   string(code),
		"message": domainerrors.MessageOf(err),
	})
	if werr != nil {
		h.logger.ErrorContext(ctx, "failed to write error response",
			"request_id", requestcontext.RequestID(ctx), "error", werr)
	}
}
