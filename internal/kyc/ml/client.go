// Package ml integrates with the external verification scoring service. The
// service is stateless; each call carries a fresh idempotency token so the
// remote side can deduplicate retried attempts.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const aggregatePath = "/api/v1/kyc/aggregate"

// Decisions returned by the scoring service. Any other value routes the case
// to human review.
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// AggregateRequest carries base64-encoded evidence plus case metadata.
// Absent evidence is sent as an empty field; scoring proceeds with what is
// available.
type AggregateRequest struct {
	Selfie            string            `json:"selfie,omitempty"`
	DocFrontImage     string            `json:"docFrontImage,omitempty"`
	DocBackImage      string            `json:"docBackImage,omitempty"`
	AddressProofImage string            `json:"addressProofImage,omitempty"`
	Meta              map[string]string `json:"meta,omitempty"`
}

// CheckResult is one sub-check (liveness, face match, OCR, ...) scored by the
// service.
type CheckResult struct {
	Type    string          `json:"type"`
	Score   *float64        `json:"score"`
	Passed  *bool           `json:"passed"`
	Details json.RawMessage `json:"details"`
}

// AggregateResponse is the scoring verdict for one case.
type AggregateResponse struct {
	Decision string        `json:"decision"`
	Reasons  []string      `json:"reasons"`
	Checks   []CheckResult `json:"checks"`
}

// AggregateResult pairs the response body with the service's request id for
// traceability.
type AggregateResult struct {
	Body      *AggregateResponse
	RequestID string
}

// StatusError reports a non-2xx response from the scoring service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ml service returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure is worth another attempt: 5xx and
// rate limiting only. Client errors are immediately fatal for the attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client calls the scoring service over HTTP with bounded retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client. Tests use this to
// point at an httptest server with a short timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries bounds the number of additional attempts after the first.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// NewClient builds a Client with up to 2 retries. The timeout bounds one
// whole Aggregate call, retries included.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    timeout,
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Aggregate scores one case. Retries apply only to retryable failures (5xx,
// 429, transport errors); the same idempotency token covers all attempts of
// one call so the remote side can collapse them.
func (c *Client) Aggregate(ctx context.Context, req AggregateRequest) (*AggregateResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal aggregate request: %w", err)
	}
	idemToken := uuid.NewString()

	// One deadline spans all attempts, so a slow service costs a worker
	// at most one timeout rather than one per retry.
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		res, err := c.post(ctx, payload, idemToken)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("aggregate aborted: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("aggregate failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) post(ctx context.Context, payload []byte, idemToken string) (*AggregateResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+aggregatePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build aggregate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Idempotency-Key", idemToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call ml service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var body AggregateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// Malformed body on a 2xx is "no decision": the orchestrator
		// routes it to human review rather than failing the case.
		return &AggregateResult{RequestID: resp.Header.Get("X-Request-ID")}, nil
	}
	return &AggregateResult{Body: &body, RequestID: resp.Header.Get("X-Request-ID")}, nil
}
