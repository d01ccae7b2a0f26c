package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the KYC pipeline.
type Metrics struct {
	// Cases submitted, by outcome of the submit call (created, reused, rejected)
	CasesSubmitted *prometheus.CounterVec

	// Auto-review outcomes by resulting status
	AutoReviewOutcome *prometheus.CounterVec

	// ML aggregate call latency
	MLLatency prometheus.Histogram

	// Uploads accepted
	UploadsStored prometheus.Counter

	// Blobs deleted by the retention sweep
	BlobsPurged prometheus.Counter

	// HTTP request latency by route pattern and status
	RequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with all pipeline metrics registered.
func New() *Metrics {
	return &Metrics{
		CasesSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_cases_submitted_total",
			Help: "Total submit calls by outcome",
		}, []string{"outcome"}), // outcome: "created", "reused", "rejected"

		AutoReviewOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_auto_review_outcomes_total",
			Help: "Total auto-review runs by resulting case status",
		}, []string{"status"}),

		MLLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "kycflow_ml_aggregate_duration_seconds",
			Help:    "Duration of ML aggregate calls including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),

		UploadsStored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_uploads_stored_total",
			Help: "Total evidence uploads accepted",
		}),

		BlobsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_blobs_purged_total",
			Help: "Total blobs deleted by the retention sweep",
		}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kycflow_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// IncrementSubmitted records a submit call outcome.
func (m *Metrics) IncrementSubmitted(outcome string) {
	if m != nil {
		m.CasesSubmitted.WithLabelValues(outcome).Inc()
	}
}

// IncrementAutoReview records the status a case ended in after automation.
func (m *Metrics) IncrementAutoReview(status string) {
	if m != nil {
		m.AutoReviewOutcome.WithLabelValues(status).Inc()
	}
}

// ObserveMLLatency records the duration of one aggregate call.
func (m *Metrics) ObserveMLLatency(d time.Duration) {
	if m != nil {
		m.MLLatency.Observe(d.Seconds())
	}
}

// IncrementUploads records one accepted upload.
func (m *Metrics) IncrementUploads() {
	if m != nil {
		m.UploadsStored.Inc()
	}
}

// AddBlobsPurged records blobs removed by the sweep.
func (m *Metrics) AddBlobsPurged(n int) {
	if m != nil {
		m.BlobsPurged.Add(float64(n))
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, status string, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(route, status).Observe(d.Seconds())
	}
}
