// Package metrics exposes the service's Prometheus instruments. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Invitation response outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeDeclined = "declined"
	OutcomeFailed   = "failed"
	OutcomeConflict = "conflict"
	OutcomeNotFound = "not_found"
)

// Enrichment fallback kinds.
const (
	FallbackGroup   = "group"
	FallbackInviter = "inviter"
)

// Metrics holds the registered collectors.
type Metrics struct {
	registry *prometheus.Registry

	feedRequests     *prometheus.CounterVec
	feedDuration     prometheus.Histogram
	feedGroupQueries prometheus.Counter
	invitations      *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	uploads          *prometheus.CounterVec
	uploadBytes      prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers every collector on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		feedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glimpse_feed_requests_total",
			Help: "Feed aggregations by outcome.",
		}, []string{"outcome"}),
		feedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "glimpse_feed_duration_seconds",
			Help:    "Feed aggregation latency.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		feedGroupQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glimpse_feed_group_queries_total",
			Help: "Per-group video queries issued by feed fan-out.",
		}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glimpse_invitation_responses_total",
			Help: "Invitation responses by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glimpse_invitation_enrichment_fallbacks_total",
			Help: "Pending invitations shown with a placeholder name.",
		}, []string{"kind"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glimpse_uploads_total",
			Help: "Upload tasks by final state.",
		}, []string{"state"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glimpse_upload_bytes_total",
			Help: "Bytes written to the blob store by uploads.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glimpse_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "glimpse_http_request_duration_seconds",
			Help:    "HTTP request latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	registry.MustRegister(
		m.feedRequests, m.feedDuration, m.feedGroupQueries,
		m.invitations, m.fallbacks,
		m.uploads, m.uploadBytes,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFeed records one feed aggregation.
func (m *Metrics) ObserveFeed(elapsed time.Duration, groupQueries int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.feedRequests.WithLabelValues(outcome).Inc()
	m.feedDuration.Observe(elapsed.Seconds())
	m.feedGroupQueries.Add(float64(groupQueries))
}

// InvitationResponded counts an invitation response by outcome.
func (m *Metrics) InvitationResponded(outcome string) {
	if m == nil {
		return
	}
	m.invitations.WithLabelValues(outcome).Inc()
}

// EnrichmentFallback counts a placeholder name substitution.
func (m *Metrics) EnrichmentFallback(kind string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(kind).Inc()
}

// UploadFinished counts an upload task reaching a final state.
func (m *Metrics) UploadFinished(state string, bytes int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(state).Inc()
	if bytes > 0 {
		m.uploadBytes.Add(float64(bytes))
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
