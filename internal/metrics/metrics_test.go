package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveFeed(t *testing.T) {
	m := New()
	m.ObserveFeed(10*time.Millisecond, 3, nil)
	m.ObserveFeed(time.Millisecond, 2, errors.New("boom"))

	if got := testutil.ToFloat64(m.feedRequests.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected 1 ok feed got %v", got)
	}
	if got := testutil.ToFloat64(m.feedRequests.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed feed got %v", got)
	}
	if got := testutil.ToFloat64(m.feedGroupQueries); got != 5 {
		t.Fatalf("expected 5 group queries got %v", got)
	}
}

func TestCountersByLabel(t *testing.T) {
	m := New()
	m.InvitationResponded(OutcomeAccepted)
	m.InvitationResponded(OutcomeAccepted)
	m.EnrichmentFallback(FallbackInviter)
	m.UploadFinished("completed", 2048)

	if got := testutil.ToFloat64(m.invitations.WithLabelValues(OutcomeAccepted)); got != 2 {
		t.Fatalf("expected 2 accepted got %v", got)
	}
	if got := testutil.ToFloat64(m.fallbacks.WithLabelValues(FallbackInviter)); got != 1 {
		t.Fatalf("expected 1 inviter fallback got %v", got)
	}
	if got := testutil.ToFloat64(m.uploadBytes); got != 2048 {
		t.Fatalf("expected 2048 bytes got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFeed(time.Second, 1, nil)
	m.InvitationResponded(OutcomeDeclined)
	m.EnrichmentFallback(FallbackGroup)
	m.UploadFinished("failed", 0)
	m.ObserveRequest(http.MethodGet, http.StatusOK, time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil metrics handler got %d", rr.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, http.StatusOK, time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `glimpse_http_requests_total{code="200",method="GET"} 1`) {
		t.Fatalf("expected request counter in output:\n%s", rr.Body.String())
	}
}
