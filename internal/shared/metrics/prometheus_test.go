package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/documents/{documentID}/insight", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/documents/123/insight", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/documents/{documentID}/insight", "418"))
	if got != 1 {
		t.Errorf("expected 1 request under route pattern, got %v", got)
	}
}

func TestRecordInsightOutcome(t *testing.T) {
	before := testutil.ToFloat64(insightRequests.WithLabelValues("race_lost"))
	RecordInsightOutcome("race_lost")
	after := testutil.ToFloat64(insightRequests.WithLabelValues("race_lost"))
	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordQueueRejected()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "dispatch_queue_rejected_total") {
		t.Error("expected dispatcher metric in exposition")
	}
}
