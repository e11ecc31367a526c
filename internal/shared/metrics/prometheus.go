package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Pipeline metrics
	insightRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_requests_total",
			Help: "Generation requests by outcome",
		},
		[]string{"outcome"},
	)

	insightFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_failures_total",
			Help: "Pipeline failures by stage",
		},
		[]string{"stage"},
	)

	insightStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insight_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	patientSummaries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patient_summaries_total",
			Help: "Patient summary aggregations by result",
		},
		[]string{"result"},
	)

	// Dispatcher metrics
	dispatchRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_queue_rejected_total",
			Help: "Trigger requests rejected because the queue was full",
		},
	)

	dispatchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_tasks_in_flight",
			Help: "Generation tasks currently executing on workers",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern labels requests by their chi route template so document
// and user IDs do not blow up label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// RecordInsightOutcome counts a RequestGeneration result
func RecordInsightOutcome(outcome string) {
	insightRequests.WithLabelValues(outcome).Inc()
}

// RecordInsightFailure counts a pipeline failure at the given stage
func RecordInsightFailure(stage string) {
	insightFailures.WithLabelValues(stage).Inc()
}

// ObserveStage records how long a pipeline stage took
func ObserveStage(stage string, d time.Duration) {
	insightStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPatientSummary counts an aggregation result
func RecordPatientSummary(result string) {
	patientSummaries.WithLabelValues(result).Inc()
}

// RecordQueueRejected counts a trigger refused by a full queue
func RecordQueueRejected() {
	dispatchRejected.Inc()
}

// TaskStarted and TaskFinished track worker occupancy
func TaskStarted()  { dispatchInFlight.Inc() }
func TaskFinished() { dispatchInFlight.Dec() }
