// Package metrics exposes Prometheus collectors for the HTTP layer, the
// form workflow, the assistant and the retention sweep.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carebridge"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	formSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "form",
			Name:      "sessions_created_total",
			Help:      "Form sessions created, by template.",
		},
		[]string{"template_id"},
	)

	formSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "form",
			Name:      "submissions_total",
			Help:      "Section submissions processed, by template and outcome.",
		},
		[]string{"template_id", "accepted"},
	)

	formCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "form",
			Name:      "sessions_completed_total",
			Help:      "Form sessions that reached completion, by template.",
		},
		[]string{"template_id"},
	)

	autofillFields = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "form",
			Name:      "autofill_fields_total",
			Help:      "Fields resolved or left missing by auto-fill.",
		},
		[]string{"result"},
	)

	chatMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assistant",
			Name:      "messages_total",
			Help:      "Chat messages answered, by conversation type and status.",
		},
		[]string{"type", "status"},
	)

	chatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assistant",
			Name:      "llm_duration_seconds",
			Help:      "Latency of language model calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)

	retentionDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "sessions_deleted_total",
			Help:      "Stale form sessions removed by the retention sweep.",
		},
	)

	retentionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "runs_total",
			Help:      "Retention sweeps, by outcome.",
		},
		[]string{"success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		formSessions,
		formSubmissions,
		formCompletions,
		autofillFields,
		chatMessages,
		chatDuration,
		retentionDeleted,
		retentionRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Requests are labelled with the matched chi route pattern so ids in paths
// do not explode label cardinality.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// FormObserver records form workflow events.
type FormObserver struct{}

func (FormObserver) SessionCreated(templateID int64) {
	formSessions.WithLabelValues(strconv.FormatInt(templateID, 10)).Inc()
}

func (FormObserver) SubmissionProcessed(templateID int64, accepted bool) {
	formSubmissions.WithLabelValues(strconv.FormatInt(templateID, 10), strconv.FormatBool(accepted)).Inc()
}

func (FormObserver) SessionCompleted(templateID int64) {
	formCompletions.WithLabelValues(strconv.FormatInt(templateID, 10)).Inc()
}

func (FormObserver) AutoFillResolved(filled, missing int) {
	autofillFields.WithLabelValues("filled").Add(float64(filled))
	autofillFields.WithLabelValues("missing").Add(float64(missing))
}

// RecordChat records one answered chat message.
func RecordChat(conversationType, status string, llmDuration time.Duration) {
	chatMessages.WithLabelValues(conversationType, status).Inc()
	if llmDuration > 0 {
		chatDuration.Observe(llmDuration.Seconds())
	}
}

// RecordRetention records the outcome of a retention sweep.
func RecordRetention(deleted int64, err error) {
	retentionRuns.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	if deleted > 0 {
		retentionDeleted.Add(float64(deleted))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// websocket upgrades need.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
