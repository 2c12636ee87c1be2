package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFormObserverCounts(t *testing.T) {
	var o FormObserver
	before := testutil.ToFloat64(formSubmissions.WithLabelValues("42", "false"))

	o.SessionCreated(42)
	o.SubmissionProcessed(42, false)
	o.SubmissionProcessed(42, true)
	o.SessionCompleted(42)
	o.AutoFillResolved(3, 1)

	if got := testutil.ToFloat64(formSubmissions.WithLabelValues("42", "false")); got != before+1 {
		t.Fatalf("rejected submissions = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(formCompletions.WithLabelValues("42")); got < 1 {
		t.Fatalf("completions = %v", got)
	}
	if got := testutil.ToFloat64(autofillFields.WithLabelValues("filled")); got < 3 {
		t.Fatalf("autofill filled = %v", got)
	}
}

func TestRecordRetention(t *testing.T) {
	failedBefore := testutil.ToFloat64(retentionRuns.WithLabelValues("false"))
	deletedBefore := testutil.ToFloat64(retentionDeleted)

	RecordRetention(4, nil)
	RecordRetention(0, errors.New("locked"))

	if got := testutil.ToFloat64(retentionDeleted); got != deletedBefore+4 {
		t.Fatalf("deleted = %v, want %v", got, deletedBefore+4)
	}
	if got := testutil.ToFloat64(retentionRuns.WithLabelValues("false")); got != failedBefore+1 {
		t.Fatalf("failed runs = %v, want %v", got, failedBefore+1)
	}
}

func TestInstrumentHandlerUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/form/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", Handler())

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/form/sessions/{id}", "418"))
	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/form/sessions/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/form/sessions/{id}", "418")); got != before+2 {
		t.Fatalf("requests = %v, want %v", got, before+2)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "carebridge_http_requests_total") {
		t.Fatal("metrics output missing http counter")
	}
}
