package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_recorderSeries(t *testing.T) {
	m := New()
	m.IncPolls()
	m.IncPolls()
	m.IncPollFailures()
	m.IncItemsStored("chunk")
	m.IncItemsStored("chunk")
	m.IncItemsStored("keyframe")
	m.IncItemsSkipped("chunk")
	m.IncBackfillPasses()
	m.IncSessionsCompleted()
	m.SetLastChunkID(42)

	if got := testutil.ToFloat64(m.pollsTotal); got != 2 {
		t.Errorf("polls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.pollFailuresTotal); got != 1 {
		t.Errorf("poll failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.itemsStoredTotal.WithLabelValues("chunk")); got != 2 {
		t.Errorf("chunks stored = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.itemsStoredTotal.WithLabelValues("keyframe")); got != 1 {
		t.Errorf("keyframes stored = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.itemsSkippedTotal.WithLabelValues("chunk")); got != 1 {
		t.Errorf("chunks skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.lastChunkID); got != 42 {
		t.Errorf("last chunk id = %v, want 42", got)
	}
}

func TestHandler_refreshesGauges(t *testing.T) {
	m := New()
	called := false
	h := m.Handler(func() {
		called = true
		m.SetActiveSessions(3)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !called {
		t.Error("updateGauges was not called")
	}
	if !strings.Contains(rec.Body.String(), "spectator_active_sessions 3") {
		t.Errorf("expected active sessions gauge in scrape output:\n%s", rec.Body.String())
	}
}

func TestRequestMiddleware_countsByRoute(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/chunks/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "0" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/chunks/1", "/chunks/0", "/chunks/2", "/elsewhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("/chunks/{id}")); got != 3 {
		t.Errorf("route requests = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues("/chunks/{id}")); got != 1 {
		t.Errorf("route errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues(unmatchedRoute)); got != 1 {
		t.Errorf("unmatched errors = %v, want 1", got)
	}
}

func TestRequestMiddleware_nilMetrics(t *testing.T) {
	h := RequestMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected pass-through status, got %d", rec.Code)
	}
}
