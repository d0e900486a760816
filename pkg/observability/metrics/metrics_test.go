package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Middleware)
	router.HandleFunc("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/sessions/{id}", "418"))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/def", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/sessions/{id}", "418"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests under the route template, got %v", after-before)
	}
}

func TestSessionTransitionCounter(t *testing.T) {
	c := sessionTransitions.WithLabelValues("ready", "submitting")
	before := testutil.ToFloat64(c)
	RecordSessionTransition("ready", "submitting")
	if testutil.ToFloat64(c)-before != 1 {
		t.Fatal("expected transition to be counted")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordUpload("accepted")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "carescore_uploads_total") {
		t.Fatal("expected upload counter in exposition")
	}
}
