package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("PATCH", "422"))
	ObserveRequest("PATCH", http.StatusUnprocessableEntity, 15*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("PATCH", "422"))
	if after != before+1 {
		t.Fatalf("requests counter = %v, want %v", after, before+1)
	}
}

func TestHandlerServesCollectors(t *testing.T) {
	TagsCreated.Add(0)
	ObserveRequest("GET", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"journal_http_requests_total", "journal_tags_created_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
