// metrics_test.go - unit tests for the metrics middleware and handler.
package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesPrometheusFormat(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Error("expected runtime metrics in scrape output")
	}
}

func TestMiddlewareRecordsAndPassesThrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware("playback", inner)

	req := httptest.NewRequest(http.MethodGet, "/playback/abc/overlay", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Errorf("middleware swallowed status: got %d", rr.Code)
	}

	// The counter must now be visible in a scrape.
	srr := httptest.NewRecorder()
	Handler().ServeHTTP(srr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(srr.Body.String(), "flicknest_http_requests_total") {
		t.Error("expected flicknest_http_requests_total in scrape output")
	}
}

func TestSanitizePathCapsLength(t *testing.T) {
	long := "/playback/objects/" + strings.Repeat("a", 100)
	got := sanitizePath(long)
	if len(got) != 64+3 {
		t.Errorf("sanitized length = %d, want 67", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("expected truncation suffix")
	}
	if sanitizePath("/short") != "/short" {
		t.Error("short paths must pass through unchanged")
	}
}
