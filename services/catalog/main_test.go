// main_test.go - unit tests for catalog service helpers.
// DB-backed behavior is covered in catalog_integration_test.go.
package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPathSegment(t *testing.T) {
	cases := []struct {
		path string
		n    int
		want string
	}{
		{"/admin/movies/42", 2, "42"},
		{"/admin/movies/42/enrich", 3, "enrich"},
		{"/catalog/series/7/episodes", 2, "7"},
		{"/admin/episodes/99", 2, "99"},
		{"/health", 5, ""},
	}
	for _, tc := range cases {
		if got := pathSegment(tc.path, tc.n); got != tc.want {
			t.Errorf("pathSegment(%q, %d) = %q, want %q", tc.path, tc.n, got, tc.want)
		}
	}
}

func TestRequireAdminRejectsMissingToken(t *testing.T) {
	called := false
	h := requireAdmin(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/admin/movies", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Error("handler must not run without a token")
	}
}

func TestStreamURLOmittedWhenStripped(t *testing.T) {
	url := "https://api.flicknest.example/media/stream/42"
	m := movieResponse{ID: 42, Title: "Test", Slug: "test", CreditCost: 1, StreamURL: &url}

	m.StreamURL = nil
	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(out), "stream_url") {
		t.Errorf("stripped movie still exposes stream_url: %s", out)
	}
}

func TestTMDBPosterURL(t *testing.T) {
	m := &tmdbMovie{PosterPath: "/abc123.jpg"}
	if got := m.posterURL(); got != tmdbImageBaseURL+"/abc123.jpg" {
		t.Errorf("posterURL = %q", got)
	}
	empty := &tmdbMovie{}
	if got := empty.posterURL(); got != "" {
		t.Errorf("posterURL for missing poster = %q, want empty", got)
	}
}

func TestTMDBClientRequiresKey(t *testing.T) {
	c := &tmdbClient{client: http.DefaultClient}
	if _, err := c.movieDetails(context.Background(), "550"); err == nil {
		t.Error("movieDetails without API key must fail")
	}
}
