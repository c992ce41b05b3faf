// catalog_integration_test.go - DB-backed tests for catalog CRUD and
// stream URL gating. Skipped when no test database is reachable.
package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	rootauth "github.com/flicknest/flicknest/internal/auth"
	"github.com/flicknest/flicknest/internal/testutil"
	"github.com/flicknest/flicknest/pkg/logging"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	t.Setenv("AUTH_JWT_SECRET", "catalog-test-secret")
	db := testutil.MustOpenDB(t)
	return &server{db: db, tmdb: newTMDBClient(""), log: logging.New("catalog-test")}
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := rootauth.GenerateAccessToken(uuid.New(), rootauth.RoleAdmin, true)
	if err != nil {
		t.Fatalf("admin token: %v", err)
	}
	return token
}

func subscriberToken(t *testing.T) string {
	t.Helper()
	token, err := rootauth.GenerateAccessToken(uuid.New(), rootauth.RoleSubscriber, true)
	if err != nil {
		t.Fatalf("subscriber token: %v", err)
	}
	return token
}

func doJSON(handler http.HandlerFunc, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestMovieCreateAndStreamURLGating(t *testing.T) {
	s := newTestServer(t)
	slug := fmt.Sprintf("gating-test-%d", time.Now().UnixNano())

	rec := doJSON(s.handleCreateMovie, http.MethodPost, "/admin/movies", adminToken(t),
		`{"title":"Gating Test","slug":"`+slug+`","stream_url":"https://cdn.flicknest.example/media/stream/gating.mp4"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create movie: status = %d, body = %s", rec.Code, rec.Body)
	}
	var created movieResponse
	decodeBody(t, rec, &created)
	t.Cleanup(func() { testutil.CleanupMovie(s.db, created.ID) })

	if created.CreditCost != 1 {
		t.Errorf("default credit_cost = %d, want 1", created.CreditCost)
	}

	// Anonymous callers must not see the stream URL.
	path := fmt.Sprintf("/catalog/movies/%d", created.ID)
	rec = doJSON(s.handleGetMovie, http.MethodGet, path, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get movie anon: status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "stream_url") {
		t.Errorf("anonymous response exposes stream_url: %s", rec.Body)
	}

	// Authenticated subscribers do.
	rec = doJSON(s.handleGetMovie, http.MethodGet, path, subscriberToken(t), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get movie authed: status = %d", rec.Code)
	}
	var fetched movieResponse
	decodeBody(t, rec, &fetched)
	if fetched.StreamURL == nil || *fetched.StreamURL == "" {
		t.Error("authenticated response is missing stream_url")
	}
}

func TestMovieSlugConflict(t *testing.T) {
	s := newTestServer(t)
	slug := fmt.Sprintf("conflict-test-%d", time.Now().UnixNano())
	body := `{"title":"Conflict","slug":"` + slug + `","stream_url":"https://cdn.flicknest.example/media/stream/c.mp4"}`

	rec := doJSON(s.handleCreateMovie, http.MethodPost, "/admin/movies", adminToken(t), body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first create: status = %d, body = %s", rec.Code, rec.Body)
	}
	var created movieResponse
	decodeBody(t, rec, &created)
	t.Cleanup(func() { testutil.CleanupMovie(s.db, created.ID) })

	rec = doJSON(s.handleCreateMovie, http.MethodPost, "/admin/movies", adminToken(t), body)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate slug: status = %d, want 409", rec.Code)
	}
}

func TestMovieCreateValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"slug":"x","stream_url":"https://cdn.flicknest.example/a.mp4"}`},
		{"missing stream_url", `{"title":"X","slug":"x"}`},
		{"credit_cost out of range", `{"title":"X","slug":"x","stream_url":"https://cdn.flicknest.example/a.mp4","credit_cost":500}`},
	}
	for _, tc := range cases {
		rec := doJSON(s.handleCreateMovie, http.MethodPost, "/admin/movies", adminToken(t), tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}

func TestMovieSoftDeleteHidesFromCatalog(t *testing.T) {
	s := newTestServer(t)
	id := testutil.SeedMovie(t, s.db, "soft-delete-test", 1)
	t.Cleanup(func() { testutil.CleanupMovie(s.db, id) })

	path := fmt.Sprintf("/admin/movies/%d", id)
	rec := doJSON(s.handleDeleteMovie, http.MethodDelete, path, adminToken(t), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete movie: status = %d", rec.Code)
	}

	rec = doJSON(s.handleGetMovie, http.MethodGet, fmt.Sprintf("/catalog/movies/%d", id), "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unpublished movie visible: status = %d, want 404", rec.Code)
	}

	// The row survives; only the published flag flips.
	var published bool
	if err := s.db.QueryRow(`SELECT is_published FROM movies WHERE id = $1`, id).Scan(&published); err != nil {
		t.Fatalf("row gone after soft delete: %v", err)
	}
	if published {
		t.Error("movie still published after delete")
	}
}

func TestSeriesEpisodeLifecycle(t *testing.T) {
	s := newTestServer(t)
	slug := fmt.Sprintf("series-test-%d", time.Now().UnixNano())

	rec := doJSON(s.handleCreateSeries, http.MethodPost, "/admin/series", adminToken(t),
		`{"title":"Series Test","slug":"`+slug+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create series: status = %d, body = %s", rec.Code, rec.Body)
	}
	var series seriesResponse
	decodeBody(t, rec, &series)
	t.Cleanup(func() { _, _ = s.db.Exec(`DELETE FROM tvseries WHERE id = $1`, series.ID) })

	epPath := fmt.Sprintf("/admin/series/%d/episodes", series.ID)
	epBody := `{"season":1,"episode":1,"title":"Pilot","stream_url":"https://cdn.flicknest.example/media/stream/s01e01.mp4"}`
	rec = doJSON(s.handleCreateEpisode, http.MethodPost, epPath, adminToken(t), epBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create episode: status = %d, body = %s", rec.Code, rec.Body)
	}

	// Same season/episode pair is rejected.
	rec = doJSON(s.handleCreateEpisode, http.MethodPost, epPath, adminToken(t), epBody)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate episode: status = %d, want 409", rec.Code)
	}

	rec = doJSON(s.handleCreateEpisode, http.MethodPost, epPath, adminToken(t),
		`{"season":1,"episode":2,"title":"Second","stream_url":"https://cdn.flicknest.example/media/stream/s01e02.mp4"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create second episode: status = %d", rec.Code)
	}

	listPath := fmt.Sprintf("/catalog/series/%d/episodes", series.ID)
	rec = doJSON(s.handleListEpisodes, http.MethodGet, listPath, subscriberToken(t), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list episodes: status = %d", rec.Code)
	}
	var listed struct {
		Episodes []*episodeResponse `json:"episodes"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Episodes) != 2 {
		t.Fatalf("episode count = %d, want 2", len(listed.Episodes))
	}
	if listed.Episodes[0].Episode != 1 || listed.Episodes[1].Episode != 2 {
		t.Errorf("episodes out of order: %d then %d", listed.Episodes[0].Episode, listed.Episodes[1].Episode)
	}

	// Unpublishing the series takes the episodes down with it.
	rec = doJSON(s.handleDeleteSeries, http.MethodDelete, fmt.Sprintf("/admin/series/%d", series.ID), adminToken(t), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete series: status = %d", rec.Code)
	}
	rec = doJSON(s.handleListEpisodes, http.MethodGet, listPath, subscriberToken(t), "")
	decodeBody(t, rec, &listed)
	if len(listed.Episodes) != 0 {
		t.Errorf("episodes still listed after series unpublish: %d", len(listed.Episodes))
	}
}

func TestMovieSearchFiltersByTitle(t *testing.T) {
	s := newTestServer(t)
	needle := fmt.Sprintf("Zyxqv%d", time.Now().UnixNano())
	id := testutil.SeedMovie(t, s.db, needle, 1)
	t.Cleanup(func() { testutil.CleanupMovie(s.db, id) })

	rec := doJSON(s.handleListMovies, http.MethodGet, "/catalog/movies?q="+needle, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search: status = %d", rec.Code)
	}
	var listed struct {
		Movies []*movieResponse `json:"movies"`
		Total  int              `json:"total"`
	}
	decodeBody(t, rec, &listed)
	if listed.Total != 1 || len(listed.Movies) != 1 {
		t.Fatalf("search results = %d (total %d), want 1", len(listed.Movies), listed.Total)
	}
	if listed.Movies[0].ID != id {
		t.Errorf("search returned movie %d, want %d", listed.Movies[0].ID, id)
	}
}
