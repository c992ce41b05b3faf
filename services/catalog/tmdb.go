// tmdb.go - minimal TMDB API client for catalog enrichment.
//
// The Movie Database (TMDB) provides metadata for movies and TV shows.
// Authentication: Bearer token from TMDB_API_KEY environment variable.
// Image base URL: https://image.tmdb.org/t/p/{size}{poster_path}
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

const (
	tmdbBaseURL      = "https://api.themoviedb.org/3"
	tmdbImageBaseURL = "https://image.tmdb.org/t/p/w500"
)

// tmdbClient is an HTTP client for the TMDB API.
type tmdbClient struct {
	apiKey string
	client *http.Client
}

// newTMDBClient creates a tmdbClient. apiKey is the TMDB Bearer token;
// if empty, TMDB_API_KEY is used. Enrichment endpoints fail with a clear
// error when no key is configured.
func newTMDBClient(apiKey string) *tmdbClient {
	if apiKey == "" {
		apiKey = os.Getenv("TMDB_API_KEY")
	}
	return &tmdbClient{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// tmdbMovie is the subset of GET /movie/{id} the catalog uses.
type tmdbMovie struct {
	Title       string `json:"title"`
	Overview    string `json:"overview"`
	ReleaseDate string `json:"release_date"`
	PosterPath  string `json:"poster_path"`
}

// posterURL returns the full w500 poster URL, or "" if TMDB has none.
func (m *tmdbMovie) posterURL() string {
	if m.PosterPath == "" {
		return ""
	}
	return tmdbImageBaseURL + m.PosterPath
}

// movieDetails fetches movie metadata by numeric TMDB ID.
func (c *tmdbClient) movieDetails(ctx context.Context, tmdbID string) (*tmdbMovie, error) {
	var result tmdbMovie
	if err := c.get(ctx, "/movie/"+tmdbID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// get makes a GET request to the TMDB API and decodes the JSON response.
func (c *tmdbClient) get(ctx context.Context, path string, dest any) error {
	if c.apiKey == "" {
		return fmt.Errorf("TMDB_API_KEY not set")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tmdbBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("tmdb request build: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tmdb request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("tmdb: not found: %s", path)
	case http.StatusUnauthorized:
		return fmt.Errorf("tmdb: invalid API key")
	default:
		return fmt.Errorf("tmdb: HTTP %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("tmdb decode %s: %w", path, err)
	}
	return nil
}
