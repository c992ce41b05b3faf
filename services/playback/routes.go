// routes.go - Route registration for the playback service.
// Handler implementations are in handlers.go.
package playback

import (
	"net/http"

	"github.com/flicknest/flicknest/internal/metrics"
)

// RegisterRoutes registers all playback routes on the given mux.
// Called from Run() in main.go.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	// Session lifecycle. /playback/{id} and its sub-actions are routed by
	// handleSession off the trailing path segment.
	mux.HandleFunc("/playback/open", s.handleOpen)
	mux.HandleFunc(ObjectPathPrefix, s.handleObject)
	mux.HandleFunc("/playback/", s.handleSession)
}
