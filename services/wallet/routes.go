// routes.go - Route registration for the wallet service.
// Handler implementations are in handlers_*.go files.
package wallet

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flicknest/flicknest/internal/metrics"
)

// RegisterRoutes registers all wallet routes on the given mux.
// Called from Run() in main.go.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	// Credit balance and gating. These are what the playback service
	// calls on every open and first play.
	mux.HandleFunc("/credits/balance", s.handleBalance)
	mux.HandleFunc("/credits/can-play", s.handleCanPlay)
	mux.HandleFunc("/credits/consume", s.handleConsume)

	// Purchases.
	mux.HandleFunc("/credits/packs", s.handlePacks)
	mux.HandleFunc("/credits/purchase", s.handlePurchase)
	mux.HandleFunc("/credits/webhook", s.handleWebhook)

	// Admin.
	mux.HandleFunc("/credits/admin/grant", s.handleAdminGrant)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%q,"message":%q}}`, code, message)
}
