// handlers_credits.go - balance, can-play, and consume endpoints.
//
// Consume is the money mutation: a single conditional UPDATE decrements
// the balance only when it covers the cost, so two racing consumes can
// never drive a wallet negative. Insufficient balance is a 402 with the
// current balance in the body; the playback service treats that as a
// business outcome, not an error.
package wallet

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/flicknest/flicknest/internal/auth"
	"github.com/flicknest/flicknest/internal/metrics"
	"github.com/flicknest/flicknest/internal/validate"
)

// playCost is the uniform credit cost of starting a playback. Trailers
// are free; everything else costs one credit.
const playCost = 1

// costFor returns the credit cost for a media type.
func costFor(mediaType string) int64 {
	if mediaType == "trailer" {
		return 0
	}
	return playCost
}

// balanceResponse is the shared success shape for balance reads.
type balanceResponse struct {
	RemainingCredits int64 `json:"remaining_credits"`
}

// handleBalance returns the caller's current credit balance.
// GET /credits/balance
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	claims, err := auth.ValidateJWT(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
		return
	}

	balance, err := s.getBalance(claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{RemainingCredits: balance})
}

// gateRequest is the body of POST /credits/consume.
type gateRequest struct {
	MediaType string `json:"media_type"`
	MediaID   *int64 `json:"media_id"`
}

// canPlayResponse answers the playback gate.
type canPlayResponse struct {
	CanPlay          bool  `json:"can_play"`
	RemainingCredits int64 `json:"remaining_credits"`
}

// handleCanPlay reports whether the caller's balance covers a playback.
// Read-only; consumption happens separately on first play.
// GET /credits/can-play?media_type=&media_id=
func (s *Server) handleCanPlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	claims, err := auth.ValidateJWT(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
		return
	}

	mediaType := r.URL.Query().Get("media_type")
	if err := validate.IsMediaType("media_type", mediaType); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	balance, err := s.getBalance(claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read balance")
		return
	}

	writeJSON(w, http.StatusOK, canPlayResponse{
		CanPlay:          balance >= costFor(mediaType),
		RemainingCredits: balance,
	})
}

// handleConsume deducts the playback cost from the caller's balance.
// POST /credits/consume
//
// 200 with the new balance on success; 402 with the current balance when
// it does not cover the cost.
func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	claims, err := auth.ValidateJWT(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
		return
	}

	if s.limiter != nil {
		if ok, _ := s.limiter.CheckConsume(r.Context(), claims.Subject); !ok {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many consume calls, slow down")
			return
		}
	}

	var req gateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}
	if err := validate.IsMediaType("media_type", req.MediaType); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	cost := costFor(req.MediaType)
	if cost == 0 {
		balance, err := s.getBalance(claims.Subject)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error", "failed to read balance")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": balanceResponse{RemainingCredits: balance}})
		return
	}

	var newBalance int64
	err = s.db.QueryRow(`
		UPDATE wallets
		SET balance = balance - $2, updated_at = NOW()
		WHERE subscriber_id = $1 AND balance >= $2
		RETURNING balance
	`, claims.Subject, cost).Scan(&newBalance)

	if err == sql.ErrNoRows {
		// Covers both an empty wallet and a missing wallet row.
		balance, berr := s.getBalance(claims.Subject)
		if berr != nil {
			writeError(w, http.StatusInternalServerError, "db_error", "failed to read balance")
			return
		}
		metrics.WalletEvents.WithLabelValues("consume_insufficient").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":             "insufficient_credits",
			"message":           "Not enough credits to start playback",
			"remaining_credits": balance,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to consume credit")
		return
	}

	s.recordLedger(claims.Subject, "consume", -cost, req.MediaType, req.MediaID, "")
	metrics.WalletEvents.WithLabelValues("consume").Inc()

	writeJSON(w, http.StatusOK, map[string]any{"data": balanceResponse{RemainingCredits: newBalance}})
}

// grantRequest is the body of POST /credits/admin/grant.
type grantRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Credits      int64  `json:"credits"`
	Reason       string `json:"reason"`
}

// handleAdminGrant credits a subscriber's wallet out of band.
// POST /credits/admin/grant (admin only)
func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	claims, err := auth.ValidateJWT(r)
	if err != nil || !claims.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin_required", "Administrator role required")
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}
	if req.SubscriberID == "" || req.Credits <= 0 || req.Credits > 100000 {
		writeError(w, http.StatusBadRequest, "validation_failed", "subscriber_id required, credits must be 1..100000")
		return
	}

	newBalance, err := s.addCredits(req.SubscriberID, req.Credits)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to grant credits")
		return
	}

	s.recordLedger(req.SubscriberID, "grant", req.Credits, "", nil, req.Reason)
	metrics.WalletEvents.WithLabelValues("grant").Inc()
	log.Printf("Wallet: admin %s granted %d credits to %s", claims.Subject, req.Credits, req.SubscriberID)

	writeJSON(w, http.StatusOK, map[string]any{"data": balanceResponse{RemainingCredits: newBalance}})
}

// getBalance reads a subscriber's balance; a missing wallet row reads as
// zero rather than an error, so new accounts work without provisioning.
func (s *Server) getBalance(subscriberID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(
		`SELECT balance FROM wallets WHERE subscriber_id = $1`, subscriberID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

// addCredits upserts the wallet row and returns the new balance.
func (s *Server) addCredits(subscriberID string, credits int64) (int64, error) {
	var newBalance int64
	err := s.db.QueryRow(`
		INSERT INTO wallets (subscriber_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (subscriber_id)
		DO UPDATE SET balance = wallets.balance + $2, updated_at = NOW()
		RETURNING balance
	`, subscriberID, credits).Scan(&newBalance)
	return newBalance, err
}

// recordLedger appends a wallet ledger row. Best effort: a ledger write
// failure must not fail the mutation it describes.
func (s *Server) recordLedger(subscriberID, event string, delta int64, mediaType string, mediaID *int64, note string) {
	_, err := s.db.Exec(`
		INSERT INTO wallet_ledger (subscriber_id, event, delta, media_type, media_id, note)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''))
	`, subscriberID, event, delta, mediaType, mediaID, note)
	if err != nil {
		log.Printf("Wallet: ledger write failed (event=%s subscriber=%s): %v", event, subscriberID, err)
	}
}
