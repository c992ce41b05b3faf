// handlers_sessions.go - refresh token session management.
//
// Every issued refresh token is a "session". Subscribers can list their
// active sessions, revoke one remotely, or log out of the current one.
package auth

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/flicknest/flicknest/internal/auth"
)

// sessionListItem is the safe session record returned in list views.
// Raw refresh tokens are never echoed back.
type sessionListItem struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
}

// HandleLogout processes POST /auth/logout.
// Revokes the presented refresh token. Safe to call with an already revoked
// or unknown token; the response is the same either way.
func HandleLogout(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			auth.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
			return
		}

		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
			auth.WriteError(w, http.StatusBadRequest, "missing_token", "refresh_token required")
			return
		}

		tokenHash := auth.HashToken(req.RefreshToken)
		db.ExecContext(r.Context(), `
			UPDATE refresh_tokens SET revoked_at = now()
			WHERE token_hash = $1 AND revoked_at IS NULL
		`, tokenHash)

		auth.WriteJSON(w, http.StatusOK, map[string]string{
			"message": "Logged out.",
		})
	}
}

// HandleListSessions processes GET /auth/sessions.
// Returns the subscriber's active sessions (unexpired, unrevoked refresh tokens).
func HandleListSessions(db *sql.DB) http.HandlerFunc {
	return auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			auth.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
			return
		}

		subscriberID := auth.SubscriberIDFromContext(r.Context())

		rows, err := db.QueryContext(r.Context(), `
			SELECT id, created_at::text, expires_at::text
			FROM refresh_tokens
			WHERE subscriber_id = $1 AND kind = 'refresh'
			  AND revoked_at IS NULL AND expires_at > $2
			ORDER BY created_at DESC
		`, subscriberID, time.Now())
		if err != nil {
			auth.WriteError(w, http.StatusInternalServerError, "server_error", "Failed to list sessions")
			return
		}
		defer rows.Close()

		var sessions []sessionListItem
		for rows.Next() {
			var s sessionListItem
			rows.Scan(&s.ID, &s.CreatedAt, &s.ExpiresAt)
			sessions = append(sessions, s)
		}

		if sessions == nil {
			sessions = []sessionListItem{}
		}

		auth.WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
	}))
}

// HandleRevokeSession processes DELETE /auth/sessions/:id.
// Revokes the specified session. Only the owning subscriber can revoke.
func HandleRevokeSession(db *sql.DB) http.HandlerFunc {
	return auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			auth.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "DELETE required")
			return
		}

		subscriberID := auth.SubscriberIDFromContext(r.Context())

		// Extract session ID from URL path: /auth/sessions/{id}
		sessionID := strings.TrimPrefix(r.URL.Path, "/auth/sessions/")
		if sessionID == "" || sessionID == r.URL.Path {
			auth.WriteError(w, http.StatusBadRequest, "missing_id", "Session ID required in path")
			return
		}
		if _, err := parseUUID(sessionID); err != nil {
			auth.WriteError(w, http.StatusBadRequest, "invalid_id", "Session ID must be a UUID")
			return
		}

		// Revoke — only if owned by this subscriber
		result, err := db.ExecContext(r.Context(), `
			UPDATE refresh_tokens SET revoked_at = now()
			WHERE id = $1 AND subscriber_id = $2 AND revoked_at IS NULL
		`, sessionID, subscriberID)
		if err != nil {
			auth.WriteError(w, http.StatusInternalServerError, "server_error", "Revocation failed")
			return
		}

		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			auth.WriteError(w, http.StatusNotFound, "not_found",
				"Session not found or already revoked")
			return
		}

		auth.WriteJSON(w, http.StatusOK, map[string]string{
			"message": "Session revoked.",
		})
	}))
}
