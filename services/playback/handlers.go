// handlers.go - HTTP handlers for the playback service.
// Route registration lives in routes.go; session semantics in session.go.
package playback

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/flicknest/flicknest/internal/auth"
	"github.com/flicknest/flicknest/internal/validate"
)

// openRequest is the body of POST /playback/open.
type openRequest struct {
	MediaType string `json:"media_type"`
	MediaID   *int64 `json:"media_id"`
	SourceURL string `json:"source_url"`
	Transport string `json:"transport"`
}

// openResponse hands the SPA everything it needs to mount the player.
type openResponse struct {
	SessionID  string     `json:"session_id"`
	SourceURL  string     `json:"source_url"`
	Permission string     `json:"permission"`
	Directives Directives `json:"directives"`
}

// handleOpen creates a playback session. The admin bypass is decided here
// from the caller's JWT and never revisited for the session's lifetime.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
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
		if ok, _ := s.limiter.CheckPlaybackOpen(r.Context(), claims.Subject); !ok {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many playback opens, slow down")
			return
		}
	}

	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}

	var errs validate.MultiError
	errs.Add(validate.NonEmptyString("source_url", req.SourceURL))
	errs.Add(validate.IsMediaType("media_type", req.MediaType))
	if req.Transport != "" && req.Transport != string(TransportNative) && req.Transport != string(TransportIframe) {
		errs.Add(&validate.ValidationError{Field: "transport", Message: "must be native or iframe"})
	}
	if errs.HasErrors() {
		writeError(w, http.StatusBadRequest, "validation_failed", errs.Error())
		return
	}

	transport := Transport(req.Transport)
	if transport == "" {
		transport = TransportNative
	}

	sess := s.mgr.Open(r.Context(), OpenParams{
		SubscriberID: claims.Subject,
		Bearer:       auth.BearerToken(r),
		IsAdmin:      claims.IsAdmin(),
		MediaType:    MediaType(req.MediaType),
		MediaID:      req.MediaID,
		SourceURL:    req.SourceURL,
		Transport:    transport,
	})

	writeJSON(w, http.StatusCreated, openResponse{
		SessionID:  sess.ID,
		SourceURL:  sess.SourceURL(),
		Permission: string(sess.Permission()),
		Directives: Directives{OverlayVisible: sess.OverlayVisible()},
	})
}

// eventRequest is the body of POST /playback/{id}/event.
type eventRequest struct {
	Kind      string  `json:"kind"`
	Paused    bool    `json:"paused"`
	Position  float64 `json:"position"`
	SourceURL string  `json:"source_url"`
}

// handleEvent ingests a mirrored player event and returns directives.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request, sess *Session) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return
	}
	switch req.Kind {
	case "play", "playing", "timeupdate", "pause", "seeking":
	default:
		writeError(w, http.StatusBadRequest, "invalid_event", "kind must be play, playing, timeupdate, pause, or seeking")
		return
	}

	d := s.mgr.HandleEvent(r.Context(), sess, PlayerEvent{
		Kind:      req.Kind,
		Paused:    req.Paused,
		Position:  req.Position,
		SourceURL: req.SourceURL,
	})
	writeJSON(w, http.StatusOK, d)
}

// handleOverlay reports the current overlay state. The SPA polls this
// while blocked so the purchase modal and the gate stay in sync.
func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request, sess *Session) {
	d := sess.PollDirectives()
	if balance, known := s.mgr.balance.Latest(); known {
		d.Balance = &balance
	}
	writeJSON(w, http.StatusOK, d)
}

// handleRecheck re-runs the permission check, typically after a top-up.
func (s *Server) handleRecheck(w http.ResponseWriter, r *http.Request, sess *Session) {
	d := s.mgr.Recheck(r.Context(), sess)
	writeJSON(w, http.StatusOK, d)
}

// handleClose tears the session down and releases its streamed object.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request, sess *Session) {
	s.mgr.Close(sess)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// handleSession routes /playback/{id} and /playback/{id}/{action} by
// method and trailing segment. Session ownership is enforced here once
// so the per-action handlers can assume an authorized caller.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.ValidateJWT(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/playback/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}

	sess := s.mgr.Get(id)
	if sess == nil {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if sess.SubscriberID != claims.Subject && !claims.IsAdmin() {
		// Do not leak session existence across subscribers.
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		s.handleClose(w, r, sess)
	case action == "event" && r.Method == http.MethodPost:
		s.handleEvent(w, r, sess)
	case action == "overlay" && r.Method == http.MethodGet:
		s.handleOverlay(w, r, sess)
	case action == "recheck" && r.Method == http.MethodPost:
		s.handleRecheck(w, r, sess)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method for this path")
	}
}

// handleObject serves locally owned streamed objects. The media element
// fetches these without an Authorization header, so the only guard is
// the unguessable object UUID, same as a blob URL in the browser.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, ObjectPathPrefix)
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	s.resolver.ServeObject(w, r, id)
}

// handleHealth returns service health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","service":"flicknest-playback"}`)
}

// writeJSON writes a JSON response with the given status.
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
