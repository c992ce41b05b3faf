// handlers_register.go - subscriber registration.
package auth

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/flicknest/flicknest/internal/auth"
	"github.com/flicknest/flicknest/internal/ratelimit"
	"github.com/flicknest/flicknest/internal/validate"
)

// registerRequest is the JSON body for POST /auth/register.
type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// registerResponse is returned on successful registration.
type registerResponse struct {
	SubscriberID string `json:"subscriber_id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	Message      string `json:"message"`
}

// HandleRegister processes POST /auth/register.
// Creates an active subscriber with a bcrypt-hashed password (cost 12).
// Every new account starts with the subscriber role; admins are promoted
// directly in the database.
// Rate limited: 5 registrations per IP per hour.
func HandleRegister(db *sql.DB, limiter *ratelimit.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			auth.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
			return
		}

		ip := ratelimit.ClientIP(r)
		if allowed, retryAfter := limiter.CheckRegistration(r.Context(), ip); !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			auth.WriteError(w, http.StatusTooManyRequests, "rate_limited",
				"Too many registration attempts. Please try again later.")
			return
		}

		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			auth.WriteError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
			return
		}

		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		req.DisplayName = strings.TrimSpace(req.DisplayName)

		if err := validate.IsEmail("email", req.Email); err != nil {
			auth.WriteError(w, http.StatusBadRequest, "invalid_email", "Email address is not valid")
			return
		}
		if err := validate.PasswordPolicy("password", req.Password); err != nil {
			auth.WriteError(w, http.StatusBadRequest, "weak_password", err.Error())
			return
		}
		if err := validate.MaxLength("display_name", req.DisplayName, 100); err != nil {
			auth.WriteError(w, http.StatusBadRequest, "invalid_display_name",
				"Display name must be 100 characters or less")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
		if err != nil {
			auth.WriteError(w, http.StatusInternalServerError, "server_error", "Registration failed")
			return
		}

		// Insert subscriber — check for duplicate email
		var subscriberID string
		err = db.QueryRowContext(r.Context(), `
			INSERT INTO subscribers (email, password_hash, display_name, role, status, email_verified)
			VALUES ($1, $2, $3, 'subscriber', 'active', true)
			RETURNING id
		`, req.Email, string(hash), req.DisplayName).Scan(&subscriberID)

		if err != nil {
			if strings.Contains(err.Error(), "unique") || strings.Contains(err.Error(), "duplicate") {
				// Privacy: use generic message, don't reveal email exists
				auth.WriteError(w, http.StatusConflict, "registration_failed",
					"Unable to create account with these details")
				return
			}
			auth.WriteError(w, http.StatusInternalServerError, "server_error", "Registration failed")
			return
		}

		auth.WriteJSON(w, http.StatusCreated, registerResponse{
			SubscriberID: subscriberID,
			Email:        req.Email,
			Role:         auth.RoleSubscriber,
			Message:      "Account created. You can now log in.",
		})
	}
}
