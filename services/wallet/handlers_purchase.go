// handlers_purchase.go - Stripe Checkout for credit packs.
//
// POST /credits/purchase
//   Creates a one-time-payment Checkout session for a credit pack.
//   Requires a valid JWT. Returns { checkout_url, session_id }.
//
// The subscriber is redirected to Stripe-hosted checkout. On success,
// Stripe fires checkout.session.completed (handlers_webhook.go) which
// credits the wallet.
package wallet

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"

	"github.com/flicknest/flicknest/internal/auth"
	stripeclient "github.com/flicknest/flicknest/internal/stripe"
)

// handlePacks lists the purchasable credit packs.
// GET /credits/packs (no auth; the storefront shows these pre-login)
func (s *Server) handlePacks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packs": stripeclient.Packs})
}

// purchaseRequest is the JSON body for POST /credits/purchase.
type purchaseRequest struct {
	PackSlug string `json:"pack_slug"` // "starter", "binge", "marathon"
}

// purchaseResponse is returned on successful session creation.
type purchaseResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// handlePurchase creates a Stripe Checkout session for a credit pack.
// POST /credits/purchase
func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	if s.stripeRequired(w) {
		return
	}

	claims, err := auth.ValidateJWT(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "valid JWT required")
		return
	}
	subscriberID := claims.Subject

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	pack, ok := stripeclient.PackBySlug(strings.ToLower(strings.TrimSpace(req.PackSlug)))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_pack", "pack_slug must be starter, binge, or marathon")
		return
	}

	customerID, err := s.getOrCreateStripeCustomer(subscriberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stripe_error", "failed to resolve Stripe customer")
		return
	}

	baseURL := getEnv("FLICKNEST_BASE_URL", "https://flicknest.example.com")
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("usd"),
					UnitAmount: stripe.Int64(pack.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(pack.Name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(baseURL + "/credits/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(baseURL + "/credits/cancel"),
		ClientReferenceID: stripe.String(subscriberID),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				"flicknest_subscriber_id": subscriberID,
				"flicknest_pack":          pack.Slug,
			},
		},
	}
	params.AddMetadata("flicknest_subscriber_id", subscriberID)
	params.AddMetadata("flicknest_pack", pack.Slug)

	sess, err := s.stripe.API().CheckoutSessions.New(params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stripe_checkout_failed",
			"Failed to create checkout session: "+err.Error())
		return
	}

	// Correlate webhook events even if metadata is stripped along the way.
	if err := s.recordPendingPurchase(subscriberID, sess.ID, pack.Slug); err != nil {
		// Non-fatal: the webhook still carries the metadata.
		_ = err
	}

	writeJSON(w, http.StatusOK, purchaseResponse{
		CheckoutURL: sess.URL,
		SessionID:   sess.ID,
	})
}

// getOrCreateStripeCustomer returns the subscriber's Stripe customer ID,
// creating and storing one on first purchase.
func (s *Server) getOrCreateStripeCustomer(subscriberID string) (string, error) {
	var customerID string
	err := s.db.QueryRow(
		`SELECT COALESCE(stripe_customer_id, '') FROM subscribers WHERE id = $1`,
		subscriberID,
	).Scan(&customerID)
	if err == nil && customerID != "" {
		return customerID, nil
	}

	var email, displayName string
	if err := s.db.QueryRow(
		`SELECT email, display_name FROM subscribers WHERE id = $1`, subscriberID,
	).Scan(&email, &displayName); err != nil {
		return "", err
	}

	cust, err := s.stripe.CreateCustomer(email, displayName, subscriberID)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(
		`UPDATE subscribers SET stripe_customer_id = $1 WHERE id = $2`,
		cust, subscriberID,
	)
	return cust, err
}

// recordPendingPurchase inserts a pending_purchases row so webhook events
// can be correlated to a pack without trusting metadata alone.
func (s *Server) recordPendingPurchase(subscriberID, sessionID, packSlug string) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_purchases (subscriber_id, stripe_session_id, pack_slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (stripe_session_id) DO NOTHING
	`, subscriberID, sessionID, packSlug)
	return err
}
