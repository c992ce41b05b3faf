// handlers_webhook.go - Stripe webhook event handler.
//
// POST /credits/webhook
//   Receives and verifies signed Stripe webhook events.
//   - checkout.session.completed → credit the purchased pack
//   - charge.refunded            → claw the pack's credits back
//
// Stripe signature verified via STRIPE_WEBHOOK_SECRET (separate from the
// API key). Events are idempotent by Stripe event ID: retried deliveries
// must not credit a wallet twice.
package wallet

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/flicknest/flicknest/internal/metrics"
	stripeclient "github.com/flicknest/flicknest/internal/stripe"
)

// handleWebhook processes incoming Stripe webhook events.
// POST /credits/webhook
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	// Stripe events are always small.
	const maxBytes = 65536
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}

	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		log.Printf("WARNING: STRIPE_WEBHOOK_SECRET not set, skipping signature verification (dev only)")
	}

	var event stripe.Event
	if webhookSecret != "" {
		sigHeader := r.Header.Get("Stripe-Signature")
		event, err = webhook.ConstructEvent(body, sigHeader, webhookSecret)
		if err != nil {
			log.Printf("Webhook signature verification failed: %v", err)
			writeError(w, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
			return
		}
	} else {
		if err := json.Unmarshal(body, &event); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "failed to parse webhook body")
			return
		}
	}

	log.Printf("Stripe webhook received: type=%s id=%s", event.Type, event.ID)

	if s.isEventProcessed(event.ID) {
		log.Printf("Webhook event %s already processed, skipping", event.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	var handlerErr error
	switch event.Type {
	case "checkout.session.completed":
		handlerErr = s.onCheckoutComplete(event)
	case "charge.refunded":
		handlerErr = s.onChargeRefunded(event)
	default:
		log.Printf("Unhandled Stripe event type: %s", event.Type)
	}

	if handlerErr != nil {
		log.Printf("Error processing webhook event %s (%s): %v", event.ID, event.Type, handlerErr)
		// Return 200 anyway so Stripe doesn't retry transient errors
		// indefinitely; an uncredited purchase surfaces via support and
		// the admin grant endpoint.
		w.WriteHeader(http.StatusOK)
		return
	}

	_ = s.markEventProcessed(event.ID)
	w.WriteHeader(http.StatusOK)
}

// onCheckoutComplete credits the purchased pack to the buyer's wallet.
// Fired by: checkout.session.completed
func (s *Server) onCheckoutComplete(event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout.session: %w", err)
	}

	subscriberID := sess.ClientReferenceID
	if subscriberID == "" && sess.Metadata != nil {
		subscriberID = sess.Metadata["flicknest_subscriber_id"]
	}

	packSlug := ""
	if sess.Metadata != nil {
		packSlug = sess.Metadata["flicknest_pack"]
	}

	// Fall back to the pending_purchases row recorded at checkout time.
	if subscriberID == "" || packSlug == "" {
		var pendingSub, pendingPack string
		err := s.db.QueryRow(
			`SELECT subscriber_id, pack_slug FROM pending_purchases WHERE stripe_session_id = $1`,
			sess.ID,
		).Scan(&pendingSub, &pendingPack)
		if err != nil {
			return fmt.Errorf("checkout.session.completed: no subscriber or pack for session %s", sess.ID)
		}
		if subscriberID == "" {
			subscriberID = pendingSub
		}
		if packSlug == "" {
			packSlug = pendingPack
		}
	}

	pack, ok := stripeclient.PackBySlug(packSlug)
	if !ok {
		return fmt.Errorf("checkout.session.completed: unknown pack %q", packSlug)
	}

	newBalance, err := s.addCredits(subscriberID, pack.Credits)
	if err != nil {
		return fmt.Errorf("credit pack %s to %s: %w", pack.Slug, subscriberID, err)
	}

	s.recordLedger(subscriberID, "purchase", pack.Credits, "", nil, pack.Slug)
	metrics.WalletEvents.WithLabelValues("purchase").Inc()
	log.Printf("Wallet: credited pack %s (%d credits) to %s, balance now %d",
		pack.Slug, pack.Credits, subscriberID, newBalance)
	return nil
}

// onChargeRefunded claws back the credits of a refunded pack. The balance
// may go below what the subscriber already spent; it is clamped at zero
// rather than driven negative.
// Fired by: charge.refunded
func (s *Server) onChargeRefunded(event stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return fmt.Errorf("unmarshal charge: %w", err)
	}

	subscriberID := ""
	packSlug := ""
	if charge.Metadata != nil {
		subscriberID = charge.Metadata["flicknest_subscriber_id"]
		packSlug = charge.Metadata["flicknest_pack"]
	}
	if subscriberID == "" || packSlug == "" {
		log.Printf("charge.refunded %s has no wallet metadata, ignoring", charge.ID)
		return nil
	}

	pack, ok := stripeclient.PackBySlug(packSlug)
	if !ok {
		return fmt.Errorf("charge.refunded: unknown pack %q", packSlug)
	}

	_, err := s.db.Exec(`
		UPDATE wallets
		SET balance = GREATEST(balance - $2, 0), updated_at = NOW()
		WHERE subscriber_id = $1
	`, subscriberID, pack.Credits)
	if err != nil {
		return fmt.Errorf("claw back pack %s from %s: %w", pack.Slug, subscriberID, err)
	}

	s.recordLedger(subscriberID, "refund", -pack.Credits, "", nil, pack.Slug)
	metrics.WalletEvents.WithLabelValues("refund").Inc()
	return nil
}

// isEventProcessed checks the idempotency table for a Stripe event ID.
func (s *Server) isEventProcessed(eventID string) bool {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM processed_webhook_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	return err == nil && exists
}

// markEventProcessed records a Stripe event ID as handled.
func (s *Server) markEventProcessed(eventID string) error {
	_, err := s.db.Exec(`
		INSERT INTO processed_webhook_events (event_id) VALUES ($1)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID)
	return err
}
