// client.go - shared Stripe client initialization for the wallet service.
package stripe

import (
	"fmt"
	"log"
	"os"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Client wraps the Stripe API client with wallet-specific helpers.
type Client struct {
	sc *client.API
}

// New initializes a Stripe client from the environment.
// Reads STRIPE_SECRET_KEY.
func New() (*Client, error) {
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		return nil, fmt.Errorf("stripe not configured: set STRIPE_SECRET_KEY")
	}
	stripe.Key = key
	sc := &client.API{}
	sc.Init(key, nil)
	log.Printf("Stripe client initialized (key prefix: %s...)", safePrefix(key))
	return &Client{sc: sc}, nil
}

// API exposes the underlying Stripe API client for handler use.
func (c *Client) API() *client.API { return c.sc }

// CreateCustomer creates a Stripe customer for a subscriber and returns
// the customer ID.
func (c *Client) CreateCustomer(email, name, subscriberID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.AddMetadata("flicknest_subscriber_id", subscriberID)
	cust, err := c.sc.Customers.New(params)
	if err != nil {
		return "", err
	}
	return cust.ID, nil
}

// IsTestMode returns true if the configured key is a Stripe test key.
func (c *Client) IsTestMode() bool {
	return len(stripe.Key) > 7 && stripe.Key[:7] == "sk_test"
}

// safePrefix returns the first 12 chars of the key for logging (never the full key).
func safePrefix(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:12]
}
