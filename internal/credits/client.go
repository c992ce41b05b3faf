// Package credits is the playback service's client for the wallet API.
//
// The gate philosophy is fail-open: a broken or unreachable wallet must
// never block the whole catalog. Only an explicit denial (can_play=false)
// or an explicit 402 on consumption gates playback; every other failure
// mode resolves to "let them watch". The wallet calls go through a
// circuit breaker so a dead wallet backend costs one timeout, not one
// per player open.
package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
)

// PermissionResult is the outcome of a can-play check.
type PermissionResult int

const (
	// PermissionAllowed means the wallet explicitly or implicitly permits playback.
	PermissionAllowed PermissionResult = iota
	// PermissionDenied means the wallet explicitly refused playback.
	PermissionDenied
	// PermissionFailOpen means the check failed for a non-credits reason;
	// callers treat this as playable.
	PermissionFailOpen
)

func (p PermissionResult) String() string {
	switch p {
	case PermissionAllowed:
		return "allowed"
	case PermissionDenied:
		return "denied"
	default:
		return "fail_open"
	}
}

// ErrInsufficientCredits is returned by Consume when the wallet answers 402.
// It is a business outcome, not a transport error: it never trips the
// breaker and is never reported to telemetry.
var ErrInsufficientCredits = errors.New("insufficient credits")

// walletReply carries the status and body of a wallet response through the
// breaker. Non-2xx statuses are successful breaker executions; only
// transport failures count against the circuit.
type walletReply struct {
	status int
	body   []byte
}

// Client calls the wallet service on behalf of an authenticated subscriber.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[walletReply]
}

// NewClient creates a wallet client. baseURL defaults to WALLET_URL or
// http://localhost:8092. The breaker opens after 5 consecutive transport
// failures and probes again after 30 seconds.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("WALLET_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8092"
	}

	settings := gobreaker.Settings{
		Name:    "wallet",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[walletReply](settings),
	}
}

// CanPlay asks the wallet whether the subscriber may start playback of the
// given media. mediaID may be nil for generic trailer checks.
//
// Resolution order:
//  1. 2xx with a can_play field: that value decides.
//  2. 2xx without the field: Allowed (some media types never grew the check).
//  3. Any failure: fall back to a raw balance fetch, Allowed iff balance > 0.
//  4. Balance fetch also failed: PermissionFailOpen.
func (c *Client) CanPlay(ctx context.Context, bearer, mediaType string, mediaID *int64) PermissionResult {
	q := url.Values{"media_type": {mediaType}}
	if mediaID != nil {
		q.Set("media_id", strconv.FormatInt(*mediaID, 10))
	}

	reply, err := c.do(ctx, http.MethodGet, "/credits/can-play?"+q.Encode(), bearer, nil)
	if err == nil && reply.status >= 200 && reply.status < 300 {
		var body struct {
			CanPlay *bool `json:"can_play"`
		}
		if json.Unmarshal(reply.body, &body) == nil && body.CanPlay != nil {
			if *body.CanPlay {
				return PermissionAllowed
			}
			return PermissionDenied
		}
		// Field absent: permissive until proven otherwise.
		return PermissionAllowed
	}

	// Check failed; infer from the raw balance instead.
	balance, berr := c.Balance(ctx, bearer)
	if berr != nil {
		return PermissionFailOpen
	}
	if balance > 0 {
		return PermissionAllowed
	}
	return PermissionDenied
}

// Balance fetches the subscriber's current credit balance.
func (c *Client) Balance(ctx context.Context, bearer string) (int64, error) {
	reply, err := c.do(ctx, http.MethodGet, "/credits/balance", bearer, nil)
	if err != nil {
		return 0, err
	}
	if reply.status < 200 || reply.status >= 300 {
		return 0, fmt.Errorf("wallet balance: unexpected status %d", reply.status)
	}
	balance, ok := ExtractBalance(reply.body)
	if !ok {
		return 0, fmt.Errorf("wallet balance: no recognizable balance in response")
	}
	return balance, nil
}

// Consume spends credits for one playback of (mediaType, mediaID).
// Returns the new balance on success, ErrInsufficientCredits on 402, and a
// transport error otherwise. The per-session idempotency guard lives with
// the playback session, not here; the wallet is not assumed idempotent.
func (c *Client) Consume(ctx context.Context, bearer, mediaType string, mediaID *int64) (int64, error) {
	payload := map[string]interface{}{"media_type": mediaType}
	if mediaID != nil {
		payload["media_id"] = *mediaID
	}
	body, _ := json.Marshal(payload)

	reply, err := c.do(ctx, http.MethodPost, "/credits/consume", bearer, body)
	if err != nil {
		return 0, err
	}

	switch {
	case reply.status == http.StatusPaymentRequired:
		return 0, ErrInsufficientCredits
	case reply.status >= 200 && reply.status < 300:
		balance, ok := ExtractBalance(reply.body)
		if !ok {
			// Consumed but the shape is unrecognizable; balance unknown.
			return 0, nil
		}
		return balance, nil
	default:
		return 0, fmt.Errorf("wallet consume: unexpected status %d", reply.status)
	}
}

// do issues one wallet request through the breaker. An open breaker
// surfaces as a transport error, which every caller fails open on.
func (c *Client) do(ctx context.Context, method, path, bearer string, body []byte) (walletReply, error) {
	return c.breaker.Execute(func() (walletReply, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return walletReply{}, err
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return walletReply{}, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err != nil {
			return walletReply{}, err
		}
		return walletReply{status: resp.StatusCode, body: b}, nil
	})
}
