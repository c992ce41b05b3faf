// client_contract_test.go - drives the playback service's wallet client
// against the real wallet routes, so the two sides of the credits API
// cannot drift apart unnoticed. Requires Postgres; skips otherwise.
package wallet

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flicknest/flicknest/internal/credits"
	"github.com/flicknest/flicknest/internal/testutil"
)

func newContractPair(t *testing.T) (*credits.Client, *Server, *testutil.Subscriber, string) {
	t.Helper()
	s, sub, token := newDBServer(t)

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return credits.NewClient(ts.URL), s, sub, token
}

func TestWalletClientContract(t *testing.T) {
	client, s, sub, token := newContractPair(t)
	testutil.SeedWallet(t, s.db, sub.ID, 2)
	ctx := context.Background()
	mediaID := int64(42)

	if got := client.CanPlay(ctx, token, "movie", &mediaID); got != credits.PermissionAllowed {
		t.Fatalf("CanPlay with 2 credits = %v, want allowed", got)
	}

	balance, err := client.Balance(ctx, token)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 2 {
		t.Errorf("Balance = %d, want 2", balance)
	}

	// Two paid plays drain the wallet; the third is a business refusal.
	for want := int64(1); want >= 0; want-- {
		got, err := client.Consume(ctx, token, "movie", &mediaID)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		if got != want {
			t.Errorf("Consume balance = %d, want %d", got, want)
		}
	}
	if _, err := client.Consume(ctx, token, "movie", &mediaID); !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("Consume on empty wallet: err = %v, want ErrInsufficientCredits", err)
	}

	if got := client.CanPlay(ctx, token, "movie", &mediaID); got != credits.PermissionDenied {
		t.Errorf("CanPlay on empty wallet = %v, want denied", got)
	}

	// Trailers stay free even on an empty wallet.
	if got := client.CanPlay(ctx, token, "trailer", nil); got != credits.PermissionAllowed {
		t.Errorf("CanPlay trailer on empty wallet = %v, want allowed", got)
	}
	if _, err := client.Consume(ctx, token, "trailer", nil); err != nil {
		t.Errorf("Consume trailer on empty wallet: %v", err)
	}
}
