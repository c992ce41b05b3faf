// session_test.go - session state machine behavior against a stub wallet.
package playback

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"log/slog"

	"github.com/flicknest/flicknest/internal/credits"
)

// stubWallet is a configurable fake wallet backend.
type stubWallet struct {
	srv *httptest.Server

	mu            sync.Mutex
	canPlayBody   string
	consumeStatus int
	consumeBody   string
	consumeDelay  time.Duration
	consumeCalls  atomic.Int64
}

func newStubWallet(t *testing.T) *stubWallet {
	t.Helper()
	w := &stubWallet{
		canPlayBody:   `{"can_play": true}`,
		consumeStatus: http.StatusOK,
		consumeBody:   `{"remaining_credits": 9}`,
	}
	w.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/credits/can-play":
			w.mu.Lock()
			body := w.canPlayBody
			w.mu.Unlock()
			_, _ = rw.Write([]byte(body))
		case "/credits/consume":
			w.consumeCalls.Add(1)
			w.mu.Lock()
			status, body, delay := w.consumeStatus, w.consumeBody, w.consumeDelay
			w.mu.Unlock()
			if delay > 0 {
				time.Sleep(delay)
			}
			rw.WriteHeader(status)
			_, _ = rw.Write([]byte(body))
		case "/credits/balance":
			_, _ = rw.Write([]byte(`{"remaining_credits": 0}`))
		default:
			http.NotFound(rw, r)
		}
	}))
	t.Cleanup(w.srv.Close)
	return w
}

func (w *stubWallet) setCanPlay(body string) {
	w.mu.Lock()
	w.canPlayBody = body
	w.mu.Unlock()
}

func (w *stubWallet) setConsume(status int, body string) {
	w.mu.Lock()
	w.consumeStatus = status
	w.consumeBody = body
	w.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, walletURL string, clock clockwork.Clock) *Manager {
	t.Helper()
	lg := testLogger()
	return NewManager(
		credits.NewClient(walletURL),
		credits.NewBalanceCache(),
		NewSourceResolver(lg),
		clock,
		lg,
	)
}

func openTestSession(t *testing.T, m *Manager, admin bool) *Session {
	t.Helper()
	id := int64(42)
	s := m.Open(context.Background(), OpenParams{
		SubscriberID: "sub-1",
		Bearer:       "tok",
		IsAdmin:      admin,
		MediaType:    MediaMovie,
		MediaID:      &id,
		SourceURL:    "https://cdn.example.com/public/42.mp4",
		Transport:    TransportNative,
	})
	t.Cleanup(func() { m.Close(s) })
	return s
}

func TestOpenAllowedWhenWalletAllows(t *testing.T) {
	w := newStubWallet(t)
	m := newTestManager(t, w.srv.URL, clockwork.NewFakeClock())
	s := openTestSession(t, m, false)

	if got := s.Permission(); got != PermissionAllowed {
		t.Errorf("permission = %v, want allowed", got)
	}
	if s.OverlayVisible() {
		t.Error("overlay must be hidden for an allowed session")
	}
}

func TestOpenDeniedArmsOverlay(t *testing.T) {
	w := newStubWallet(t)
	w.setCanPlay(`{"can_play": false}`)
	m := newTestManager(t, w.srv.URL, clockwork.NewFakeClock())
	s := openTestSession(t, m, false)

	if got := s.Permission(); got != PermissionDenied {
		t.Errorf("permission = %v, want denied", got)
	}
	if !s.OverlayVisible() {
		t.Error("overlay must be visible for a denied session")
	}
}

func TestRapidPlayEventsConsumeOnce(t *testing.T) {
	w := newStubWallet(t)
	w.mu.Lock()
	w.consumeDelay = 50 * time.Millisecond
	w.mu.Unlock()
	m := newTestManager(t, w.srv.URL, clockwork.NewFakeClock())
	s := openTestSession(t, m, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.HandleEvent(context.Background(), s, PlayerEvent{Kind: "play", Paused: false})
		}()
	}
	wg.Wait()

	// Events that raced the in-flight call must not have stacked mutations.
	if got := w.consumeCalls.Load(); got != 1 {
		t.Errorf("wallet saw %d consume calls, want 1", got)
	}

	// Another play after completion is a no-op too.
	m.HandleEvent(context.Background(), s, PlayerEvent{Kind: "play", Paused: false})
	if got := w.consumeCalls.Load(); got != 1 {
		t.Errorf("replay after consume: wallet saw %d calls, want 1", got)
	}
}

func TestSourceChangeReArmsConsumption(t *testing.T) {
	w := newStubWallet(t)
	m := newTestManager(t, w.srv.URL, clockwork.NewFakeClock())
	s := openTestSession(t, m, false)

	m.HandleEvent(context.Background(), s, PlayerEvent{Kind: "play", Paused: false})
	if got := w.consumeCalls.Load(); got != 1 {
		t.Fatalf("first play: %d consume calls, want 1", got)
	}

	// New source in the same session: next play pays again.
	m.HandleEvent(context.Background(), s, PlayerEvent{
		Kind:      "timeupdate",
		Paused:    true,
		SourceURL: "https://cdn.example.com/public/43.mp4",
	})
	m.HandleEvent(context.Background(), s, PlayerEvent{Kind: "play", Paused: false})
	if got := w.consumeCalls.Load(); got != 2 {
		t.Errorf("after source change: %d consume calls, want 2", got)
	}
}

func TestConsume402BlocksPlayback(t *testing.T) {
	w := newStubWallet(t)
	w.setConsume(http.StatusPaymentRequired, `{"error":"insufficient_credits"}`)
	m := newTestManager(t, w.srv.URL, clockwork.NewFakeClock())
	s := openTestSession(t, m, false)

	d := m.HandleEvent(context.Background(), s, PlayerEvent{Kind: "play", Paused: false, Position: 31.5})
	if !d.OverlayVisible || !d.Pause || !d.SeekToStart {
		t.Errorf("402 directives = %+v, want overlay+pause+seek", d)
	}
	if got := s.Permission(); got != PermissionDenied {
		t.Errorf("permission = %v, want denied", got)
	}

	// While blocked, further plays never reach the wallet.
	d = m.HandleEvent(context.Background(), s, PlayerEvent{Kind: "play", Paused: false})
	if !d.OverlayVisible || !d.Pause || !d.SeekToStart {
		t.Errorf("blocked replay directives = %+v, want overlay+pause+seek", d)
	}
	if got := w.consumeCalls.Load(); got != 1 {
		t.Errorf("wallet saw %d consume calls, want 1", got)
	}
}

func TestConsumeTransportErrorFailsOpen(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	dead.Close()

	m := newTestManager(t, dead.URL, clockwork.NewFakeClock())
	s := openTestSession(t, m, false)

	// Open already failed open (wallet unreachable).
	if got := s.Permission(); got != PermissionError {
		t.Fatalf("permission = %v, want error (fail open)", got)
	}
	if s.OverlayVisible() {
		t.Fatal("fail-open session must not show the overlay")
	}

	d := m.HandleEvent(context.Background(), s, PlayerEvent{Kind: "play", Paused: false})
	if d.OverlayVisible || d.Pause || d.SeekToStart {
		t.Errorf("fail-open consume directives = %+v, want none", d)
	}
}

func TestAdminBypassNeverConsumes(t *testing.T) {
	w := newStubWallet(t)
	w.setCanPlay(`{"can_play": false}`) // would deny a normal subscriber
	m := newTestManager(t, w.srv.URL, clockwork.NewFakeClock())
	s := openTestSession(t, m, true)

	if got := s.Permission(); got != PermissionAllowed {
		t.Errorf("admin permission = %v, want allowed", got)
	}
	if s.OverlayVisible() {
		t.Error("admin session must never show the overlay")
	}

	m.HandleEvent(context.Background(), s, PlayerEvent{Kind: "play", Paused: false})
	if got := w.consumeCalls.Load(); got != 0 {
		t.Errorf("admin play reached the wallet %d times, want 0", got)
	}
}

func TestRecheckAfterTopUpUnblocks(t *testing.T) {
	w := newStubWallet(t)
	w.setCanPlay(`{"can_play": false}`)
	m := newTestManager(t, w.srv.URL, clockwork.NewFakeClock())
	s := openTestSession(t, m, false)

	if !s.OverlayVisible() {
		t.Fatal("precondition: session should open blocked")
	}

	// Top-up happened; wallet now allows.
	w.setCanPlay(`{"can_play": true}`)
	d := m.Recheck(context.Background(), s)
	if d.OverlayVisible {
		t.Error("overlay must clear after an allowed recheck")
	}
	if got := s.Permission(); got != PermissionAllowed {
		t.Errorf("permission = %v, want allowed", got)
	}

	// Next play pays for the unblocked playback.
	m.HandleEvent(context.Background(), s, PlayerEvent{Kind: "play", Paused: false})
	if got := w.consumeCalls.Load(); got != 1 {
		t.Errorf("post-recheck play: %d consume calls, want 1", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w := newStubWallet(t)
	m := newTestManager(t, w.srv.URL, clockwork.NewFakeClock())
	s := openTestSession(t, m, false)

	m.Close(s)
	m.Close(s)

	if m.Get(s.ID) != nil {
		t.Error("closed session must be deregistered")
	}
	if d := m.HandleEvent(context.Background(), s, PlayerEvent{Kind: "play", Paused: false}); d != (Directives{}) {
		t.Errorf("event on closed session returned %+v, want zero directives", d)
	}
	if got := w.consumeCalls.Load(); got != 0 {
		t.Errorf("closed session reached the wallet %d times, want 0", got)
	}
}
