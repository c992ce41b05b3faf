// enforcer_test.go - overlay enforcement loop behavior on a fake clock.
package playback

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// waitFor polls cond until it holds or the deadline passes. The enforcer
// tick runs in its own goroutine, so assertions after Advance must wait
// for the tick to land.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func (s *Session) setPlayerState(paused bool, position float64, overlay bool) {
	s.mu.Lock()
	s.player.paused = paused
	s.player.position = position
	s.overlayVisible = overlay
	s.mu.Unlock()
}

func (s *Session) playerSnapshot() (paused bool, position float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player.paused, s.player.position
}

func (s *Session) enforcerArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enforcerCancel != nil
}

func TestEnforcerReassertsBlockedState(t *testing.T) {
	w := newStubWallet(t)
	w.setCanPlay(`{"can_play": false}`)
	clock := clockwork.NewFakeClock()
	m := newTestManager(t, w.srv.URL, clock)
	s := openTestSession(t, m, false)

	if !s.enforcerArmed() {
		t.Fatal("denied session must arm the enforcer")
	}

	// Something slipped past the directives: player running, overlay gone.
	s.setPlayerState(false, 17.2, false)

	clock.BlockUntil(1)
	clock.Advance(enforceInterval)

	waitFor(t, func() bool {
		paused, position := s.playerSnapshot()
		return s.OverlayVisible() && paused && position == 0
	}, "enforcer tick did not re-assert overlay, pause, and rewind")
}

func TestEnforcerLeavesIframePlayerAlone(t *testing.T) {
	w := newStubWallet(t)
	w.setCanPlay(`{"can_play": false}`)
	clock := clockwork.NewFakeClock()
	m := newTestManager(t, w.srv.URL, clock)

	id := int64(7)
	s := m.Open(context.Background(), OpenParams{
		SubscriberID: "sub-1",
		Bearer:       "tok",
		MediaType:    MediaTrailer,
		MediaID:      &id,
		SourceURL:    "https://embed.example.com/player/7",
		Transport:    TransportIframe,
	})
	defer m.Close(s)

	// Cross-origin player state is out of reach; only the overlay counts.
	s.setPlayerState(false, 44.0, false)

	clock.BlockUntil(1)
	clock.Advance(enforceInterval)

	waitFor(t, func() bool { return s.OverlayVisible() }, "overlay not re-asserted for iframe transport")
	if paused, position := s.playerSnapshot(); paused || position != 44.0 {
		t.Errorf("iframe player state was touched: paused=%v position=%v", paused, position)
	}
}

func TestEnforcerDisarmsWhenPermissionClears(t *testing.T) {
	w := newStubWallet(t)
	w.setCanPlay(`{"can_play": false}`)
	clock := clockwork.NewFakeClock()
	m := newTestManager(t, w.srv.URL, clock)
	s := openTestSession(t, m, false)

	w.setCanPlay(`{"can_play": true}`)
	m.Recheck(context.Background(), s)

	if s.enforcerArmed() {
		t.Error("enforcer must disarm on an allowed recheck")
	}
	if s.OverlayVisible() {
		t.Error("overlay must clear on an allowed recheck")
	}
}

func TestEnforcerSelfCancelsOnStaleState(t *testing.T) {
	w := newStubWallet(t)
	w.setCanPlay(`{"can_play": false}`)
	clock := clockwork.NewFakeClock()
	m := newTestManager(t, w.srv.URL, clock)
	s := openTestSession(t, m, false)

	// Permission flips without going through Recheck (for example a
	// successful consume path). The next tick must notice and stop.
	s.mu.Lock()
	s.permission = PermissionAllowed
	s.overlayVisible = false
	s.mu.Unlock()

	clock.BlockUntil(1)
	clock.Advance(enforceInterval)

	waitFor(t, func() bool { return !s.enforcerArmed() }, "enforcer did not self-cancel after permission cleared")
	if s.OverlayVisible() {
		t.Error("overlay must stay hidden once permission cleared")
	}
}

func TestEnforcerStopsOnClose(t *testing.T) {
	w := newStubWallet(t)
	w.setCanPlay(`{"can_play": false}`)
	clock := clockwork.NewFakeClock()
	m := newTestManager(t, w.srv.URL, clock)
	s := openTestSession(t, m, false)

	m.Close(s)
	if s.enforcerArmed() {
		t.Error("close must cancel the enforcer")
	}
	// Advancing after close must not resurrect anything.
	clock.Advance(enforceInterval)
	if s.OverlayVisible() {
		t.Error("overlay re-asserted after close")
	}
}

func TestDeniedRecheckKeepsSingleEnforcer(t *testing.T) {
	w := newStubWallet(t)
	w.setCanPlay(`{"can_play": false}`)
	clock := clockwork.NewFakeClock()
	m := newTestManager(t, w.srv.URL, clock)
	s := openTestSession(t, m, false)

	// Repeated denied rechecks arm again; arming while armed is a no-op,
	// so exactly one ticker waiter exists afterwards.
	for i := 0; i < 3; i++ {
		m.Recheck(context.Background(), s)
	}
	clock.BlockUntil(1)

	if !s.enforcerArmed() {
		t.Error("enforcer must stay armed across denied rechecks")
	}
}
