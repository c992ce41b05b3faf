// enforcer.go - the overlay enforcement loop.
//
// While a session is Denied and non-admin, a 200ms ticker re-asserts the
// blocked state against anything that races it: the native player firing
// its own state updates, the user mashing play, seeks, replays. The loop
// reads live session state on every tick (never a captured snapshot), so
// it can never pause a session that a fresher permission check already
// unblocked. It cancels itself the moment the session stops being Denied
// or closes; a leaked ticker would pin the session in memory.
package playback

import (
	"context"
	"time"

	"github.com/flicknest/flicknest/internal/metrics"
)

// enforceInterval is how often the enforcer re-imposes the blocked state.
// 200ms is fast enough that a re-pressed play never produces audible
// playback, and cheap enough to run per blocked session.
const enforceInterval = 200 * time.Millisecond

// startEnforcerLocked arms the enforcer for s. Caller must hold s.mu.
// At most one enforcer runs per session: arming while armed is a no-op,
// so repeated Denied transitions never stack tickers.
func (m *Manager) startEnforcerLocked(s *Session) {
	if s.enforcerCancel != nil || s.isAdminBypass {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.enforcerCancel = cancel
	go m.enforce(ctx, s)
}

// enforce is the per-session enforcement loop. It exits when cancelled or
// when a tick observes that enforcement is no longer warranted.
func (m *Manager) enforce(ctx context.Context, s *Session) {
	ticker := m.clock.NewTicker(enforceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if m.enforceTick(s) {
				return
			}
		}
	}
}

// enforceTick applies one round of enforcement. Returns true when the
// loop should stop. State is read fresh under the session lock each
// tick; this is what makes the enforcer safe against in-flight
// permission checks resolving concurrently.
func (m *Manager) enforceTick(s *Session) (done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.isAdminBypass || s.permission != PermissionDenied {
		// Disarm so a later Denied can arm a fresh loop.
		if s.enforcerCancel != nil {
			s.enforcerCancel()
			s.enforcerCancel = nil
		}
		return true
	}

	// Re-assert the overlay even if some other code path cleared it.
	if !s.overlayVisible {
		s.overlayVisible = true
		metrics.OverlayEnforcements.WithLabelValues(string(s.transport), "assert").Inc()
	}

	switch s.transport {
	case TransportNative:
		if !s.player.paused {
			s.player.paused = true
			s.player.position = 0
			metrics.OverlayEnforcements.WithLabelValues(string(s.transport), "pause").Inc()
		}
	case TransportIframe:
		// Cross-origin: cannot pause or seek the embedded player. The
		// click-capture overlay asserted above is the whole contract.
	}
	return false
}
