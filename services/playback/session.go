// session.go - playback session state machine.
//
// One Session per opened player (modal open to modal close). All gating
// state is session-scoped and discarded on close; nothing persists. The
// SPA mirrors its media element state into us through events and applies
// the directives we hand back (pause, seek-to-start, overlay visibility).
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"log/slog"

	"github.com/flicknest/flicknest/internal/credits"
	"github.com/flicknest/flicknest/internal/metrics"
)

// MediaType is the kind of media a session plays.
type MediaType string

const (
	MediaMovie    MediaType = "movie"
	MediaTVSeries MediaType = "tvseries"
	MediaEpisode  MediaType = "episode"
	MediaTrailer  MediaType = "trailer"
)

// PermissionState is the session's current playback authorization.
type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionAllowed PermissionState = "allowed"
	PermissionDenied  PermissionState = "denied"
	PermissionError   PermissionState = "error"
)

// Transport distinguishes the two player kinds the SPA embeds.
type Transport string

const (
	// TransportNative is a <video> element the SPA controls directly.
	TransportNative Transport = "native"
	// TransportIframe is a third-party embedded player. Cross-origin, so
	// enforcement is limited to keeping the click-capture overlay on top.
	TransportIframe Transport = "iframe"
)

// playerState mirrors the client's media element as last reported.
type playerState struct {
	paused   bool
	position float64
}

// Directives tells the SPA what to apply after an event or poll.
type Directives struct {
	OverlayVisible bool   `json:"overlay_visible"`
	Pause          bool   `json:"pause"`
	SeekToStart    bool   `json:"seek_to_start"`
	Consumed       bool   `json:"consumed"`
	Balance        *int64 `json:"remaining_credits,omitempty"`
}

// Session is the ephemeral state for one opened player.
type Session struct {
	ID           string
	SubscriberID string

	mu              sync.Mutex
	mediaType       MediaType
	mediaID         *int64
	transport       Transport
	permission      PermissionState
	creditsConsumed bool
	consumeInFlight bool
	lastSourceURL   string
	isAdminBypass   bool
	bearer          string

	player         playerState
	overlayVisible bool
	closed         bool

	source         *PlaybackSource
	enforcerCancel context.CancelFunc
	openedAt       time.Time
}

// OverlayVisible reports the derived overlay state.
func (s *Session) OverlayVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlayVisible
}

// PollDirectives snapshots the directives an overlay poll should apply.
// While blocked on the native transport that includes pause and
// seek-to-start, so a quiet player emitting no events still gets the
// paused-at-zero invariant re-imposed on the next poll.
func (s *Session) PollDirectives() Directives {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := Directives{OverlayVisible: s.overlayVisible, Consumed: s.creditsConsumed}
	if s.overlayVisible && s.transport == TransportNative {
		d.Pause = true
		d.SeekToStart = true
	}
	return d
}

// Permission returns the current permission state.
func (s *Session) Permission() PermissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// SourceURL returns the playback URL the client should load.
func (s *Session) SourceURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != nil {
		return s.source.URL
	}
	return s.lastSourceURL
}

// Manager owns all live sessions for this process.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	wallet  *credits.Client
	balance *credits.BalanceCache
	resolve *SourceResolver
	clock   clockwork.Clock
	log     *slog.Logger
}

// NewManager wires a session manager. clock is injectable so enforcer
// timing is testable; pass clockwork.NewRealClock() in production.
func NewManager(wallet *credits.Client, balance *credits.BalanceCache, resolver *SourceResolver, clock clockwork.Clock, log *slog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		wallet:   wallet,
		balance:  balance,
		resolve:  resolver,
		clock:    clock,
		log:      log,
	}
}

// OpenParams are the inputs to Open, taken from the open request and the
// caller's JWT.
type OpenParams struct {
	SubscriberID string
	Bearer       string
	IsAdmin      bool
	MediaType    MediaType
	MediaID      *int64
	SourceURL    string
	Transport    Transport
}

// Open creates a session for one player instance. The admin bypass flag
// is captured here, once, and never re-read: a role change mid-session
// must not flip enforcement halfway through a playback.
//
// The permission check runs before the session is returned. Admins skip
// the gate entirely; for everyone else a Denied result arms the overlay
// enforcer immediately so the player opens blocked.
func (m *Manager) Open(ctx context.Context, p OpenParams) *Session {
	s := &Session{
		ID:            uuid.NewString(),
		SubscriberID:  p.SubscriberID,
		mediaType:     p.MediaType,
		mediaID:       p.MediaID,
		transport:     p.Transport,
		permission:    PermissionUnknown,
		isAdminBypass: p.IsAdmin,
		bearer:        p.Bearer,
		openedAt:      m.clock.Now(),
		player:        playerState{paused: true},
	}

	s.source = m.resolve.Resolve(ctx, p.SourceURL, p.Bearer)
	s.lastSourceURL = s.source.URL

	if p.IsAdmin {
		s.permission = PermissionAllowed
	} else {
		result := m.wallet.CanPlay(ctx, p.Bearer, string(p.MediaType), p.MediaID)
		metrics.CreditEvents.WithLabelValues("check", result.String()).Inc()
		switch result {
		case credits.PermissionAllowed:
			s.permission = PermissionAllowed
		case credits.PermissionDenied:
			s.permission = PermissionDenied
		default:
			// Fail open: a wallet outage must not gate the catalog.
			s.permission = PermissionError
		}
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()

	s.mu.Lock()
	if s.permission == PermissionDenied && !s.isAdminBypass {
		s.overlayVisible = true
		m.startEnforcerLocked(s)
	}
	s.mu.Unlock()

	m.log.Info("playback session opened",
		"session_id", s.ID,
		"media_type", p.MediaType,
		"transport", p.Transport,
		"permission", s.Permission(),
		"admin_bypass", p.IsAdmin,
	)
	return s
}

// Get returns the live session with the given ID, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// isActive reports whether s is still the registered session for its ID.
// Late network completions check this before touching session state.
func (m *Manager) isActive(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[s.ID] == s
}

// Close tears a session down: enforcer cancelled, streamed object
// released, state discarded. Safe to call more than once.
func (m *Manager) Close(s *Session) {
	m.mu.Lock()
	if m.sessions[s.ID] != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	if s.enforcerCancel != nil {
		s.enforcerCancel()
		s.enforcerCancel = nil
	}
	src := s.source
	s.mu.Unlock()

	if src != nil {
		src.Release()
	}
	metrics.ActiveSessions.Dec()
	m.log.Info("playback session closed", "session_id", s.ID, "watched", m.clock.Since(s.openedAt).String())
}

// PlayerEvent is one mirrored media element event from the SPA.
type PlayerEvent struct {
	// Kind is play, playing, or timeupdate.
	Kind string
	// Paused and Position mirror the element at event time.
	Paused    bool
	Position  float64
	SourceURL string
}

// HandleEvent ingests a player event and returns the directives the SPA
// must apply. Consumption is lazy: it fires on the first real play, not
// at open, and exactly once per session per source.
func (m *Manager) HandleEvent(ctx context.Context, s *Session, ev PlayerEvent) Directives {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return Directives{}
	}

	s.player.paused = ev.Paused
	s.player.position = ev.Position

	// A rewritten source (new episode in the same modal, blob swap) means
	// this is a new playback: the consumed flag no longer applies.
	if ev.SourceURL != "" && ev.SourceURL != s.lastSourceURL {
		s.lastSourceURL = ev.SourceURL
		s.creditsConsumed = false
	}

	blocked := s.overlayVisible && !s.isAdminBypass

	if blocked {
		// Re-impose the invariant on every tick-like event: paused, at zero.
		d := Directives{OverlayVisible: true}
		if s.transport == TransportNative {
			d.Pause = true
			d.SeekToStart = true
			s.player.paused = true
			s.player.position = 0
		}
		s.mu.Unlock()
		metrics.OverlayEnforcements.WithLabelValues(string(s.transport), "event").Inc()
		return d
	}

	if ev.Kind == "play" {
		return m.maybeConsume(ctx, s) // unlocks s.mu
	}

	d := Directives{OverlayVisible: s.overlayVisible, Consumed: s.creditsConsumed}
	s.mu.Unlock()
	return d
}

// maybeConsume performs the idempotent-per-session consumption. Caller
// holds s.mu; it is released before the network call and retaken after,
// so near-simultaneous play events park on the in-flight flag instead of
// stacking wallet mutations.
func (m *Manager) maybeConsume(ctx context.Context, s *Session) Directives {
	if s.isAdminBypass || s.creditsConsumed || s.consumeInFlight {
		d := Directives{OverlayVisible: s.overlayVisible, Consumed: s.creditsConsumed}
		s.mu.Unlock()
		return d
	}
	s.consumeInFlight = true
	mediaType := s.mediaType
	mediaID := s.mediaID
	bearer := s.bearer
	s.mu.Unlock()

	balance, err := m.wallet.Consume(ctx, bearer, string(mediaType), mediaID)

	s.mu.Lock()
	s.consumeInFlight = false

	// The modal may have closed, or this session replaced, mid-flight.
	if s.closed || !m.isActive(s) {
		s.mu.Unlock()
		return Directives{}
	}

	switch {
	case err == nil:
		s.creditsConsumed = true
		s.permission = PermissionAllowed
		s.overlayVisible = false
		d := Directives{Consumed: true, Balance: &balance}
		s.mu.Unlock()
		m.balance.Publish(balance)
		metrics.CreditEvents.WithLabelValues("consume", "success").Inc()
		return d

	case err == credits.ErrInsufficientCredits:
		s.permission = PermissionDenied
		s.overlayVisible = true
		s.player.paused = true
		s.player.position = 0
		m.startEnforcerLocked(s)
		d := Directives{OverlayVisible: true, Pause: true, SeekToStart: true}
		s.mu.Unlock()
		metrics.CreditEvents.WithLabelValues("consume", "insufficient").Inc()
		// Business outcome, not an error: no error log, no telemetry.
		m.log.Info("playback blocked on insufficient credits", "session_id", s.ID, "media_type", mediaType)
		return d

	default:
		// Transport failure mid-stream: let them keep watching.
		d := Directives{OverlayVisible: s.overlayVisible}
		s.mu.Unlock()
		metrics.CreditEvents.WithLabelValues("consume", "fail_open").Inc()
		m.log.Warn("credit consumption failed, failing open", "session_id", s.ID, "error", err)
		return d
	}
}

// Recheck re-runs the permission check, typically after a purchase. An
// Allowed result clears the overlay and stops the enforcer.
func (m *Manager) Recheck(ctx context.Context, s *Session) Directives {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Directives{}
	}
	if s.isAdminBypass {
		d := Directives{}
		s.mu.Unlock()
		return d
	}
	mediaType := s.mediaType
	mediaID := s.mediaID
	bearer := s.bearer
	s.mu.Unlock()

	result := m.wallet.CanPlay(ctx, bearer, string(mediaType), mediaID)
	metrics.CreditEvents.WithLabelValues("check", result.String()).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !m.isActive(s) {
		return Directives{}
	}

	switch result {
	case credits.PermissionDenied:
		s.permission = PermissionDenied
		s.overlayVisible = true
		m.startEnforcerLocked(s)
	default:
		// Allowed or fail-open both unblock.
		if result == credits.PermissionAllowed {
			s.permission = PermissionAllowed
		} else {
			s.permission = PermissionError
		}
		s.overlayVisible = false
		if s.enforcerCancel != nil {
			s.enforcerCancel()
			s.enforcerCancel = nil
		}
		// New source generation after a top-up pays again on next play.
		s.creditsConsumed = false
	}

	d := Directives{OverlayVisible: s.overlayVisible, Consumed: s.creditsConsumed}
	return d
}
