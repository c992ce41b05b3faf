// main.go - Flicknest Playback Service.
// Port: 8091 (internal; proxied via Nginx).
// Gates playback on the wallet service and enforces the credit overlay.
package playback

import (
	"log"
	"net/http"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/flicknest/flicknest/internal/credits"
	"github.com/flicknest/flicknest/internal/logger"
	"github.com/flicknest/flicknest/internal/metrics"
	"github.com/flicknest/flicknest/internal/ratelimit"
	"github.com/flicknest/flicknest/pkg/telemetry"
)

// Server holds all shared dependencies for the playback service.
type Server struct {
	mgr      *Manager
	resolver *SourceResolver
	limiter  *ratelimit.Limiter // may be nil if Redis is not configured
	port     string
}

// NewServer creates the playback server.
func NewServer(mgr *Manager, resolver *SourceResolver, limiter *ratelimit.Limiter) *Server {
	port := getEnv("PLAYBACK_PORT", "8091")
	return &Server{mgr: mgr, resolver: resolver, limiter: limiter, port: port}
}

// Run starts the HTTP server with all playback routes registered.
func (s *Server) Run() error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	handler := metrics.Middleware("playback", telemetry.PanicRecoveryMiddleware("playback")(mux))
	log.Printf("Flicknest Playback Service starting on :%s", s.port)
	return http.ListenAndServe(":"+s.port, handler)
}

// StartPlaybackService is the entrypoint for cmd/playback/main.go.
func StartPlaybackService() {
	lg := logger.New(getEnv("LOG_FORMAT", "json"), getEnv("LOG_LEVEL", "info"))

	if err := telemetry.InitSentry(os.Getenv("SENTRY_DSN"), "flicknest-playback", os.Getenv("FLICKNEST_RELEASE")); err != nil {
		log.Printf("WARNING: Sentry not configured: %v", err)
	}
	defer telemetry.Flush()

	// Rate limiting degrades gracefully when Redis is absent (dev setups).
	var limiter *ratelimit.Limiter
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			log.Printf("WARNING: bad REDIS_URL, rate limiting disabled: %v", err)
		} else {
			limiter = ratelimit.New(ratelimit.NewRedisStore(redis.NewClient(opts)))
		}
	} else {
		log.Printf("WARNING: REDIS_URL not set, rate limiting disabled")
	}

	wallet := credits.NewClient(os.Getenv("WALLET_URL"))
	balance := credits.NewBalanceCache()
	resolver := NewSourceResolver(lg)
	mgr := NewManager(wallet, balance, resolver, clockwork.NewRealClock(), lg)

	srv := NewServer(mgr, resolver, limiter)
	if err := srv.Run(); err != nil {
		log.Fatalf("Playback service failed: %v", err)
	}
}

// getEnv returns an env var with a fallback.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
