// main.go - Flicknest Wallet Service.
// Port: 8092 (internal; proxied via Nginx).
// Owns credit balances; the playback service gates on this service.
// Stripe: reads STRIPE_SECRET_KEY from environment.
package wallet

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/flicknest/flicknest/internal/metrics"
	"github.com/flicknest/flicknest/internal/ratelimit"
	stripeclient "github.com/flicknest/flicknest/internal/stripe"
	"github.com/flicknest/flicknest/pkg/telemetry"
)

// Server holds all shared dependencies for the wallet service.
type Server struct {
	db      *sql.DB
	stripe  *stripeclient.Client // may be nil if STRIPE_SECRET_KEY is not configured
	limiter *ratelimit.Limiter   // may be nil if Redis is not configured
	port    string
}

// NewServer creates the wallet server.
// stripeClient may be nil; purchase endpoints then return 503.
func NewServer(db *sql.DB, sc *stripeclient.Client, limiter *ratelimit.Limiter) *Server {
	port := getEnv("WALLET_PORT", "8092")
	return &Server{db: db, stripe: sc, limiter: limiter, port: port}
}

// Run starts the HTTP server with all wallet routes registered.
func (s *Server) Run() error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	handler := metrics.Middleware("wallet", telemetry.PanicRecoveryMiddleware("wallet")(mux))
	log.Printf("Flicknest Wallet Service starting on :%s", s.port)
	return http.ListenAndServe(":"+s.port, handler)
}

// handleHealth returns service health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stripeStatus := "unconfigured"
	if s.stripe != nil {
		stripeStatus = "ok"
		if s.stripe.IsTestMode() {
			stripeStatus = "ok (test mode)"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","service":"flicknest-wallet","stripe":"%s"}`, stripeStatus)
}

// stripeRequired returns 503 with a clear message if Stripe is not
// configured. Returns true if the caller should return immediately.
func (s *Server) stripeRequired(w http.ResponseWriter) bool {
	if s.stripe == nil {
		writeError(w, http.StatusServiceUnavailable, "stripe_not_configured",
			"Stripe is not configured. Set STRIPE_SECRET_KEY to enable credit purchases.")
		return true
	}
	return false
}

// StartWalletService is the entrypoint for cmd/wallet/main.go.
func StartWalletService() {
	db, err := connectDB()
	if err != nil {
		log.Fatalf("Wallet: database connection failed: %v", err)
	}
	defer db.Close()
	log.Printf("Wallet: database connected")

	if err := telemetry.InitSentry(os.Getenv("SENTRY_DSN"), "flicknest-wallet", os.Getenv("FLICKNEST_RELEASE")); err != nil {
		log.Printf("WARNING: Sentry not configured: %v", err)
	}
	defer telemetry.Flush()

	// Stripe degrades gracefully: balance and consume keep working, only
	// purchases return 503.
	sc, err := stripeclient.New()
	if err != nil {
		log.Printf("WARNING: Stripe not configured: %v", err)
		log.Printf("WARNING: /credits/purchase will return 503")
		sc = nil
	}

	var limiter *ratelimit.Limiter
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			log.Printf("WARNING: bad REDIS_URL, rate limiting disabled: %v", err)
		} else {
			limiter = ratelimit.New(ratelimit.NewRedisStore(redis.NewClient(opts)))
		}
	}

	srv := NewServer(db, sc, limiter)
	if err := srv.Run(); err != nil {
		log.Fatalf("Wallet service failed: %v", err)
	}
}

// connectDB opens a Postgres connection from env vars.
func connectDB() (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5433"),
		getEnv("POSTGRES_USER", "flicknest"),
		getEnv("POSTGRES_PASSWORD", ""),
		getEnv("POSTGRES_DB", "flicknest_dev"),
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// getEnv returns an env var with a fallback.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
