// main.go - Flicknest Auth Service.
// Port: 8090 (internal; proxied via Nginx).
// Owns subscriber accounts, credentials, TOTP 2FA, and refresh token sessions.
package auth

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/flicknest/flicknest/internal/metrics"
	"github.com/flicknest/flicknest/internal/ratelimit"
	"github.com/flicknest/flicknest/pkg/logging"
	"github.com/flicknest/flicknest/pkg/telemetry"
)

// StartAuthService is the entrypoint for cmd/auth/main.go.
func StartAuthService() {
	log := logging.New("auth")

	if os.Getenv("AUTH_JWT_SECRET") == "" {
		log.Fatal("AUTH_JWT_SECRET must be set")
	}

	db, err := connectDB()
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()
	log.Info("database connected")

	if err := telemetry.InitSentry(os.Getenv("SENTRY_DSN"), "flicknest-auth", os.Getenv("FLICKNEST_RELEASE")); err != nil {
		log.Warnf("Sentry not configured: %v", err)
	}
	defer telemetry.Flush()

	// Without Redis the limiter is a no-op: logins work but lockout and
	// per-IP throttling are disabled. Fine for dev, not for production.
	limiter := ratelimit.New(nil)
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			log.Warnf("bad REDIS_URL, rate limiting disabled: %v", err)
		} else {
			limiter = ratelimit.New(ratelimit.NewRedisStore(redis.NewClient(opts)))
		}
	} else {
		log.Warn("REDIS_URL not set, rate limiting and lockout disabled")
	}

	mux := http.NewServeMux()
	registerRoutes(mux, db, limiter)
	handler := metrics.Middleware("auth", telemetry.PanicRecoveryMiddleware("auth")(mux))

	port := getEnv("AUTH_PORT", "8090")
	log.Infof("Flicknest Auth Service starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("auth service failed: %v", err)
	}
}

// registerRoutes wires every auth endpoint onto the mux.
func registerRoutes(mux *http.ServeMux, db *sql.DB, limiter *ratelimit.Limiter) {
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/auth/register", HandleRegister(db, limiter))
	mux.HandleFunc("/auth/login", HandleLogin(db, limiter))
	mux.HandleFunc("/auth/refresh", HandleRefresh(db))
	mux.HandleFunc("/auth/logout", HandleLogout(db))

	mux.HandleFunc("/auth/2fa", HandleDisable2FA(db))
	mux.HandleFunc("/auth/2fa/setup", HandleSetup2FA(db))
	mux.HandleFunc("/auth/2fa/verify-setup", HandleVerifySetup2FA(db))
	mux.HandleFunc("/auth/2fa/verify", HandleVerify2FA(db, limiter))
	mux.HandleFunc("/auth/2fa/status", Handle2FAStatus(db))
	mux.HandleFunc("/auth/2fa/backup-codes", HandleRegenerateBackupCodes(db))

	mux.HandleFunc("/auth/sessions", HandleListSessions(db))
	mux.HandleFunc("/auth/sessions/", HandleRevokeSession(db))
}

// handleHealth returns service health status.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok","service":"flicknest-auth"}`)
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

// parseUUID validates a subscriber ID string.
func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// decodeJSON decodes a JSON request body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
