// fixtures.go - Test data seed helpers.
// Provides canonical test fixtures for subscribers, wallets, and movies.
package testutil

import (
	"database/sql"
	"fmt"
	"testing"
	"time"
)

// Subscriber represents a minimal test subscriber.
type Subscriber struct {
	ID    string
	Email string
	Name  string
	Role  string
}

// SeedSubscriber inserts a test subscriber and returns it.
// The password hash is a placeholder; use SeedSubscriberWithPassword when a
// test needs to actually log in.
func SeedSubscriber(t *testing.T, db *sql.DB) *Subscriber {
	return seedSubscriber(t, db, "subscriber", "$2a$12$fakehashfortest")
}

// SeedAdmin inserts a test subscriber with the admin role.
func SeedAdmin(t *testing.T, db *sql.DB) *Subscriber {
	return seedSubscriber(t, db, "admin", "$2a$12$fakehashfortest")
}

// SeedSubscriberWithPassword inserts a test subscriber with a real bcrypt hash.
func SeedSubscriberWithPassword(t *testing.T, db *sql.DB, passwordHash string) *Subscriber {
	return seedSubscriber(t, db, "subscriber", passwordHash)
}

func seedSubscriber(t *testing.T, db *sql.DB, role, passwordHash string) *Subscriber {
	t.Helper()
	sub := &Subscriber{
		Email: fmt.Sprintf("test-%d@example.com", time.Now().UnixNano()),
		Name:  "Test User",
		Role:  role,
	}
	err := db.QueryRow(`
		INSERT INTO subscribers (email, display_name, password_hash, role, email_verified, status)
		VALUES ($1, $2, $3, $4, TRUE, 'active')
		RETURNING id
	`, sub.Email, sub.Name, passwordHash, role).Scan(&sub.ID)
	if err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}
	return sub
}

// SeedWallet sets a subscriber's wallet balance, creating the row if needed.
func SeedWallet(t *testing.T, db *sql.DB, subscriberID string, balance int64) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO wallets (subscriber_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (subscriber_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()
	`, subscriberID, balance)
	if err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
}

// SeedMovie inserts a published test movie and returns its ID.
func SeedMovie(t *testing.T, db *sql.DB, title string, creditCost int) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO movies (title, slug, credit_cost, is_published, stream_url)
		VALUES ($1, $2, $3, TRUE, 'https://cdn.flicknest.example/media/stream/test.mp4')
		RETURNING id
	`, title, fmt.Sprintf("%s-%d", title, time.Now().UnixNano()), creditCost).Scan(&id)
	if err != nil {
		t.Fatalf("seed movie: %v", err)
	}
	return id
}

// CleanupSubscriber removes a test subscriber by ID. Wallet, ledger, and
// session rows follow via ON DELETE CASCADE.
func CleanupSubscriber(db *sql.DB, subscriberID string) {
	_, _ = db.Exec(`DELETE FROM subscribers WHERE id = $1`, subscriberID)
}

// CleanupMovie removes a test movie by ID.
func CleanupMovie(db *sql.DB, movieID int64) {
	_, _ = db.Exec(`DELETE FROM movies WHERE id = $1`, movieID)
}
