// jwt_test.go - unit tests for token generation, validation, and role claims.
package auth

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func setSecret(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_JWT_SECRET", "test-secret-do-not-use-in-prod")
}

func TestAccessTokenRoundTrip(t *testing.T) {
	setSecret(t)
	id := uuid.New()

	token, err := GenerateAccessToken(id, RoleSubscriber, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != id.String() {
		t.Errorf("subject = %q, want %q", claims.Subject, id.String())
	}
	if claims.IsAdmin() {
		t.Error("subscriber token must not report admin")
	}
	if !claims.EmailVerified {
		t.Error("email_verified lost in round trip")
	}
	if claims.ID == "" {
		t.Error("token missing jti")
	}
}

func TestAdminRoleClaim(t *testing.T) {
	setSecret(t)

	token, err := GenerateAccessToken(uuid.New(), RoleAdmin, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !claims.IsAdmin() {
		t.Error("admin token must report admin")
	}
}

func TestEmptyRoleDefaultsToSubscriber(t *testing.T) {
	setSecret(t)

	token, err := GenerateAccessToken(uuid.New(), "", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Role != RoleSubscriber {
		t.Errorf("role = %q, want %q", claims.Role, RoleSubscriber)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	setSecret(t)
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ValidateAccessToken(tok); err == nil {
			t.Errorf("token %q should not validate", tok)
		}
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	setSecret(t)
	token, err := GenerateAccessToken(uuid.New(), RoleSubscriber, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	t.Setenv("AUTH_JWT_SECRET", "a-different-secret")
	if _, err := ValidateAccessToken(token); err == nil {
		t.Error("token signed with old secret should not validate")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"Bearer  abc123 ", "abc123"},
		{"Basic abc123", ""},
		{"abc123", ""},
		{"", ""},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		if got := extractBearerToken(r); got != tc.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestRefreshTokenHashing(t *testing.T) {
	raw, hash, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(raw) != 64 {
		t.Errorf("raw token length = %d, want 64 hex chars", len(raw))
	}
	if hash != HashToken(raw) {
		t.Error("returned hash does not match HashToken(raw)")
	}
	if strings.Contains(hash, raw) {
		t.Error("hash must not contain the raw token")
	}
}
