package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestIssueToken_RoundTrip(t *testing.T) {
	a := New(nil, "test-secret")

	tokenStr, expiresAt, err := a.IssueToken(7, "alice", true)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if tokenStr == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := a.validateToken(tokenStr)
	if err != nil {
		t.Fatalf("validateToken: %v", err)
	}
	if claims.UserID != 7 {
		t.Errorf("expected user id 7, got %d", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("expected username alice, got %s", claims.Username)
	}
	if !claims.IsAdmin {
		t.Error("expected is_admin true")
	}
	if claims.Issuer != "filecove" {
		t.Errorf("expected issuer filecove, got %s", claims.Issuer)
	}

	// 30-day lifetime, allow a minute of slack.
	wantExpiry := time.Now().Add(30 * 24 * time.Hour)
	if d := expiresAt.Sub(wantExpiry); d < -time.Minute || d > time.Minute {
		t.Errorf("expiry %v not within a minute of %v", expiresAt, wantExpiry)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	a := New(nil, "secret-one")
	tokenStr, _, err := a.IssueToken(1, "bob", false)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	b := New(nil, "secret-two")
	if _, err := b.validateToken(tokenStr); err == nil {
		t.Fatal("expected validation to fail with a different secret")
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	a := New(nil, "test-secret")
	if _, err := a.validateToken("not.a.jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	if got := extractToken(r); got != "abc123" {
		t.Errorf("expected abc123 from header, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/events?token=xyz789", nil)
	if got := extractToken(r); got != "xyz789" {
		t.Errorf("expected xyz789 from query, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	if got := extractToken(r); got != "" {
		t.Errorf("expected empty token, got %q", got)
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	plain, hashed, err := generateBackupCodes(3)
	if err != nil {
		t.Fatalf("generateBackupCodes: %v", err)
	}
	if len(plain) != 3 || len(hashed) != 3 {
		t.Fatalf("expected 3 codes, got %d/%d", len(plain), len(hashed))
	}

	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for i, code := range plain {
		if len(code) != 8 {
			t.Errorf("code %d: expected 8 chars, got %d", i, len(code))
		}
		for _, ch := range code {
			if !strings.ContainsRune(chars, ch) {
				t.Errorf("code %d: unexpected character %q", i, ch)
			}
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hashed[i]), []byte(code)); err != nil {
			t.Errorf("code %d: hash does not match plaintext", i)
		}
	}
}
