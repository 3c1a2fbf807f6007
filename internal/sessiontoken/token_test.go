package sessiontoken

import (
	"net/http"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	m, err := New("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.Issue("user-001")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "user-001" {
		t.Fatalf("unexpected subject %q", sub)
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	a, _ := New("0123456789abcdef0123456789abcdef", time.Hour)
	b, _ := New("fedcba9876543210fedcba9876543210", time.Hour)
	token, err := a.Issue("user-001")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m, _ := New("0123456789abcdef0123456789abcdef", time.Hour)
	if _, err := m.Verify("not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewRequiresStrongSecret(t *testing.T) {
	if _, err := New("short", time.Hour); err == nil {
		t.Fatalf("expected error for weak secret")
	}
}

func TestBearerToken(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/works", nil)
	if _, ok := BearerToken(r); ok {
		t.Fatalf("expected no token")
	}
	r.Header.Set("Authorization", "Bearer abc")
	token, ok := BearerToken(r)
	if !ok || token != "abc" {
		t.Fatalf("BearerToken = %q, %v", token, ok)
	}
}
