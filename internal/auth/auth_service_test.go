package auth

import (
	"strings"
	"testing"
	"time"
)

func TestTokenRoundtrip(t *testing.T) {
	svc, err := NewTokenService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}

	token, err := svc.GenerateToken(42)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("expected user id 42 got %d", claims.UserID)
	}
	if claims.Subject != "42" {
		t.Fatalf("expected subject 42 got %q", claims.Subject)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer, _ := NewTokenService("secret-a", time.Hour)
	verifier, _ := NewTokenService("secret-b", time.Hour)

	token, err := issuer.GenerateToken(1)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	if _, err := verifier.ValidateToken(token); err == nil {
		t.Fatal("expected validation to fail with a different secret")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	svc, _ := NewTokenService("test-secret", time.Millisecond)

	token, err := svc.GenerateToken(1)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	if _, err := NewTokenService("", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewTokenService("secret", 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "correct horse battery" {
		t.Fatal("hash must not equal the plaintext")
	}

	if !CheckPasswordHash("correct horse battery", hash) {
		t.Fatal("expected matching password to verify")
	}
	if CheckPasswordHash("wrong password", hash) {
		t.Fatal("expected mismatched password to fail")
	}
}

func TestGenerateResetToken(t *testing.T) {
	a, err := GenerateResetToken()
	if err != nil {
		t.Fatalf("generate reset token: %v", err)
	}
	b, err := GenerateResetToken()
	if err != nil {
		t.Fatalf("generate reset token: %v", err)
	}

	if a == b {
		t.Fatal("expected distinct tokens")
	}
	if len(a) < 24 {
		t.Fatalf("token too short: %d", len(a))
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("token is not URL safe: %q", a)
	}
}
