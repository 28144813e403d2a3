package auth

import (
	"context"
	"testing"
	"time"
)

func TestIssueAndValidateBackendToken(t *testing.T) {
	current := time.Unix(1700000000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "codedeck-api",
		Audience:      "codedeck-api",
		TokenTTL:      30 * time.Minute,
		Clock:         func() time.Time { return current },
	})

	token, expiresIn, err := issuer.IssueBackendToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expires_in: %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("expected subject user-1, got %q", subject)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	current := time.Unix(1700000000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "codedeck-api",
		Audience:      "codedeck-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return current },
	})

	token, _, err := issuer.IssueBackendToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	clock := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret-a"),
		Issuer:        "codedeck-api",
		Audience:      "codedeck-api",
		Clock:         clock,
	})
	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret-b"),
		Issuer:        "codedeck-api",
		Audience:      "codedeck-api",
		Clock:         clock,
	})

	token, _, err := other.IssueBackendToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected foreign signature to be rejected")
	}
}

func TestIssueBackendTokenRequiresSubject(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "codedeck-api",
		Audience:      "codedeck-api",
	})
	if _, _, err := issuer.IssueBackendToken(context.Background(), ""); err == nil {
		t.Fatalf("expected missing subject to be rejected")
	}
}
