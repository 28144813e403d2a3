package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIdentitySecret = "identity-secret"
	testIdentityIssuer = "identity.example.com"
	testIdentityCookie = "codedeck_identity"
)

func newTestVerifier(t *testing.T, clock func() time.Time) *IdentityVerifier {
	t.Helper()
	verifier, err := NewIdentityVerifier(IdentityVerifierConfig{
		SigningSecret: []byte(testIdentitySecret),
		Issuer:        testIdentityIssuer,
		CookieName:    testIdentityCookie,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct verifier: %v", err)
	}
	return verifier
}

func signIdentityToken(t *testing.T, claims IdentityClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign identity token: %v", err)
	}
	return signed
}

func testClaims(now time.Time) IdentityClaims {
	return IdentityClaims{
		UserID:          "user-42",
		UserEmail:       "dev@example.com",
		UserDisplayName: "Dev",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    testIdentityIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestValidateTokenAcceptsWellFormedAssertion(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	verifier := newTestVerifier(t, func() time.Time { return now })

	signed := signIdentityToken(t, testClaims(now), testIdentitySecret)
	claims, err := verifier.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	if claims.UserID != "user-42" || claims.UserEmail != "dev@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	verifier := newTestVerifier(t, func() time.Time { return now })

	claims := testClaims(now)
	claims.Issuer = "someone-else"
	signed := signIdentityToken(t, claims, testIdentitySecret)
	if _, err := verifier.ValidateToken(signed); !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestValidateTokenRejectsExpiredAssertion(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	verifier := newTestVerifier(t, func() time.Time { return now.Add(2 * time.Hour) })

	signed := signIdentityToken(t, testClaims(now), testIdentitySecret)
	if _, err := verifier.ValidateToken(signed); !errors.Is(err, ErrExpiredIdentityToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	verifier := newTestVerifier(t, func() time.Time { return now })

	signed := signIdentityToken(t, testClaims(now), "other-secret")
	if _, err := verifier.ValidateToken(signed); !errors.Is(err, ErrInvalidIdentityToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestValidateRequestReadsBearerThenCookie(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	verifier := newTestVerifier(t, func() time.Time { return now })
	signed := signIdentityToken(t, testClaims(now), testIdentitySecret)

	withHeader := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	withHeader.Header.Set("Authorization", "Bearer "+signed)
	if _, err := verifier.ValidateRequest(withHeader); err != nil {
		t.Fatalf("unexpected header validation error: %v", err)
	}

	withCookie := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	withCookie.AddCookie(&http.Cookie{Name: testIdentityCookie, Value: signed})
	if _, err := verifier.ValidateRequest(withCookie); err != nil {
		t.Fatalf("unexpected cookie validation error: %v", err)
	}

	bare := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	if _, err := verifier.ValidateRequest(bare); !errors.Is(err, ErrMissingIdentityToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}
