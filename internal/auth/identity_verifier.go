package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingIdentitySigningKey = errors.New("identity verifier: signing key required")
	ErrMissingIdentityIssuer     = errors.New("identity verifier: issuer required")
	ErrMissingIdentityCookieName = errors.New("identity verifier: cookie name required")
	ErrMissingIdentityToken      = errors.New("identity verifier: token required")
	ErrInvalidIdentityToken      = errors.New("identity verifier: invalid token")
	ErrExpiredIdentityToken      = errors.New("identity verifier: token expired")
	ErrMissingIdentitySubject    = errors.New("identity verifier: subject required")
)

// IdentityClaims mirrors the JWT payload emitted by the external auth service.
type IdentityClaims struct {
	UserID          string `json:"user_id"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	UserAvatarURL   string `json:"user_avatar_url"`
	jwt.RegisteredClaims
}

// IdentityVerifierConfig describes how to validate upstream identity assertions.
type IdentityVerifierConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// IdentityVerifier validates HS256 identity assertions minted by the external
// auth service. Identity issuance itself lives outside this backend.
type IdentityVerifier struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	clock         func() time.Time
}

// NewIdentityVerifier constructs a verifier with the provided configuration.
func NewIdentityVerifier(cfg IdentityVerifierConfig) (*IdentityVerifier, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingIdentitySigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIdentityIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingIdentityCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &IdentityVerifier{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for assertion lookups.
func (v *IdentityVerifier) CookieName() string {
	return v.cookieName
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *IdentityVerifier) ValidateToken(tokenString string) (IdentityClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return IdentityClaims{}, ErrMissingIdentityToken
	}

	claims := &IdentityClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidIdentityToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return IdentityClaims{}, ErrExpiredIdentityToken
		}
		return IdentityClaims{}, fmt.Errorf("%w: %v", ErrInvalidIdentityToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return IdentityClaims{}, ErrInvalidIdentityToken
	}
	if claims.Issuer != v.issuer {
		return IdentityClaims{}, ErrInvalidIdentityToken
	}
	if strings.TrimSpace(claims.Subject) == "" && strings.TrimSpace(claims.UserID) == "" {
		return IdentityClaims{}, ErrMissingIdentitySubject
	}
	return *claims, nil
}

// ValidateRequest extracts the assertion from the configured cookie or a
// bearer header and validates it.
func (v *IdentityVerifier) ValidateRequest(r *http.Request) (IdentityClaims, error) {
	if r == nil {
		return IdentityClaims{}, ErrMissingIdentityToken
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return v.ValidateToken(strings.TrimPrefix(header, "Bearer "))
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil || cookie == nil {
		return IdentityClaims{}, ErrMissingIdentityToken
	}
	return v.ValidateToken(cookie.Value)
}
