package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for missing, malformed or expired internal tokens.
var ErrUnauthorized = errors.New("unauthorized")

// InternalClaims identify the caller of an /internal endpoint.
type InternalClaims struct {
	jwt.RegisteredClaims
}

// InternalTokens signs and verifies the short-lived HS256 tokens the control plane
// presents to data planes. A zero-value secret disables both sides.
type InternalTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewInternalTokens(secret, issuer string, ttl time.Duration) *InternalTokens {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &InternalTokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (t *InternalTokens) Enabled() bool {
	return t != nil && len(t.secret) > 0
}

// Issue signs a token for subject (typically the caller's service name).
func (t *InternalTokens) Issue(subject string) (string, error) {
	now := t.now()
	claims := InternalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign internal token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString and checks signature, issuer and expiry.
func (t *InternalTokens) Verify(tokenString string) (*InternalClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &InternalClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Ensure the token's signing method is HMAC (prevent alg confusion)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*InternalClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	return claims, nil
}
