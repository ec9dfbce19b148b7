package tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The OAuth state parameter is a signed JWT that carries only a random nonce
// (jti) and an expiry. The nonce-to-user binding lives server-side, so a
// logged state value never exposes who initiated the flow.

var ErrInvalidState = errors.New("invalid state token")

// SignState creates a signed state token for the given nonce
func SignState(secret, nonce string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        nonce,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(secret))
}

// ParseState validates the state token and returns the embedded nonce.
// Expired or tampered tokens fail closed with ErrInvalidState.
func ParseState(secret, raw string) (string, error) {
	var claims jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return "", ErrInvalidState
	}
	if claims.ID == "" {
		return "", ErrInvalidState
	}
	return claims.ID, nil
}
