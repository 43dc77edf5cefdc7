// ABOUTME: Session token issuance and verification for authenticated users
// ABOUTME: HS256 JWTs with subject, issued-at, and expiry claims

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// minSecretLen rejects secrets too short to resist brute force.
const minSecretLen = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = errors.New("session secret too short")
)

// Issuer mints and verifies session tokens. A successful passkey ceremony
// ends with an Issue call; everything after that is ordinary bearer-token
// authentication.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an issuer. The secret must be at least 32 bytes; a
// non-positive ttl falls back to DefaultTTL.
func NewIssuer(secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: secret, ttl: ttl}, nil
}

// Issue creates a signed token for the given user ID and returns it with
// its expiry time.
func (i *Issuer) Issue(userID string) (token string, expiresAt time.Time, err error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	now := time.Now()
	expiresAt = now.Add(i.ttl)
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify validates a token and extracts the user ID from the "sub" claim.
func (i *Issuer) Verify(tokenString string) (userID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}
