package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default lifetimes mirrored from the backend's issuing policy. The edge only
// uses them to size cookies; the token's own exp claim is authoritative.
const (
	DefaultAccessTokenTTL  = 24 * time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Claims is the session payload the backend signs into access credentials.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the backend's user identifier. Older tokens only carry sub.
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}

// NewSessionClaims builds claims the way the backend issues them. Used by
// tests and local fakes; production tokens always come from the backend.
func NewSessionClaims(userID, email, role string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
		Email:  email,
		Role:   role,
	}
}

// Identity returns the best available subject identifier.
func (c *Claims) Identity() string {
	switch {
	case c.UserID != "":
		return c.UserID
	case c.Subject != "":
		return c.Subject
	default:
		return c.Email
	}
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry() error {
	return c.ValidateExpiryWithLeeway(0)
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	if c.ExpiresAt == nil || now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
