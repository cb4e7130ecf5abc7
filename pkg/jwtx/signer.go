package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	Sign(Claims) (string, error)
}

// HS256Signer signs claims with a shared secret.
type HS256Signer struct {
	secret []byte
}

// NewHS256Signer returns a signer for secret, which must not be empty.
func NewHS256Signer(secret []byte) (*HS256Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwtx: empty HS256 secret")
	}
	return &HS256Signer{secret: secret}, nil
}

func (s *HS256Signer) Alg() string { return jwt.SigningMethodHS256.Alg() }

// Sign turns claims into a compact JWT.
func (s *HS256Signer) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
