package roleguard

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/jwtx"
)

// ErrUnknownRole is the Invalid reason for a credential whose role claim is
// not one of Roles.
var ErrUnknownRole = errors.New("roleguard: unknown role")

// Session is the verified content of an access credential.
type Session struct {
	Role      Role
	Subject   string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verdict is the outcome of verifying an access credential: Valid or Invalid.
type Verdict interface {
	isVerdict()
}

// Valid carries the verified session.
type Valid struct {
	Session Session
}

// Invalid carries why the credential was refused.
type Invalid struct {
	Reason error
}

func (Valid) isVerdict()   {}
func (Invalid) isVerdict() {}

// Verify checks token with v and never panics or returns an error: every
// failure becomes Invalid.
func Verify(v jwtx.Verifier, token string) Verdict {
	claims, err := v.Verify(token)
	if err != nil {
		return Invalid{Reason: err}
	}

	role, ok := ParseRole(claims.Role)
	if !ok {
		return Invalid{Reason: fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)}
	}

	s := Session{
		Role:    role,
		Subject: claims.Identity(),
		Email:   claims.Email,
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return Valid{Session: s}
}
