package credstore

import (
	"context"
	"net/http"
	"time"
)

// Credential names as they appear in the browser's cookie jar.
const (
	AccessToken  = "accessToken"
	RefreshToken = "refreshToken"
)

// SameSite mirrors the cookie same-site policy.
type SameSite string

const (
	SameSiteLax    SameSite = "lax"
	SameSiteStrict SameSite = "strict"
	SameSiteNone   SameSite = "none"
)

// Attributes scope a stored credential.
type Attributes struct {
	Secure   bool
	HTTPOnly bool
	SameSite SameSite
	MaxAge   time.Duration
	Path     string
}

// AccessAttributes is the preset used whenever an access credential is written.
func AccessAttributes(production bool, maxAge time.Duration) Attributes {
	return Attributes{
		Secure:   production,
		HTTPOnly: true,
		SameSite: SameSiteLax,
		MaxAge:   maxAge,
		Path:     "/",
	}
}

// RefreshAttributes is the preset used whenever a refresh credential is written.
func RefreshAttributes(production bool, maxAge time.Duration) Attributes {
	return AccessAttributes(production, maxAge)
}

// Store reads, writes and deletes named secrets.
type Store interface {
	Get(ctx context.Context, name string) (string, bool)
	Set(ctx context.Context, name, value string, attrs Attributes) error
	Delete(ctx context.Context, name string) error
}

// Clear deletes both session credentials, returning the first error.
func Clear(ctx context.Context, s Store) error {
	errA := s.Delete(ctx, AccessToken)
	errR := s.Delete(ctx, RefreshToken)
	if errA != nil {
		return errA
	}
	return errR
}

func (s SameSite) httpMode() http.SameSite {
	switch s {
	case SameSiteStrict:
		return http.SameSiteStrictMode
	case SameSiteNone:
		return http.SameSiteNoneMode
	case SameSiteLax:
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

type ctxKey struct{}

// WithStore attaches s to ctx so code deep in a request can reach the
// request's credentials without threading the store through every call.
func WithStore(ctx context.Context, s Store) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the store attached by WithStore.
func FromContext(ctx context.Context) (Store, bool) {
	s, ok := ctx.Value(ctxKey{}).(Store)
	return s, ok
}
