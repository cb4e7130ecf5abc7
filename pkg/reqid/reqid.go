// Package reqid issues request identifiers and carries them across the edge:
// inbound from the browser, through the context, and outbound to the backend.
package reqid

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Header is the header used to exchange request IDs with clients and the backend.
const Header = "X-Request-ID"

// ID is a ULID-formatted request identifier.
type ID string

// ErrInvalid reports a malformed request ID.
var ErrInvalid = errors.New("reqid: invalid ulid")

var (
	globalOnce sync.Once
	global     *generator
)

// generator hands out ULIDs concurrently from one monotonic entropy source.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *generator) newAt(t time.Time) ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ID(ulid.MustNew(ulid.Timestamp(t), g.entropy).String())
}

func initGlobal() {
	global = &generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a fresh request ID stamped with the current UTC time.
func New() ID {
	return NewAt(time.Now().UTC())
}

// NewAt returns a request ID stamped with t. Handy for tests.
func NewAt(t time.Time) ID {
	globalOnce.Do(initGlobal)
	return global.newAt(t)
}

// Parse validates s as a ULID request ID.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalid
	}
	if _, err := ulid.ParseStrict(s); err != nil {
		return "", ErrInvalid
	}
	return ID(s), nil
}

// String returns the canonical form.
func (id ID) String() string { return string(id) }

// Time extracts the embedded timestamp, or the zero time for malformed IDs.
func (id ID) Time() time.Time {
	u, err := ulid.ParseStrict(string(id))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}

type ctxKey struct{}

// WithContext stores id in ctx.
func WithContext(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request ID stored in ctx, if any.
func FromContext(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(ctxKey{}).(ID)
	return id, ok && id != ""
}

// FromRequest returns the inbound request ID when the client sent a valid one,
// otherwise a newly generated ID.
func FromRequest(r *http.Request) ID {
	if id, err := Parse(r.Header.Get(Header)); err == nil {
		return id
	}
	return New()
}

// Propagate copies the request ID in ctx onto an outbound request.
func Propagate(ctx context.Context, req *http.Request) {
	if id, ok := FromContext(ctx); ok {
		req.Header.Set(Header, id.String())
	}
}
