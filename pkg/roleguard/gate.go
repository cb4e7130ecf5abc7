package roleguard

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/tourbook/pkg/credstore"
	"github.com/aussiebroadwan/tourbook/pkg/jwtx"
	"github.com/aussiebroadwan/tourbook/pkg/slogx"
)

// LoginPath is where anonymous and invalidated callers are sent.
const LoginPath = "/login"

// Action is what the gate does with a request.
type Action int

const (
	Proceed Action = iota
	Redirect
)

func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "proceed"
}

// Input is everything Decide looks at.
type Input struct {
	Path     string
	RawQuery string

	// HasCredential reports whether an access credential was present. When
	// false, Verdict is ignored.
	HasCredential bool
	Verdict       Verdict
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Action           Action
	Location         string // set when Action is Redirect
	ClearCredentials bool
	Session          *Session // the verified caller, if any
}

// Decide applies the authorization rules to in. It is a pure function.
func Decide(t *Table, in Input) Decision {
	var session *Session
	if in.HasCredential {
		switch v := in.Verdict.(type) {
		case Valid:
			s := v.Session
			session = &s
		default:
			return Decision{Action: Redirect, Location: LoginPath, ClearCredentials: true}
		}
	}

	owner := t.Classify(in.Path)

	if session != nil && t.IsAuthRoute(in.Path) {
		return Decision{Action: Redirect, Location: session.Role.LandingPage(), Session: session}
	}

	if owner.Scope == Public {
		return Decision{Action: Proceed, Session: session}
	}

	if session == nil {
		return Decision{Action: Redirect, Location: LoginRedirect(in.Path, in.RawQuery)}
	}

	if owner.Scope == Common || session.Role.Satisfies(owner.Role) {
		return Decision{Action: Proceed, Session: session}
	}

	return Decision{Action: Redirect, Location: session.Role.LandingPage(), Session: session}
}

// LoginRedirect builds the login URL that forwards back to path?rawQuery
// after a successful sign-in.
func LoginRedirect(path, rawQuery string) string {
	target := path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	// Slashes are legal in a query value and keep the URL readable.
	escaped := strings.ReplaceAll(url.QueryEscape(target), "%2F", "/")
	return LoginPath + "?redirect=" + escaped
}

// Gate enforces Decide on inbound requests.
type Gate struct {
	table    *Table
	verifier jwtx.Verifier
}

// NewGate returns a Gate classifying with table and verifying with verifier.
func NewGate(table *Table, verifier jwtx.Verifier) *Gate {
	return &Gate{table: table, verifier: verifier}
}

// Middleware gates every non-excluded request. It binds a cookie-backed
// credential store to the request context when none is present, so
// downstream handlers share the same view of the session.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.table.Excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		log := slogx.FromContext(ctx)

		store, ok := credstore.FromContext(ctx)
		if !ok {
			store = credstore.NewCookieStore(w, r)
			ctx = credstore.WithStore(ctx, store)
		}

		in := Input{Path: r.URL.Path, RawQuery: r.URL.RawQuery}
		if token, ok := store.Get(ctx, credstore.AccessToken); ok {
			in.HasCredential = true
			in.Verdict = Verify(g.verifier, token)
			if inv, bad := in.Verdict.(Invalid); bad {
				log.Debug("access credential refused", "reason", inv.Reason)
			}
		}

		d := Decide(g.table, in)

		if d.ClearCredentials {
			if err := credstore.Clear(ctx, store); err != nil {
				log.Warn("failed to clear session credentials", "err", err)
			} else {
				log.Info("cleared invalid session credentials")
			}
		}

		if d.Action == Redirect {
			attrs := []any{"location", d.Location}
			if d.Session != nil {
				attrs = append(attrs, "role", d.Session.Role)
			}
			log.Debug("gate redirect", attrs...)
			http.Redirect(w, r, d.Location, http.StatusFound)
			return
		}

		if d.Session != nil {
			ctx = WithSession(ctx, *d.Session)
			ctx = slogx.WithContext(ctx, log.With(slog.String("role", string(d.Session.Role))))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type sessionKey struct{}

// WithSession attaches a verified session to ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session the gate verified for this request.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
