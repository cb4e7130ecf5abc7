package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/apiclient"
	"github.com/aussiebroadwan/tourbook/pkg/httpx"
	"github.com/aussiebroadwan/tourbook/pkg/jwtx"
	"github.com/aussiebroadwan/tourbook/pkg/roleguard"
	"github.com/aussiebroadwan/tourbook/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware
	handler     http.Handler

	gateway      *apiclient.Gateway
	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	// LoginLimit guards POST /login and POST /register.
	LoginLimit httpx.RateLimitConfig
}

func NewRouter(
	gateway *apiclient.Gateway,
	gate *roleguard.Gate,
	verifier jwtx.Verifier,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		gateway:      gateway,
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		LoginLimit:   httpx.LoginLimit,
	}

	// Request logging wraps the gate so redirects are logged too.
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		gate.Middleware,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerPages()
	r.registerSystem()

	r.handler = httpx.Chain(r.Mux, r.middlewares...)
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Gateway: r.gateway, Verifier: r.verifier}

	r.Mux.HandleFunc("GET /login", h.HandleLoginPage)
	r.Mux.HandleFunc("GET /register", h.HandleRegisterPage)

	// Rate limited by IP + email form field to slow down credential stuffing
	r.Mux.Handle("POST /login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndFormField(r.LoginLimit, "email"),
		),
	)
	r.Mux.Handle("POST /register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(r.LoginLimit),
		),
	)

	r.Mux.HandleFunc("POST /logout", h.HandleLogout)
}

func (r *Router) registerPages() {
	pages := []struct {
		pattern  string
		endpoint string
	}{
		{"GET /explore", "/listings"},
		{"GET /my-profile", "/users/me"},
		{"GET /dashboard/tourist/bookings", "/bookings/my-bookings"},
		{"GET /dashboard/guide/listings", "/listings/my-listings"},
		{"GET /dashboard/admin/users", "/users"},
	}
	for _, p := range pages {
		r.Mux.Handle(p.pattern, ForwardHandler(r.gateway, p.endpoint))
	}

	r.Mux.HandleFunc("GET /dashboard", DashboardHandler)
	r.Mux.HandleFunc("GET /dashboard/{area}", DashboardHandler)
	r.Mux.HandleFunc("GET /{$}", HomeHandler(r.buildVersion))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.ProbeLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.gateway),
			httpx.RateLimitByIP(httpx.ProbeLimit),
		),
	)
}
