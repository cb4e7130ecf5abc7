package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/apiclient"
	"github.com/aussiebroadwan/tourbook/pkg/httpx"
	"github.com/aussiebroadwan/tourbook/pkg/roleguard"
	"github.com/aussiebroadwan/tourbook/pkg/slogx"
)

// ForwardHandler relays GET endpoint on the backend as the signed-in user.
// The inbound query string is passed through. A session that cannot be
// refreshed sends the user to sign in again; every other backend status
// is relayed unchanged.
func ForwardHandler(gw *apiclient.Gateway, endpoint string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := slogx.FromContext(r.Context())

		target := endpoint
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}

		resp, err := gw.Do(r.Context(), apiclient.Request{
			Method:   http.MethodGet,
			Endpoint: target,
			Store:    requestStore(w, r),
		})
		var refreshErr *apiclient.RefreshError
		switch {
		case errors.As(err, &refreshErr) && refreshErr.SessionEnded():
			log.Info("session expired", "err", err)
			http.Redirect(w, r, roleguard.LoginRedirect(r.URL.Path, r.URL.RawQuery), http.StatusFound)
			return
		case err != nil:
			log.Error("backend request failed", "endpoint", endpoint, "err", err)
			httpx.ErrBadGateway.WriteError(w)
			return
		}
		defer resp.Body.Close()

		httpx.NoCache(w)
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			log.Warn("relaying backend response interrupted", "err", err)
		}
	})
}

type sessionSummary struct {
	Role      roleguard.Role `json:"role"`
	Subject   string         `json:"subject"`
	Email     string         `json:"email,omitempty"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Landing   string         `json:"landing"`
	Area      string         `json:"area,omitempty"`
}

// DashboardHandler describes the caller's session for dashboard areas that
// have no dedicated backend page.
func DashboardHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := roleguard.SessionFromContext(r.Context())
	if !ok {
		httpx.ErrUnauthorized.WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, sessionSummary{
		Role:      s.Role,
		Subject:   s.Subject,
		Email:     s.Email,
		ExpiresAt: s.ExpiresAt,
		Landing:   s.Role.LandingPage(),
		Area:      r.PathValue("area"),
	})
}

// HomeHandler identifies the service and, when signed in, the caller's role.
func HomeHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"service": "tourbook-web", "version": version}
		if s, ok := roleguard.SessionFromContext(r.Context()); ok {
			body["role"] = s.Role
			body["landing"] = s.Role.LandingPage()
		}
		httpx.WriteJSON(w, http.StatusOK, body)
	}
}
