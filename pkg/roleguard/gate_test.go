package roleguard_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/credstore"
	"github.com/aussiebroadwan/tourbook/pkg/jwtx"
	"github.com/aussiebroadwan/tourbook/pkg/roleguard"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-access-secret")

func valid(role roleguard.Role) roleguard.Input {
	return roleguard.Input{
		HasCredential: true,
		Verdict:       roleguard.Valid{Session: roleguard.Session{Role: role, Subject: "u1"}},
	}
}

func at(in roleguard.Input, path string) roleguard.Input {
	in.Path = path
	return in
}

func TestDecide(t *testing.T) {
	table := roleguard.DefaultTable()
	anon := roleguard.Input{}
	invalid := roleguard.Input{HasCredential: true, Verdict: roleguard.Invalid{Reason: jwtx.ErrExpired}}

	tests := []struct {
		name     string
		in       roleguard.Input
		action   roleguard.Action
		location string
		clear    bool
	}{
		{"guide on admin area", at(valid(roleguard.Guide), "/dashboard/admin/users"), roleguard.Redirect, "/dashboard/guide", false},
		{"super admin on admin area", at(valid(roleguard.SuperAdmin), "/dashboard/admin/users"), roleguard.Proceed, "", false},
		{"admin on admin area", at(valid(roleguard.Admin), "/dashboard/admin"), roleguard.Proceed, "", false},
		{"anonymous on public page", at(anon, "/explore"), roleguard.Proceed, "", false},
		{"anonymous on tourist area", at(anon, "/dashboard/tourist/bookings"), roleguard.Redirect, "/login?redirect=/dashboard/tourist/bookings", false},
		{"anonymous on common page", at(anon, "/my-profile"), roleguard.Redirect, "/login?redirect=/my-profile", false},
		{"signed in on login", at(valid(roleguard.Tourist), "/login"), roleguard.Redirect, "/dashboard/tourist", false},
		{"signed in on register", at(valid(roleguard.SuperAdmin), "/register"), roleguard.Redirect, "/dashboard/admin", false},
		{"anonymous on login", at(anon, "/login"), roleguard.Proceed, "", false},
		{"any role on common page", at(valid(roleguard.Guide), "/settings"), roleguard.Proceed, "", false},
		{"any role on bare dashboard", at(valid(roleguard.Tourist), "/dashboard"), roleguard.Proceed, "", false},
		{"tourist on guide area", at(valid(roleguard.Tourist), "/dashboard/guide/listings"), roleguard.Redirect, "/dashboard/tourist", false},
		{"admin on guide area", at(valid(roleguard.Admin), "/dashboard/guide"), roleguard.Redirect, "/dashboard/admin", false},
		{"invalid credential on public page", at(invalid, "/explore"), roleguard.Redirect, "/login", true},
		{"invalid credential on role area", at(invalid, "/dashboard/admin"), roleguard.Redirect, "/login", true},
		{"credential without verdict", at(roleguard.Input{HasCredential: true}, "/"), roleguard.Redirect, "/login", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := roleguard.Decide(table, tt.in)
			require.Equal(t, tt.action, d.Action)
			require.Equal(t, tt.location, d.Location)
			require.Equal(t, tt.clear, d.ClearCredentials)
			require.Equal(t, d, roleguard.Decide(table, tt.in))
		})
	}
}

func TestDecidePublicIgnoresCredential(t *testing.T) {
	table := roleguard.DefaultTable()

	for _, in := range []roleguard.Input{{}, valid(roleguard.Guide), valid(roleguard.Tourist)} {
		d := roleguard.Decide(table, at(in, "/explore"))
		require.Equal(t, roleguard.Proceed, d.Action)
	}
}

func TestDecideNeverRedirectsIntoForeignArea(t *testing.T) {
	table := roleguard.DefaultTable()
	areas := map[roleguard.Role]string{
		roleguard.Admin:   "/dashboard/admin/users",
		roleguard.Guide:   "/dashboard/guide/listings",
		roleguard.Tourist: "/dashboard/tourist/bookings",
	}

	for owner, path := range areas {
		for _, caller := range roleguard.Roles {
			d := roleguard.Decide(table, at(valid(caller), path))
			if caller.Satisfies(owner) {
				require.Equal(t, roleguard.Proceed, d.Action, "%s on %s", caller, path)
				continue
			}
			require.Equal(t, roleguard.Redirect, d.Action, "%s on %s", caller, path)
			require.Equal(t, caller.LandingPage(), d.Location)
			require.NotEqual(t, owner.LandingPage(), d.Location)
		}
	}
}

func TestLoginRedirect(t *testing.T) {
	require.Equal(t, "/login?redirect=/dashboard", roleguard.LoginRedirect("/dashboard", ""))
	require.Equal(t, "/login?redirect=/dashboard/tourist/bookings%3Fpage%3D2%26sort%3Ddate",
		roleguard.LoginRedirect("/dashboard/tourist/bookings", "page=2&sort=date"))
}

func TestVerify(t *testing.T) {
	signer, err := jwtx.NewHS256Signer(testSecret)
	require.NoError(t, err)
	verifier := jwtx.NewHS256Verifier(testSecret, jwtx.VerifyOptions{})

	now := time.Now()
	token, err := signer.Sign(jwtx.NewSessionClaims("u1", "ana@example.com", "GUIDE", time.Hour, now))
	require.NoError(t, err)

	v, ok := roleguard.Verify(verifier, token).(roleguard.Valid)
	require.True(t, ok)
	require.Equal(t, roleguard.Guide, v.Session.Role)
	require.Equal(t, "u1", v.Session.Subject)
	require.Equal(t, "ana@example.com", v.Session.Email)
	require.WithinDuration(t, now.Add(time.Hour), v.Session.ExpiresAt, time.Second)

	expired, err := signer.Sign(jwtx.NewSessionClaims("u1", "", "GUIDE", -time.Minute, now))
	require.NoError(t, err)
	inv, ok := roleguard.Verify(verifier, expired).(roleguard.Invalid)
	require.True(t, ok)
	require.ErrorIs(t, inv.Reason, jwtx.ErrExpired)

	other, err := jwtx.NewHS256Signer([]byte("someone-else"))
	require.NoError(t, err)
	forged, err := other.Sign(jwtx.NewSessionClaims("u1", "", "ADMIN", time.Hour, now))
	require.NoError(t, err)
	inv, ok = roleguard.Verify(verifier, forged).(roleguard.Invalid)
	require.True(t, ok)
	require.ErrorIs(t, inv.Reason, jwtx.ErrInvalidSig)

	unknown, err := signer.Sign(jwtx.NewSessionClaims("u1", "", "OPERATOR", time.Hour, now))
	require.NoError(t, err)
	inv, ok = roleguard.Verify(verifier, unknown).(roleguard.Invalid)
	require.True(t, ok)
	require.True(t, errors.Is(inv.Reason, roleguard.ErrUnknownRole))

	_, ok = roleguard.Verify(verifier, "not-a-jwt").(roleguard.Invalid)
	require.True(t, ok)
}

func TestGateMiddleware(t *testing.T) {
	signer, err := jwtx.NewHS256Signer(testSecret)
	require.NoError(t, err)
	gate := roleguard.NewGate(roleguard.DefaultTable(), jwtx.NewHS256Verifier(testSecret, jwtx.VerifyOptions{}))

	var seen *roleguard.Session
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = nil
		if s, ok := roleguard.SessionFromContext(r.Context()); ok {
			seen = &s
		}
		_, hasStore := credstore.FromContext(r.Context())
		if r.URL.Path != "/livez" {
			require.True(t, hasStore)
		}
		w.WriteHeader(http.StatusOK)
	}))

	tokenFor := func(role string) string {
		tok, err := signer.Sign(jwtx.NewSessionClaims("u1", "ana@example.com", role, time.Hour, time.Now()))
		require.NoError(t, err)
		return tok
	}

	serve := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.AddCookie(&http.Cookie{Name: credstore.AccessToken, Value: token})
			req.AddCookie(&http.Cookie{Name: credstore.RefreshToken, Value: "R1"})
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("role area proceeds with session", func(t *testing.T) {
		rec := serve("/dashboard/admin/users", tokenFor("SUPER_ADMIN"))
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		require.Equal(t, roleguard.SuperAdmin, seen.Role)
	})

	t.Run("foreign area redirects home", func(t *testing.T) {
		rec := serve("/dashboard/admin/users", tokenFor("GUIDE"))
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/dashboard/guide", rec.Header().Get("Location"))
	})

	t.Run("anonymous redirected with return path", func(t *testing.T) {
		rec := serve("/dashboard/tourist/bookings?page=2", "")
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/login?redirect=/dashboard/tourist/bookings%3Fpage%3D2", rec.Header().Get("Location"))
		require.Empty(t, rec.Result().Cookies())
	})

	t.Run("invalid credential cleared", func(t *testing.T) {
		rec := serve("/explore", "garbage")
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/login", rec.Header().Get("Location"))

		cleared := map[string]bool{}
		for _, c := range rec.Result().Cookies() {
			if c.MaxAge < 0 {
				cleared[c.Name] = true
			}
		}
		require.True(t, cleared[credstore.AccessToken])
		require.True(t, cleared[credstore.RefreshToken])
	})

	t.Run("excluded path bypasses gate", func(t *testing.T) {
		rec := serve("/livez", "garbage")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Result().Cookies())
	})

	t.Run("public page anonymous", func(t *testing.T) {
		rec := serve("/explore", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Nil(t, seen)
	})
}
