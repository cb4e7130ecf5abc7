package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/tourbook/pkg/credstore"
	"github.com/aussiebroadwan/tourbook/pkg/slogx"
)

const (
	LoginPath    = "/auth/login"
	LogoutPath   = "/auth/logout"
	RegisterPath = "/users/register"
)

// ErrNoCredentials is returned by Login when the backend accepted the
// request but handed back no access credential.
var ErrNoCredentials = errors.New("apiclient: login response carried no credentials")

// Credentials is the pair issued by a successful login.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Login exchanges email and password for a credential pair and writes both
// into store. The pair is read from the response body, falling back to
// Set-Cookie headers for backends that only issue cookies.
func (g *Gateway) Login(ctx context.Context, store credstore.Store, email, password string) (Credentials, error) {
	body, err := encodeBody(map[string]string{"email": email, "password": password})
	if err != nil {
		return Credentials{}, err
	}

	resp, err := g.once(ctx, Request{Method: http.MethodPost, Endpoint: LoginPath}, body, "")
	if err != nil {
		return Credentials{}, err
	}
	cookies := resp.Cookies()

	env, err := DecodeEnvelope[Credentials](resp)
	if err != nil {
		return Credentials{}, err
	}

	creds := env.Data
	for _, c := range cookies {
		switch {
		case c.Name == credstore.AccessToken && creds.AccessToken == "":
			creds.AccessToken = c.Value
		case c.Name == credstore.RefreshToken && creds.RefreshToken == "":
			creds.RefreshToken = c.Value
		}
	}
	if creds.AccessToken == "" {
		return Credentials{}, ErrNoCredentials
	}

	if store != nil {
		if err := store.Set(ctx, credstore.AccessToken, creds.AccessToken, g.accessAttrs); err != nil {
			return Credentials{}, fmt.Errorf("apiclient: persist access credential: %w", err)
		}
		if creds.RefreshToken != "" {
			if err := store.Set(ctx, credstore.RefreshToken, creds.RefreshToken, g.refreshAttrs); err != nil {
				return Credentials{}, fmt.Errorf("apiclient: persist refresh credential: %w", err)
			}
		}
	}

	return creds, nil
}

// Logout tells the backend the session is over and clears store. The
// backend call is best-effort and never refreshes; local credentials are
// cleared regardless of its outcome.
func (g *Gateway) Logout(ctx context.Context, store credstore.Store) error {
	if store == nil {
		return nil
	}

	if token, ok := store.Get(ctx, credstore.AccessToken); ok {
		resp, err := g.once(ctx, Request{Method: http.MethodPost, Endpoint: LogoutPath}, payload{}, token)
		if err != nil {
			slogx.FromContext(ctx).Warn("backend logout failed", "err", err)
		} else {
			discard(resp)
		}
	}

	return credstore.Clear(ctx, store)
}

// Register creates an account. payload is JSON-encoded as-is.
func (g *Gateway) Register(ctx context.Context, payload any) (json.RawMessage, error) {
	body, err := encodeBody(payload)
	if err != nil {
		return nil, err
	}

	resp, err := g.once(ctx, Request{Method: http.MethodPost, Endpoint: RegisterPath}, body, "")
	if err != nil {
		return nil, err
	}

	env, err := DecodeEnvelope[json.RawMessage](resp)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// once sends a single attempt with exactly the given credential.
func (g *Gateway) once(ctx context.Context, req Request, body payload, token string) (*http.Response, error) {
	httpReq, err := g.newRequest(ctx, req, body, token)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", httpReq.Method, req.Endpoint, err)
	}
	return resp, nil
}
