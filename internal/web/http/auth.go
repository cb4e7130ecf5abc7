package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tourbook/pkg/apiclient"
	"github.com/aussiebroadwan/tourbook/pkg/credstore"
	"github.com/aussiebroadwan/tourbook/pkg/httpx"
	"github.com/aussiebroadwan/tourbook/pkg/jwtx"
	"github.com/aussiebroadwan/tourbook/pkg/roleguard"
	"github.com/aussiebroadwan/tourbook/pkg/slogx"
)

const maxFormBody = 1 << 20

// AuthHandler serves sign-in, sign-up and sign-out.
type AuthHandler struct {
	Gateway  *apiclient.Gateway
	Verifier jwtx.Verifier
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Redirect string `json:"redirect"`
}

// HandleLoginPage describes the login form. Rendering is left to the UI.
func (h *AuthHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"page":     "login",
		"fields":   []string{"email", "password"},
		"redirect": r.URL.Query().Get("redirect"),
	})
}

func (h *AuthHandler) HandleRegisterPage(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"page":   "register",
		"fields": []string{"name", "email", "password", "contactNo", "address"},
	})
}

// HandleLogin accepts a form or JSON body, signs in against the backend and
// redirects to the requested local page or the role's landing page.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	var in loginRequest
	if isJSON(r) {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxFormBody)).Decode(&in); err != nil {
			httpx.ErrInvalidRequest.WithDescription("invalid JSON body").WriteError(w)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			httpx.ErrInvalidRequest.WithDescription("invalid form body").WriteError(w)
			return
		}
		in.Email = r.Form.Get("email")
		in.Password = r.Form.Get("password")
		in.Redirect = r.Form.Get("redirect")
	}
	in.Email = strings.TrimSpace(in.Email)

	if in.Email == "" || in.Password == "" {
		httpx.ErrInvalidRequest.WithDescription("email and password are required").WriteError(w)
		return
	}

	store := requestStore(w, r)
	creds, err := h.Gateway.Login(r.Context(), store, in.Email, in.Password)
	if err != nil {
		var apiErr *apiclient.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError:
			log.Info("login rejected", "status", apiErr.StatusCode)
			e := httpx.ErrInvalidCredentials
			if apiErr.Message != "" {
				e = e.WithDescription(apiErr.Message)
			}
			e.WriteError(w)
		default:
			log.Error("login failed", "err", err)
			httpx.ErrBadGateway.WriteError(w)
		}
		return
	}

	target := "/"
	if v, ok := roleguard.Verify(h.Verifier, creds.AccessToken).(roleguard.Valid); ok {
		target = v.Session.Role.LandingPage()
		log.Info("user signed in", "role", v.Session.Role, "user_id", v.Session.Subject)
	} else {
		log.Warn("backend issued a credential this edge cannot verify")
	}
	if httpx.IsLocalPath(in.Redirect) {
		target = in.Redirect
	}

	http.Redirect(w, r, target, http.StatusSeeOther)
}

// HandleRegister forwards the sign-up payload and sends the user to /login.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	payload := map[string]any{}
	if isJSON(r) {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxFormBody)).Decode(&payload); err != nil {
			httpx.ErrInvalidRequest.WithDescription("invalid JSON body").WriteError(w)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			httpx.ErrInvalidRequest.WithDescription("invalid form body").WriteError(w)
			return
		}
		for key := range r.PostForm {
			payload[key] = r.PostForm.Get(key)
		}
	}

	if s, _ := payload["email"].(string); strings.TrimSpace(s) == "" {
		httpx.ErrInvalidRequest.WithDescription("email is required").WriteError(w)
		return
	}

	if _, err := h.Gateway.Register(r.Context(), payload); err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			(&httpx.Error{
				StatusCode:  apiErr.StatusCode,
				Code:        httpx.ErrorCodeInvalidRequest,
				Description: apiErr.Message,
			}).WriteError(w)
			return
		}
		log.Error("registration failed", "err", err)
		httpx.ErrBadGateway.WriteError(w)
		return
	}

	log.Info("user registered")
	http.Redirect(w, r, roleguard.LoginPath, http.StatusSeeOther)
}

// HandleLogout ends the session locally whatever the backend says.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.Gateway.Logout(r.Context(), requestStore(w, r)); err != nil {
		slogx.FromContext(r.Context()).Warn("logout failed", "err", err)
	}
	http.Redirect(w, r, roleguard.LoginPath, http.StatusSeeOther)
}

// requestStore returns the store the gate bound to this request, or binds
// a fresh cookie store.
func requestStore(w http.ResponseWriter, r *http.Request) credstore.Store {
	if s, ok := credstore.FromContext(r.Context()); ok {
		return s
	}
	return credstore.NewCookieStore(w, r)
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
