package credstore

import (
	"context"
	"net/http"
	"sync"
)

// CookieStore is a Store bound to one request/response cycle. Reads start
// from the inbound cookies; writes and deletes become Set-Cookie headers and
// are visible to later reads in the same request.
type CookieStore struct {
	w http.ResponseWriter
	r *http.Request

	mu      sync.Mutex
	overlay map[string]*string // nil value means deleted during this request
}

// NewCookieStore binds a store to w and r.
func NewCookieStore(w http.ResponseWriter, r *http.Request) *CookieStore {
	return &CookieStore{w: w, r: r, overlay: make(map[string]*string)}
}

func (s *CookieStore) Get(_ context.Context, name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.overlay[name]; ok {
		if v == nil || *v == "" {
			return "", false
		}
		return *v, true
	}

	c, err := s.r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (s *CookieStore) Set(_ context.Context, name, value string, attrs Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.overlay[name]; ok && v != nil && *v == value {
		return nil
	}

	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     pathOrRoot(attrs.Path),
		MaxAge:   int(attrs.MaxAge.Seconds()),
		Secure:   attrs.Secure,
		HttpOnly: attrs.HTTPOnly,
		SameSite: attrs.SameSite.httpMode(),
	})
	s.overlay[name] = &value
	return nil
}

func (s *CookieStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.overlay[name]; ok && v == nil {
		return nil
	}

	http.SetCookie(s.w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	s.overlay[name] = nil
	return nil
}

func pathOrRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
