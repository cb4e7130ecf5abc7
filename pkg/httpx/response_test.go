package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/tourbook/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestIsLocalPath(t *testing.T) {
	cases := map[string]bool{
		"/dashboard/tourist":    true,
		"/explore?page=2":       true,
		"/":                     true,
		"":                      false,
		"dashboard":             false,
		"//evil.example.com":    false,
		"/\\evil.example.com":   false,
		"https://evil.example":  false,
		"/ok\r\nSet-Cookie: x=": false,
	}
	for in, want := range cases {
		require.Equal(t, want, httpx.IsLocalPath(in), in)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(okHandler(), mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, []string{"outer", "inner"}, order)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.WriteJSON(rec, http.StatusCreated, map[string]string{"ok": "yes"})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.JSONEq(t, `{"ok":"yes"}`, rec.Body.String())
}
