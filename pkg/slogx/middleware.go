package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/reqid"
)

// HTTPMiddleware logs requests and attaches a contextual logger and request ID
// to the request context. The request ID is echoed back to the client.
func HTTPMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			id := reqid.FromRequest(r)
			w.Header().Set(reqid.Header, id.String())

			logger := base.With(
				"req_id", id.String(),
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			ctx := reqid.WithContext(r.Context(), id)
			ctx = WithContext(ctx, logger)
			r = r.WithContext(ctx)

			next.ServeHTTP(rw, r)

			attrs := []any{
				"status", rw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user_agent", r.UserAgent(),
			}
			if loc := rw.Header().Get("Location"); loc != "" {
				attrs = append(attrs, "location", loc)
			}
			logger.Info("http_request", attrs...)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter

	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
