package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger returns chi middleware that logs one line per request. Session
// routes carry platform_id and session_id so demo server logs can be grepped
// per session. Scrapes and health checks are logged at debug level.
func RequestLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Int("size", ww.BytesWritten()),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.URLParam("platform"); p != "" {
					attrs = append(attrs, slog.String("platform_id", p))
				}
				if s := rctx.URLParam("session"); s != "" {
					attrs = append(attrs, slog.String("session_id", s))
				}
			}

			level := slog.LevelInfo
			switch {
			case r.URL.Path == "/metrics" || r.URL.Path == "/healthz":
				level = slog.LevelDebug
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			}
			log.LogAttrs(r.Context(), level, "request", attrs...)
		})
	}
}
