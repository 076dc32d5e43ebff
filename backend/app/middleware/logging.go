package middleware

import (
	"net/http"
	"time"

	"fleet-steward/backend/global"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	route  string
}

// WithRoute records the matched pattern on the access log entry, so
// /api/commands/{id}/result is reported once instead of per command id.
func WithRoute(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sw, ok := w.(*statusWriter); ok {
			sw.route = pattern
		}
		next.ServeHTTP(w, r)
	})
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		ev := global.Logger.Info()
		if sw.status >= http.StatusInternalServerError {
			ev = global.Logger.Error()
		}
		ev.Str("ip", r.RemoteAddr).Str("method", r.Method).Str("path", r.URL.Path).Str("route", sw.route).Int("status", sw.status).Dur("duration", time.Since(start)).Msg("request")
	})
}
