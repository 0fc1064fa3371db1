package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// RecoveryMiddleware recovers from panics in the handler chain and returns
// a 500 JSON error. The panic is logged with its stack trace; internals are
// never exposed to the client. A panic in one request worker must not take
// down the server or any other in-flight request.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(r.Context(), "panic in handler",
					"error", err,
					"request_id", GetRequestID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]map[string]string{
					"error": {
						"type":    "proxy_error",
						"message": "An internal error occurred.",
					},
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}
