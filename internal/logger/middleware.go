package logger

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/rs/zerolog"
)

// Middleware creates HTTP middleware that injects a request-scoped logger into
// the context. It generates a unique request ID and adds it to both context and
// response headers.
func Middleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = generateRequestID()
			}

			// Echo the request ID so clients can correlate
			w.Header().Set("X-Request-ID", requestID)

			reqLogger := logger.With().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", getRemoteAddr(r)).
				Logger()

			ctx := WithContext(r.Context(), reqLogger)
			ctx = WithRequestID(ctx, requestID)

			reqLogger.Info().
				Str("user_agent", r.UserAgent()).
				Msg("request.started")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// generateRequestID creates a cryptographically random request identifier.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "req_fallback"
	}
	return "req_" + hex.EncodeToString(b)
}

// getRemoteAddr extracts client IP, respecting proxy headers.
func getRemoteAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
