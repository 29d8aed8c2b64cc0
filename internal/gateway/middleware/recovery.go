package middleware

import (
	"net/http"
	"runtime/debug"

	"sleuth/internal/gateway/handlers"
	"sleuth/pkg/logger"
)

// Recovery returns a middleware that turns a panicking handler into a 500.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log := logger.Component("gateway")
				log.Error().
					Interface("error", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				handlers.SendError(w, http.StatusInternalServerError,
					handlers.ErrCodeInternalError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
