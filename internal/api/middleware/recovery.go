package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/anavarrete/formcoach/internal/api/response"
)

// Recovery turns a handler panic into a 500 envelope instead of a dropped
// connection, logging enough to find the failing request again.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				attrs := []any{
					"error", err,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				}
				if userID, ok := loggedUser(r.Context()); ok {
					attrs = append(attrs, "user_id", userID)
				}
				slog.Error("panic recovered", attrs...)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
