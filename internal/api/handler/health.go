package handler

import (
	"context"
	"net/http"

	"github.com/anavarrete/formcoach/internal/api/response"
)

// Pinger checks liveness of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns the handler for GET /api/v1/health. It reports
// per-dependency status and 503 when any dependency is down.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		healthy := true

		if err := db.Ping(r.Context()); err != nil {
			status["database"] = "unavailable"
			healthy = false
		}
		if err := cache.Ping(r.Context()); err != nil {
			status["cache"] = "unavailable"
			healthy = false
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY", "One or more dependencies are down", status)
			return
		}
		response.JSON(w, status)
	}
}
