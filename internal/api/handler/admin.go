package handler

import (
	"context"
	"net/http"

	"github.com/anavarrete/formcoach/internal/api/response"
)

// Reaper defines the interface the admin reap handler depends on.
type Reaper interface {
	ReapStale(ctx context.Context) (int, error)
}

// NewReapHandler returns the handler for POST /api/v1/admin/reap. It runs
// one sweep on demand, independent of the scheduled reaper.
func NewReapHandler(svc Reaper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reaped, err := svc.ReapStale(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Reap sweep failed", nil)
			return
		}
		response.JSON(w, map[string]int{"reaped": reaped})
	}
}
