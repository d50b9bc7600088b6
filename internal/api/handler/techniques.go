package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/anavarrete/formcoach/internal/api/response"
	"github.com/anavarrete/formcoach/pkg/models"
)

// TechniqueLister defines the interface the technique handler depends on.
type TechniqueLister interface {
	ListTechniques(ctx context.Context) ([]*models.Technique, error)
}

// NewListTechniquesHandler returns the handler for GET /api/v1/techniques.
func NewListTechniquesHandler(st TechniqueLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		techniques, err := st.ListTechniques(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		out := make([]techniqueResponse, 0, len(techniques))
		for _, t := range techniques {
			out = append(out, techniqueResponse{
				ID:          t.ID,
				Sport:       t.Sport,
				Name:        t.Name,
				Description: t.Description,
			})
		}
		response.JSON(w, out)
	}
}

type techniqueResponse struct {
	ID          uuid.UUID `json:"id"`
	Sport       string    `json:"sport"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}
