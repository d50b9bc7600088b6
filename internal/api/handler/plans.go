package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/anavarrete/formcoach/internal/api/middleware"
	"github.com/anavarrete/formcoach/internal/api/response"
	"github.com/anavarrete/formcoach/internal/plan"
	"github.com/anavarrete/formcoach/internal/store"
	"github.com/anavarrete/formcoach/pkg/models"
)

// PlanService defines the interface the plan handlers depend on.
type PlanService interface {
	Synthesize(ctx context.Context, userID, jobID uuid.UUID, durationWeeks int) (*models.TrainingPlan, error)
	Get(ctx context.Context, userID, planID uuid.UUID) (*models.TrainingPlan, error)
}

// NewSynthesizePlanHandler returns the handler for
// POST /api/v1/analyses/{jobID}/plan.
func NewSynthesizePlanHandler(svc PlanService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		var req struct {
			DurationWeeks int `json:"duration_weeks"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		created, err := svc.Synthesize(r.Context(), userID, jobID, req.DurationWeeks)
		if err != nil {
			writePlanError(w, err)
			return
		}
		response.Created(w, toPlanResponse(created))
	}
}

// NewGetPlanHandler returns the handler for GET /api/v1/plans/{planID}.
func NewGetPlanHandler(svc PlanService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		planID, err := uuid.Parse(chi.URLParam(r, "planID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "planID must be a valid UUID", nil)
			return
		}

		got, err := svc.Get(r.Context(), userID, planID)
		if err != nil {
			writePlanError(w, err)
			return
		}
		response.JSON(w, toPlanResponse(got))
	}
}

func writePlanError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, plan.ErrValidation):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, plan.ErrForbidden):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "You do not own this resource", nil)
	case errors.Is(err, plan.ErrJobNotCompleted):
		response.Error(w, http.StatusConflict, "JOB_NOT_COMPLETED", "A plan needs a completed analysis", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// --- response DTOs ---

type planResponse struct {
	ID            uuid.UUID          `json:"id"`
	JobID         uuid.UUID          `json:"job_id"`
	DurationWeeks int                `json:"duration_weeks"`
	Exercises     []exerciseResponse `json:"exercises"`
	CreatedAt     time.Time          `json:"created_at"`
}

type exerciseResponse struct {
	ID           uuid.UUID       `json:"id"`
	Week         int             `json:"week"`
	Day          int             `json:"day"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Instructions json.RawMessage `json:"instructions,omitempty"`
	ImageURL     *string         `json:"image_url,omitempty"`
}

func toPlanResponse(p *models.TrainingPlan) planResponse {
	resp := planResponse{
		ID:            p.ID,
		JobID:         p.JobID,
		DurationWeeks: p.DurationWeeks,
		Exercises:     []exerciseResponse{},
		CreatedAt:     p.CreatedAt,
	}
	for _, ex := range p.Exercises {
		er := exerciseResponse{
			ID:          ex.ID,
			Week:        ex.Week,
			Day:         ex.Day,
			Name:        ex.Name,
			Description: ex.Description,
			ImageURL:    ex.ImageURL,
		}
		if json.Valid([]byte(ex.Instructions)) && ex.Instructions != "" {
			er.Instructions = json.RawMessage(ex.Instructions)
		}
		resp.Exercises = append(resp.Exercises, er)
	}
	return resp
}
