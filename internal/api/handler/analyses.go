// Package handler contains the HTTP handlers. Each handler depends on a
// narrow service interface so tests can stub exactly what they need.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/anavarrete/formcoach/internal/analysis"
	mw "github.com/anavarrete/formcoach/internal/api/middleware"
	"github.com/anavarrete/formcoach/internal/api/response"
	"github.com/anavarrete/formcoach/internal/store"
	"github.com/anavarrete/formcoach/pkg/models"
)

// maxUploadBytes bounds the total multipart payload of one analysis request.
const maxUploadBytes = 256 << 20

// AnalysisService defines the interface the analysis handlers depend on.
type AnalysisService interface {
	Create(ctx context.Context, params analysis.CreateParams) (*models.AnalysisJob, error)
	Get(ctx context.Context, userID, jobID uuid.UUID) (*models.AnalysisJob, *models.Assessment, error)
	Retry(ctx context.Context, userID, jobID uuid.UUID) (*models.AnalysisJob, error)
}

// NewCreateAnalysisHandler returns the handler for POST /api/v1/analyses.
// The request is multipart/form-data: a technique_id field plus one or more
// media files, optionally paired with camera_angle values in file order.
func NewCreateAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected multipart/form-data body", nil)
			return
		}

		techniqueID, err := uuid.Parse(r.FormValue("technique_id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "technique_id must be a valid UUID", nil)
			return
		}

		angles := r.MultipartForm.Value["camera_angle"]
		var media []analysis.MediaUpload
		for i, header := range r.MultipartForm.File["media"] {
			file, err := header.Open()
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable media file", nil)
				return
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable media file", nil)
				return
			}

			contentType := header.Header.Get("Content-Type")
			upload := analysis.MediaUpload{
				Type:        mediaTypeFor(contentType),
				Filename:    header.Filename,
				ContentType: contentType,
				Data:        data,
			}
			if i < len(angles) && angles[i] != "" {
				angle := angles[i]
				upload.CameraAngle = &angle
			}
			media = append(media, upload)
		}

		job, err := svc.Create(r.Context(), analysis.CreateParams{
			UserID:      userID,
			TechniqueID: techniqueID,
			Media:       media,
		})
		if err != nil {
			writeAnalysisError(w, err)
			return
		}

		response.Accepted(w, toJobResponse(job, nil))
	}
}

// NewGetAnalysisHandler returns the handler for GET /api/v1/analyses/{jobID}.
func NewGetAnalysisHandler(svc AnalysisService) http.HandlerFunc {
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

		job, assessment, err := svc.Get(r.Context(), userID, jobID)
		if err != nil {
			writeAnalysisError(w, err)
			return
		}
		response.JSON(w, toJobResponse(job, assessment))
	}
}

// NewRetryAnalysisHandler returns the handler for
// POST /api/v1/analyses/{jobID}/retry.
func NewRetryAnalysisHandler(svc AnalysisService) http.HandlerFunc {
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

		job, err := svc.Retry(r.Context(), userID, jobID)
		if err != nil {
			writeAnalysisError(w, err)
			return
		}
		response.Accepted(w, toJobResponse(job, nil))
	}
}

func writeAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analysis.ErrValidation):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Analysis job not found", nil)
	case errors.Is(err, analysis.ErrForbidden):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "You do not own this analysis job", nil)
	case errors.Is(err, analysis.ErrInvalidState):
		response.Error(w, http.StatusConflict, "INVALID_STATE", "Only failed jobs can be retried", nil)
	case errors.Is(err, analysis.ErrRetryLimitExceeded):
		response.Error(w, http.StatusConflict, "RETRY_LIMIT_EXCEEDED", "This job has used all its retries", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

func mediaTypeFor(contentType string) string {
	if strings.HasPrefix(contentType, "image/") {
		return models.MediaTypeImage
	}
	return models.MediaTypeVideo
}

// --- response DTOs ---

type jobResponse struct {
	ID           uuid.UUID           `json:"id"`
	TechniqueID  uuid.UUID           `json:"technique_id"`
	Status       string              `json:"status"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	RetryCount   int                 `json:"retry_count"`
	Media        []mediaResponse     `json:"media,omitempty"`
	Assessment   *assessmentResponse `json:"assessment,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type mediaResponse struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Filename    string    `json:"filename"`
	CameraAngle *string   `json:"camera_angle,omitempty"`
}

type assessmentResponse struct {
	Score     int             `json:"score"`
	Tier      string          `json:"tier"`
	Summary   string          `json:"summary"`
	ModelUsed string          `json:"model_used"`
	Issues    []issueResponse `json:"issues"`
}

type issueResponse struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Severity string `json:"severity"`
}

func toJobResponse(job *models.AnalysisJob, assessment *models.Assessment) jobResponse {
	resp := jobResponse{
		ID:           job.ID,
		TechniqueID:  job.TechniqueID,
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
		RetryCount:   job.RetryCount,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	for _, m := range job.Media {
		resp.Media = append(resp.Media, mediaResponse{
			ID:          m.ID,
			Type:        m.Type,
			Filename:    m.Filename,
			CameraAngle: m.CameraAngle,
		})
	}
	if assessment != nil {
		a := assessmentResponse{
			Score:     assessment.Score,
			Tier:      assessment.Tier,
			Summary:   assessment.Summary,
			ModelUsed: assessment.ModelUsed,
			Issues:    []issueResponse{},
		}
		for _, issue := range assessment.Issues {
			a.Issues = append(a.Issues, issueResponse{
				Title:    issue.Title,
				Detail:   issue.Detail,
				Severity: issue.Severity,
			})
		}
		resp.Assessment = &a
	}
	return resp
}
