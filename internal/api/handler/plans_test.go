package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anavarrete/formcoach/internal/plan"
	"github.com/anavarrete/formcoach/internal/store"
	"github.com/anavarrete/formcoach/pkg/models"
)

type mockPlanService struct {
	synthesizeFunc func(ctx context.Context, userID, jobID uuid.UUID, durationWeeks int) (*models.TrainingPlan, error)
	getFunc        func(ctx context.Context, userID, planID uuid.UUID) (*models.TrainingPlan, error)
}

func (m *mockPlanService) Synthesize(ctx context.Context, userID, jobID uuid.UUID, durationWeeks int) (*models.TrainingPlan, error) {
	return m.synthesizeFunc(ctx, userID, jobID, durationWeeks)
}

func (m *mockPlanService) Get(ctx context.Context, userID, planID uuid.UUID) (*models.TrainingPlan, error) {
	return m.getFunc(ctx, userID, planID)
}

func TestSynthesizePlan_Created(t *testing.T) {
	userID := uuid.New()
	jobID := uuid.New()
	svc := &mockPlanService{
		synthesizeFunc: func(_ context.Context, gotUser, gotJob uuid.UUID, weeks int) (*models.TrainingPlan, error) {
			assert.Equal(t, userID, gotUser)
			assert.Equal(t, jobID, gotJob)
			assert.Equal(t, 6, weeks)
			return &models.TrainingPlan{
				ID: uuid.New(), JobID: gotJob, UserID: gotUser, DurationWeeks: weeks,
				Exercises: []models.Exercise{{
					ID: uuid.New(), Week: 1, Day: 1, Name: "Lunge",
					Instructions: `{"summary":"leg drill"}`,
				}},
			}, nil
		},
	}

	body := bytes.NewBufferString(`{"duration_weeks": 6}`)
	req := authedRequest("POST", "/api/v1/analyses/"+jobID.String()+"/plan", body, userID,
		map[string]string{"jobID": jobID.String()})
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	NewSynthesizePlanHandler(svc)(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Data planResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Data.DurationWeeks)
	require.Len(t, resp.Data.Exercises, 1)
	assert.JSONEq(t, `{"summary":"leg drill"}`, string(resp.Data.Exercises[0].Instructions))
}

func TestSynthesizePlan_EmptyBodyUsesDefaults(t *testing.T) {
	jobID := uuid.New()
	svc := &mockPlanService{
		synthesizeFunc: func(_ context.Context, _, _ uuid.UUID, weeks int) (*models.TrainingPlan, error) {
			assert.Equal(t, 0, weeks, "handler passes zero, the service applies the default")
			return &models.TrainingPlan{ID: uuid.New(), JobID: jobID, DurationWeeks: 4}, nil
		},
	}

	req := authedRequest("POST", "/api/v1/analyses/"+jobID.String()+"/plan", nil, uuid.New(),
		map[string]string{"jobID": jobID.String()})

	w := httptest.NewRecorder()
	NewSynthesizePlanHandler(svc)(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSynthesizePlan_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"job not completed", plan.ErrJobNotCompleted, http.StatusConflict, "JOB_NOT_COMPLETED"},
		{"validation", plan.ErrValidation, http.StatusBadRequest, "INVALID_REQUEST"},
		{"not found", store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"forbidden", plan.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockPlanService{
				synthesizeFunc: func(_ context.Context, _, _ uuid.UUID, _ int) (*models.TrainingPlan, error) {
					return nil, tc.err
				},
			}
			jobID := uuid.NewString()
			req := authedRequest("POST", "/api/v1/analyses/"+jobID+"/plan", nil, uuid.New(),
				map[string]string{"jobID": jobID})

			w := httptest.NewRecorder()
			NewSynthesizePlanHandler(svc)(w, req)

			assert.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, tc.wantBody, errorCode(t, w))
		})
	}
}

func TestGetPlan_OK(t *testing.T) {
	userID := uuid.New()
	planID := uuid.New()
	svc := &mockPlanService{
		getFunc: func(_ context.Context, _, _ uuid.UUID) (*models.TrainingPlan, error) {
			url := "/media/illustrations/x/lunge.png"
			return &models.TrainingPlan{
				ID: planID, UserID: userID, DurationWeeks: 4,
				Exercises: []models.Exercise{{ID: uuid.New(), Week: 1, Day: 1, Name: "Lunge", ImageURL: &url}},
			}, nil
		},
	}
	req := authedRequest("GET", "/api/v1/plans/"+planID.String(), nil, userID,
		map[string]string{"planID": planID.String()})

	w := httptest.NewRecorder()
	NewGetPlanHandler(svc)(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data planResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Exercises, 1)
	require.NotNil(t, resp.Data.Exercises[0].ImageURL)
}
