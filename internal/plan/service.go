// Package plan turns a completed technique assessment into a training plan
// and enriches its exercises with coaching material and illustrations.
package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anavarrete/formcoach/internal/analysis"
	"github.com/anavarrete/formcoach/internal/genai"
	"github.com/anavarrete/formcoach/internal/imagegen"
	"github.com/anavarrete/formcoach/internal/storage"
	"github.com/anavarrete/formcoach/internal/store"
	"github.com/anavarrete/formcoach/pkg/models"
)

const (
	// enrichBatchSize is how many unique exercises go into one enrichment
	// call. Matching answers back is positional, so batches stay small to
	// keep the model on track.
	enrichBatchSize = 6

	defaultWeeks = 4
	minWeeks     = 1
	maxWeeks     = 12
)

// Service orchestrates plan synthesis.
type Service struct {
	store   store.Store
	gateway analysis.Invoker
	images  imagegen.Client
	objects storage.Storage
	logger  *slog.Logger
}

// NewService creates a plan Service. images may be nil when illustration
// generation is disabled.
func NewService(st store.Store, gateway analysis.Invoker, images imagegen.Client, objects storage.Storage, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		gateway: gateway,
		images:  images,
		objects: objects,
		logger:  logger,
	}
}

// Synthesize builds a training plan from the job's assessment, persists it,
// and then runs the enrichment and illustration passes. Those passes are
// best effort: their failures are logged and the plan is returned without
// the missing material.
func (s *Service) Synthesize(ctx context.Context, userID, jobID uuid.UUID, durationWeeks int) (*models.TrainingPlan, error) {
	if durationWeeks == 0 {
		durationWeeks = defaultWeeks
	}
	if durationWeeks < minWeeks || durationWeeks > maxWeeks {
		return nil, fmt.Errorf("%w: duration must be between %d and %d weeks", ErrValidation, minWeeks, maxWeeks)
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrForbidden
	}
	if job.Status != models.JobStatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrJobNotCompleted, job.Status)
	}

	assessment, err := s.store.GetAssessmentByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("loading assessment: %w", err)
	}
	technique, err := s.store.GetTechnique(ctx, job.TechniqueID)
	if err != nil {
		return nil, fmt.Errorf("loading technique: %w", err)
	}

	result, err := s.gateway.Invoke(ctx, genai.GenerateRequest{
		Prompt:     buildPlanPrompt(technique, assessment, durationWeeks),
		JSONOutput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("generating plan: %w", err)
	}

	plan, err := parsePlan(jobID, userID, durationWeeks, result.Text)
	if err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}

	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("storing plan: %w", err)
	}

	if err := s.enrich(ctx, plan); err != nil {
		s.logger.Warn("exercise enrichment incomplete", "plan_id", plan.ID, "error", err)
	}
	s.illustrate(ctx, plan)

	return s.store.GetPlan(ctx, plan.ID)
}

// Get returns the plan with its exercises. Only the owner may read a plan.
func (s *Service) Get(ctx context.Context, userID, planID uuid.UUID) (*models.TrainingPlan, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.UserID != userID {
		return nil, ErrForbidden
	}
	return plan, nil
}

// enrich generates coaching material for the plan's exercises. Exercises
// sharing a name are enriched once and the result fans out to every row
// with that name.
func (s *Service) enrich(ctx context.Context, plan *models.TrainingPlan) error {
	names, descriptions, _ := uniqueExercises(plan.Exercises)

	var firstErr error
	for start := 0; start < len(names); start += enrichBatchSize {
		end := start + enrichBatchSize
		if end > len(names) {
			end = len(names)
		}
		batch := names[start:end]

		instructions, err := s.enrichBatch(ctx, batch, descriptions)
		if err != nil {
			s.logger.Warn("enrichment batch failed", "plan_id", plan.ID, "batch_size", len(batch), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if _, err := s.store.UpdateExerciseInstructions(ctx, plan.ID, instructions); err != nil {
			s.logger.Warn("storing enrichment failed", "plan_id", plan.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// enrichBatch runs one model call for a batch and maps the positional
// answers back to exercise names.
func (s *Service) enrichBatch(ctx context.Context, names []string, descriptions map[string]string) (map[string]string, error) {
	result, err := s.gateway.Invoke(ctx, genai.GenerateRequest{
		Prompt:     buildEnrichmentPrompt(names, descriptions),
		JSONOutput: true,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Exercises []models.ExerciseEnrichment `json:"exercises"`
	}
	if err := json.Unmarshal([]byte(result.Text), &payload); err != nil {
		return nil, fmt.Errorf("decoding enrichment output: %w", err)
	}
	if len(payload.Exercises) != len(names) {
		return nil, fmt.Errorf("expected %d enrichments, got %d", len(names), len(payload.Exercises))
	}

	instructions := make(map[string]string, len(names))
	for i, name := range names {
		enrichment := payload.Exercises[i]
		enrichment.Difficulty = models.NormalizeDifficulty(enrichment.Difficulty)

		encoded, err := json.Marshal(enrichment)
		if err != nil {
			return nil, fmt.Errorf("encoding enrichment for %s: %w", name, err)
		}
		instructions[name] = string(encoded)
	}
	return instructions, nil
}

// illustrate generates one image per unique exercise name and stores its
// URL on every matching row. A billing rejection stops the pass quietly;
// the product works without illustrations.
func (s *Service) illustrate(ctx context.Context, plan *models.TrainingPlan) {
	if s.images == nil {
		return
	}
	names, descriptions, ids := uniqueExercises(plan.Exercises)

	for _, name := range names {
		img, err := s.images.Generate(ctx, buildIllustrationPrompt(name, descriptions[name]))
		if err != nil {
			if errors.Is(err, imagegen.ErrBillingRequired) {
				s.logger.Info("illustrations skipped, billing not enabled", "plan_id", plan.ID)
				return
			}
			s.logger.Warn("illustration failed", "plan_id", plan.ID, "exercise", name, "error", err)
			continue
		}

		// Images live in a per-exercise directory, keyed by the first row
		// carrying the name; the timestamp keeps re-generated images apart.
		path := fmt.Sprintf("illustrations/%s/%d%s", ids[name], time.Now().Unix(), extensionFor(img.MIMEType))
		if err := s.objects.Put(ctx, path, img.Data, img.MIMEType); err != nil {
			s.logger.Warn("storing illustration failed", "plan_id", plan.ID, "exercise", name, "error", err)
			continue
		}

		if _, err := s.store.UpdateExerciseImageURL(ctx, plan.ID, name, s.objects.URL(path)); err != nil {
			s.logger.Warn("linking illustration failed", "plan_id", plan.ID, "exercise", name, "error", err)
		}
	}
}

// uniqueExercises returns the distinct exercise names in first-appearance
// order, with the first non-empty description seen for each and the id of
// the first row carrying the name.
func uniqueExercises(exercises []models.Exercise) ([]string, map[string]string, map[string]uuid.UUID) {
	var names []string
	descriptions := make(map[string]string)
	ids := make(map[string]uuid.UUID)

	for _, ex := range exercises {
		if _, ok := ids[ex.Name]; !ok {
			ids[ex.Name] = ex.ID
			names = append(names, ex.Name)
		}
		if descriptions[ex.Name] == "" && ex.Description != "" {
			descriptions[ex.Name] = ex.Description
		}
	}
	return names, descriptions, ids
}

// planPayload is the JSON document the model is asked to produce.
type planPayload struct {
	Weeks []struct {
		Week int `json:"week"`
		Days []struct {
			Day       int `json:"day"`
			Exercises []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"exercises"`
		} `json:"days"`
	} `json:"weeks"`
}

func parsePlan(jobID, userID uuid.UUID, durationWeeks int, text string) (*models.TrainingPlan, error) {
	var payload planPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("decoding model output: %w", err)
	}
	if len(payload.Weeks) == 0 {
		return nil, errors.New("model output has no weeks")
	}

	now := time.Now().UTC()
	plan := &models.TrainingPlan{
		ID:            uuid.New(),
		JobID:         jobID,
		UserID:        userID,
		DurationWeeks: durationWeeks,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, week := range payload.Weeks {
		for _, day := range week.Days {
			for _, ex := range day.Exercises {
				name := strings.TrimSpace(ex.Name)
				if name == "" {
					continue
				}
				plan.Exercises = append(plan.Exercises, models.Exercise{
					ID:          uuid.New(),
					PlanID:      plan.ID,
					Week:        week.Week,
					Day:         day.Day,
					Name:        name,
					Description: strings.TrimSpace(ex.Description),
					CreatedAt:   now,
					UpdatedAt:   now,
				})
			}
		}
	}
	if len(plan.Exercises) == 0 {
		return nil, errors.New("model output has no exercises")
	}
	return plan, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
