// Package analysis owns the video assessment job lifecycle: creation,
// background processing, bounded retry, and stale-job reaping.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/anavarrete/formcoach/internal/cache"
	"github.com/anavarrete/formcoach/internal/genai"
	"github.com/anavarrete/formcoach/internal/lock"
	"github.com/anavarrete/formcoach/internal/storage"
	"github.com/anavarrete/formcoach/internal/store"
	"github.com/anavarrete/formcoach/pkg/models"
)

const (
	// staleAfter is how long a job may sit in PROCESSING before the reaper
	// treats its worker as dead. Strictly older than the cutoff counts as
	// stale; exactly at the boundary does not.
	staleAfter = 5 * time.Minute

	reapLockName = "reap-stale-analysis-jobs"
	reapLockTTL  = 4 * time.Minute

	reapedMessage = "processing timed out"

	cacheTTL = 30 * time.Minute

	maxMediaItems = 5
)

// Invoker runs tiered model inference.
type Invoker interface {
	Invoke(ctx context.Context, req genai.GenerateRequest) (*genai.Result, error)
}

// FileStager uploads media to the inference provider and waits for it to
// become ready.
type FileStager interface {
	Stage(ctx context.Context, filename, mimeType string, data []byte) (*genai.RemoteFile, error)
}

// MediaUpload is one media file submitted with an analysis request.
type MediaUpload struct {
	Type        string
	Filename    string
	ContentType string
	CameraAngle *string
	Data        []byte
}

// CreateParams holds validated input for a new analysis job.
type CreateParams struct {
	UserID      uuid.UUID
	TechniqueID uuid.UUID
	Media       []MediaUpload
}

// Service orchestrates analysis jobs.
type Service struct {
	store   store.Store
	cache   cache.Cache
	objects storage.Storage
	stager  FileStager
	gateway Invoker
	locker  lock.Locker
	timeout time.Duration
	logger  *slog.Logger
}

// NewService creates an analysis Service. timeout bounds each model
// inference call.
func NewService(st store.Store, ca cache.Cache, objects storage.Storage, stager FileStager, gateway Invoker, locker lock.Locker, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		cache:   ca,
		objects: objects,
		stager:  stager,
		gateway: gateway,
		locker:  locker,
		timeout: timeout,
		logger:  logger,
	}
}

// Create validates the request, persists a PENDING job with its media, and
// dispatches processing in a background goroutine. It returns the job
// immediately without waiting for the assessment.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.AnalysisJob, error) {
	if err := validateMedia(params.Media); err != nil {
		return nil, err
	}

	technique, err := s.store.GetTechnique(ctx, params.TechniqueID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown technique %s", ErrValidation, params.TechniqueID)
		}
		return nil, fmt.Errorf("loading technique: %w", err)
	}

	now := time.Now().UTC()
	job := &models.AnalysisJob{
		ID:          uuid.New(),
		UserID:      params.UserID,
		TechniqueID: technique.ID,
		Status:      models.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, upload := range params.Media {
		path := fmt.Sprintf("uploads/%s/%s", job.ID, upload.Filename)
		if err := s.objects.Put(ctx, path, upload.Data, upload.ContentType); err != nil {
			return nil, fmt.Errorf("storing media: %w", err)
		}
		job.Media = append(job.Media, models.MediaItem{
			ID:          uuid.New(),
			JobID:       job.ID,
			Type:        upload.Type,
			StorageURL:  path,
			Filename:    upload.Filename,
			SizeBytes:   int64(len(upload.Data)),
			CameraAngle: upload.CameraAngle,
			CreatedAt:   now,
		})
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	s.cacheSnapshot(ctx, job)

	go s.process(job.ID)

	return job, nil
}

// Get returns the job with its assessment when one exists. Only the owner
// may read a job. While a job is in flight its cached snapshot answers the
// poll, including the ownership check, without a database read; terminal
// jobs are evicted from the cache on transition, so those reads fall
// through to the store for the full payload.
func (s *Service) Get(ctx context.Context, userID, jobID uuid.UUID) (*models.AnalysisJob, *models.Assessment, error) {
	if snap, ok, err := s.cache.GetJobStatus(ctx, jobID); err == nil && ok {
		if snap.UserID != userID {
			return nil, nil, ErrForbidden
		}
		return &models.AnalysisJob{
			ID:          jobID,
			UserID:      snap.UserID,
			TechniqueID: snap.TechniqueID,
			Status:      snap.Status,
			RetryCount:  snap.RetryCount,
			CreatedAt:   snap.CreatedAt,
			UpdatedAt:   snap.UpdatedAt,
		}, nil, nil
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.UserID != userID {
		return nil, nil, ErrForbidden
	}

	var assessment *models.Assessment
	if job.Status == models.JobStatusCompleted {
		assessment, err = s.store.GetAssessmentByJobID(ctx, jobID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
	}
	return job, assessment, nil
}

// Retry moves a FAILED job back to PENDING and dispatches processing again.
// A job can be retried at most models.MaxJobRetries times.
func (s *Service) Retry(ctx context.Context, userID, jobID uuid.UUID) (*models.AnalysisJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrForbidden
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, job.Status)
	}
	if job.RetryCount >= models.MaxJobRetries {
		return nil, fmt.Errorf("%w: %d attempts used", ErrRetryLimitExceeded, job.RetryCount)
	}

	reset, err := s.store.ResetJobForRetry(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("resetting job: %w", err)
	}
	if reset == nil {
		// Lost a race with another retry or a state change.
		return nil, fmt.Errorf("%w: job changed concurrently", ErrInvalidState)
	}

	s.cacheSnapshot(ctx, reset)

	go s.process(jobID)

	return reset, nil
}

// ReapStale fails jobs stuck in PROCESSING for longer than the staleness
// window. The whole sweep runs under a named lock so overlapping schedules
// and multiple instances do not double-count; when the lock is held
// elsewhere the call is a no-op.
func (s *Service) ReapStale(ctx context.Context) (int, error) {
	acquired, err := s.locker.TryAcquire(ctx, reapLockName, reapLockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquiring reap lock: %w", err)
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := s.locker.Release(ctx, reapLockName); err != nil {
			s.logger.Warn("releasing reap lock", "error", err)
		}
	}()

	cutoff := time.Now().UTC().Add(-staleAfter)
	ids, err := s.store.ReapStaleJobs(ctx, cutoff, reapedMessage)
	if err != nil {
		return 0, fmt.Errorf("reaping stale jobs: %w", err)
	}

	for _, id := range ids {
		_ = s.cache.DeleteJobStatus(ctx, id)
		s.logger.Warn("reaped stale job", "job_id", id)
	}
	return len(ids), nil
}

// process runs the assessment pipeline for one job in a goroutine. It
// recovers from panics and always leaves the job COMPLETED or FAILED,
// unless another worker owns it.
func (s *Service) process(jobID uuid.UUID) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in process", "error", r, "job_id", jobID)
			s.fail(ctx, jobID, fmt.Sprintf("panic: %v", r))
		}
	}()

	claimed, err := s.store.BeginProcessing(ctx, jobID, time.Now().UTC())
	if err != nil {
		s.logger.Error("claiming job", "error", err, "job_id", jobID)
		return
	}
	if !claimed {
		// Another worker owns this job.
		return
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.fail(ctx, jobID, fmt.Sprintf("loading job: %v", err))
		return
	}
	s.cacheSnapshot(ctx, job)
	technique, err := s.store.GetTechnique(ctx, job.TechniqueID)
	if err != nil {
		s.fail(ctx, jobID, fmt.Sprintf("loading technique: %v", err))
		return
	}

	files, err := s.stageMedia(ctx, job.Media)
	if err != nil {
		s.fail(ctx, jobID, fmt.Sprintf("staging media: %v", err))
		return
	}

	inferCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.gateway.Invoke(inferCtx, genai.GenerateRequest{
		Prompt:     buildAssessmentPrompt(technique, job.Media),
		Files:      files,
		JSONOutput: true,
	})
	if err != nil {
		s.fail(ctx, jobID, fmt.Sprintf("model inference: %v", err))
		return
	}

	assessment, err := parseAssessment(jobID, result)
	if err != nil {
		s.fail(ctx, jobID, fmt.Sprintf("parsing assessment: %v", err))
		return
	}

	completed, err := s.store.CompleteJob(ctx, jobID, assessment)
	if err != nil {
		s.fail(ctx, jobID, fmt.Sprintf("storing assessment: %v", err))
		return
	}
	if !completed {
		// The job left PROCESSING while we worked (reaped or retried).
		// The late result is discarded rather than overwriting newer state.
		s.logger.Warn("discarding late assessment", "job_id", jobID)
		return
	}
	_ = s.cache.DeleteJobStatus(ctx, jobID)
}

// cacheSnapshot caches the in-flight view of a job so status polls can be
// answered without a database read. Errors are ignored: the cache is an
// optimization and the store remains authoritative.
func (s *Service) cacheSnapshot(ctx context.Context, job *models.AnalysisJob) {
	_ = s.cache.SetJobStatus(ctx, job.ID, cache.JobSnapshot{
		UserID:      job.UserID,
		TechniqueID: job.TechniqueID,
		Status:      job.Status,
		RetryCount:  job.RetryCount,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}, cacheTTL)
}

// stageMedia fetches each media object and uploads it to the provider's
// file service, waiting for every file to become ready.
func (s *Service) stageMedia(ctx context.Context, media []models.MediaItem) ([]genai.RemoteFile, error) {
	files := make([]genai.RemoteFile, 0, len(media))
	for _, m := range media {
		data, contentType, err := s.objects.Get(ctx, m.StorageURL)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", m.Filename, err)
		}
		file, err := s.stager.Stage(ctx, m.Filename, contentType, data)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}
	return files, nil
}

// fail marks the job FAILED. A false return from the store means the job
// already left PROCESSING, in which case the failure is stale and dropped.
func (s *Service) fail(ctx context.Context, jobID uuid.UUID, message string) {
	ok, err := s.store.FailJob(ctx, jobID, message)
	if err != nil {
		s.logger.Error("marking job failed", "error", err, "job_id", jobID)
		return
	}
	if !ok {
		s.logger.Warn("discarding late failure", "job_id", jobID, "message", message)
		return
	}
	_ = s.cache.DeleteJobStatus(ctx, jobID)
}

func validateMedia(media []MediaUpload) error {
	if len(media) == 0 {
		return fmt.Errorf("%w: at least one media file is required", ErrValidation)
	}
	if len(media) > maxMediaItems {
		return fmt.Errorf("%w: at most %d media files allowed", ErrValidation, maxMediaItems)
	}

	hasVideo := false
	for _, m := range media {
		switch m.Type {
		case models.MediaTypeVideo:
			hasVideo = true
		case models.MediaTypeImage:
		default:
			return fmt.Errorf("%w: unknown media type %q", ErrValidation, m.Type)
		}
		if m.Filename == "" {
			return fmt.Errorf("%w: media filename is required", ErrValidation)
		}
		if len(m.Data) == 0 {
			return fmt.Errorf("%w: media file %s is empty", ErrValidation, m.Filename)
		}
	}
	if !hasVideo {
		return fmt.Errorf("%w: at least one video is required", ErrValidation)
	}
	return nil
}

// assessmentPayload is the JSON document the model is asked to produce.
type assessmentPayload struct {
	Score   int    `json:"score"`
	Tier    string `json:"tier"`
	Summary string `json:"summary"`
	Issues  []struct {
		Title    string `json:"title"`
		Detail   string `json:"detail"`
		Severity string `json:"severity"`
	} `json:"issues"`
}

func parseAssessment(jobID uuid.UUID, result *genai.Result) (*models.Assessment, error) {
	var payload assessmentPayload
	if err := json.Unmarshal([]byte(result.Text), &payload); err != nil {
		return nil, fmt.Errorf("decoding model output: %w", err)
	}
	if payload.Summary == "" {
		return nil, errors.New("model output missing summary")
	}

	if payload.Score < 0 {
		payload.Score = 0
	}
	if payload.Score > 10 {
		payload.Score = 10
	}

	now := time.Now().UTC()
	assessment := &models.Assessment{
		ID:        uuid.New(),
		JobID:     jobID,
		Score:     payload.Score,
		Tier:      payload.Tier,
		Summary:   payload.Summary,
		ModelUsed: result.Model,
		CreatedAt: now,
	}
	for _, issue := range payload.Issues {
		assessment.Issues = append(assessment.Issues, models.AssessmentIssue{
			ID:           uuid.New(),
			AssessmentID: assessment.ID,
			Title:        issue.Title,
			Detail:       issue.Detail,
			Severity:     issue.Severity,
			CreatedAt:    now,
		})
	}
	return assessment, nil
}
