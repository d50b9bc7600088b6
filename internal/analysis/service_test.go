package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/anavarrete/formcoach/internal/cache"
	"github.com/anavarrete/formcoach/internal/genai"
	"github.com/anavarrete/formcoach/internal/lock"
	"github.com/anavarrete/formcoach/internal/store"
	"github.com/anavarrete/formcoach/pkg/models"
)

// --- mocks ---

// mockStore mimics the conditional status transitions of the real store so
// tests exercise the same claim/discard semantics.
type mockStore struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*models.AnalysisJob
	techniques  map[uuid.UUID]*models.Technique
	assessments map[uuid.UUID]*models.Assessment
	plans       map[uuid.UUID]*models.TrainingPlan
}

func newMockStore() *mockStore {
	return &mockStore{
		jobs:        make(map[uuid.UUID]*models.AnalysisJob),
		techniques:  make(map[uuid.UUID]*models.Technique),
		assessments: make(map[uuid.UUID]*models.Assessment),
		plans:       make(map[uuid.UUID]*models.TrainingPlan),
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }
func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error   { return nil }
func (s *mockStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error      { return nil }
func (s *mockStore) CreateUser(_ context.Context, _ *models.User) error          { return nil }
func (s *mockStore) ListTechniques(_ context.Context) ([]*models.Technique, error) {
	return nil, nil
}

func (s *mockStore) GetTechnique(_ context.Context, id uuid.UUID) (*models.Technique, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tech, ok := s.techniques[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return tech, nil
}

func (s *mockStore) CreateJob(_ context.Context, job *models.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *mockStore) BeginProcessing(_ context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusPending {
		return false, nil
	}
	job.Status = models.JobStatusProcessing
	job.ProcessingStartedAt = &startedAt
	return true, nil
}

func (s *mockStore) CompleteJob(_ context.Context, id uuid.UUID, assessment *models.Assessment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return false, nil
	}
	job.Status = models.JobStatusCompleted
	s.assessments[id] = assessment
	return true, nil
}

func (s *mockStore) FailJob(_ context.Context, id uuid.UUID, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusProcessing {
		return false, nil
	}
	job.Status = models.JobStatusFailed
	job.ErrorMessage = &message
	return true, nil
}

func (s *mockStore) ResetJobForRetry(_ context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusFailed || job.RetryCount >= models.MaxJobRetries {
		return nil, nil
	}
	job.Status = models.JobStatusPending
	job.ErrorMessage = nil
	job.ProcessingStartedAt = nil
	job.RetryCount++
	delete(s.assessments, id)
	copied := *job
	return &copied, nil
}

func (s *mockStore) ReapStaleJobs(_ context.Context, cutoff time.Time, message string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, job := range s.jobs {
		if job.Status == models.JobStatusProcessing && job.ProcessingStartedAt != nil && job.ProcessingStartedAt.Before(cutoff) {
			job.Status = models.JobStatusFailed
			msg := message
			job.ErrorMessage = &msg
			ids = append(ids, job.ID)
		}
	}
	return ids, nil
}

func (s *mockStore) GetAssessmentByJobID(_ context.Context, jobID uuid.UUID) (*models.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (s *mockStore) CreatePlan(_ context.Context, plan *models.TrainingPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *plan
	s.plans[plan.ID] = &copied
	return nil
}

func (s *mockStore) GetPlan(_ context.Context, id uuid.UUID) (*models.TrainingPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *plan
	return &copied, nil
}

func (s *mockStore) UpdateExerciseInstructions(_ context.Context, _ uuid.UUID, _ map[string]string) (int64, error) {
	return 0, nil
}

func (s *mockStore) UpdateExerciseImageURL(_ context.Context, _ uuid.UUID, _, _ string) (int64, error) {
	return 0, nil
}

var _ store.Store = (*mockStore)(nil)

type mockCache struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]cache.JobSnapshot
}

func newMockCache() *mockCache {
	return &mockCache{snapshots: make(map[uuid.UUID]cache.JobSnapshot)}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func (c *mockCache) SetJobStatus(_ context.Context, jobID uuid.UUID, snap cache.JobSnapshot, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[jobID] = snap
	return nil
}

func (c *mockCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (*cache.JobSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[jobID]
	if !ok {
		return nil, false, nil
	}
	return &snap, true, nil
}

func (c *mockCache) DeleteJobStatus(_ context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, jobID)
	return nil
}

// memObjects is an in-memory Storage.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (o *memObjects) Put(_ context.Context, path string, data []byte, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[path] = data
	return nil
}

func (o *memObjects) Get(_ context.Context, path string) ([]byte, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[path]
	if !ok {
		return nil, "", fmt.Errorf("missing object %s", path)
	}
	return data, "video/mp4", nil
}

func (o *memObjects) URL(path string) string { return "/media/" + path }

type mockStager struct {
	err error
}

func (s *mockStager) Stage(_ context.Context, filename, mimeType string, _ []byte) (*genai.RemoteFile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &genai.RemoteFile{
		Name:     "files/" + filename,
		URI:      "https://files.example.com/" + filename,
		MIMEType: mimeType,
		State:    genai.FileStateActive,
	}, nil
}

type mockGateway struct {
	invokeFunc func(ctx context.Context, req genai.GenerateRequest) (*genai.Result, error)
}

func (g *mockGateway) Invoke(ctx context.Context, req genai.GenerateRequest) (*genai.Result, error) {
	if g.invokeFunc != nil {
		return g.invokeFunc(ctx, req)
	}
	return &genai.Result{Text: goodAssessmentJSON, Model: "tier-a"}, nil
}

const goodAssessmentJSON = `{
	"score": 6,
	"tier": "developing",
	"summary": "Solid base but the preparation is late.",
	"issues": [
		{"title": "Late preparation", "detail": "Start the backswing earlier.", "severity": "high"}
	]
}`

// --- helpers ---

type fixture struct {
	store   *mockStore
	cache   *mockCache
	objects *memObjects
	stager  *mockStager
	gateway *mockGateway
	locker  *lock.MemoryLocker
	svc     *Service
}

func newFixture() *fixture {
	f := &fixture{
		store:   newMockStore(),
		cache:   newMockCache(),
		objects: newMemObjects(),
		stager:  &mockStager{},
		gateway: &mockGateway{},
		locker:  lock.NewMemoryLocker(),
	}
	f.svc = NewService(f.store, f.cache, f.objects, f.stager, f.gateway, f.locker,
		30*time.Second, slog.New(slog.DiscardHandler))
	return f
}

func (f *fixture) addTechnique() *models.Technique {
	tech := &models.Technique{ID: uuid.New(), Sport: "padel", Name: "bandeja"}
	f.store.mu.Lock()
	f.store.techniques[tech.ID] = tech
	f.store.mu.Unlock()
	return tech
}

func videoUpload() MediaUpload {
	return MediaUpload{
		Type:        models.MediaTypeVideo,
		Filename:    "swing.mp4",
		ContentType: "video/mp4",
		Data:        []byte("fake-video"),
	}
}

func waitForEviction(t *testing.T, c *mockCache, jobID uuid.UUID) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if _, ok, _ := c.GetJobStatus(context.Background(), jobID); !ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the cached snapshot to be evicted")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func waitForStatus(t *testing.T, s *mockStore, jobID uuid.UUID, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		job, err := s.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return
		}
		select {
		case <-deadline:
			status := "<missing>"
			if job != nil {
				status = job.Status
			}
			t.Fatalf("timed out waiting for status %s, job is %s", want, status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// --- Create tests ---

func TestCreate_ReturnsPendingJobImmediately(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	userID := uuid.New()

	job, err := f.svc.Create(context.Background(), CreateParams{
		UserID:      userID,
		TechniqueID: tech.ID,
		Media:       []MediaUpload{videoUpload()},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != models.JobStatusPending {
		t.Errorf("expected PENDING, got %s", job.Status)
	}
	if job.UserID != userID {
		t.Errorf("expected user %s, got %s", userID, job.UserID)
	}
	if len(job.Media) != 1 {
		t.Fatalf("expected 1 media item, got %d", len(job.Media))
	}

	// Media bytes must be in object storage.
	if _, _, err := f.objects.Get(context.Background(), job.Media[0].StorageURL); err != nil {
		t.Errorf("media not stored: %v", err)
	}

	snap, ok, _ := f.cache.GetJobStatus(context.Background(), job.ID)
	if !ok {
		t.Fatal("expected a cached snapshot for the new job")
	}
	if snap.Status != models.JobStatusPending {
		t.Errorf("expected cached PENDING, got %q", snap.Status)
	}
	if snap.UserID != userID {
		t.Errorf("cached snapshot has user %s, want %s", snap.UserID, userID)
	}
}

func TestCreate_RequiresMedia(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()

	_, err := f.svc.Create(context.Background(), CreateParams{
		UserID:      uuid.New(),
		TechniqueID: tech.ID,
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestCreate_RequiresVideo(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()

	_, err := f.svc.Create(context.Background(), CreateParams{
		UserID:      uuid.New(),
		TechniqueID: tech.ID,
		Media: []MediaUpload{{
			Type:        models.MediaTypeImage,
			Filename:    "still.jpg",
			ContentType: "image/jpeg",
			Data:        []byte("img"),
		}},
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestCreate_UnknownTechnique(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), CreateParams{
		UserID:      uuid.New(),
		TechniqueID: uuid.New(),
		Media:       []MediaUpload{videoUpload()},
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

// --- processing tests ---

func TestProcess_CompletesJob(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()

	job, err := f.svc.Create(context.Background(), CreateParams{
		UserID:      uuid.New(),
		TechniqueID: tech.ID,
		Media:       []MediaUpload{videoUpload()},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForStatus(t, f.store, job.ID, models.JobStatusCompleted)

	assessment, err := f.store.GetAssessmentByJobID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("expected assessment: %v", err)
	}
	if assessment.Score != 6 {
		t.Errorf("expected score 6, got %d", assessment.Score)
	}
	if assessment.ModelUsed != "tier-a" {
		t.Errorf("expected model tier-a, got %s", assessment.ModelUsed)
	}
	if len(assessment.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(assessment.Issues))
	}
	if assessment.Issues[0].Severity != "high" {
		t.Errorf("unexpected severity %s", assessment.Issues[0].Severity)
	}

	// Terminal jobs leave the cache so reads get the full stored payload.
	waitForEviction(t, f.cache, job.ID)
}

func TestProcess_ClampsScore(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	f.gateway.invokeFunc = func(_ context.Context, _ genai.GenerateRequest) (*genai.Result, error) {
		return &genai.Result{Text: `{"score": 42, "tier": "advanced", "summary": "great"}`, Model: "tier-a"}, nil
	}

	job, _ := f.svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), TechniqueID: tech.ID, Media: []MediaUpload{videoUpload()},
	})
	waitForStatus(t, f.store, job.ID, models.JobStatusCompleted)

	assessment, _ := f.store.GetAssessmentByJobID(context.Background(), job.ID)
	if assessment.Score != 10 {
		t.Errorf("expected score clamped to 10, got %d", assessment.Score)
	}
}

func TestProcess_FailsOnModelError(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	f.gateway.invokeFunc = func(_ context.Context, _ genai.GenerateRequest) (*genai.Result, error) {
		return nil, genai.ErrAllModelsFailed
	}

	job, _ := f.svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), TechniqueID: tech.ID, Media: []MediaUpload{videoUpload()},
	})
	waitForStatus(t, f.store, job.ID, models.JobStatusFailed)

	got, _ := f.store.GetJob(context.Background(), job.ID)
	if got.ErrorMessage == nil || *got.ErrorMessage == "" {
		t.Error("expected an error message on the failed job")
	}
	if _, err := f.store.GetAssessmentByJobID(context.Background(), job.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("no assessment should be stored on failure")
	}
}

func TestProcess_FailsOnStagingError(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	f.stager.err = genai.ErrStagingTimeout

	job, _ := f.svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), TechniqueID: tech.ID, Media: []MediaUpload{videoUpload()},
	})
	waitForStatus(t, f.store, job.ID, models.JobStatusFailed)
}

func TestProcess_FailsOnMalformedModelOutput(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	f.gateway.invokeFunc = func(_ context.Context, _ genai.GenerateRequest) (*genai.Result, error) {
		return &genai.Result{Text: "not json at all", Model: "tier-a"}, nil
	}

	job, _ := f.svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), TechniqueID: tech.ID, Media: []MediaUpload{videoUpload()},
	})
	waitForStatus(t, f.store, job.ID, models.JobStatusFailed)
}

func TestProcess_RecoversFromPanic(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	f.gateway.invokeFunc = func(_ context.Context, _ genai.GenerateRequest) (*genai.Result, error) {
		panic("simulated panic")
	}

	job, _ := f.svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), TechniqueID: tech.ID, Media: []MediaUpload{videoUpload()},
	})
	waitForStatus(t, f.store, job.ID, models.JobStatusFailed)
}

func TestProcess_OnlyClaimsPendingJobs(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	invocations := 0
	f.gateway.invokeFunc = func(_ context.Context, _ genai.GenerateRequest) (*genai.Result, error) {
		invocations++
		return &genai.Result{Text: goodAssessmentJSON, Model: "tier-a"}, nil
	}

	now := time.Now().UTC()
	job := &models.AnalysisJob{
		ID: uuid.New(), UserID: uuid.New(), TechniqueID: tech.ID,
		Status: models.JobStatusProcessing, ProcessingStartedAt: &now,
	}
	_ = f.store.CreateJob(context.Background(), job)

	// A second worker picking up an already claimed job must abandon it.
	f.svc.process(job.ID)

	if invocations != 0 {
		t.Errorf("expected no model invocations, got %d", invocations)
	}
	got, _ := f.store.GetJob(context.Background(), job.ID)
	if got.Status != models.JobStatusProcessing {
		t.Errorf("job status changed to %s", got.Status)
	}
}

func TestProcess_LateResultDiscarded(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()

	inFlight := make(chan struct{})
	release := make(chan struct{})
	f.gateway.invokeFunc = func(_ context.Context, _ genai.GenerateRequest) (*genai.Result, error) {
		close(inFlight)
		<-release
		return &genai.Result{Text: goodAssessmentJSON, Model: "tier-a"}, nil
	}

	job, _ := f.svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), TechniqueID: tech.ID, Media: []MediaUpload{videoUpload()},
	})
	<-inFlight

	// Reap the job while the model call is still running.
	f.store.mu.Lock()
	stale := f.store.jobs[job.ID]
	stale.Status = models.JobStatusFailed
	msg := "processing timed out"
	stale.ErrorMessage = &msg
	f.store.mu.Unlock()

	close(release)

	// The late completion must not overwrite the reaped state.
	deadline := time.After(500 * time.Millisecond)
	for {
		got, _ := f.store.GetJob(context.Background(), job.ID)
		if got.Status != models.JobStatusFailed {
			t.Fatalf("late result overwrote reaped job, status %s", got.Status)
		}
		if _, err := f.store.GetAssessmentByJobID(context.Background(), job.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatal("late assessment was stored")
		}
		select {
		case <-deadline:
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// --- Retry tests ---

func failedJob(f *fixture, tech *models.Technique, userID uuid.UUID, retries int) *models.AnalysisJob {
	msg := "model inference: all model tiers failed"
	job := &models.AnalysisJob{
		ID: uuid.New(), UserID: userID, TechniqueID: tech.ID,
		Status: models.JobStatusFailed, ErrorMessage: &msg, RetryCount: retries,
	}
	_ = f.store.CreateJob(context.Background(), job)
	return job
}

func TestRetry_ResetsAndReprocesses(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	userID := uuid.New()
	job := failedJob(f, tech, userID, 0)

	retried, err := f.svc.Retry(context.Background(), userID, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retried.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", retried.RetryCount)
	}
	if retried.ErrorMessage != nil {
		t.Errorf("expected error message cleared, got %q", *retried.ErrorMessage)
	}

	waitForStatus(t, f.store, job.ID, models.JobStatusCompleted)
}

func TestRetry_RejectsNonFailedJob(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	userID := uuid.New()

	job := &models.AnalysisJob{
		ID: uuid.New(), UserID: userID, TechniqueID: tech.ID,
		Status: models.JobStatusCompleted,
	}
	_ = f.store.CreateJob(context.Background(), job)

	_, err := f.svc.Retry(context.Background(), userID, job.ID)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestRetry_EnforcesCeiling(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	userID := uuid.New()
	job := failedJob(f, tech, userID, models.MaxJobRetries)

	_, err := f.svc.Retry(context.Background(), userID, job.ID)
	if !errors.Is(err, ErrRetryLimitExceeded) {
		t.Errorf("expected ErrRetryLimitExceeded, got %v", err)
	}
}

func TestRetry_RejectsOtherUsers(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	job := failedJob(f, tech, uuid.New(), 0)

	_, err := f.svc.Retry(context.Background(), uuid.New(), job.ID)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

// --- reaper tests ---

func processingJob(f *fixture, tech *models.Technique, startedAgo time.Duration) *models.AnalysisJob {
	startedAt := time.Now().UTC().Add(-startedAgo)
	job := &models.AnalysisJob{
		ID: uuid.New(), UserID: uuid.New(), TechniqueID: tech.ID,
		Status: models.JobStatusProcessing, ProcessingStartedAt: &startedAt,
	}
	_ = f.store.CreateJob(context.Background(), job)
	return job
}

func TestReapStale_FailsOnlyStaleJobs(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	stale := processingJob(f, tech, 6*time.Minute)
	fresh := processingJob(f, tech, 4*time.Minute)

	n, err := f.svc.ReapStale(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped job, got %d", n)
	}

	got, _ := f.store.GetJob(context.Background(), stale.ID)
	if got.Status != models.JobStatusFailed {
		t.Errorf("stale job not failed, status %s", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "processing timed out" {
		t.Error("reaped job missing timeout message")
	}

	got, _ = f.store.GetJob(context.Background(), fresh.ID)
	if got.Status != models.JobStatusProcessing {
		t.Errorf("fresh job was reaped, status %s", got.Status)
	}
}

func TestReapStale_NoOpWhenLockHeld(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	stale := processingJob(f, tech, 10*time.Minute)

	ok, err := f.locker.TryAcquire(context.Background(), reapLockName, time.Minute)
	if err != nil || !ok {
		t.Fatalf("could not pre-acquire lock: ok=%v err=%v", ok, err)
	}

	n, err := f.svc.ReapStale(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no-op while lock held, reaped %d", n)
	}

	got, _ := f.store.GetJob(context.Background(), stale.ID)
	if got.Status != models.JobStatusProcessing {
		t.Errorf("job was reaped while lock held, status %s", got.Status)
	}
}

func TestReapStale_ReleasesLock(t *testing.T) {
	f := newFixture()
	f.addTechnique()

	if _, err := f.svc.ReapStale(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A second sweep must be able to take the lock again.
	if _, err := f.svc.ReapStale(context.Background()); err != nil {
		t.Fatalf("unexpected error on second sweep: %v", err)
	}
}

// --- Get tests ---

func TestGet_ReturnsAssessmentWhenCompleted(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()
	userID := uuid.New()

	job, _ := f.svc.Create(context.Background(), CreateParams{
		UserID: userID, TechniqueID: tech.ID, Media: []MediaUpload{videoUpload()},
	})
	waitForStatus(t, f.store, job.ID, models.JobStatusCompleted)
	waitForEviction(t, f.cache, job.ID)

	got, assessment, err := f.svc.Get(context.Background(), userID, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.JobStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
	if assessment == nil {
		t.Fatal("expected assessment")
	}
}

func TestGet_RejectsOtherUsers(t *testing.T) {
	f := newFixture()
	tech := f.addTechnique()

	job, _ := f.svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), TechniqueID: tech.ID, Media: []MediaUpload{videoUpload()},
	})

	_, _, err := f.svc.Get(context.Background(), uuid.New(), job.ID)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestGet_ServedFromCacheWhileInFlight(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	techniqueID := uuid.New()
	jobID := uuid.New()
	created := time.Now().UTC().Truncate(time.Second)

	// Only the cache knows this job; a store read would return ErrNotFound.
	_ = f.cache.SetJobStatus(context.Background(), jobID, cache.JobSnapshot{
		UserID:      userID,
		TechniqueID: techniqueID,
		Status:      models.JobStatusProcessing,
		RetryCount:  1,
		CreatedAt:   created,
		UpdatedAt:   created,
	}, time.Minute)

	got, assessment, err := f.svc.Get(context.Background(), userID, jobID)
	if err != nil {
		t.Fatalf("cached poll hit the store: %v", err)
	}
	if got.Status != models.JobStatusProcessing {
		t.Errorf("expected PROCESSING, got %s", got.Status)
	}
	if got.TechniqueID != techniqueID {
		t.Errorf("expected technique %s, got %s", techniqueID, got.TechniqueID)
	}
	if got.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", got.RetryCount)
	}
	if assessment != nil {
		t.Error("in-flight poll must not carry an assessment")
	}
}

func TestGet_CachedSnapshotEnforcesOwnership(t *testing.T) {
	f := newFixture()
	jobID := uuid.New()

	_ = f.cache.SetJobStatus(context.Background(), jobID, cache.JobSnapshot{
		UserID: uuid.New(),
		Status: models.JobStatusPending,
	}, time.Minute)

	_, _, err := f.svc.Get(context.Background(), uuid.New(), jobID)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden from the cached snapshot, got %v", err)
	}
}
