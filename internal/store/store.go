package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/anavarrete/formcoach/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
//
// Job status transitions are conditional updates: they report whether the row
// actually moved, so racing workers and late results resolve at the database
// rather than in application locks.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	CreateUser(ctx context.Context, user *models.User) error

	GetTechnique(ctx context.Context, id uuid.UUID) (*models.Technique, error)
	ListTechniques(ctx context.Context) ([]*models.Technique, error)

	// CreateJob inserts the job and its media items in one transaction.
	CreateJob(ctx context.Context, job *models.AnalysisJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)

	// BeginProcessing transitions PENDING -> PROCESSING and stamps
	// processing_started_at. Returns false when the job was not PENDING,
	// which is how a losing concurrent worker learns to abandon the job.
	BeginProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)

	// CompleteJob transitions PROCESSING -> COMPLETED and stores the
	// assessment atomically. Returns false when the job was no longer
	// PROCESSING (e.g. reaped while the model call was in flight); the
	// caller must discard the result.
	CompleteJob(ctx context.Context, id uuid.UUID, assessment *models.Assessment) (bool, error)

	// FailJob transitions PROCESSING -> FAILED with a user-readable message.
	FailJob(ctx context.Context, id uuid.UUID, message string) (bool, error)

	// ResetJobForRetry moves FAILED -> PENDING, clears the error and
	// processing timestamp, bumps retry_count, and discards assessment
	// artifacts left by the failed run. Conditional on status=FAILED and
	// retry_count below the ceiling; returns the updated row (without
	// media), or nil when the condition did not match.
	ResetJobForRetry(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)

	// ReapStaleJobs force-fails PROCESSING jobs whose processing_started_at
	// is strictly older than the cutoff and returns the ids it reaped.
	ReapStaleJobs(ctx context.Context, cutoff time.Time, message string) ([]uuid.UUID, error)

	GetAssessmentByJobID(ctx context.Context, jobID uuid.UUID) (*models.Assessment, error)

	// CreatePlan inserts the plan and its exercise rows in one transaction.
	CreatePlan(ctx context.Context, plan *models.TrainingPlan) error
	GetPlan(ctx context.Context, id uuid.UUID) (*models.TrainingPlan, error)

	// UpdateExerciseInstructions bulk-replaces the instructions of every
	// exercise row on the plan whose name appears in the map. Returns the
	// number of rows touched.
	UpdateExerciseInstructions(ctx context.Context, planID uuid.UUID, byName map[string]string) (int64, error)

	// UpdateExerciseImageURL sets the image URL on every row of the plan
	// sharing the given exercise name.
	UpdateExerciseImageURL(ctx context.Context, planID uuid.UUID, name, url string) (int64, error)
}
