package models

import (
	"time"

	"github.com/google/uuid"
)

// Job status values are wire-visible; clients poll them verbatim.
const (
	JobStatusPending    = "PENDING"
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
)

// MaxJobRetries bounds manual retries of a FAILED analysis job.
const MaxJobRetries = 3

// AnalysisJob tracks one user-submitted technique assessment request.
// The API returns a job id on POST /api/v1/analyses; the client polls
// GET /api/v1/analyses/{id} until status is COMPLETED or FAILED.
type AnalysisJob struct {
	ID                  uuid.UUID  `db:"id"                    json:"id"`
	UserID              uuid.UUID  `db:"user_id"               json:"user_id"`
	TechniqueID         uuid.UUID  `db:"technique_id"          json:"technique_id"`
	Status              string     `db:"status"                json:"status"`
	ErrorMessage        *string    `db:"error_message"         json:"error_message,omitempty"`
	ProcessingStartedAt *time.Time `db:"processing_started_at" json:"processing_started_at,omitempty"`
	RetryCount          int        `db:"retry_count"           json:"retry_count"`
	CreatedAt           time.Time  `db:"created_at"            json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"            json:"updated_at"`

	Media []MediaItem `db:"-" json:"media,omitempty"`
}
