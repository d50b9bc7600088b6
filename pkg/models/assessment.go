package models

import (
	"time"

	"github.com/google/uuid"
)

// Assessment holds the structured result the model produced for a job.
// Exactly one per COMPLETED job; deleted when the job is reset for retry.
type Assessment struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	JobID     uuid.UUID `db:"job_id"     json:"job_id"`
	Score     int       `db:"score"      json:"score"`
	Tier      string    `db:"tier"       json:"tier"`
	Summary   string    `db:"summary"    json:"summary"`
	ModelUsed string    `db:"model_used" json:"model_used"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	Issues []AssessmentIssue `db:"-" json:"issues,omitempty"`
}

// AssessmentIssue is one technique flaw the model observed.
type AssessmentIssue struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	AssessmentID uuid.UUID `db:"assessment_id" json:"assessment_id"`
	Title        string    `db:"title"         json:"title"`
	Detail       string    `db:"detail"        json:"detail"`
	Severity     string    `db:"severity"      json:"severity"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}
