package models

import (
	"time"

	"github.com/google/uuid"
)

// TrainingPlan is synthesized from a COMPLETED analysis job.
type TrainingPlan struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	JobID         uuid.UUID `db:"job_id"         json:"job_id"`
	UserID        uuid.UUID `db:"user_id"        json:"user_id"`
	DurationWeeks int       `db:"duration_weeks" json:"duration_weeks"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`

	Exercises []Exercise `db:"-" json:"exercises,omitempty"`
}

// Exercise is one drill scheduled on one day of a plan. The same logical
// exercise may appear on several days as separate rows; enrichment and
// illustration treat rows sharing a name as one unit keyed by that name.
type Exercise struct {
	ID           uuid.UUID `db:"id"           json:"id"`
	PlanID       uuid.UUID `db:"plan_id"      json:"plan_id"`
	Week         int       `db:"week"         json:"week"`
	Day          int       `db:"day"          json:"day"`
	Name         string    `db:"name"         json:"name"`
	Description  string    `db:"description"  json:"description"`
	Instructions string    `db:"instructions" json:"instructions"`
	ImageURL     *string   `db:"image_url"    json:"image_url,omitempty"`
	CreatedAt    time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"   json:"updated_at"`
}
