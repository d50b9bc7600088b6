package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MediaTypeVideo = "VIDEO"
	MediaTypeImage = "IMAGE"
)

// MediaItem is one uploaded video or image belonging to an analysis job.
// Rows are immutable once created; upstream ingestion validates type and
// size before a job is ever created.
type MediaItem struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	JobID       uuid.UUID `db:"job_id"       json:"job_id"`
	Type        string    `db:"type"         json:"type"`
	StorageURL  string    `db:"storage_url"  json:"storage_url"`
	Filename    string    `db:"filename"     json:"filename"`
	SizeBytes   int64     `db:"size_bytes"   json:"size_bytes"`
	CameraAngle *string   `db:"camera_angle" json:"camera_angle,omitempty"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}
