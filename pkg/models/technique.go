package models

import (
	"time"

	"github.com/google/uuid"
)

// Technique is a catalogue entry for an assessable sports technique
// (e.g. "derecha" in padel). Seeded by migrations, read-only here.
type Technique struct {
	ID          uuid.UUID `db:"id"          json:"id"`
	Sport       string    `db:"sport"       json:"sport"`
	Name        string    `db:"name"        json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
}
