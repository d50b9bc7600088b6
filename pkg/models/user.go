package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the owner of jobs and plans. Registration and sessions live in
// a separate service; this core only needs identity for ownership checks.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
