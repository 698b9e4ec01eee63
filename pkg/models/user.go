package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns jobs and API keys. Job and AnalysisJob owners reference a User.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Username  string    `db:"username"   json:"username"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
