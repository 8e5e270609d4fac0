package entity

import (
	"time"

	"github.com/google/uuid"
)

// Rating is a user's 1..5 score of one of their projects. There is at most one
// per (user, project); rating again replaces it.
type Rating struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	ProjectID uuid.UUID `json:"project_id"`
	Value     int       `json:"value"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
