package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/note2tex/constants"
)

// User carries the account fields admission control needs.
type User struct {
	ID            uuid.UUID      `json:"id"`
	Email         string         `json:"email"`
	Plan          constants.Plan `json:"plan"`
	PlanExpiresAt *time.Time     `json:"plan_expires_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// IsPremium reports an active premium entitlement at now.
func (u *User) IsPremium(now time.Time) bool {
	if u == nil || u.Plan != constants.PlanPremium || u.PlanExpiresAt == nil {
		return false
	}
	return u.PlanExpiresAt.After(now)
}

// MonthlyUsage is the per-user page counter for one calendar month ("YYYY-MM", UTC).
type MonthlyUsage struct {
	UserID    uuid.UUID `json:"user_id"`
	MonthKey  string    `json:"month_key"`
	PagesUsed int       `json:"pages_used"`
}
