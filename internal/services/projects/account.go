package projects

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
)

const (
	minRating        = 1
	maxRating        = 5
	maxCommentLength = 2000
)

// Rate records the owner's 1..5 rating of a project. Rating again replaces
// the previous value and comment.
func (s *Service) Rate(ctx context.Context, userID, projectID uuid.UUID, value int, comment string) (*entity.Rating, error) {
	validator := common.NewValidator()
	validator.Field("value", value, common.IntRangeRule(minRating, maxRating))
	validator.Field("comment", comment, common.MaxLengthRule(maxCommentLength))
	if err := common.ValidateAndReturnError(validator); err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, userID, projectID); err != nil {
		return nil, err
	}

	var c *string
	if t := strings.TrimSpace(comment); t != "" {
		c = &t
	}
	return s.ratings.Upsert(ctx, userID, projectID, value, c)
}

// Rating returns the owner's rating of a project.
func (s *Service) Rating(ctx context.Context, userID, projectID uuid.UUID) (*entity.Rating, error) {
	if _, err := s.owned(ctx, userID, projectID); err != nil {
		return nil, err
	}
	r, err := s.ratings.Get(ctx, userID, projectID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NewAppError(common.CodeNotFound, "project has no rating", err)
	}
	return r, err
}

// AccountSummary is a user's plan with this month's page usage and project
// count. PagesLeft is nil for premium accounts.
type AccountSummary struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	Plan          string     `json:"plan"`
	PlanExpiresAt *time.Time `json:"plan_expires_at,omitempty"`
	Premium       bool       `json:"premium"`
	Month         string     `json:"month"`
	MonthPages    int        `json:"month_pages"`
	PagesLeft     *int       `json:"pages_left,omitempty"`
	TotalProjects int        `json:"total_projects"`
}

// Account summarizes a user's plan and usage.
func (s *Service) Account(ctx context.Context, userID uuid.UUID) (*AccountSummary, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	used, err := s.gate.PagesUsed(ctx, user)
	if err != nil {
		return nil, err
	}
	total, err := s.projects.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	sum := &AccountSummary{
		ID:            user.ID,
		Email:         user.Email,
		Plan:          string(user.Plan),
		PlanExpiresAt: user.PlanExpiresAt,
		Premium:       s.gate.Premium(user),
		Month:         s.gate.CurrentMonth(),
		MonthPages:    used,
		TotalProjects: total,
	}
	if !sum.Premium {
		left := max(0, s.gate.FreeMonthlyPages()-used)
		sum.PagesLeft = &left
	}
	return sum, nil
}
