// Package quota decides whether a user may submit more work.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
	"github.com/joseph-ayodele/note2tex/internal/repository"
)

// Config holds the free-plan limits.
type Config struct {
	FreeMonthlyPages int
	FreeMaxProjects  int
}

func DefaultConfig() Config {
	return Config{FreeMonthlyPages: 10, FreeMaxProjects: 10}
}

// Gate checks the monthly page counter and the project cap. Premium users bypass both.
// A returned error is always a storage failure, never a denial.
type Gate struct {
	usage    repository.UsageRepository
	projects repository.ProjectRepository
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Gate)

// WithClock overrides the time source used for month keys and plan expiry.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGate(usage repository.UsageRepository, projects repository.ProjectRepository, cfg Config, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{usage: usage, projects: projects, cfg: cfg, now: time.Now, logger: logger}
	for _, o := range opts {
		o(g)
	}
	return g
}

// MonthKey formats t as the UTC "YYYY-MM" usage bucket.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CurrentMonth is the usage bucket for the gate's clock.
func (g *Gate) CurrentMonth() string {
	return MonthKey(g.now())
}

// Premium reports whether user has an active premium plan on the gate's clock.
func (g *Gate) Premium(user *entity.User) bool {
	return user.IsPremium(g.now())
}

// FreeMonthlyPages is the monthly page allowance of the free plan.
func (g *Gate) FreeMonthlyPages() int {
	return g.cfg.FreeMonthlyPages
}

// PagesUsed reads the user's counter for the current month.
func (g *Gate) PagesUsed(ctx context.Context, user *entity.User) (int, error) {
	used, err := g.usage.PagesUsed(ctx, user.ID, g.CurrentMonth())
	if err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	return used, nil
}

// CanAdmit reports whether pages more pages fit in this month's free allowance.
func (g *Gate) CanAdmit(ctx context.Context, user *entity.User, pages int) (bool, error) {
	if user.IsPremium(g.now()) {
		return true, nil
	}
	used, err := g.PagesUsed(ctx, user)
	if err != nil {
		return false, err
	}
	return used+pages <= g.cfg.FreeMonthlyPages, nil
}

// UnderProjectCap reports whether the user may create another project.
func (g *Gate) UnderProjectCap(ctx context.Context, user *entity.User) (bool, error) {
	if user.IsPremium(g.now()) {
		return true, nil
	}
	n, err := g.projects.CountByUser(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("count projects: %w", err)
	}
	return n < g.cfg.FreeMaxProjects, nil
}

// Consume records pages against this month's counter. Call it once per accepted
// unit of work, after the work is enqueued; repeated calls count again.
func (g *Gate) Consume(ctx context.Context, user *entity.User, pages int) error {
	month := g.CurrentMonth()
	total, err := g.usage.Increment(ctx, user.ID, month, pages)
	if err != nil {
		return fmt.Errorf("consume quota: %w", err)
	}
	g.logger.Debug("quota.consumed", "user_id", user.ID, "month", month, "pages", pages, "total", total)
	return nil
}

// Admit runs the checks a new submission needs and returns an AdmissionDenied
// AppError when one fails. newProject adds the project cap check.
func (g *Gate) Admit(ctx context.Context, user *entity.User, pages int, newProject bool) error {
	if newProject {
		ok, err := g.UnderProjectCap(ctx, user)
		if err != nil {
			return err
		}
		if !ok {
			g.logger.Info("quota.denied", "user_id", user.ID, "reason", "project_cap", "cap", g.cfg.FreeMaxProjects)
			return common.NewAppError(common.CodeProjectCapExceeded,
				fmt.Sprintf("free plan allows at most %d projects", g.cfg.FreeMaxProjects), common.ErrAdmissionDenied)
		}
	}
	ok, err := g.CanAdmit(ctx, user, pages)
	if err != nil {
		return err
	}
	if !ok {
		g.logger.Info("quota.denied", "user_id", user.ID, "reason", "monthly_pages", "limit", g.cfg.FreeMonthlyPages)
		return common.NewAppError(common.CodeMonthlyQuota,
			fmt.Sprintf("free plan allows %d pages per month", g.cfg.FreeMonthlyPages), common.ErrAdmissionDenied)
	}
	return nil
}
