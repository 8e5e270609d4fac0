package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
	"github.com/joseph-ayodele/note2tex/internal/repository"
)

type fixture struct {
	users    repository.UserRepository
	usage    repository.UsageRepository
	projects repository.ProjectRepository
	now      time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	db, err := repository.OpenSQLite(ctx, "", logger)
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, db, logger))
	t.Cleanup(func() { repository.Close(db, logger) })
	return &fixture{
		users:    repository.NewUserRepository(db, logger),
		usage:    repository.NewUsageRepository(db, logger),
		projects: repository.NewProjectRepository(db, logger),
		now:      time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) gate(cfg Config) *Gate {
	return NewGate(f.usage, f.projects, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return f.now }))
}

func TestMonthKeyIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	assert.Equal(t, "2026-09", MonthKey(time.Date(2026, 10, 1, 2, 0, 0, 0, loc)))
	assert.Equal(t, "2026-10", MonthKey(time.Date(2026, 10, 31, 23, 59, 0, 0, time.UTC)))
}

func TestFreeUserMonthlyLimit(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	g := f.gate(Config{FreeMonthlyPages: 3, FreeMaxProjects: 10})
	u, err := f.users.Create(ctx, "free@example.com", constants.PlanFree, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ok, err := g.CanAdmit(ctx, u, 1)
		require.NoError(t, err)
		require.True(t, ok, "admission %d", i+1)
		require.NoError(t, g.Consume(ctx, u, 1))
	}
	ok, err := g.CanAdmit(ctx, u, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	err = g.Admit(ctx, u, 1, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrAdmissionDenied))
	assert.Equal(t, common.CodeMonthlyQuota, common.ErrorCode(err))

	// a new month starts from zero
	f.now = f.now.AddDate(0, 1, 0)
	ok, err = g.CanAdmit(ctx, u, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPremiumBypassesLimits(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	g := f.gate(Config{FreeMonthlyPages: 1, FreeMaxProjects: 0})
	exp := f.now.Add(24 * time.Hour)
	u, err := f.users.Create(ctx, "vip@example.com", constants.PlanPremium, &exp)
	require.NoError(t, err)

	_, err = f.usage.Increment(ctx, u.ID, g.CurrentMonth(), 1000)
	require.NoError(t, err)

	ok, err := g.CanAdmit(ctx, u, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.UnderProjectCap(ctx, u)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, g.Admit(ctx, u, 1, true))
}

func TestExpiredPremiumIsFree(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	g := f.gate(Config{FreeMonthlyPages: 1, FreeMaxProjects: 10})
	exp := f.now
	u := &entity.User{Plan: constants.PlanPremium, PlanExpiresAt: &exp}
	created, err := f.users.Create(ctx, "lapsed@example.com", u.Plan, u.PlanExpiresAt)
	require.NoError(t, err)

	ok, err := g.CanAdmit(ctx, created, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProjectCap(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	g := f.gate(Config{FreeMonthlyPages: 10, FreeMaxProjects: 2})
	u, err := f.users.Create(ctx, "cap@example.com", constants.PlanFree, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, g.Admit(ctx, u, 1, true))
		_, err := f.projects.Create(ctx, u.ID, "p", nil, 1)
		require.NoError(t, err)
	}
	ok, err := g.UnderProjectCap(ctx, u)
	require.NoError(t, err)
	assert.False(t, ok)

	err = g.Admit(ctx, u, 1, true)
	assert.Equal(t, common.CodeProjectCapExceeded, common.ErrorCode(err))
	// reprocessing an existing project does not hit the cap
	assert.NoError(t, g.Admit(ctx, u, 1, false))
}
