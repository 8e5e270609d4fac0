package projects

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/quota"
)

func TestRate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quota.DefaultConfig())
	p, err := e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	require.NoError(t, err)

	_, err = e.svc.Rating(ctx, e.user.ID, p.ID)
	assert.Equal(t, common.CodeNotFound, common.ErrorCode(err))

	r, err := e.svc.Rate(ctx, e.user.ID, p.ID, 5, "  spot on  ")
	require.NoError(t, err)
	assert.Equal(t, 5, r.Value)
	require.NotNil(t, r.Comment)
	assert.Equal(t, "spot on", *r.Comment)

	r, err = e.svc.Rate(ctx, e.user.ID, p.ID, 3, "")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Value)
	assert.Nil(t, r.Comment)

	got, err := e.svc.Rating(ctx, e.user.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestRate_Validation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quota.DefaultConfig())
	p, err := e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	require.NoError(t, err)

	for _, v := range []int{0, 6, -1} {
		_, err := e.svc.Rate(ctx, e.user.ID, p.ID, v, "")
		assert.ErrorIs(t, err, common.ErrValidation, "value %d", v)
	}
	_, err = e.svc.Rate(ctx, e.user.ID, p.ID, 4, strings.Repeat("x", maxCommentLength+1))
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = e.svc.Rate(ctx, uuid.New(), p.ID, 4, "")
	assert.Equal(t, common.CodeNotFound, common.ErrorCode(err))
}

func TestAccount(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, quota.Config{FreeMonthlyPages: 3, FreeMaxProjects: 5})

	sum, err := e.svc.Account(ctx, e.user.ID)
	require.NoError(t, err)
	assert.False(t, sum.Premium)
	assert.Equal(t, 0, sum.MonthPages)
	require.NotNil(t, sum.PagesLeft)
	assert.Equal(t, 3, *sum.PagesLeft)

	_, err = e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, CreateRequest{UserID: e.user.ID, ImagePath: e.image})
	require.NoError(t, err)

	sum, err = e.svc.Account(ctx, e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.MonthPages)
	assert.Equal(t, 1, *sum.PagesLeft)
	assert.Equal(t, 2, sum.TotalProjects)
	assert.Equal(t, e.gate.CurrentMonth(), sum.Month)

	exp := time.Now().Add(24 * time.Hour)
	require.NoError(t, e.users.SetPlan(ctx, e.user.ID, constants.PlanPremium, &exp))
	sum, err = e.svc.Account(ctx, e.user.ID)
	require.NoError(t, err)
	assert.True(t, sum.Premium)
	assert.Nil(t, sum.PagesLeft)
}
