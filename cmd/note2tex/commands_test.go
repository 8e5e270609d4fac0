package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/common"
)

func TestParseID(t *testing.T) {
	id := uuid.New()
	got, err := parseID("project", id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, bad := range []string{"", "not-a-uuid"} {
		_, err := parseID("project", bad)
		assert.ErrorIs(t, err, common.ErrValidation, bad)
		assert.Equal(t, common.CodeValidation, common.ErrorCode(err))
	}
}

func TestParsePlan(t *testing.T) {
	plan, exp, err := parsePlan("Premium", "2030-01-31")
	require.NoError(t, err)
	assert.Equal(t, constants.PlanPremium, plan)
	require.NotNil(t, exp)
	assert.Equal(t, 31, exp.Day())

	plan, exp, err = parsePlan("free", "")
	require.NoError(t, err)
	assert.Equal(t, constants.PlanFree, plan)
	assert.Nil(t, exp)

	_, _, err = parsePlan("gold", "")
	assert.Error(t, err)
	_, _, err = parsePlan("premium", "31/01/2030")
	assert.Error(t, err)
}
