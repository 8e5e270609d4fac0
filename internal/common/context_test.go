package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, UserIDFromContext(ctx))
	assert.Empty(t, ProjectIDFromContext(ctx))
	assert.Empty(t, LogAttrs(ctx))

	ctx = WithProjectID(WithUserID(WithRequestID(ctx, "req-1"), "user-1"), "proj-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "user-1", UserIDFromContext(ctx))
	assert.Equal(t, "proj-1", ProjectIDFromContext(ctx))
	assert.Equal(t, []any{"req_id", "req-1", "user_id", "user-1"}, LogAttrs(ctx))
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "open database"))
	err := WrapError(ErrNotFound, "open database")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "open database: resource not found", err.Error())
}
