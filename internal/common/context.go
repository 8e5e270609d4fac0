package common

import (
	"context"
)

type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyUserID    contextKey = "user_id"
	ContextKeyProjectID contextKey = "project_id"
)

// WithRequestID tags ctx with the id of the job or call being served.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithUserID tags ctx with the owner of the project being processed.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, userID)
}

func UserIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(ContextKeyUserID).(string); ok {
		return userID
	}
	return ""
}

func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, ContextKeyProjectID, projectID)
}

func ProjectIDFromContext(ctx context.Context) string {
	if projectID, ok := ctx.Value(ContextKeyProjectID).(string); ok {
		return projectID
	}
	return ""
}

// LogAttrs returns the request and user ids set on ctx as slog key/value pairs.
// The project id is left out; callers log it explicitly.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, "req_id", id)
	}
	if id := UserIDFromContext(ctx); id != "" {
		attrs = append(attrs, "user_id", id)
	}
	return attrs
}
