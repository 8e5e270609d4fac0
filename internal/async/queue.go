// Package async runs project jobs on a fixed worker pool.
package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Enqueue once Shutdown has begun.
var ErrQueueClosed = errors.New("job queue is shut down")

// Job is one unit of work for a project. The set of job kinds is closed.
type Job interface {
	ProjectID() uuid.UUID
	isJob()
}

// InferJob runs recognition on the project's page image.
type InferJob struct {
	Project     uuid.UUID
	SubmittedAt time.Time
}

// RebuildJob recompiles the project from user-supplied LaTeX.
type RebuildJob struct {
	Project     uuid.UUID
	Tex         string
	SubmittedAt time.Time
}

func (j InferJob) ProjectID() uuid.UUID   { return j.Project }
func (j RebuildJob) ProjectID() uuid.UUID { return j.Project }
func (InferJob) isJob()                   {}
func (RebuildJob) isJob()                 {}

// Handler performs the work behind each job kind. Fail moves the project to
// failed with cause and must tolerate projects that already left processing.
type Handler interface {
	Infer(ctx context.Context, projectID uuid.UUID) error
	Rebuild(ctx context.Context, projectID uuid.UUID, tex string) error
	Fail(ctx context.Context, projectID uuid.UUID, cause error)
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	SubmitInfer(ctx context.Context, projectID uuid.UUID) error
	SubmitRebuild(ctx context.Context, projectID uuid.UUID, tex string) error
	Shutdown(ctx context.Context)
}
