package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/note2tex/internal/common"
)

// ErrShutdown is the failure cause recorded for jobs dropped during shutdown.
var ErrShutdown = errors.New("worker shut down before job completed")

type ProcessorQueue struct {
	handler     Handler
	logger      *slog.Logger
	workers     int
	timeout     time.Duration
	failTimeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// base is cancelled when a shutdown deadline expires.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(handler Handler, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	q := &ProcessorQueue{
		handler:     handler,
		logger:      logger,
		workers:     4,
		timeout:     10 * time.Minute,
		failTimeout: 30 * time.Second,
		ch:          make(chan Job, 256),
		base:        base,
		cancel:      cancel,
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					q.handle(workerID, job)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) handle(workerID int, job Job) {
	reqID := uuid.NewString()
	log := q.logger.With("worker_id", workerID, "project_id", job.ProjectID(), "job", jobName(job), "req_id", reqID)

	if q.base.Err() != nil {
		log.Warn("job dropped at shutdown")
		q.fail(job, ErrShutdown)
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(q.base, q.timeout)
	ctx = common.WithProjectID(common.WithRequestID(ctx, reqID), job.ProjectID().String())
	err := q.run(ctx, job)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	cancel()

	if err != nil {
		log.Error("job failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		q.fail(job, err)
		return
	}
	log.Info("job completed", "duration_ms", time.Since(start).Milliseconds())
}

// run dispatches job to the handler and converts a panic into an error.
func (q *ProcessorQueue) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked", "project_id", job.ProjectID(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch j := job.(type) {
	case InferJob:
		return q.handler.Infer(ctx, j.Project)
	case RebuildJob:
		return q.handler.Rebuild(ctx, j.Project, j.Tex)
	default:
		return fmt.Errorf("unknown job type %T", job)
	}
}

// fail records the failure with a context independent of the job's own.
func (q *ProcessorQueue) fail(job Job, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), q.failTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("fail handler panicked", "project_id", job.ProjectID(), "panic", r)
		}
	}()
	q.handler.Fail(ctx, job.ProjectID(), cause)
}

// Enqueue adds job to the queue, blocking while it is full. It returns
// ErrQueueClosed after Shutdown and ctx.Err() if ctx ends first.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "project_id", job.ProjectID())
		return ErrQueueClosed
	}
	q.pending.Add(1)
	q.mu.RUnlock()
	defer q.pending.Done()

	select {
	case q.ch <- job:
		q.logger.Info("queued project for processing", "project_id", job.ProjectID(), "job", jobName(job))
		return nil
	default:
	}

	q.logger.Warn("queue full, applying backpressure", "project_id", job.ProjectID())
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.base.Done():
		return ErrQueueClosed
	}
}

func (q *ProcessorQueue) SubmitInfer(ctx context.Context, projectID uuid.UUID) error {
	return q.Enqueue(ctx, InferJob{Project: projectID, SubmittedAt: time.Now().UTC()})
}

func (q *ProcessorQueue) SubmitRebuild(ctx context.Context, projectID uuid.UUID, tex string) error {
	return q.Enqueue(ctx, RebuildJob{Project: projectID, Tex: tex, SubmittedAt: time.Now().UTC()})
}

// Shutdown stops intake and waits for workers to drain the queue. If ctx ends
// first, running jobs are cancelled and whatever is still buffered is failed
// without being run.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	// blocked producers may still hold a send; close only after they return
	go func() {
		q.pending.Wait()
		close(q.ch)
	}()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
		q.cancel()
		return
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context, cancelling in-flight jobs")
	}

	q.cancel()
	<-done
	q.logger.Info("workers stopped after cancellation")
}

func jobName(job Job) string {
	switch job.(type) {
	case InferJob:
		return "infer"
	case RebuildJob:
		return "rebuild"
	default:
		return "unknown"
	}
}

var _ Queue = (*ProcessorQueue)(nil)
