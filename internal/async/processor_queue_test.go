package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/note2tex/internal/common"
)

type recordingHandler struct {
	mu       sync.Mutex
	inferred []uuid.UUID
	rebuilt  map[uuid.UUID]string
	failed   map[uuid.UUID]error

	infer func(ctx context.Context, id uuid.UUID) error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{rebuilt: map[uuid.UUID]string{}, failed: map[uuid.UUID]error{}}
}

func (h *recordingHandler) Infer(ctx context.Context, id uuid.UUID) error {
	if h.infer != nil {
		if err := h.infer(ctx, id); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inferred = append(h.inferred, id)
	return nil
}

func (h *recordingHandler) Rebuild(_ context.Context, id uuid.UUID, tex string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rebuilt[id] = tex
	return nil
}

func (h *recordingHandler) Fail(_ context.Context, id uuid.UUID, cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed[id] = cause
}

func (h *recordingHandler) failure(id uuid.UUID) (error, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	err, ok := h.failed[id]
	return err, ok
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestProcessorQueue_RunsBothJobKinds(t *testing.T) {
	h := newRecordingHandler()
	q := NewProcessorQueue(h, quiet(), WithWorkers(2))

	a, b := uuid.New(), uuid.New()
	require.NoError(t, q.SubmitInfer(context.Background(), a))
	require.NoError(t, q.SubmitRebuild(context.Background(), b, `\section{x}`))
	q.Shutdown(context.Background())

	assert.Equal(t, []uuid.UUID{a}, h.inferred)
	assert.Equal(t, `\section{x}`, h.rebuilt[b])
	assert.Empty(t, h.failed)
}

func TestProcessorQueue_ErrorMarksFailed(t *testing.T) {
	h := newRecordingHandler()
	boom := errors.New("fetch failed")
	h.infer = func(context.Context, uuid.UUID) error { return boom }
	q := NewProcessorQueue(h, quiet(), WithWorkers(1))

	id := uuid.New()
	require.NoError(t, q.SubmitInfer(context.Background(), id))
	q.Shutdown(context.Background())

	cause, ok := h.failure(id)
	require.True(t, ok)
	assert.ErrorIs(t, cause, boom)
}

func TestProcessorQueue_PanicIsContained(t *testing.T) {
	h := newRecordingHandler()
	h.infer = func(_ context.Context, id uuid.UUID) error {
		panic("nil map")
	}
	q := NewProcessorQueue(h, quiet(), WithWorkers(1))

	first, second := uuid.New(), uuid.New()
	require.NoError(t, q.SubmitInfer(context.Background(), first))
	require.NoError(t, q.SubmitInfer(context.Background(), second))
	q.Shutdown(context.Background())

	cause, ok := h.failure(first)
	require.True(t, ok)
	assert.Contains(t, cause.Error(), "panic")
	// the worker survived the first panic
	_, ok = h.failure(second)
	assert.True(t, ok)
}

func TestProcessorQueue_TimeoutFailsJob(t *testing.T) {
	h := newRecordingHandler()
	h.infer = func(ctx context.Context, _ uuid.UUID) error {
		<-ctx.Done()
		return ctx.Err()
	}
	q := NewProcessorQueue(h, quiet(), WithWorkers(1), WithProcessTimeout(20*time.Millisecond))

	id := uuid.New()
	require.NoError(t, q.SubmitInfer(context.Background(), id))
	q.Shutdown(context.Background())

	cause, ok := h.failure(id)
	require.True(t, ok)
	assert.ErrorIs(t, cause, context.DeadlineExceeded)
}

func TestProcessorQueue_EnqueueAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(newRecordingHandler(), quiet())
	q.Shutdown(context.Background())

	err := q.SubmitInfer(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrQueueClosed)

	// second shutdown is a no-op
	q.Shutdown(context.Background())
}

func TestProcessorQueue_BackpressureHonorsContext(t *testing.T) {
	release := make(chan struct{})
	h := newRecordingHandler()
	h.infer = func(context.Context, uuid.UUID) error {
		<-release
		return nil
	}
	q := NewProcessorQueue(h, quiet(), WithWorkers(1), WithQueueSize(1))
	defer func() {
		close(release)
		q.Shutdown(context.Background())
	}()

	require.NoError(t, q.SubmitInfer(context.Background(), uuid.New()))
	// wait until the worker holds the first job so the buffer slot is free
	require.Eventually(t, func() bool { return len(q.ch) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.SubmitInfer(context.Background(), uuid.New()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := q.SubmitInfer(ctx, uuid.New())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessorQueue_ShutdownDeadlineCancelsAndFailsBuffered(t *testing.T) {
	started := make(chan struct{})
	h := newRecordingHandler()
	h.infer = func(ctx context.Context, _ uuid.UUID) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	q := NewProcessorQueue(h, quiet(), WithWorkers(1), WithQueueSize(4))

	running, buffered := uuid.New(), uuid.New()
	require.NoError(t, q.SubmitInfer(context.Background(), running))
	<-started
	require.NoError(t, q.SubmitRebuild(context.Background(), buffered, "x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	q.Shutdown(ctx)

	cause, ok := h.failure(running)
	require.True(t, ok)
	assert.ErrorIs(t, cause, context.Canceled)

	cause, ok = h.failure(buffered)
	require.True(t, ok)
	assert.ErrorIs(t, cause, ErrShutdown)
	assert.Empty(t, h.rebuilt)
}

func TestProcessorQueue_TagsJobContext(t *testing.T) {
	h := newRecordingHandler()
	var (
		mu        sync.Mutex
		projectID string
		reqIDs    []string
	)
	h.infer = func(ctx context.Context, _ uuid.UUID) error {
		mu.Lock()
		defer mu.Unlock()
		projectID = common.ProjectIDFromContext(ctx)
		reqIDs = append(reqIDs, common.RequestIDFromContext(ctx))
		return nil
	}
	q := NewProcessorQueue(h, quiet(), WithWorkers(1))

	id := uuid.New()
	require.NoError(t, q.SubmitInfer(context.Background(), id))
	require.NoError(t, q.SubmitInfer(context.Background(), id))
	q.Shutdown(context.Background())

	assert.Equal(t, id.String(), projectID)
	require.Len(t, reqIDs, 2)
	assert.NotEmpty(t, reqIDs[0])
	assert.NotEqual(t, reqIDs[0], reqIDs[1])
}
