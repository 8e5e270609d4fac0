package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying wraps an ObjectStore and retries transient upload and fetch failures
// with exponential backoff. Invalid keys and missing objects are not retried.
type Retrying struct {
	inner      ObjectStore
	maxRetries uint64
	initial    time.Duration
	logger     *slog.Logger
}

func NewRetrying(inner ObjectStore, maxRetries int, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrying{inner: inner, maxRetries: uint64(maxRetries), initial: 200 * time.Millisecond, logger: logger}
}

func (r *Retrying) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initial
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, r.maxRetries), ctx)
}

func (r *Retrying) notify(op, key string) backoff.Notify {
	return func(err error, wait time.Duration) {
		r.logger.Warn("storage."+op+".retry", "key", key, "wait_ms", wait.Milliseconds(), "error", err)
	}
}

func classify(err error) error {
	if errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrObjectNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	return err
}

func (r *Retrying) Put(ctx context.Context, localPath, key string) (string, error) {
	return backoff.RetryNotifyWithData(func() (string, error) {
		u, err := r.inner.Put(ctx, localPath, key)
		return u, classify(err)
	}, r.policy(ctx), r.notify("put", key))
}

func (r *Retrying) PutBytes(ctx context.Context, data []byte, key string) (string, error) {
	return backoff.RetryNotifyWithData(func() (string, error) {
		u, err := r.inner.PutBytes(ctx, data, key)
		return u, classify(err)
	}, r.policy(ctx), r.notify("put", key))
}

func (r *Retrying) Delete(ctx context.Context, keys ...string) error {
	return r.inner.Delete(ctx, keys...)
}

func (r *Retrying) Fetch(ctx context.Context, key, destPath string) error {
	return backoff.RetryNotify(func() error {
		return classify(r.inner.Fetch(ctx, key, destPath))
	}, r.policy(ctx), r.notify("fetch", key))
}

func (r *Retrying) URL(ctx context.Context, key string) (string, error) {
	return r.inner.URL(ctx, key)
}
