package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig configures the Google Cloud Storage backend.
type GCSConfig struct {
	Bucket          string
	Endpoint        string // emulator endpoint; disables authentication when set
	CredentialsFile string
	SignedURLTTL    time.Duration
}

// GCSStore keeps objects in a single bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	cfg    GCSConfig
	logger *slog.Logger
}

func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		logger.Error("failed to create gcs client", "error", err)
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	logger.Info("gcs store ready", "bucket", cfg.Bucket, "emulator", cfg.Endpoint != "")
	return &GCSStore{client: client, bucket: client.Bucket(cfg.Bucket), cfg: cfg, logger: logger}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Put(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	return s.write(ctx, f, key)
}

func (s *GCSStore) PutBytes(ctx context.Context, data []byte, key string) (string, error) {
	return s.write(ctx, bytes.NewReader(data), key)
}

func (s *GCSStore) write(ctx context.Context, r io.Reader, key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	w := s.bucket.Object(k).NewWriter(ctx)
	w.ContentType = contentType(k)
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", k, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", k, err)
	}
	s.logger.Debug("storage.put.ok", "backend", "gcs", "key", k, "bytes", n)
	return s.URL(ctx, k)
}

func (s *GCSStore) Delete(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		k, err := cleanKey(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		err = s.bucket.Object(k).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
			continue
		}
		s.logger.Debug("storage.delete.ok", "backend", "gcs", "key", k)
	}
	return errors.Join(errs...)
}

func (s *GCSStore) Fetch(ctx context.Context, key, destPath string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	rc, err := s.bucket.Object(k).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", k, ErrObjectNotFound)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", k, err)
	}
	defer rc.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := io.Copy(dst, rc); err != nil {
		_ = dst.Close()
		return fmt.Errorf("download %s: %w", k, err)
	}
	return dst.Close()
}

// URL returns a V4 signed GET URL. Without signing credentials (emulators) it
// falls back to the plain object URL.
func (s *GCSStore) URL(_ context.Context, key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	signed, err := s.bucket.SignedURL(k, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(s.cfg.SignedURLTTL),
	})
	if err == nil {
		return signed, nil
	}
	s.logger.Debug("storage.sign.unavailable", "key", k, "error", err)
	base := "https://storage.googleapis.com"
	if s.cfg.Endpoint != "" {
		base = strings.TrimSuffix(strings.TrimSuffix(s.cfg.Endpoint, "/"), "/storage/v1")
	}
	return base + "/" + url.PathEscape(s.cfg.Bucket) + "/" + k, nil
}
