package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/note2tex/internal/entity"
	"github.com/joseph-ayodele/note2tex/internal/services/projects"
)

// Creator creates a project from a local page image.
type Creator interface {
	Create(ctx context.Context, req projects.CreateRequest) (*entity.Project, error)
}

// Inbox submits every new page image dropped into a directory as a project of
// one user. Identical content is submitted once per process lifetime.
type Inbox struct {
	dir      string
	userID   uuid.UUID
	debounce time.Duration
	creator  Creator
	logger   *slog.Logger

	seen map[string]struct{}
}

func NewInbox(dir string, userID uuid.UUID, debounce time.Duration, creator Creator, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		dir:      dir,
		userID:   userID,
		debounce: debounce,
		creator:  creator,
		logger:   logger,
		seen:     map[string]struct{}{},
	}
}

// Run watches the inbox until ctx ends. Files already present are submitted first.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	paths, errs, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{in.dir},
		InitialScan: true,
		Debounce:    in.debounce,
		Logger:      in.logger,
	})
	if err != nil {
		return err
	}
	in.logger.Info("inbox.watching", "dir", in.dir, "user_id", in.userID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-paths:
			if !ok {
				return nil
			}
			in.Submit(ctx, p)
		case err, ok := <-errs:
			if ok {
				in.logger.Warn("inbox.watch_error", "error", err)
			}
		}
	}
}

// Submit creates a project for the image at path unless its content was
// already submitted. It reports whether a project was created.
func (in *Inbox) Submit(ctx context.Context, path string) bool {
	sum, err := hashFile(path)
	if err != nil {
		in.logger.Warn("inbox.read_failed", "path", path, "error", err)
		return false
	}
	if _, dup := in.seen[sum]; dup {
		in.logger.Debug("inbox.duplicate", "path", path)
		return false
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p, err := in.creator.Create(ctx, projects.CreateRequest{UserID: in.userID, ImagePath: path, Title: title})
	if err != nil {
		in.logger.Error("inbox.submit_failed", "path", path, "error", err)
		return false
	}
	in.seen[sum] = struct{}{}
	in.logger.Info("inbox.submitted", "path", path, "project_id", p.ID)
	return true
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
