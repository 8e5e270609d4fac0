// Package storage persists source images and generated artifacts as keyed objects.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned by Fetch when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that are empty or escape the store root.
var ErrInvalidKey = errors.New("invalid object key")

// ObjectStore is the object storage contract used by the pipeline.
type ObjectStore interface {
	// Put uploads the file at localPath under key and returns its URL.
	Put(ctx context.Context, localPath, key string) (string, error)
	// PutBytes uploads data under key and returns its URL.
	PutBytes(ctx context.Context, data []byte, key string) (string, error)
	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Fetch downloads key to destPath.
	Fetch(ctx context.Context, key, destPath string) error
	// URL returns a download URL for key.
	URL(ctx context.Context, key string) (string, error)
}

// ProjectPrefix is the storage prefix owning every object of one project.
func ProjectPrefix(userID, projectID uuid.UUID) string {
	return fmt.Sprintf("users/%s/projects/%s", userID, projectID)
}

// ImageKey is the key of a project's source page image.
func ImageKey(userID, projectID uuid.UUID, ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		ext = "png"
	}
	return ProjectPrefix(userID, projectID) + "/image." + ext
}

// ArtifactKey is the key of one generated artifact. Each processing attempt
// writes under its own segment so a failed attempt never overwrites good output.
func ArtifactKey(userID, projectID uuid.UUID, attempt, name string) string {
	return ProjectPrefix(userID, projectID) + "/" + attempt + "/" + name
}

func cleanKey(key string) (string, error) {
	k := strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(key)), "/")
	if k == "" || k == "." || strings.TrimSpace(key) == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return k, nil
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	switch strings.ToLower(path.Ext(key)) {
	case ".tex":
		return "application/x-tex"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/octet-stream"
}
