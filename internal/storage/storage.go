// Package storage keeps project files (reference documents, edited memos, logos) under
// the key convention projects/<project_id>/...
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"memtech/internal/config"
)

var (
	ErrNotFound   = errors.New("file not found")
	ErrInvalidKey = errors.New("invalid storage key")
)

// Store is the file storage collaborator.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// ProjectPrefix is the root of every file belonging to a project.
func ProjectPrefix(projectID string) string {
	return "projects/" + projectID + "/"
}

// ProjectKey joins parts under the project prefix.
func ProjectKey(projectID string, parts ...string) string {
	return path.Join(append([]string{"projects", projectID}, parts...)...)
}

// CleanKey rejects absolute keys and parent traversal.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	cleaned := path.Clean(key)
	if strings.HasSuffix(key, "/") {
		cleaned += "/"
	}
	return cleaned, nil
}

// New builds the store selected by config.storage.driver.
func New(cfg config.StorageConfig, localRoot string) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(localRoot)
	case "s3":
		return NewS3(cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
