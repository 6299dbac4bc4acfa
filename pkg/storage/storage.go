// Package storage uploads generated documents to an object store and returns their URL.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tenantops/pkg/config"
	"tenantops/pkg/logx"
)

// Store accepts a document body and returns a URL it can be retrieved from.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// New builds the backend named in cfg.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.StorageFile:
		return NewFileStore(cfg.Dir, cfg.BaseURL)
	case config.StorageS3:
		return NewS3Store(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
			BaseURL:   cfg.BaseURL,
		})
	case config.StorageGCS:
		return NewGCSStore(ctx, GCSConfig{Bucket: cfg.Bucket, Endpoint: cfg.Endpoint, BaseURL: cfg.BaseURL})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// cleanKey rejects keys that would escape the bucket or directory root.
func cleanKey(key string) (string, error) {
	key = strings.TrimLeft(filepath.ToSlash(key), "/")
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("object key %q escapes the storage root", key)
		}
	}
	return key, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// FileStore writes objects beneath a local directory.
type FileStore struct {
	dir     string
	baseURL string
	logger  *logx.Logger
}

// NewFileStore creates dir if needed. Without a baseURL, returned URLs use the file scheme.
func NewFileStore(dir, baseURL string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &FileStore{dir: abs, baseURL: baseURL, logger: logx.NewLogger("storage")}, nil
}

func (s *FileStore) Put(ctx context.Context, key string, body []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("upload cancelled: %w", err)
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object dir: %w", err)
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}
	s.logger.Info("📄 Stored %s (%d bytes)", key, len(body))

	if s.baseURL != "" {
		return joinURL(s.baseURL, key), nil
	}
	return "file://" + filepath.ToSlash(path), nil
}
