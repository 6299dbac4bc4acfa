package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"tenantops/pkg/logx"
)

// GCSConfig holds configuration for GCSStore.
type GCSConfig struct {
	Bucket   string
	Endpoint string // optional, for emulators; disables authentication
	BaseURL  string
}

// GCSStore uploads to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	cfg    GCSConfig
	logger *logx.Logger
}

// NewGCSStore uses application default credentials unless an emulator endpoint is set.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, cfg: cfg, logger: logx.NewLogger("storage")}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	w := s.client.Bucket(s.cfg.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed for %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close failed for %s: %w", key, err)
	}
	s.logger.Info("📄 Uploaded gs://%s/%s (%d bytes)", s.cfg.Bucket, key, len(body))
	return s.objectURL(key), nil
}

func (s *GCSStore) objectURL(key string) string {
	if s.cfg.BaseURL != "" {
		return joinURL(s.cfg.BaseURL, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.cfg.Bucket, key)
}

// Close releases the client.
func (s *GCSStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close GCS client: %w", err)
	}
	return nil
}
