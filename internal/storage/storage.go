package storage

import (
	"context"
	"fmt"

	"research-rag/internal/config"
)

// Blob is the file storage the ingestion pipeline downloads documents from.
type Blob interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Remove(ctx context.Context, paths ...string) error
}

// New returns the backend named in cfg.
func New(cfg config.StorageConfig) (Blob, error) {
	switch cfg.Backend {
	case "supabase":
		return NewSupabaseBlob(cfg)
	case "local":
		return NewLocalBlob(cfg.LocalRoot), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
