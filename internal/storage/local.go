package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"research-rag/internal/helper"
	"research-rag/internal/models"
)

// LocalBlob serves files below a root directory.
type LocalBlob struct {
	root string
}

func NewLocalBlob(root string) *LocalBlob {
	return &LocalBlob{root: root}
}

func (l *LocalBlob) Download(ctx context.Context, path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, models.NewStorageError("download", err)
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.NewStorageError("download "+path, models.ErrNotFound)
	}
	return data, models.NewStorageError("download "+path, err)
}

func (l *LocalBlob) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	full, err := l.resolve(path)
	if err != nil {
		return models.NewStorageError("upload", err)
	}
	if err := helper.CreateFolder(filepath.Dir(full)); err != nil {
		return models.NewStorageError("upload "+path, err)
	}
	return models.NewStorageError("upload "+path, os.WriteFile(full, data, 0o644))
}

func (l *LocalBlob) Remove(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		full, err := l.resolve(p)
		if err != nil {
			return models.NewStorageError("remove", err)
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
			return models.NewStorageError("remove "+p, err)
		}
	}
	return nil
}

// resolve keeps relative paths inside root. Absolute paths are used as is so
// the CLI can ingest any local file.
func (l *LocalBlob) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	full := filepath.Join(l.root, path)
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("path escapes storage root: " + path)
	}
	return full, nil
}
