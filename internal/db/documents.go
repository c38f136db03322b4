package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"research-rag/internal/models"
)

type DocumentStore struct {
	db *bun.DB
}

func NewDocumentStore(db *bun.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) GetDocument(ctx context.Context, id int64) (models.Document, error) {
	var row DocumentRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Document{}, models.NewStorageError("get document", err)
	}
	return models.Document{
		ID:        row.ID,
		Title:     row.Title,
		FilePath:  row.FilePath,
		FileHash:  row.FileHash,
		AISummary: row.AISummary,
	}, nil
}

// CreateDocument inserts a record for a file ingested outside the web app.
func (s *DocumentStore) CreateDocument(ctx context.Context, title, filePath string) (int64, error) {
	row := &DocumentRow{Title: title, FilePath: filePath}
	if _, err := s.db.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return 0, models.NewStorageError("create document", err)
	}
	return row.ID, nil
}

// UpdateAnalysis stores the checksum and summary produced by ingestion.
func (s *DocumentStore) UpdateAnalysis(ctx context.Context, id int64, fileHash, summary string) error {
	res, err := s.db.NewUpdate().
		Model((*DocumentRow)(nil)).
		Set("file_hash = ?", fileHash).
		Set("ai_summary = ?", summary).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return models.NewStorageError("update document", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %d: %w", id, models.ErrNotFound)
	}
	return nil
}
