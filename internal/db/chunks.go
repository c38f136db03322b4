package db

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"research-rag/internal/models"
)

const insertBatchSize = 100

type ChunkRow struct {
	bun.BaseModel `bun:"table:document_chunks,alias:c"`
	ID            int64           `bun:"id,pk,autoincrement"`
	DocumentID    int64           `bun:"document_id,notnull"`
	Content       string          `bun:"content,notnull"`
	Phrase        string          `bun:"phrase"`
	PageStart     int             `bun:"page_start,notnull"`
	PageEnd       int             `bun:"page_end,notnull"`
	CharStart     int             `bun:"char_start,notnull"`
	CharEnd       int             `bun:"char_end,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,type:vector"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type searchRow struct {
	ID         int64   `bun:"id"`
	DocumentID int64   `bun:"document_id"`
	Content    string  `bun:"content"`
	Phrase     string  `bun:"phrase"`
	PageStart  int     `bun:"page_start"`
	PageEnd    int     `bun:"page_end"`
	Score      float64 `bun:"score"`
}

// ChunkStore keeps chunk rows in Postgres and searches them with pgvector's
// cosine distance operator.
type ChunkStore struct {
	db *bun.DB
}

func NewChunkStore(db *bun.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// SaveChunks appends rows for documentID. Chunks without an embedding are skipped.
func (s *ChunkStore) SaveChunks(ctx context.Context, documentID int64, chunks []models.EmbeddedChunk) error {
	return models.NewStorageError("save chunks", saveChunks(ctx, s.db, documentID, chunks))
}

// DeleteChunks removes every row of documentID in its own transaction.
func (s *ChunkStore) DeleteChunks(ctx context.Context, documentID int64) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return deleteChunks(ctx, tx, documentID)
	})
	return models.NewStorageError("delete chunks", err)
}

// ReplaceChunks deletes and inserts within one transaction, so readers never
// see the document without chunks.
func (s *ChunkStore) ReplaceChunks(ctx context.Context, documentID int64, chunks []models.EmbeddedChunk) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := deleteChunks(ctx, tx, documentID); err != nil {
			return err
		}
		return saveChunks(ctx, tx, documentID, chunks)
	})
	return models.NewStorageError("replace chunks", err)
}

// ListChunks returns the rows of documentID in reading order.
func (s *ChunkStore) ListChunks(ctx context.Context, documentID int64) ([]models.StoredChunk, error) {
	var rows []ChunkRow
	err := s.db.NewSelect().
		Model(&rows).
		ExcludeColumn("embedding").
		Where("document_id = ?", documentID).
		Order("page_start ASC", "char_start ASC").
		Scan(ctx)
	if err != nil {
		return nil, models.NewStorageError("list chunks", err)
	}

	out := make([]models.StoredChunk, len(rows))
	for i, r := range rows {
		out[i] = models.StoredChunk{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			Chunk: models.Chunk{
				Content:   r.Content,
				Phrase:    r.Phrase,
				PageStart: r.PageStart,
				PageEnd:   r.PageEnd,
				CharStart: r.CharStart,
				CharEnd:   r.CharEnd,
			},
		}
	}
	return out, nil
}

// SimilaritySearch returns up to limit rows whose cosine similarity to vec is
// strictly above threshold, most similar first.
func (s *ChunkStore) SimilaritySearch(ctx context.Context, vec []float32, limit int, threshold float64) ([]models.SearchResult, error) {
	var rows []searchRow
	if err := s.searchQuery(vec, limit, threshold).Scan(ctx, &rows); err != nil {
		return nil, models.NewStorageError("similarity search", err)
	}

	out := make([]models.SearchResult, len(rows))
	for i, r := range rows {
		out[i] = models.SearchResult(r)
	}
	return out, nil
}

// searchQuery uses <=> for both score and ordering; mixing distance
// operators would reorder results without changing their count.
func (s *ChunkStore) searchQuery(vec []float32, limit int, threshold float64) *bun.SelectQuery {
	v := pgvector.NewVector(vec)
	return s.db.NewSelect().
		TableExpr("document_chunks AS c").
		ColumnExpr("c.id, c.document_id, c.content, c.phrase, c.page_start, c.page_end").
		ColumnExpr("1 - (c.embedding <=> ?) AS score", v).
		Where("1 - (c.embedding <=> ?) > ?", v, threshold).
		OrderExpr("c.embedding <=> ?", v).
		Limit(limit)
}

func deleteChunks(ctx context.Context, idb bun.IDB, documentID int64) error {
	res, err := idb.NewDelete().Model((*ChunkRow)(nil)).Where("document_id = ?", documentID).Exec(ctx)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	log.Debug().Int64("document_id", documentID).Int64("rows", n).Msg("Deleted chunks")
	return nil
}

func saveChunks(ctx context.Context, idb bun.IDB, documentID int64, chunks []models.EmbeddedChunk) error {
	rows := make([]ChunkRow, 0, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			log.Warn().Int64("document_id", documentID).Int("chunk", i).Msg("Skipping chunk without embedding")
			continue
		}
		rows = append(rows, ChunkRow{
			DocumentID: documentID,
			Content:    c.Content,
			Phrase:     c.Phrase,
			PageStart:  c.PageStart,
			PageEnd:    c.PageEnd,
			CharStart:  c.CharStart,
			CharEnd:    c.CharEnd,
			Embedding:  pgvector.NewVector(c.Embedding),
		})
	}

	for start := 0; start < len(rows); start += insertBatchSize {
		batch := rows[start:min(start+insertBatchSize, len(rows))]
		if _, err := idb.NewInsert().Model(&batch).Exec(ctx); err != nil {
			return err
		}
	}
	log.Debug().Int64("document_id", documentID).Int("rows", len(rows)).Msg("Stored chunks")
	return nil
}
