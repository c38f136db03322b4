package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"research-rag/internal/config"
	"research-rag/internal/models"
)

// idStride separates the chunk id ranges of different documents.
const idStride = 1_000_000

const (
	compress = false

	metaDocumentID = "document_id"
	metaPhrase     = "phrase"
	metaPageStart  = "page_start"
	metaPageEnd    = "page_end"
	metaCharStart  = "char_start"
	metaCharEnd    = "char_end"
)

// VectorDBManager is an embedded chunk store backed by chromem-go. It serves
// local runs and tests where no Postgres is available.
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	encryptionKey string
	filePath      string
}

func NewVectorDBManager(cfg config.ChromemConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:            db,
		dbPath:        cfg.Path,
		encryptionKey: cfg.EncryptionKey,
		filePath:      filepath.Join(cfg.Path, cfg.Collection+".chromem"),
	}
	if _, err := m.GetOrCreateCollection(cfg.Collection); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// SaveChunks appends chunks after the ones already stored for documentID.
func (m *VectorDBManager) SaveChunks(ctx context.Context, documentID int64, chunks []models.EmbeddedChunk) error {
	next, err := m.chunkCount(ctx, documentID)
	if err != nil {
		return models.NewStorageError("save chunks", err)
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			log.Warn().Int64("document_id", documentID).Int("chunk", i).Msg("Skipping chunk without embedding")
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        chunkID(documentID, next),
			Content:   c.Content,
			Metadata:  chunkMetadata(documentID, c.Chunk),
			Embedding: c.Embedding,
		})
		next++
	}
	if len(docs) == 0 {
		return nil
	}
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return models.NewStorageError("save chunks", err)
	}
	return nil
}

func (m *VectorDBManager) DeleteChunks(ctx context.Context, documentID int64) error {
	where := map[string]string{metaDocumentID: strconv.FormatInt(documentID, 10)}
	if err := m.collection.Delete(ctx, where, nil); err != nil {
		return models.NewStorageError("delete chunks", err)
	}
	return nil
}

// ReplaceChunks deletes then saves. chromem has no transactions, so a failed
// save leaves the document without chunks.
func (m *VectorDBManager) ReplaceChunks(ctx context.Context, documentID int64, chunks []models.EmbeddedChunk) error {
	if err := m.DeleteChunks(ctx, documentID); err != nil {
		return err
	}
	return m.SaveChunks(ctx, documentID, chunks)
}

// ListChunks returns the document's chunks ordered by page_start then
// char_start, the same order the Postgres store returns.
func (m *VectorDBManager) ListChunks(ctx context.Context, documentID int64) ([]models.StoredChunk, error) {
	var out []models.StoredChunk
	for i := 0; i < idStride; i++ {
		doc, err := m.collection.GetByID(ctx, chunkID(documentID, i))
		if err != nil {
			break
		}
		c, err := chunkFromMetadata(doc.Content, doc.Metadata)
		if err != nil {
			return nil, models.NewStorageError("list chunks", err)
		}
		out = append(out, models.StoredChunk{
			ID:         documentID*idStride + int64(i),
			DocumentID: documentID,
			Chunk:      c,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PageStart != out[j].PageStart {
			return out[i].PageStart < out[j].PageStart
		}
		return out[i].CharStart < out[j].CharStart
	})
	return out, nil
}

// SimilaritySearch returns up to limit chunks with similarity strictly above
// threshold, most similar first.
func (m *VectorDBManager) SimilaritySearch(ctx context.Context, vec []float32, limit int, threshold float64) ([]models.SearchResult, error) {
	n := min(limit, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vec,
		NResults:       n,
	})
	if err != nil {
		return nil, models.NewStorageError("similarity search", err)
	}

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) <= threshold {
			continue
		}
		c, err := chunkFromMetadata(r.Content, r.Metadata)
		if err != nil {
			return nil, models.NewStorageError("similarity search", err)
		}
		id, _ := strconv.ParseInt(r.ID, 10, 64)
		out = append(out, models.SearchResult{
			ID:         id,
			DocumentID: id / idStride,
			Content:    c.Content,
			Phrase:     c.Phrase,
			PageStart:  c.PageStart,
			PageEnd:    c.PageEnd,
			Score:      float64(r.Similarity),
		})
	}
	return out, nil
}

func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, fmt.Errorf("either query or embedding must be provided")
	}
	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// Export writes the collection to an encrypted file next to the database.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}

	log.Debug().Str("collection", m.collection.Name).Str("file", m.filePath).Msg("Exporting collection")
	if err := m.db.ExportToFile(m.filePath, compress, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

func (m *VectorDBManager) Import(ctx context.Context) error {
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	c := m.db.GetCollection(m.collection.Name, nil)
	if c != nil {
		m.collection = c
	}
	return nil
}

func (m *VectorDBManager) chunkCount(ctx context.Context, documentID int64) (int, error) {
	n := 0
	for ; n < idStride; n++ {
		if _, err := m.collection.GetByID(ctx, chunkID(documentID, n)); err != nil {
			break
		}
	}
	if n == idStride {
		return 0, fmt.Errorf("document %d has too many chunks", documentID)
	}
	return n, nil
}

func chunkID(documentID int64, index int) string {
	return strconv.FormatInt(documentID*idStride+int64(index), 10)
}

func chunkMetadata(documentID int64, c models.Chunk) map[string]string {
	return map[string]string{
		metaDocumentID: strconv.FormatInt(documentID, 10),
		metaPhrase:     c.Phrase,
		metaPageStart:  strconv.Itoa(c.PageStart),
		metaPageEnd:    strconv.Itoa(c.PageEnd),
		metaCharStart:  strconv.Itoa(c.CharStart),
		metaCharEnd:    strconv.Itoa(c.CharEnd),
	}
}

func chunkFromMetadata(content string, meta map[string]string) (models.Chunk, error) {
	c := models.Chunk{Content: content, Phrase: meta[metaPhrase]}
	fields := []struct {
		key string
		dst *int
	}{
		{metaPageStart, &c.PageStart},
		{metaPageEnd, &c.PageEnd},
		{metaCharStart, &c.CharStart},
		{metaCharEnd, &c.CharEnd},
	}
	for _, f := range fields {
		v, err := strconv.Atoi(meta[f.key])
		if err != nil {
			return models.Chunk{}, fmt.Errorf("metadata %s: %w", f.key, err)
		}
		*f.dst = v
	}
	return c, nil
}
