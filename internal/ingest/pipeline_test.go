package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-rag/internal/chromemdb"
	"research-rag/internal/chunker"
	"research-rag/internal/config"
	"research-rag/internal/embedding"
	"research-rag/internal/helper"
	"research-rag/internal/models"
	"research-rag/internal/parser"
)

type memBlob map[string][]byte

func (b memBlob) Download(ctx context.Context, path string) ([]byte, error) {
	data, ok := b[path]
	if !ok {
		return nil, models.NewStorageError("download "+path, models.ErrNotFound)
	}
	return data, nil
}

type memDocuments struct {
	mu       sync.Mutex
	docs     map[int64]models.Document
	analyses int
}

func (d *memDocuments) GetDocument(ctx context.Context, id int64) (models.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		return models.Document{}, models.ErrNotFound
	}
	return doc, nil
}

func (d *memDocuments) UpdateAnalysis(ctx context.Context, id int64, fileHash, summary string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc := d.docs[id]
	doc.FileHash, doc.AISummary = fileHash, summary
	d.docs[id] = doc
	d.analyses++
	return nil
}

type countingSummarizer struct {
	seen int
}

func (s *countingSummarizer) Summarize(ctx context.Context, chunks []models.StoredChunk) (string, error) {
	s.seen = len(chunks)
	return "summary of " + chunks[0].Phrase, nil
}

type failingEmbedder struct {
	calls int
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls == 2 {
		return nil, &models.EmbeddingError{Index: 1, Provider: "fake", Err: errors.New("quota exceeded")}
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

const docText = "Thermal conductivity of layered materials was measured across several samples. "

type fixture struct {
	pipeline   *Pipeline
	store      *chromemdb.VectorDBManager
	docs       *memDocuments
	summarizer *countingSummarizer
	data       []byte
}

func newFixture(t *testing.T, cfg config.IngestConfig) *fixture {
	t.Helper()
	store, err := chromemdb.NewVectorDBManager(config.ChromemConfig{InMemory: true, Collection: "ingest_test"})
	require.NoError(t, err)

	data := []byte(strings.Repeat(docText, 15))
	f := &fixture{
		store:      store,
		docs:       &memDocuments{docs: map[int64]models.Document{42: {ID: 42, Title: "Paper", FilePath: "papers/paper.txt"}}},
		summarizer: &countingSummarizer{},
		data:       data,
	}
	f.pipeline = NewPipeline(Deps{
		Blob:       memBlob{"papers/paper.txt": data, "papers/blank.txt": []byte("  \n\t ")},
		Extractor:  parser.NewRegistry(),
		Chunker:    chunker.New(chunker.Options{ChunkSize: 200, Overlap: 40, SnapWindow: 20, PhraseWords: 4}),
		Embedder:   embedding.NewClient(embedding.NewHashingProvider(16), embedding.Options{Dimension: 16}),
		Chunks:     store,
		Documents:  f.docs,
		Summarizer: f.summarizer,
	}, cfg, (&config.Config{Tiers: map[string]config.TierLimits{"free": {MaxPages: 1, MaxFileMB: 1}}}).Limits)
	return f
}

func collect(events <-chan models.ProgressEvent) []models.ProgressEvent {
	var out []models.ProgressEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func steps(events []models.ProgressEvent) []string {
	var out []string
	for _, ev := range events {
		if len(out) == 0 || out[len(out)-1] != ev.Step {
			out = append(out, ev.Step)
		}
	}
	return out
}

func TestRunEmitsStagesInOrder(t *testing.T) {
	f := newFixture(t, config.IngestConfig{BatchSize: 3})

	events := collect(f.pipeline.Run(context.Background(), Request{DocumentID: 42}))

	assert.Equal(t, []string{
		models.StepDownloading,
		models.StepExtracting,
		models.StepChunking,
		models.StepEmbedding,
		models.StepStoring,
		models.StepSummarizing,
		models.StepComplete,
	}, steps(events))

	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Progress, events[i-1].Progress, "progress went backwards at %d", i)
	}
	last := events[len(events)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, 100, last.Progress)

	var embedProgress []int
	for _, ev := range events {
		if ev.Step == models.StepEmbedding {
			embedProgress = append(embedProgress, ev.Progress)
		}
	}
	require.GreaterOrEqual(t, len(embedProgress), 3)
	assert.Equal(t, 50, embedProgress[0])
	assert.Equal(t, 75, embedProgress[len(embedProgress)-1])

	stored, err := f.store.ListChunks(context.Background(), 42)
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	assert.Equal(t, len(stored), f.summarizer.seen)

	doc := f.docs.docs[42]
	assert.Equal(t, helper.ContentHash(f.data), doc.FileHash)
	assert.Equal(t, "summary of Thermal conductivity of layered", doc.AISummary)
}

func TestRunReplacesPreviousChunks(t *testing.T) {
	for _, atomic := range []bool{false, true} {
		f := newFixture(t, config.IngestConfig{BatchSize: 10, AtomicReplace: atomic})
		require.NoError(t, f.store.SaveChunks(context.Background(), 42, []models.EmbeddedChunk{{
			Chunk:     models.Chunk{Content: "stale", PageStart: 9, PageEnd: 9},
			Embedding: []float32{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		}}))

		collect(f.pipeline.Run(context.Background(), Request{DocumentID: 42}))

		stored, err := f.store.ListChunks(context.Background(), 42)
		require.NoError(t, err)
		for _, c := range stored {
			assert.NotEqual(t, "stale", c.Content, "atomic=%v", atomic)
		}
	}
}

func TestRunZeroPagesFails(t *testing.T) {
	f := newFixture(t, config.IngestConfig{})
	f.docs.docs[7] = models.Document{ID: 7, FilePath: "papers/blank.txt"}

	events := collect(f.pipeline.Run(context.Background(), Request{DocumentID: 7}))

	last := events[len(events)-1]
	assert.Equal(t, models.StepError, last.Step)
	assert.Contains(t, last.Message, "no text could be extracted")
	assert.NotContains(t, steps(events), models.StepChunking)
	assert.Equal(t, 0, f.docs.analyses)
}

func TestRunValidationFailsBeforeStart(t *testing.T) {
	f := newFixture(t, config.IngestConfig{})

	events := collect(f.pipeline.Run(context.Background(), Request{}))

	require.Len(t, events, 1)
	assert.Equal(t, models.StepError, events[0].Step)
	assert.Equal(t, 0, events[0].Progress)
	assert.Contains(t, events[0].Message, "document_id")
}

func TestRunMissingDocumentAndFile(t *testing.T) {
	f := newFixture(t, config.IngestConfig{})
	f.docs.docs[8] = models.Document{ID: 8, FilePath: "papers/gone.pdf"}

	events := collect(f.pipeline.Run(context.Background(), Request{DocumentID: 99}))
	assert.Equal(t, models.StepError, events[len(events)-1].Step)

	events = collect(f.pipeline.Run(context.Background(), Request{DocumentID: 8}))
	last := events[len(events)-1]
	assert.Equal(t, models.StepError, last.Step)
	assert.Equal(t, 5, last.Progress)
	assert.Contains(t, last.Message, "papers/gone.pdf")
}

type twoPageExtractor struct{}

func (twoPageExtractor) ExtractFile(path string, data []byte) ([]models.PageRecord, error) {
	return []models.PageRecord{{PageNumber: 1, Text: "first page"}, {PageNumber: 2, Text: "second page"}}, nil
}

func TestRunTierLimits(t *testing.T) {
	f := newFixture(t, config.IngestConfig{})
	f.pipeline.Extractor = twoPageExtractor{}

	events := collect(f.pipeline.Run(context.Background(), Request{DocumentID: 42, Tier: "free"}))
	last := events[len(events)-1]
	assert.Equal(t, models.StepError, last.Step)
	assert.Contains(t, last.Message, "2 pages exceed the 1 allowed")

	events = collect(f.pipeline.Run(context.Background(), Request{DocumentID: 42, Tier: "premium"}))
	assert.Equal(t, models.StepComplete, events[len(events)-1].Step)
}

func TestRunSkipsUnchangedFile(t *testing.T) {
	f := newFixture(t, config.IngestConfig{SkipUnchanged: true})
	doc := f.docs.docs[42]
	doc.FileHash = helper.ContentHash(f.data)
	f.docs.docs[42] = doc

	events := collect(f.pipeline.Run(context.Background(), Request{DocumentID: 42}))
	assert.Equal(t, []string{models.StepDownloading, models.StepComplete}, steps(events))
	assert.Equal(t, 0, f.docs.analyses)

	events = collect(f.pipeline.Run(context.Background(), Request{DocumentID: 42, Force: true}))
	assert.Contains(t, steps(events), models.StepEmbedding)
	assert.Equal(t, 1, f.docs.analyses)
}

func TestRunReportsEmbeddingIndexAcrossBatches(t *testing.T) {
	f := newFixture(t, config.IngestConfig{BatchSize: 3})
	f.pipeline.Embedder = &failingEmbedder{}

	events := collect(f.pipeline.Run(context.Background(), Request{DocumentID: 42}))

	last := events[len(events)-1]
	assert.Equal(t, models.StepError, last.Step)
	assert.Contains(t, last.Message, "embedding item 4")
	assert.Contains(t, last.Message, "quota exceeded")
	assert.NotContains(t, steps(events), models.StepStoring)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	f := newFixture(t, config.IngestConfig{BatchSize: 1})
	ctx, cancel := context.WithCancel(context.Background())

	events := f.pipeline.Run(ctx, Request{DocumentID: 42})
	first := <-events
	assert.Equal(t, models.StepDownloading, first.Step)
	cancel()

	for ev := range events {
		assert.False(t, ev.Terminal(), "unexpected %s after cancel", ev.Step)
	}
	assert.Equal(t, 0, f.docs.analyses)
}

func TestWriteNDJSON(t *testing.T) {
	events := make(chan models.ProgressEvent, 2)
	events <- models.ProgressEvent{Step: models.StepDownloading, Progress: 5, Message: "Downloading file"}
	events <- models.ProgressEvent{Step: models.StepComplete, Progress: 100, Message: "done"}
	close(events)

	var buf bytes.Buffer
	last, err := WriteNDJSON(&buf, events)
	require.NoError(t, err)
	assert.Equal(t, models.StepComplete, last.Step)
	assert.Equal(t,
		`{"step":"downloading","progress":5,"message":"Downloading file"}`+"\n"+
			`{"step":"complete","progress":100,"message":"done"}`+"\n",
		buf.String())
}

func TestRunWithoutTierLimits(t *testing.T) {
	f := newFixture(t, config.IngestConfig{})
	p := NewPipeline(f.pipeline.Deps, config.IngestConfig{}, nil)
	p.Extractor = twoPageExtractor{}

	events := collect(p.Run(context.Background(), Request{DocumentID: 42, Tier: "free"}))
	assert.Equal(t, models.StepComplete, events[len(events)-1].Step)
}
