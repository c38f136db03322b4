package ingest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"research-rag/internal/config"
	"research-rag/internal/embedding"
	"research-rag/internal/helper"
	"research-rag/internal/models"
)

type Downloader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

type Extractor interface {
	ExtractFile(path string, data []byte) ([]models.PageRecord, error)
}

type Chunker interface {
	Chunk(pages []models.PageRecord) ([]models.Chunk, error)
}

// ChunkStore is the write side of the vector store.
type ChunkStore interface {
	SaveChunks(ctx context.Context, documentID int64, chunks []models.EmbeddedChunk) error
	DeleteChunks(ctx context.Context, documentID int64) error
	ReplaceChunks(ctx context.Context, documentID int64, chunks []models.EmbeddedChunk) error
	ListChunks(ctx context.Context, documentID int64) ([]models.StoredChunk, error)
}

type DocumentStore interface {
	GetDocument(ctx context.Context, id int64) (models.Document, error)
	UpdateAnalysis(ctx context.Context, id int64, fileHash, summary string) error
}

type Summarizer interface {
	Summarize(ctx context.Context, chunks []models.StoredChunk) (string, error)
}

// Request asks for one document to be (re)ingested.
type Request struct {
	DocumentID int64 `json:"document_id" validate:"required,gt=0"`
	// Force reprocesses the file even when its checksum is unchanged.
	Force bool   `json:"force"`
	Tier  string `json:"tier" validate:"omitempty,max=32,alphanum"`
}

// Progress values reported at the start of each stage.
const (
	progressDownloading = 5
	progressExtracting  = 25
	progressChunking    = 40
	progressEmbedStart  = 50
	progressEmbedEnd    = 75
	progressStoring     = 80
	progressSummarizing = 90
	progressComplete    = 100
)

type Deps struct {
	Blob       Downloader
	Extractor  Extractor
	Chunker    Chunker
	Embedder   embedding.BatchEmbedder
	Chunks     ChunkStore
	Documents  DocumentStore
	Summarizer Summarizer
}

// Pipeline drives documents from blob storage into the vector store.
type Pipeline struct {
	Deps
	cfg      config.IngestConfig
	limits   func(tier string) config.TierLimits
	validate *validator.Validate
}

// NewPipeline builds a pipeline. limits resolves a request's tier; nil means
// every tier is unlimited.
func NewPipeline(deps Deps, cfg config.IngestConfig, limits func(tier string) config.TierLimits) *Pipeline {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if limits == nil {
		limits = func(string) config.TierLimits { return config.TierLimits{} }
	}
	return &Pipeline{Deps: deps, cfg: cfg, limits: limits, validate: v}
}

// Run ingests one document. Events arrive on the returned channel, which is
// closed after the terminal complete or error event. Cancelling ctx stops
// the pipeline; no further events are sent after that.
func (p *Pipeline) Run(ctx context.Context, req Request) <-chan models.ProgressEvent {
	events := make(chan models.ProgressEvent)
	go func() {
		defer close(events)

		runID, _ := helper.GenerateUUID()
		r := &run{
			Pipeline: p,
			ctx:      ctx,
			events:   events,
			logger:   log.With().Str("run_id", runID).Int64("document_id", req.DocumentID).Logger(),
		}
		if err := r.execute(req); err != nil {
			if ctx.Err() != nil {
				r.logger.Warn().Err(err).Msg("Ingestion cancelled")
				return
			}
			r.logger.Error().Err(err).Str("step", r.step).Msg("Ingestion failed")
			r.emit(models.StepError, r.progress, err.Error())
		}
	}()
	return events
}

func (p *Pipeline) validateRequest(req Request) error {
	err := p.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return &models.ValidationError{Field: fe.Field(), Reason: "failed " + reason}
	}
	return &models.ValidationError{Reason: err.Error()}
}

// run carries the state of one Pipeline.Run call.
type run struct {
	*Pipeline
	ctx      context.Context
	events   chan<- models.ProgressEvent
	logger   zerolog.Logger
	step     string
	progress int
}

func (r *run) emit(step string, progress int, message string) error {
	r.step, r.progress = step, progress
	if err := r.ctx.Err(); err != nil {
		return err
	}
	select {
	case r.events <- models.ProgressEvent{Step: step, Progress: progress, Message: message}:
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

func (r *run) execute(req Request) error {
	if err := r.validateRequest(req); err != nil {
		return err
	}
	limits := r.limits(req.Tier)
	ctx := r.ctx
	id := req.DocumentID

	if err := r.emit(models.StepDownloading, progressDownloading, "Downloading file"); err != nil {
		return err
	}
	doc, err := r.Documents.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc.FilePath == "" {
		return &models.ValidationError{Field: "file_path", Reason: "document has no stored file"}
	}
	data, err := r.Blob.Download(ctx, doc.FilePath)
	if err != nil {
		return err
	}
	if limits.MaxFileMB > 0 && len(data) > limits.MaxFileMB<<20 {
		return &models.ValidationError{Field: "file", Reason: fmt.Sprintf("larger than the %d MB allowed for tier %q", limits.MaxFileMB, req.Tier)}
	}

	fileHash := helper.ContentHash(data)
	r.logger.Debug().Str("file_hash", fileHash).Int("bytes", len(data)).Msg("Downloaded document")
	if r.cfg.SkipUnchanged && !req.Force && doc.FileHash == fileHash {
		r.logger.Info().Msg("File unchanged, skipping ingestion")
		return r.emit(models.StepComplete, progressComplete, "Document unchanged, nothing to do")
	}

	if err := r.emit(models.StepExtracting, progressExtracting, "Extracting text"); err != nil {
		return err
	}
	pages, err := r.Extractor.ExtractFile(doc.FilePath, data)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return &models.ExtractionError{Reason: "no text could be extracted from the document"}
	}
	if limits.MaxPages > 0 && len(pages) > limits.MaxPages {
		return &models.ExtractionError{Reason: fmt.Sprintf("%d pages exceed the %d allowed for tier %q", len(pages), limits.MaxPages, req.Tier)}
	}

	chunks, err := r.Chunker.Chunk(pages)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return &models.ExtractionError{Reason: "document produced no chunks"}
	}
	if err := r.emit(models.StepChunking, progressChunking, fmt.Sprintf("Split %d pages into %d chunks", len(pages), len(chunks))); err != nil {
		return err
	}

	embedded, err := r.embed(chunks)
	if err != nil {
		return err
	}

	if err := r.emit(models.StepStoring, progressStoring, "Saving embeddings"); err != nil {
		return err
	}
	if err := r.store(id, embedded); err != nil {
		return err
	}

	if err := r.emit(models.StepSummarizing, progressSummarizing, "Generating summary"); err != nil {
		return err
	}
	stored, err := r.Chunks.ListChunks(ctx, id)
	if err != nil {
		return err
	}
	summary, err := r.Summarizer.Summarize(ctx, stored)
	if err != nil {
		return err
	}
	if err := r.Documents.UpdateAnalysis(ctx, id, fileHash, summary); err != nil {
		return err
	}

	r.logger.Info().Int("pages", len(pages)).Int("chunks", len(stored)).Msg("Ingestion complete")
	return r.emit(models.StepComplete, progressComplete, fmt.Sprintf("Processed %d pages into %d chunks", len(pages), len(stored)))
}

// embed works through the chunks in fixed-size batches, reporting progress
// between 50 and 75 percent.
func (r *run) embed(chunks []models.Chunk) ([]models.EmbeddedChunk, error) {
	total := len(chunks)
	batches := (total + r.cfg.BatchSize - 1) / r.cfg.BatchSize
	if err := r.emit(models.StepEmbedding, progressEmbedStart, fmt.Sprintf("Embedding %d chunks", total)); err != nil {
		return nil, err
	}

	out := make([]models.EmbeddedChunk, 0, total)
	for b := 0; b < batches; b++ {
		start := b * r.cfg.BatchSize
		end := min(start+r.cfg.BatchSize, total)

		batch, err := embedding.GenerateEmbedding(r.ctx, r.Embedder, chunks[start:end])
		if err != nil {
			var embErr *models.EmbeddingError
			if errors.As(err, &embErr) {
				embErr.Index += start
			}
			return nil, err
		}
		out = append(out, batch...)

		progress := progressEmbedStart + (progressEmbedEnd-progressEmbedStart)*(b+1)/batches
		if err := r.emit(models.StepEmbedding, progress, fmt.Sprintf("Embedded %d of %d chunks", end, total)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// store replaces the document's rows. Without atomic replace the delete
// commits before the insert, so a concurrent reader can see no chunks.
func (r *run) store(documentID int64, chunks []models.EmbeddedChunk) error {
	if r.cfg.AtomicReplace {
		return r.Chunks.ReplaceChunks(r.ctx, documentID, chunks)
	}
	if err := r.Chunks.DeleteChunks(r.ctx, documentID); err != nil {
		return err
	}
	return r.Chunks.SaveChunks(r.ctx, documentID, chunks)
}
