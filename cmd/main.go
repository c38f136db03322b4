package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"research-rag/internal/chromemdb"
	"research-rag/internal/chunker"
	"research-rag/internal/config"
	"research-rag/internal/db"
	"research-rag/internal/embedding"
	"research-rag/internal/helper"
	"research-rag/internal/ingest"
	"research-rag/internal/llmservice"
	"research-rag/internal/models"
	"research-rag/internal/parser"
	"research-rag/internal/rag"
	"research-rag/internal/server"
	"research-rag/internal/storage"
)

const defaultConfigPath = "./configs/config.yaml"

// chunkBackend is implemented by both vector stores.
type chunkBackend interface {
	ingest.ChunkStore
	rag.Searcher
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to the YAML config file")
	filePath := flag.String("file", "", "Ingest a local document file")
	docID := flag.Int64("doc-id", 0, "Document id to ingest into (with -file)")
	force := flag.Bool("force", false, "Reprocess even when the file is unchanged")
	query := flag.String("query", "", "Assemble a grounded prompt for a question")
	answer := flag.Bool("answer", false, "Also generate an answer (with -query)")
	serve := flag.Bool("serve", false, "Start the HTTP server")
	initDB := flag.Bool("init-db", false, "Create the database schema")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)
	log.Debug().Str("embedding", cfg.Embedding.Provider).Str("llm", cfg.LLM.Provider).Bool("chromem", cfg.Chromem.Enabled).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *initDB:
		initDatabase(ctx, cfg)
	case *filePath != "" && *query != "":
		log.Fatal().Msg("Please provide either a document file using the -file flag or a query using the -query flag, but not both")
	case *filePath != "":
		ingestFile(ctx, cfg, *filePath, *docID, *force)
	case *query != "":
		performRAG(ctx, cfg, *query, *answer)
	case *serve:
		runServer(ctx, cfg)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func connect(cfg *config.Config) *bun.DB {
	sqldb, err := db.ConnectDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	return db.NewDB(sqldb, cfg.Database.Debug)
}

func initDatabase(ctx context.Context, cfg *config.Config) {
	dbInstance := connect(cfg)
	defer dbInstance.Close()

	if err := db.InitDB(ctx, dbInstance, cfg.Embedding.Dimension); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}
	log.Info().Int("dimension", cfg.Embedding.Dimension).Msg("Database schema ready")
}

// openChunkStore returns the chromem store when enabled, otherwise the
// Postgres store on dbInstance.
func openChunkStore(ctx context.Context, cfg *config.Config, dbInstance *bun.DB) (chunkBackend, func()) {
	if !cfg.Chromem.Enabled {
		return db.NewChunkStore(dbInstance), func() {}
	}

	if !cfg.Chromem.InMemory {
		if err := helper.CreateFolder(cfg.Chromem.Path); err != nil {
			log.Fatal().Err(err).Msg("Error creating folder")
		}
	}
	store, err := chromemdb.NewVectorDBManager(cfg.Chromem)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating vector database manager")
	}

	exported := cfg.Chromem.InMemory && cfg.Chromem.EncryptionKey != ""
	if exported {
		if err := store.Import(ctx); err != nil {
			log.Warn().Err(err).Msg("No exported collection imported")
		}
	}
	return store, func() {
		if !exported {
			return
		}
		if err := store.Export(ctx); err != nil {
			log.Error().Err(err).Msg("Error exporting collection")
		}
	}
}

func newEmbedder(ctx context.Context, cfg *config.Config) *embedding.Client {
	embedder, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	return embedder
}

func newLLM(cfg *config.Config) *llmservice.Service {
	llm, err := llmservice.New(cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing llm")
	}
	return llm
}

func newPipeline(cfg *config.Config, blob ingest.Downloader, embedder *embedding.Client, chunks ingest.ChunkStore, docs ingest.DocumentStore, llm *llmservice.Service) *ingest.Pipeline {
	return ingest.NewPipeline(ingest.Deps{
		Blob:       blob,
		Extractor:  parser.NewRegistry(),
		Chunker:    chunker.New(chunker.OptionsFromConfig(cfg.RAG)),
		Embedder:   embedder,
		Chunks:     chunks,
		Documents:  docs,
		Summarizer: llm,
	}, cfg.Ingest, cfg.Limits)
}

// ingestFile runs the full pipeline on a local file and prints the progress
// stream to stdout.
func ingestFile(ctx context.Context, cfg *config.Config, filePath string, docID int64, force bool) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error resolving file path")
	}

	var (
		dbInstance *bun.DB
		docs       ingest.DocumentStore
	)
	if cfg.Chromem.Enabled {
		if docID == 0 {
			docID = 1
		}
		docs = &fileDocuments{doc: models.Document{ID: docID, Title: filepath.Base(absPath), FilePath: absPath}}
	} else {
		dbInstance = connect(cfg)
		defer dbInstance.Close()
		store := db.NewDocumentStore(dbInstance)
		if docID == 0 {
			docID, err = store.CreateDocument(ctx, filepath.Base(absPath), absPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Error creating document")
			}
			log.Info().Int64("document_id", docID).Msg("Created document")
		}
		docs = store
	}

	chunks, closeStore := openChunkStore(ctx, cfg, dbInstance)
	defer closeStore()

	pipeline := newPipeline(cfg, storage.NewLocalBlob(filepath.Dir(absPath)), newEmbedder(ctx, cfg), chunks, docs, newLLM(cfg))
	last, err := ingest.WriteNDJSON(os.Stdout, pipeline.Run(ctx, ingest.Request{DocumentID: docID, Force: force}))
	if err != nil {
		log.Fatal().Err(err).Msg("Error writing progress")
	}
	if last.Step != models.StepComplete {
		log.Error().Str("step", last.Step).Str("message", last.Message).Msg("Ingestion did not complete")
		closeStore()
		os.Exit(1)
	}
}

func performRAG(ctx context.Context, cfg *config.Config, query string, answer bool) {
	var dbInstance *bun.DB
	if !cfg.Chromem.Enabled {
		dbInstance = connect(cfg)
		defer dbInstance.Close()
	}
	store, closeStore := openChunkStore(ctx, cfg, dbInstance)
	defer closeStore()

	var llm rag.Generator
	if answer {
		llm = newLLM(cfg)
	}
	assembler := rag.NewAssembler(newEmbedder(ctx, cfg), store, llm, cfg.RAG)

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	if !answer {
		rc, err := assembler.AssembleContext(ctx, query)
		if err != nil {
			log.Fatal().Err(err).Msg("Error querying")
		}
		log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		helper.PrettyPrint(rc.Sources)
		log.Info().Msg("Prompt: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		fmt.Printf("%s\n\n", rc.Prompt)
		return
	}

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	response, err := assembler.Answer(ctx, query, func(token string) { fmt.Print(token) })
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}
	fmt.Print("\n\n")
	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	helper.PrettyPrint(response.Sources)
}

func runServer(ctx context.Context, cfg *config.Config) {
	dbInstance := connect(cfg)
	defer dbInstance.Close()

	chunks, closeStore := openChunkStore(ctx, cfg, dbInstance)
	defer closeStore()

	blob, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing storage")
	}
	embedder := newEmbedder(ctx, cfg)
	llm := newLLM(cfg)

	pipeline := newPipeline(cfg, blob, embedder, chunks, db.NewDocumentStore(dbInstance), llm)
	assembler := rag.NewAssembler(embedder, chunks, llm, cfg.RAG)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(pipeline, assembler).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down server")
		}
	}()

	log.Info().Str("addr", cfg.Server.Addr).Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// fileDocuments stands in for the documents table when a local file is
// ingested into the embedded store.
type fileDocuments struct {
	doc models.Document
}

func (f *fileDocuments) GetDocument(ctx context.Context, id int64) (models.Document, error) {
	if id != f.doc.ID {
		return models.Document{}, models.ErrNotFound
	}
	return f.doc, nil
}

func (f *fileDocuments) UpdateAnalysis(ctx context.Context, id int64, fileHash, summary string) error {
	f.doc.FileHash, f.doc.AISummary = fileHash, summary
	log.Info().Int64("document_id", id).Str("file_hash", fileHash).Msg("Document analysed")
	fmt.Fprintf(os.Stderr, "\nSummary:\n%s\n\n", summary)
	return nil
}
