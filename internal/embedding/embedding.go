package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"research-rag/internal/config"
	"research-rag/internal/models"
)

// New builds the client for the configured provider. The primary provider
// runs sequentially with a pacing delay; the others use grouped concurrency.
func New(ctx context.Context, cfg config.EmbeddingConfig) (*Client, error) {
	opts := Options{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		CallDelay:  cfg.CallDelay,
		Mode:       Grouped,
		GroupSize:  cfg.GroupSize,
		Dimension:  cfg.Dimension,
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		p, err = NewGeminiProvider(ctx, cfg)
		opts.Mode = Sequential
	case config.ProviderHTTP:
		p, err = NewHTTPProvider(cfg)
	case config.ProviderOllama:
		p, err = NewOllamaProvider(cfg)
	case config.ProviderHashing:
		p = NewHashingProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s embedder: %w", cfg.Provider, err)
	}

	log.Info().Str("provider", p.Name()).Str("model", cfg.Model).Int("dimension", cfg.Dimension).Msg("Embedding client ready")
	return NewClient(p, opts), nil
}

// BatchEmbedder embeds texts in order. *Client implements it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerateEmbedding embeds every chunk's content, keeping chunk order.
func GenerateEmbedding(ctx context.Context, client BatchEmbedder, chunks []models.Chunk) ([]models.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks generated from content")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := client.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks: %w", len(vectors), len(chunks), models.ErrMalformedEmbedding)
	}

	out := make([]models.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		out[i] = models.EmbeddedChunk{Chunk: c, Embedding: vectors[i]}
	}
	return out, nil
}
