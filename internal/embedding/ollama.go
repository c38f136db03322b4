package embedding

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"research-rag/internal/config"
)

// OllamaProvider embeds through a local Ollama server.
type OllamaProvider struct {
	embedder *embeddings.EmbedderImpl
}

func NewOllamaProvider(cfg config.EmbeddingConfig) (*OllamaProvider, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating ollama embedder")

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, err
	}
	return &OllamaProvider{embedder: embedder}, nil
}

func (p *OllamaProvider) Name() string { return config.ProviderOllama }

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.embedder.EmbedQuery(ctx, text)
}
