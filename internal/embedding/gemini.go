package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"research-rag/internal/config"
	"research-rag/internal/models"
)

// GeminiProvider calls the Gemini embedContent API. It is the primary
// provider and is paced by the client to stay under the per-minute quota.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	dimension int
}

func NewGeminiProvider(ctx context.Context, cfg config.EmbeddingConfig) (*GeminiProvider, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("gemini embedding provider requires an API key")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.Key,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: cfg.Model, dimension: cfg.Dimension}, nil
}

func (p *GeminiProvider) Name() string { return config.ProviderGemini }

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var conf *genai.EmbedContentConfig
	if p.dimension > 0 {
		dim := int32(p.dimension)
		conf = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	res, err := p.client.Models.EmbedContent(ctx, p.model, contents, conf)
	if err != nil {
		return nil, err
	}
	return firstEmbedding(res)
}

func firstEmbedding(res *genai.EmbedContentResponse) ([]float32, error) {
	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil || len(res.Embeddings[0].Values) == 0 {
		return nil, models.ErrMalformedEmbedding
	}
	return res.Embeddings[0].Values, nil
}
