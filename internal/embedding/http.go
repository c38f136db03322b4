package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"research-rag/internal/config"
	"research-rag/internal/models"
)

// HTTPProvider posts {"input": text} with a bearer token and reads
// {"embedding": [...]}.
type HTTPProvider struct {
	url    string
	key    string
	client *http.Client
}

func NewHTTPProvider(cfg config.EmbeddingConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http embedding provider requires base_url")
	}
	return &HTTPProvider{
		url:    cfg.BaseURL,
		key:    cfg.Key,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (p *HTTPProvider) Name() string { return config.ProviderHTTP }

func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(struct {
		Input string `json:"input"`
	}{Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.key != "" {
		req.Header.Set("Authorization", "Bearer "+p.key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedEmbedding, err)
	}
	if len(out.Embedding) == 0 {
		return nil, models.ErrMalformedEmbedding
	}
	return out.Embedding, nil
}
