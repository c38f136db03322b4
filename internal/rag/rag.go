package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"research-rag/internal/config"
	"research-rag/internal/models"
)

// Embedder turns the query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher finds the chunks most similar to a vector.
type Searcher interface {
	SimilaritySearch(ctx context.Context, vec []float32, limit int, threshold float64) ([]models.SearchResult, error)
}

// Generator answers a prompt, streaming tokens to onToken when it is set.
type Generator interface {
	Generate(ctx context.Context, prompt string, onToken func(string)) (string, error)
}

// Context is a prompt ready for generation and the sources it cites, in
// prompt order.
type Context struct {
	Prompt  string                `json:"prompt"`
	Sources []models.SearchResult `json:"sources"`
}

type Assembler struct {
	embedder  Embedder
	store     Searcher
	generator Generator
	topK      int
	threshold float64
}

// NewAssembler wires the read path. generator may be nil when only prompts
// are needed.
func NewAssembler(embedder Embedder, store Searcher, generator Generator, cfg config.RAGConfig) *Assembler {
	return &Assembler{
		embedder:  embedder,
		store:     store,
		generator: generator,
		topK:      cfg.TopK,
		threshold: cfg.Threshold,
	}
}

// AssembleContext embeds query once, retrieves the closest chunks and builds
// a grounded prompt. Without matches it returns the general-knowledge prompt
// and no sources.
func (a *Assembler) AssembleContext(ctx context.Context, query string) (Context, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Context{}, &models.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return Context{}, fmt.Errorf("embed query: %w", err)
	}

	results, err := a.store.SimilaritySearch(ctx, vec, a.topK, a.threshold)
	if err != nil {
		return Context{}, err
	}
	log.Debug().Str("query", query).Int("sources", len(results)).Msg("Retrieved context")

	if len(results) == 0 {
		return Context{
			Prompt:  fmt.Sprintf(models.NoContextPromptTemplate, query),
			Sources: []models.SearchResult{},
		}, nil
	}
	return Context{
		Prompt:  fmt.Sprintf(models.RAGPromptTemplate, FormatSources(results), query),
		Sources: results,
	}, nil
}

// Answer assembles the context and sends it to the generator.
func (a *Assembler) Answer(ctx context.Context, query string, onToken func(string)) (models.PromptResponse, error) {
	if a.generator == nil {
		return models.PromptResponse{}, fmt.Errorf("no generator configured")
	}
	rc, err := a.AssembleContext(ctx, query)
	if err != nil {
		return models.PromptResponse{}, err
	}
	content, err := a.generator.Generate(ctx, rc.Prompt, onToken)
	if err != nil {
		return models.PromptResponse{}, fmt.Errorf("generate answer: %w", err)
	}
	return models.PromptResponse{
		Query:   query,
		Prompt:  rc.Prompt,
		Sources: rc.Sources,
		Content: content,
	}, nil
}

// FormatSources renders results as numbered source blocks in the given order.
func FormatSources(results []models.SearchResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "[Source %d] (%s)", i+1, pageLabel(r.PageStart, r.PageEnd))
		if r.Phrase != "" {
			fmt.Fprintf(&b, " %q", r.Phrase)
		}
		b.WriteString("\n")
		b.WriteString(r.Content)
		blocks[i] = b.String()
	}
	return strings.Join(blocks, models.ContextSeparator)
}

func pageLabel(start, end int) string {
	if end <= start {
		return fmt.Sprintf("page %d", start)
	}
	return fmt.Sprintf("pages %d-%d", start, end)
}

// FilterByDocument keeps the results that belong to documentID, in order.
func FilterByDocument(results []models.SearchResult, documentID int64) []models.SearchResult {
	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		if r.DocumentID == documentID {
			out = append(out, r)
		}
	}
	return out
}
