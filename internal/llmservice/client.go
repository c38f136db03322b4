package llmservice

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"research-rag/internal/config"
	"research-rag/internal/models"
)

var thinkRe = regexp.MustCompile(models.ThinkTag)

// Service produces document summaries and grounded answers with a chat model.
type Service struct {
	model      llms.Model
	maxContext int
}

// New builds the chat model named by cfg.Provider.
func New(cfg config.LLMConfig) (*Service, error) {
	model, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithModel(model, cfg.MaxContextChars), nil
}

func NewWithModel(model llms.Model, maxContextChars int) *Service {
	return &Service{model: model, maxContext: maxContextChars}
}

func newModel(cfg config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Msg("Creating LLM client")
	switch cfg.Provider {
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// GenerateContent sends messages to the model, with tools when given.
func (s *Service) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	resp, err := s.model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}
	return resp, nil
}

// Generate sends prompt as a single user message. When onToken is set the
// response is streamed to it as it arrives.
func (s *Service) Generate(ctx context.Context, prompt string, onToken func(string)) (string, error) {
	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}

	var options []llms.CallOption
	if onToken != nil {
		options = append(options, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			onToken(string(chunk))
			return nil
		}))
	}

	resp, err := s.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", err
	}
	return CleanResponse(resp.Choices[0].Content), nil
}

// Summarize writes a summary of the document from its chunks, taken in the
// given order until the context budget is used up.
func (s *Service) Summarize(ctx context.Context, chunks []models.StoredChunk) (string, error) {
	excerpt := BuildExcerpt(chunks, s.maxContext)
	if excerpt == "" {
		return "", nil
	}
	summary, err := s.Generate(ctx, fmt.Sprintf(models.SummaryPromptTemplate, excerpt), nil)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return summary, nil
}

// BuildExcerpt joins chunk contents with the context separator. A chunk that
// would push the excerpt past maxChars is dropped along with everything after
// it; maxChars <= 0 means no limit. The first chunk is always kept.
func BuildExcerpt(chunks []models.StoredChunk, maxChars int) string {
	var b strings.Builder
	for i, c := range chunks {
		addition := len(c.Content)
		if i > 0 {
			addition += len(models.ContextSeparator)
		}
		if i > 0 && maxChars > 0 && b.Len()+addition > maxChars {
			log.Debug().Int("kept", i).Int("total", len(chunks)).Msg("Summary excerpt truncated")
			break
		}
		if i > 0 {
			b.WriteString(models.ContextSeparator)
		}
		b.WriteString(c.Content)
	}
	return b.String()
}

// CleanResponse drops reasoning blocks some models emit before the answer.
func CleanResponse(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}
