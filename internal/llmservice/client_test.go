package llmservice

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"research-rag/internal/config"
	"research-rag/internal/models"
)

type fakeModel struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, m := range messages {
		for _, p := range m.Parts {
			if tp, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tp.Text)
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	if opts.StreamingFunc != nil {
		for _, word := range strings.SplitAfter(f.reply, " ") {
			if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func stored(contents ...string) []models.StoredChunk {
	out := make([]models.StoredChunk, len(contents))
	for i, c := range contents {
		out[i] = models.StoredChunk{ID: int64(i + 1), DocumentID: 1, Chunk: models.Chunk{Content: c, PageStart: i + 1, PageEnd: i + 1}}
	}
	return out
}

func TestGenerateStreamsTokens(t *testing.T) {
	model := &fakeModel{reply: "grounded answer here"}
	svc := NewWithModel(model, 0)

	var streamed strings.Builder
	answer, err := svc.Generate(context.Background(), "question", func(tok string) { streamed.WriteString(tok) })
	require.NoError(t, err)
	assert.Equal(t, "grounded answer here", answer)
	assert.Equal(t, "grounded answer here", streamed.String())
	assert.Equal(t, []string{"question"}, model.prompts)
}

func TestGenerateStripsThinkBlock(t *testing.T) {
	svc := NewWithModel(&fakeModel{reply: "<think>\nlet me see\n</think>\n\nThe answer."}, 0)
	answer, err := svc.Generate(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "The answer.", answer)
}

func TestSummarizeUsesChunksInOrder(t *testing.T) {
	model := &fakeModel{reply: "A summary."}
	svc := NewWithModel(model, 0)

	summary, err := svc.Summarize(context.Background(), stored("intro text", "method text", "results text"))
	require.NoError(t, err)
	assert.Equal(t, "A summary.", summary)
	require.Len(t, model.prompts, 1)
	p := model.prompts[0]
	assert.Less(t, strings.Index(p, "intro text"), strings.Index(p, "method text"))
	assert.Less(t, strings.Index(p, "method text"), strings.Index(p, "results text"))
}

func TestSummarizeEmptyAndError(t *testing.T) {
	model := &fakeModel{err: errors.New("rate limited")}
	svc := NewWithModel(model, 0)

	summary, err := svc.Summarize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.Empty(t, model.prompts)

	_, err = svc.Summarize(context.Background(), stored("text"))
	assert.ErrorContains(t, err, "rate limited")
}

func TestBuildExcerptBudget(t *testing.T) {
	chunks := stored("aaaa", "bbbb", "cccc")
	sep := len(models.ContextSeparator)

	assert.Equal(t, "aaaa"+models.ContextSeparator+"bbbb"+models.ContextSeparator+"cccc", BuildExcerpt(chunks, 0))
	assert.Equal(t, "aaaa"+models.ContextSeparator+"bbbb", BuildExcerpt(chunks, 8+sep))
	assert.Equal(t, "aaaa", BuildExcerpt(chunks, 2))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.LLMConfig{Provider: "anthropic"})
	assert.Error(t, err)
}
