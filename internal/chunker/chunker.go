package chunker

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"research-rag/internal/config"
	"research-rag/internal/models"
)

const (
	defaultChunkSize   = 2000 // chars, ~500 tokens at 4 chars/token
	defaultOverlap     = 320  // chars, ~80 tokens
	defaultSnapWindow  = 100
	defaultPhraseWords = 20
)

// Options sizes the chunk windows in bytes of flattened text.
type Options struct {
	ChunkSize   int
	Overlap     int
	SnapWindow  int
	PhraseWords int
}

// OptionsFromConfig derives character sizes from the token budget.
func OptionsFromConfig(cfg config.RAGConfig) Options {
	return Options{
		ChunkSize:   cfg.ChunkSizeChars(),
		Overlap:     cfg.OverlapChars(),
		SnapWindow:  cfg.SnapWindow,
		PhraseWords: cfg.PhraseWords,
	}
}

type Chunker struct {
	opts Options
}

func New(opts Options) *Chunker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.ChunkSize {
		opts.Overlap = opts.ChunkSize / 2
	}
	if opts.SnapWindow < 0 {
		opts.SnapWindow = 0
	}
	if opts.PhraseWords <= 0 {
		opts.PhraseWords = defaultPhraseWords
	}
	return &Chunker{opts: opts}
}

// PageSpan is the half-open byte range [Start, End) a page occupies in the
// flattened text. The separator after a page belongs to that page.
type PageSpan struct {
	Page  int
	Start int
	End   int
}

// Flatten joins page texts with single spaces and records page offsets.
func Flatten(pages []models.PageRecord) (string, []PageSpan, error) {
	if len(pages) == 0 {
		return "", nil, &models.ValidationError{Field: "pages", Reason: "no pages to chunk"}
	}

	var b strings.Builder
	spans := make([]PageSpan, 0, len(pages))
	prev := 0
	for i, p := range pages {
		if p.PageNumber < 1 {
			return "", nil, &models.ValidationError{Field: "pages", Reason: "page numbers start at 1"}
		}
		if i > 0 && p.PageNumber <= prev {
			return "", nil, &models.ValidationError{Field: "pages", Reason: "page numbers must be strictly increasing"}
		}
		prev = p.PageNumber

		start := b.Len()
		b.WriteString(p.Text)
		if i < len(pages)-1 {
			b.WriteByte(' ')
		}
		spans = append(spans, PageSpan{Page: p.PageNumber, Start: start, End: b.Len()})
	}
	return b.String(), spans, nil
}

// Chunk splits pages into overlapping windows annotated with provenance.
func (c *Chunker) Chunk(pages []models.PageRecord) ([]models.Chunk, error) {
	text, spans, err := Flatten(pages)
	if err != nil {
		return nil, err
	}

	n := len(text)
	step := c.opts.ChunkSize - c.opts.Overlap
	var chunks []models.Chunk
	for start := 0; start < n; start += step {
		ws := runeStartForward(text, start)
		if ws >= n {
			break
		}
		end := c.windowEnd(text, ws)

		content := strings.TrimSpace(text[ws:end])
		if content == "" {
			continue
		}

		chunks = append(chunks, models.Chunk{
			Content:   content,
			Phrase:    leadingWords(content, c.opts.PhraseWords),
			PageStart: pageAt(spans, ws, spans[0].Page),
			PageEnd:   pageAt(spans, end-1, spans[len(spans)-1].Page),
			CharStart: ws,
			CharEnd:   end,
		})
	}

	log.Debug().Int("chars", n).Int("pages", len(pages)).Int("chunks", len(chunks)).Msg("Chunked document")
	return chunks, nil
}

// windowEnd cuts at ChunkSize bytes after start, moving forward to the next
// space when one follows within SnapWindow bytes.
func (c *Chunker) windowEnd(text string, start int) int {
	end := start + c.opts.ChunkSize
	if end >= len(text) {
		return len(text)
	}

	limit := min(end+c.opts.SnapWindow, len(text))
	if i := strings.IndexByte(text[end:limit], ' '); i >= 0 {
		return end + i
	}

	end = runeStartBackward(text, end)
	if end <= start {
		// a single rune wider than the window
		end = runeStartForward(text, start+1)
	}
	return end
}

// pageAt returns the page whose span holds offset, or fallback.
func pageAt(spans []PageSpan, offset, fallback int) int {
	i := sort.Search(len(spans), func(i int) bool { return spans[i].End > offset })
	if i < len(spans) && spans[i].Start <= offset {
		return spans[i].Page
	}
	log.Warn().Int("offset", offset).Int("fallback_page", fallback).Msg("Offset outside page spans")
	return fallback
}

func leadingWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func runeStartForward(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

func runeStartBackward(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
