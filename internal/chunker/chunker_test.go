package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-rag/internal/models"
)

// words returns exactly n bytes of "wordN " text with no trailing space.
func words(n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		b.WriteString("word")
		b.WriteByte(byte('a' + i%26))
		b.WriteByte(' ')
	}
	s := b.String()[:n]
	if strings.HasSuffix(s, " ") {
		s = s[:n-1] + "z"
	}
	return s
}

func pagesOf(sizes ...int) []models.PageRecord {
	pages := make([]models.PageRecord, len(sizes))
	for i, n := range sizes {
		pages[i] = models.PageRecord{PageNumber: i + 1, Text: words(n)}
	}
	return pages
}

func TestFlatten(t *testing.T) {
	text, spans, err := Flatten([]models.PageRecord{
		{PageNumber: 1, Text: "alpha"},
		{PageNumber: 3, Text: "beta"},
		{PageNumber: 4, Text: "gamma"},
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha beta gamma", text)
	assert.Equal(t, []PageSpan{
		{Page: 1, Start: 0, End: 6},
		{Page: 3, Start: 6, End: 11},
		{Page: 4, Start: 11, End: 16},
	}, spans)
}

func TestFlattenValidation(t *testing.T) {
	tests := []struct {
		name  string
		pages []models.PageRecord
	}{
		{"empty", nil},
		{"zero page", []models.PageRecord{{PageNumber: 0, Text: "x"}}},
		{"not increasing", []models.PageRecord{{PageNumber: 2, Text: "x"}, {PageNumber: 2, Text: "y"}}},
		{"decreasing", []models.PageRecord{{PageNumber: 3, Text: "x"}, {PageNumber: 1, Text: "y"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Options{}).Chunk(tt.pages)
			var verr *models.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestChunkShortDocument(t *testing.T) {
	pages := []models.PageRecord{{PageNumber: 1, Text: "A short abstract."}, {PageNumber: 2, Text: "References."}}
	chunks, err := New(Options{}).Chunk(pages)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, "A short abstract. References.", c.Content)
	assert.Equal(t, 0, c.CharStart)
	assert.Equal(t, len(c.Content), c.CharEnd)
	assert.Equal(t, 1, c.PageStart)
	assert.Equal(t, 2, c.PageEnd)
}

func TestChunkThreePageScenario(t *testing.T) {
	chunks, err := New(Options{ChunkSize: 2000, Overlap: 320, SnapWindow: 100}).Chunk(pagesOf(1000, 1500, 800))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	first, second := chunks[0], chunks[1]
	assert.Equal(t, 1, first.PageStart)
	assert.Equal(t, 2, first.PageEnd, "first chunk spans into page 2")
	assert.GreaterOrEqual(t, first.CharEnd, 2000)
	assert.Less(t, first.CharEnd, 2100)

	assert.Equal(t, 1680, second.CharStart)
	assert.Equal(t, 2, second.PageStart)
	assert.Equal(t, 3, second.PageEnd)
	assert.Equal(t, 1000+1+1500+1+800, second.CharEnd)

	for _, c := range chunks {
		assert.LessOrEqual(t, c.PageStart, c.PageEnd)
	}
}

func TestChunkInvariants(t *testing.T) {
	opts := Options{ChunkSize: 300, Overlap: 60, SnapWindow: 20}
	docs := [][]models.PageRecord{
		pagesOf(50),
		pagesOf(299, 1, 1, 700),
		pagesOf(1200, 40, 950, 333, 10),
		{
			{PageNumber: 2, Text: strings.Repeat("Überprüfung naïve café ", 30)},
			{PageNumber: 7, Text: words(410)},
			{PageNumber: 9, Text: strings.Repeat("数据", 200)},
		},
	}

	for _, pages := range docs {
		text, _, err := Flatten(pages)
		require.NoError(t, err)
		chunks, err := New(opts).Chunk(pages)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		minPage, maxPage := pages[0].PageNumber, pages[len(pages)-1].PageNumber
		assert.Equal(t, 0, chunks[0].CharStart)
		assert.Equal(t, len(text), chunks[len(chunks)-1].CharEnd, "chunks reach the end of the text")

		for i, c := range chunks {
			assert.Less(t, c.CharStart, c.CharEnd)
			assert.LessOrEqual(t, c.PageStart, c.PageEnd)
			assert.GreaterOrEqual(t, c.PageStart, minPage)
			assert.LessOrEqual(t, c.PageEnd, maxPage)
			assert.True(t, utf8.ValidString(c.Content))
			assert.Equal(t, strings.TrimSpace(text[c.CharStart:c.CharEnd]), c.Content)

			if i == 0 {
				continue
			}
			prev := chunks[i-1]
			assert.Less(t, c.CharStart, prev.CharEnd, "consecutive chunks overlap")
			if prev.CharEnd < len(text) {
				overlap := prev.CharEnd - c.CharStart
				assert.GreaterOrEqual(t, overlap, opts.Overlap-2*utf8.UTFMax)
				assert.LessOrEqual(t, overlap, opts.Overlap+opts.SnapWindow+utf8.UTFMax)
			}
		}
	}
}

func TestChunkWordSnap(t *testing.T) {
	opts := Options{ChunkSize: 10, Overlap: 2, SnapWindow: 5}

	t.Run("snaps forward to a space", func(t *testing.T) {
		chunks, err := New(opts).Chunk([]models.PageRecord{{PageNumber: 1, Text: "abcdefghijkl mnopqrstuvwxyz"}})
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		assert.Equal(t, 12, chunks[0].CharEnd)
		assert.Equal(t, "abcdefghijkl", chunks[0].Content)
	})

	t.Run("raw cut without a nearby space", func(t *testing.T) {
		chunks, err := New(opts).Chunk([]models.PageRecord{{PageNumber: 1, Text: "abcdefghijklmnopqrstuvwxyz"}})
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		assert.Equal(t, 10, chunks[0].CharEnd)
		assert.Equal(t, 8, chunks[1].CharStart)
	})
}

func TestChunkSkipsBlankWindows(t *testing.T) {
	text := "abc" + strings.Repeat(" ", 19) + "xy"
	chunks, err := New(Options{ChunkSize: 10, Overlap: 2, SnapWindow: 3}).Chunk([]models.PageRecord{{PageNumber: 1, Text: text}})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "abc", chunks[0].Content)
	assert.Equal(t, "xy", chunks[1].Content)
	assert.Equal(t, 16, chunks[1].CharStart)
}

func TestChunkPhrase(t *testing.T) {
	var ws []string
	for i := 0; i < 25; i++ {
		ws = append(ws, "w"+strings.Repeat("x", i%3))
	}
	chunks, err := New(Options{}).Chunk([]models.PageRecord{{PageNumber: 1, Text: strings.Join(ws, " ")}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.Join(ws[:20], " "), chunks[0].Phrase)
}

func TestPageAtFallback(t *testing.T) {
	spans := []PageSpan{{Page: 4, Start: 0, End: 5}, {Page: 6, Start: 5, End: 9}}
	assert.Equal(t, 4, pageAt(spans, 0, 1))
	assert.Equal(t, 6, pageAt(spans, 5, 1))
	assert.Equal(t, 6, pageAt(spans, 8, 1))
	assert.Equal(t, 42, pageAt(spans, 9, 42))
}
