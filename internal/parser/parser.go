package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"research-rag/internal/models"
)

// Extractor turns the bytes of one file into per-page text. Pages that hold
// no text after whitespace normalisation are omitted.
type Extractor interface {
	Extract(data []byte) ([]models.PageRecord, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(data []byte) ([]models.PageRecord, error)

func (f ExtractorFunc) Extract(data []byte) ([]models.PageRecord, error) {
	return f(data)
}

// Registry selects an extractor by file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry returns a registry with every supported format registered.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	r.Register(".pdf", ExtractorFunc(parsePDF))
	r.Register(".docx", ExtractorFunc(parseDOCX))
	r.Register(".pptx", ExtractorFunc(parsePPTX))
	r.Register(".xlsx", ExtractorFunc(parseXLSX))
	r.Register(".xlsm", ExtractorFunc(parseWorkbook))
	r.Register(".xltx", ExtractorFunc(parseWorkbook))
	r.Register(".md", ExtractorFunc(parseMarkdown))
	r.Register(".markdown", ExtractorFunc(parseMarkdown))
	r.Register(".txt", ExtractorFunc(parseText))
	return r
}

func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// ForPath returns the extractor for the extension of path.
func (r *Registry) ForPath(path string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return nil, &models.ExtractionError{Reason: fmt.Sprintf("unsupported file format %q", ext)}
	}
	return e, nil
}

// ExtractFile extracts data using the extractor registered for path.
func (r *Registry) ExtractFile(path string, data []byte) ([]models.PageRecord, error) {
	e, err := r.ForPath(path)
	if err != nil {
		return nil, err
	}
	return e.Extract(data)
}

// normalizeWhitespace collapses every whitespace run to one space.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// appendPage adds a page when it has text left after normalisation.
func appendPage(pages []models.PageRecord, number int, text string) []models.PageRecord {
	text = normalizeWhitespace(text)
	if text == "" {
		return pages
	}
	return append(pages, models.PageRecord{PageNumber: number, Text: text})
}

func parseText(data []byte) ([]models.PageRecord, error) {
	return appendPage(nil, 1, string(data)), nil
}
