package parser

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"research-rag/internal/models"
)

// PDFExtractor reads page text in content-stream order. No layout or column
// reconstruction is attempted.
type PDFExtractor struct{}

func (PDFExtractor) Extract(data []byte) ([]models.PageRecord, error) {
	return parsePDF(data)
}

func parsePDF(data []byte) (pages []models.PageRecord, err error) {
	// the reader panics on some malformed object graphs
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &models.ExtractionError{Reason: "corrupt pdf", Err: fmt.Errorf("%v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &models.ExtractionError{Reason: "not a readable pdf", Err: err}
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, &models.ExtractionError{Reason: fmt.Sprintf("page %d", i), Err: err}
		}
		pages = appendPage(pages, i, pageText)
	}

	log.Debug().Int("pages", numPages).Int("text_pages", len(pages)).Msg("Extracted pdf")
	return pages, nil
}
