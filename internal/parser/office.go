package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"research-rag/internal/models"
)

var (
	docxTextRe    = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	docxParaRe    = regexp.MustCompile(`</w:p>`)
	slideNumberRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// parseDOCX returns the whole document as page 1; DOCX has no page numbers.
func parseDOCX(data []byte) ([]models.PageRecord, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &models.ExtractionError{Reason: "not a readable docx", Err: err}
	}
	defer r.Close()

	content := docxParaRe.ReplaceAllString(r.Editable().GetContent(), " ")
	var text strings.Builder
	for _, m := range docxTextRe.FindAllStringSubmatch(content, -1) {
		text.WriteString(html.UnescapeString(m[1]))
		text.WriteByte(' ')
	}
	return appendPage(nil, 1, text.String()), nil
}

// parsePPTX maps slide N to page N.
func parsePPTX(data []byte) ([]models.PageRecord, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &models.ExtractionError{Reason: "not a readable pptx", Err: err}
	}

	type slide struct {
		number int
		file   *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideNumberRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		slides = append(slides, slide{number: n, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })

	var pages []models.PageRecord
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, &models.ExtractionError{Reason: fmt.Sprintf("slide %d", s.number), Err: err}
		}
		xml, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, &models.ExtractionError{Reason: fmt.Sprintf("slide %d", s.number), Err: err}
		}
		pages = appendPage(pages, s.number, extractTextFromXML(string(xml)))
	}
	return pages, nil
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		endIdx := strings.Index(part, "</a:t>")
		if endIdx >= 0 {
			text.WriteString(html.UnescapeString(part[:endIdx]) + " ")
		}
	}
	return text.String()
}

// parseXLSX maps sheet N to page N.
func parseXLSX(data []byte) ([]models.PageRecord, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, &models.ExtractionError{Reason: "not a readable xlsx", Err: err}
	}

	var pages []models.PageRecord
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		pages = appendPage(pages, sheetNum+1, text.String())
	}
	return pages, nil
}

// parseWorkbook handles macro-enabled workbooks and templates.
func parseWorkbook(data []byte) ([]models.PageRecord, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &models.ExtractionError{Reason: "not a readable workbook", Err: err}
	}
	defer f.Close()

	var pages []models.PageRecord
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = appendPage(pages, sheetNum+1, text.String())
	}
	return pages, nil
}
