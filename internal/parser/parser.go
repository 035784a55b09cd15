package parser

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
)

// Extractor turns raw file bytes into plain text.
type Extractor interface {
	ExtractText(ctx context.Context, raw []byte) (Extraction, error)
}

// Extraction is the text of a document and the number of pages it came from.
type Extraction struct {
	Text      string
	PageCount int
}

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether raw starts with the PDF header, allowing leading whitespace.
func IsPDF(raw []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(raw, " \t\r\n\x00"), pdfMagic)
}

// PDFExtractor reads text page by page with ledongthuc/pdf.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (e *PDFExtractor) ExtractText(ctx context.Context, raw []byte) (ext Extraction, err error) {
	if !IsPDF(raw) {
		return Extraction{}, fmt.Errorf("%w: missing PDF header", models.ErrExtractionFailed)
	}

	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", models.ErrExtractionFailed, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", models.ErrExtractionFailed, err)
	}

	var text strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return Extraction{}, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return Extraction{}, fmt.Errorf("%w: page %d: %v", models.ErrExtractionFailed, i, err)
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}

	log.Debug().Int("pages", numPages).Int("chars", text.Len()).Msg("Extracted PDF text")
	return Extraction{Text: text.String(), PageCount: numPages}, nil
}

var (
	blankLinesRe = regexp.MustCompile(`\n\s*\n`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// CleanText collapses blank lines and whitespace runs into single spaces and trims the result.
func CleanText(text string) string {
	text = blankLinesRe.ReplaceAllString(text, "\n")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
