// Package extract turns uploaded gazette PDFs into plain text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"gazette/internal/util"
)

// Extractor reads positioned text runs from every page of a PDF. It does no OCR:
// scanned, image-only documents come back as an empty string.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the document text with runs on a page joined by a space and
// pages joined by a newline. Each run is cleaned on its own, so page text is
// single-line and no control characters reach storage. Pages without text are
// skipped. Undecodable input yields util.ErrDocumentCorrupt.
func (e *Extractor) Extract(ctx context.Context, content []byte) (text string, err error) {
	if len(content) == 0 {
		return "", fmt.Errorf("%w: empty file", util.ErrDocumentCorrupt)
	}
	// The decoder panics on some malformed xref tables and streams.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", util.ErrDocumentCorrupt, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", util.ErrDocumentCorrupt, err)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", util.ErrDocumentCorrupt, i, err)
		}
		runs := make([]string, 0, len(rows))
		for _, row := range rows {
			for _, t := range row.Content {
				if s := util.CleanPageText(t.S); s != "" {
					runs = append(runs, s)
				}
			}
		}
		if len(runs) > 0 {
			pages = append(pages, strings.Join(runs, " "))
		}
	}
	return strings.Join(pages, "\n"), nil
}
