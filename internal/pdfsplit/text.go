package pdfsplit

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageText is the plain text of one page.
type PageText struct {
	Page int
	Text string
}

// ExtractText returns the plain text of the first maxPages pages (all pages
// when maxPages <= 0). Pages whose content cannot be decoded are returned
// with empty text.
func ExtractText(data []byte, maxPages int) ([]PageText, error) {
	if !IsPDF(data) {
		return nil, ErrNotPDF
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	total := r.NumPage()
	if maxPages > 0 && maxPages < total {
		total = maxPages
	}

	out := make([]PageText, 0, total)
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			text = ""
		}
		out = append(out, PageText{Page: i, Text: strings.TrimSpace(text)})
	}
	return out, nil
}
