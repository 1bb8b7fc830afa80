// Package pdfsplit cuts PDFs into page-range chunks for upload and extracts
// plain text for previews.
package pdfsplit

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DefaultChunkPages is the number of pages per uploaded chunk.
const DefaultChunkPages = 50

// ErrNotPDF is returned for input that does not start with a PDF header.
var ErrNotPDF = errors.New("not a PDF document")

// Chunk is a contiguous page range of the source document, 1-based and
// inclusive.
type Chunk struct {
	Start int
	End   int
	Data  []byte
}

// Label renders the range as "a-b".
func (c Chunk) Label() string {
	return fmt.Sprintf("%d-%d", c.Start, c.End)
}

// Pages returns the number of pages in the chunk.
func (c Chunk) Pages() int {
	return c.End - c.Start + 1
}

func newConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// IsPDF reports whether data carries a PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// PageCount returns the number of pages in data.
func PageCount(data []byte) (int, error) {
	if !IsPDF(data) {
		return 0, ErrNotPDF
	}
	n, err := api.PageCount(bytes.NewReader(data), newConfig())
	if err != nil {
		return 0, fmt.Errorf("counting pages: %w", err)
	}
	return n, nil
}

// Ranges returns the page ranges for a document of pageCount pages cut into
// pagesPerChunk pieces. The last range may be shorter.
func Ranges(pageCount, pagesPerChunk int) [][2]int {
	if pagesPerChunk <= 0 {
		pagesPerChunk = DefaultChunkPages
	}
	var out [][2]int
	for start := 1; start <= pageCount; start += pagesPerChunk {
		end := min(start+pagesPerChunk-1, pageCount)
		out = append(out, [2]int{start, end})
	}
	return out
}

// Split cuts data into chunks of at most pagesPerChunk pages and returns
// them in page order together with the total page count. A document that
// fits in one chunk is returned unchanged.
func Split(data []byte, pagesPerChunk int) ([]Chunk, int, error) {
	pageCount, err := PageCount(data)
	if err != nil {
		return nil, 0, err
	}
	if pageCount == 0 {
		return nil, 0, fmt.Errorf("splitting: document has no pages")
	}

	ranges := Ranges(pageCount, pagesPerChunk)
	if len(ranges) == 1 {
		return []Chunk{{Start: 1, End: pageCount, Data: data}}, pageCount, nil
	}

	chunks := make([]Chunk, 0, len(ranges))
	for _, r := range ranges {
		var buf bytes.Buffer
		sel := []string{fmt.Sprintf("%d-%d", r[0], r[1])}
		if err := api.Trim(bytes.NewReader(data), &buf, sel, newConfig()); err != nil {
			return nil, 0, fmt.Errorf("extracting pages %d-%d: %w", r[0], r[1], err)
		}
		chunks = append(chunks, Chunk{Start: r[0], End: r[1], Data: buf.Bytes()})
	}
	return chunks, pageCount, nil
}
