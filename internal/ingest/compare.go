package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/analytics"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/report"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/research"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/storage"
)

// Comparison is the outcome of asking one prompt across several documents.
type Comparison struct {
	ID          int64
	DocumentIDs []int64
	Report      string
	WebInsights string
}

// Compare asks prompt of every chunk of every document and combines the
// answers in one report. With webSearch set, live web insights for the same
// prompt are appended; their failure is reported in the text rather than
// failing the comparison.
func (p *Pipeline) Compare(ctx context.Context, documentIDs []int64, prompt string, webSearch bool) (Comparison, error) {
	prompt = strings.TrimSpace(prompt)
	if len(documentIDs) == 0 {
		return Comparison{}, fmt.Errorf("%w: at least one document is required", research.ErrInvalidInput)
	}
	if prompt == "" {
		return Comparison{}, fmt.Errorf("%w: prompt is required", research.ErrInvalidInput)
	}

	docs := make([]storage.DocumentRecord, 0, len(documentIDs))
	seen := make(map[int64]bool, len(documentIDs))
	for _, id := range documentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		doc, err := p.processedDocument(id)
		if err != nil {
			return Comparison{}, err
		}
		docs = append(docs, doc)
	}

	var sections []report.Section
	for _, doc := range docs {
		answers, err := p.askChunks(ctx, chunkRefs(doc), prompt)
		if err != nil {
			return Comparison{}, fmt.Errorf("asking %s: %w", doc.FileName, err)
		}
		docSections, _, _ := sectionsFrom(answers, doc.FileName)
		sections = append(sections, docSections...)
	}

	var insights string
	if webSearch && p.insights != nil {
		var err error
		insights, err = p.insights.WebInsights(ctx, prompt)
		body := insights
		if err != nil {
			if ctx.Err() != nil {
				return Comparison{}, ctx.Err()
			}
			p.logger.Warn("web insights failed", "error", err)
			// The note only goes into the report; stored insights stay empty.
			insights = ""
			body = fmt.Sprintf("_Web insights unavailable: %v_", err)
		}
		sections = append(sections, report.Section{Heading: "Web insights", Body: body})
	}

	text, err := report.Compose("Comparison: "+prompt, sections)
	if err != nil {
		return Comparison{}, err
	}

	ids := make([]int64, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	out := Comparison{DocumentIDs: ids, Report: text, WebInsights: insights}
	out.ID, err = p.store.SaveComparison(storage.Comparison{
		DocumentIDs: ids,
		Prompt:      prompt,
		Payload:     text,
		WebSearch:   webSearch,
		WebInsights: insights,
	})
	if err != nil {
		return out, fmt.Errorf("saving comparison: %w", err)
	}

	p.recorder.Record(ctx, analytics.EventComparison, map[string]any{
		"document_ids": ids,
		"prompt":       prompt,
		"web_search":   webSearch,
	})
	return out, nil
}
