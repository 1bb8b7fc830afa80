// Package ingest uploads PDF reports to the model service and answers
// questions about them chunk by chunk.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/analytics"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/llm"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/pdfsplit"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/report"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/research"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/storage"
)

const (
	DefaultUploadConcurrency = 2
	DefaultChunkInterval     = 1500 * time.Millisecond

	noRelevantContent = "no relevant content"
)

// DocumentStore abstracts the registry, Q&A log and comparison log.
type DocumentStore interface {
	FindDocumentByHash(hash string) (storage.DocumentRecord, error)
	RegisterDocument(in storage.DocumentInput) (int64, error)
	CompleteDocument(id int64, externalIDs []string) error
	MarkDocumentError(id int64, reason string) error
	GetDocument(id int64) (storage.DocumentRecord, error)
	AppendQA(in storage.QAInput) (int64, error)
	SaveComparison(c storage.Comparison) (int64, error)
}

// InsightSource answers free-form web research prompts.
type InsightSource interface {
	WebInsights(ctx context.Context, prompt string) (string, error)
}

// UploadCounter counts uploaded chunks.
type UploadCounter interface {
	ChunksUploaded(n int)
}

// Config tunes chunking and pacing.
type Config struct {
	ChunkPages        int
	UploadConcurrency int
	ChunkInterval     time.Duration // minimum gap between per-chunk questions
}

// Pipeline processes documents and questions about them.
type Pipeline struct {
	store    DocumentStore
	model    llm.Service
	insights InsightSource
	recorder *analytics.Recorder
	uploads  UploadCounter
	cfg      Config
	split    func(data []byte, pagesPerChunk int) ([]pdfsplit.Chunk, int, error)
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithInsights enables web insights for comparisons.
func WithInsights(src InsightSource) Option {
	return func(p *Pipeline) { p.insights = src }
}

// WithRecorder records pdf_upload, pdf_query and comparison events.
func WithRecorder(r *analytics.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithUploadCounter reports uploaded chunk counts.
func WithUploadCounter(c UploadCounter) Option {
	return func(p *Pipeline) { p.uploads = c }
}

// NewPipeline creates a Pipeline. Zero ChunkPages and UploadConcurrency take
// the defaults; a zero ChunkInterval disables pacing.
func NewPipeline(store DocumentStore, model llm.Service, cfg Config, opts ...Option) *Pipeline {
	if cfg.ChunkPages <= 0 {
		cfg.ChunkPages = pdfsplit.DefaultChunkPages
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = DefaultUploadConcurrency
	}
	if cfg.ChunkInterval < 0 {
		cfg.ChunkInterval = 0
	}
	p := &Pipeline{
		store:  store,
		model:  model,
		cfg:    cfg,
		split:  pdfsplit.Split,
		logger: slog.Default().With("component", "ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is the outcome of processing or questioning a document.
type Result struct {
	Document     storage.DocumentRecord
	Reused       bool   // an earlier processed upload with the same content was used
	Answer       string // empty when no question was asked
	QAID         int64
	InputTokens  int
	OutputTokens int
}

// Process registers and uploads a PDF unless identical content was already
// processed, then answers question when it is non-empty.
func (p *Pipeline) Process(ctx context.Context, fileName string, data []byte, question string) (Result, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return Result{}, fmt.Errorf("%w: file name is required", research.ErrInvalidInput)
	}
	if !pdfsplit.IsPDF(data) {
		return Result{}, fmt.Errorf("%w: %s is not a PDF", research.ErrInvalidInput, fileName)
	}

	doc, reused, err := p.ensureUploaded(ctx, fileName, data)
	if err != nil {
		return Result{}, err
	}

	res := Result{Document: doc, Reused: reused}
	if strings.TrimSpace(question) == "" {
		return res, nil
	}
	answered, err := p.answer(ctx, doc, question)
	if err != nil {
		return res, err
	}
	answered.Reused = reused
	return answered, nil
}

// Ask answers a question about an already processed document.
func (p *Pipeline) Ask(ctx context.Context, documentID int64, question string) (Result, error) {
	if strings.TrimSpace(question) == "" {
		return Result{}, fmt.Errorf("%w: question is required", research.ErrInvalidInput)
	}
	doc, err := p.processedDocument(documentID)
	if err != nil {
		return Result{}, err
	}
	return p.answer(ctx, doc, question)
}

func (p *Pipeline) processedDocument(id int64) (storage.DocumentRecord, error) {
	doc, err := p.store.GetDocument(id)
	if err != nil {
		return storage.DocumentRecord{}, fmt.Errorf("loading document %d: %w", id, err)
	}
	if doc.Status != storage.StatusProcessed {
		return storage.DocumentRecord{}, fmt.Errorf("%w: document %d is %s", research.ErrInvalidInput, id, doc.Status)
	}
	return doc, nil
}

func (p *Pipeline) ensureUploaded(ctx context.Context, fileName string, data []byte) (storage.DocumentRecord, bool, error) {
	existing, err := p.store.FindDocumentByHash(storage.ContentHash(data))
	if err == nil {
		p.logger.Info("reusing processed document", "document_id", existing.ID, "file_name", fileName)
		return existing, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.DocumentRecord{}, false, fmt.Errorf("looking up document: %w", err)
	}

	chunks, pages, err := p.split(data, p.cfg.ChunkPages)
	if err != nil {
		return storage.DocumentRecord{}, false, fmt.Errorf("%w: splitting %s: %w", research.ErrInvalidInput, fileName, err)
	}

	id, err := p.store.RegisterDocument(storage.DocumentInput{
		FileName:   fileName,
		Content:    data,
		PageCount:  pages,
		ChunkCount: len(chunks),
		ChunkPages: p.cfg.ChunkPages,
		Status:     storage.StatusProcessing,
	})
	if err != nil {
		return storage.DocumentRecord{}, false, fmt.Errorf("registering document: %w", err)
	}

	ids, err := p.uploadChunks(ctx, fileName, chunks)
	if err != nil {
		if markErr := p.store.MarkDocumentError(id, err.Error()); markErr != nil {
			p.logger.Error("failed to mark document as failed", "document_id", id, "error", markErr)
		}
		return storage.DocumentRecord{}, false, fmt.Errorf("uploading %s: %w", fileName, mapModelErr(err))
	}
	if err := p.store.CompleteDocument(id, ids); err != nil {
		if markErr := p.store.MarkDocumentError(id, err.Error()); markErr != nil {
			p.logger.Error("failed to mark document as failed", "document_id", id, "error", markErr)
		}
		p.cleanup(context.WithoutCancel(ctx), ids)
		return storage.DocumentRecord{}, false, fmt.Errorf("completing document %d: %w", id, err)
	}

	if p.uploads != nil {
		p.uploads.ChunksUploaded(len(ids))
	}
	p.recorder.Record(ctx, analytics.EventPDFUpload, map[string]any{
		"document_id": id,
		"file_name":   fileName,
		"pages":       pages,
		"chunks":      len(ids),
	})

	doc, err := p.store.GetDocument(id)
	if err != nil {
		return storage.DocumentRecord{}, false, fmt.Errorf("loading document %d: %w", id, err)
	}
	return doc, false, nil
}

// uploadChunks uploads every chunk with bounded concurrency and returns the
// file ids in chunk order. On failure, chunks already uploaded are deleted.
func (p *Pipeline) uploadChunks(ctx context.Context, fileName string, chunks []pdfsplit.Chunk) ([]string, error) {
	ids := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.UploadConcurrency)

	base := strings.TrimSuffix(fileName, ".pdf")
	for i, c := range chunks {
		g.Go(func() error {
			name := fmt.Sprintf("%s_pages_%s.pdf", base, c.Label())
			id, err := p.model.Upload(gctx, name, c.Data)
			if err != nil {
				return fmt.Errorf("pages %s: %w", c.Label(), err)
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.cleanup(context.WithoutCancel(ctx), ids)
		return nil, err
	}
	return ids, nil
}

func (p *Pipeline) cleanup(ctx context.Context, ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := p.model.DeleteFile(ctx, id); err != nil {
			p.logger.Warn("failed to delete uploaded chunk", "file_id", id, "error", err)
		}
	}
}

// chunkRef ties an uploaded file to its page range.
type chunkRef struct {
	fileID string
	label  string
}

func chunkRefs(doc storage.DocumentRecord) []chunkRef {
	ranges := pdfsplit.Ranges(doc.PageCount, doc.ChunkPages)
	refs := make([]chunkRef, len(doc.ExternalIDs))
	for i, id := range doc.ExternalIDs {
		label := fmt.Sprintf("chunk %d", i+1)
		if len(ranges) == len(doc.ExternalIDs) {
			label = fmt.Sprintf("%d-%d", ranges[i][0], ranges[i][1])
		}
		refs[i] = chunkRef{fileID: id, label: label}
	}
	return refs
}

type chunkAnswer struct {
	ref    chunkRef
	text   string
	err    error
	input  int
	output int
}

// askChunks asks the same question of every chunk in order, pacing calls
// with the configured interval. Per-chunk failures are kept with the chunk;
// the error return is set only when ctx ends or every chunk failed.
func (p *Pipeline) askChunks(ctx context.Context, refs []chunkRef, question string) ([]chunkAnswer, error) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if p.cfg.ChunkInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(p.cfg.ChunkInterval), 1)
	}

	answers := make([]chunkAnswer, 0, len(refs))
	failed := 0
	var firstErr error
	for _, ref := range refs {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := p.model.Query(ctx, llm.Request{
			Input:   documentQuestion(question),
			FileIDs: []string{ref.fileID},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("chunk question failed", "pages", ref.label, "error", err)
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
		answers = append(answers, chunkAnswer{
			ref:    ref,
			text:   resp.Text,
			err:    err,
			input:  resp.InputTokens,
			output: resp.OutputTokens,
		})
	}
	if len(refs) > 0 && failed == len(refs) {
		return nil, mapModelErr(firstErr)
	}
	return answers, nil
}

func (p *Pipeline) answer(ctx context.Context, doc storage.DocumentRecord, question string) (Result, error) {
	refs := chunkRefs(doc)
	if len(refs) == 0 {
		return Result{}, fmt.Errorf("%w: document %d has no uploaded chunks", research.ErrInvalidInput, doc.ID)
	}

	answers, err := p.askChunks(ctx, refs, question)
	if err != nil {
		return Result{}, fmt.Errorf("asking %s: %w", doc.FileName, err)
	}

	sections, in, out := sectionsFrom(answers, "")
	text, err := report.Compose(doc.FileName, sections)
	if err != nil {
		return Result{}, err
	}

	qaID, err := p.store.AppendQA(storage.QAInput{
		DocumentID:     doc.ID,
		Question:       strings.TrimSpace(question),
		Answer:         text,
		QueryTokens:    in,
		ResponseTokens: out,
	})
	if err != nil {
		return Result{Document: doc, Answer: text, InputTokens: in, OutputTokens: out},
			fmt.Errorf("logging answer: %w", err)
	}

	p.recorder.Record(ctx, analytics.EventPDFQuery, map[string]any{
		"document_id": doc.ID,
		"file_name":   doc.FileName,
		"question":    strings.TrimSpace(question),
		"chunks":      len(refs),
	})

	return Result{
		Document:     doc,
		Answer:       text,
		QAID:         qaID,
		InputTokens:  in,
		OutputTokens: out,
	}, nil
}

func sectionsFrom(answers []chunkAnswer, prefix string) ([]report.Section, int, int) {
	sections := make([]report.Section, 0, len(answers))
	var in, out int
	for _, a := range answers {
		in += a.input
		out += a.output
		heading := "Pages " + a.ref.label
		if strings.HasPrefix(a.ref.label, "chunk") {
			heading = strings.ToUpper(a.ref.label[:1]) + a.ref.label[1:]
		}
		if prefix != "" {
			heading = prefix + ", " + heading
		}
		body := strings.TrimSpace(a.text)
		switch {
		case a.err != nil:
			body = fmt.Sprintf("_Error: %v_", a.err)
		case body == "" || strings.Contains(strings.ToLower(body), noRelevantContent):
			body = "_No relevant content in these pages._"
		}
		sections = append(sections, report.Section{Heading: heading, Body: body})
	}
	return sections, in, out
}

func documentQuestion(question string) string {
	return "You are a market analyst. Answer only from the attached PDF content. " +
		"Prefer a Markdown table for figures such as CAGR, market size, top companies, segmentation or trends. " +
		"If the content holds nothing relevant, reply exactly: " + noRelevantContent + ".\n\n" +
		"Question: " + strings.TrimSpace(question)
}

// mapModelErr marks throttling and open breakers as temporary unavailability.
func mapModelErr(err error) error {
	if errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", research.ErrUnavailable, err)
	}
	return err
}
