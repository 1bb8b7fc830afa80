// Package research answers market questions through the hosted model, with
// results kept in the result cache.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/analytics"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/llm"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/report"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/storage"
)

// DefaultTTL is how long a market result stays fresh.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInvalidInput is returned before any model call for unusable input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable is returned when the model service keeps rate-limiting
	// or its circuit breaker is open.
	ErrUnavailable = errors.New("market research temporarily unavailable")
)

// Store is the persistence the service needs.
type Store interface {
	GetCached(subject string, kind storage.QueryKind, params map[string]any) (storage.CacheEntry, error)
	PutCached(p storage.CachePut) (storage.CacheEntry, error)
	SaveMASearch(subject, timeframe, payload string, dealCount int) (int64, error)
}

// LookupObserver is told about every cache lookup.
type LookupObserver interface {
	CacheLookup(kind string, hit bool)
}

// Options tune a single query.
type Options struct {
	Refresh bool // skip the cache read; the fresh result still replaces the entry
}

// Result is one market answer.
type Result struct {
	Subject   string
	Kind      storage.QueryKind
	Payload   string
	Cached    bool
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Analysis groups the three market-level views.
type Analysis struct {
	Global     Result
	Vertical   Result
	Horizontal Result
}

// MergerResult is one M&A search.
type MergerResult struct {
	SearchID  int64
	Subject   string
	Timeframe string
	Payload   string
	DealCount int
}

// Service runs market queries.
type Service struct {
	store    Store
	model    llm.Querier
	recorder *analytics.Recorder
	lookups  LookupObserver
	ttl      time.Duration
	source   string
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the cache lifetime of market results. Zero or negative
// stores results without expiry.
func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithRecorder records usage events for every successful query.
func WithRecorder(r *analytics.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLookupObserver reports cache hits and misses.
func WithLookupObserver(o LookupObserver) Option {
	return func(s *Service) { s.lookups = o }
}

// WithSource sets the provenance stored with cached results.
func WithSource(source string) Option {
	return func(s *Service) { s.source = source }
}

// NewService creates a Service.
func NewService(store Store, model llm.Querier, opts ...Option) *Service {
	s := &Service{
		store:  store,
		model:  model,
		ttl:    DefaultTTL,
		source: "web_search",
		logger: slog.Default().With("component", "research"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GlobalMetrics returns historical and projected global revenue and CAGR.
func (s *Service) GlobalMetrics(ctx context.Context, market string, opts Options) (Result, error) {
	return s.Report(ctx, storage.KindGlobal, market, opts)
}

// Verticals returns the end-use sub-markets of a market.
func (s *Service) Verticals(ctx context.Context, market string, opts Options) (Result, error) {
	return s.Report(ctx, storage.KindVertical, market, opts)
}

// Horizontals returns the cross-vertical players of a market.
func (s *Service) Horizontals(ctx context.Context, market string, opts Options) (Result, error) {
	return s.Report(ctx, storage.KindHorizontal, market, opts)
}

// Metrics returns size, CAGR and forecast years of a sub-market.
func (s *Service) Metrics(ctx context.Context, submarket string, opts Options) (Result, error) {
	return s.Report(ctx, storage.KindMetrics, submarket, opts)
}

// Companies returns the leading companies of a sub-market.
func (s *Service) Companies(ctx context.Context, submarket string, opts Options) (Result, error) {
	return s.Report(ctx, storage.KindCompanies, submarket, opts)
}

// Report answers one cacheable query. A cache hit never calls the model. A
// miss, or a cache read that fails, goes to the model; the answer is stored
// with the configured TTL and if that write fails the answer is still
// returned together with the storage error.
func (s *Service) Report(ctx context.Context, kind storage.QueryKind, subject string, opts Options) (Result, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Result{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if !utf8.ValidString(subject) {
		return Result{}, fmt.Errorf("%w: subject is not valid UTF-8", ErrInvalidInput)
	}
	if !kind.Valid() {
		return Result{}, fmt.Errorf("%w: unsupported query kind %q", ErrInvalidInput, kind)
	}

	if !opts.Refresh {
		entry, err := s.store.GetCached(subject, kind, nil)
		switch {
		case err == nil:
			s.observeLookup(kind, true)
			s.record(ctx, subject, kind, true)
			return resultFromEntry(entry, true), nil
		case errors.Is(err, storage.ErrNotFound):
			s.observeLookup(kind, false)
		default:
			s.observeLookup(kind, false)
			s.logger.Warn("reading cache failed, querying model", "subject", subject, "kind", kind, "error", err)
		}
	}

	resp, err := s.ask(ctx, string(kind), requestFor(kind, subject))
	if err != nil {
		return Result{}, err
	}

	res := Result{Subject: subject, Kind: kind, Payload: resp.Text}
	entry, err := s.store.PutCached(storage.CachePut{
		Subject: subject,
		Kind:    kind,
		Payload: resp.Text,
		Source:  s.source,
		TTL:     s.ttl,
	})
	if err != nil {
		s.logger.Warn("caching result failed", "subject", subject, "kind", kind, "error", err)
		return res, fmt.Errorf("caching %s/%s: %w", subject, kind, err)
	}
	s.record(ctx, subject, kind, false)
	return resultFromEntry(entry, false), nil
}

// FullAnalysis runs the global, vertical and horizontal queries for one
// market in that order and stops at the first failure.
func (s *Service) FullAnalysis(ctx context.Context, market string, opts Options) (Analysis, error) {
	var a Analysis
	var err error
	if a.Global, err = s.GlobalMetrics(ctx, market, opts); err != nil {
		return a, err
	}
	if a.Vertical, err = s.Verticals(ctx, market, opts); err != nil {
		return a, err
	}
	if a.Horizontal, err = s.Horizontals(ctx, market, opts); err != nil {
		return a, err
	}
	return a, nil
}

// SubMarkets returns the first-column names of the vertical or horizontal
// table for market, for drill-down into Metrics and Companies.
func (s *Service) SubMarkets(ctx context.Context, market string, kind storage.QueryKind, opts Options) ([]string, error) {
	if kind == "" {
		kind = storage.KindVertical
	}
	if kind != storage.KindVertical && kind != storage.KindHorizontal {
		return nil, fmt.Errorf("%w: sub-markets come from vertical or horizontal results, not %q", ErrInvalidInput, kind)
	}
	res, err := s.Report(ctx, kind, market, opts)
	if err != nil {
		return nil, err
	}
	tables := report.ParseTables(res.Payload)
	if len(tables) == 0 {
		return nil, nil
	}
	return tables[0].FirstColumn(), nil
}

// Mergers searches M&A activity. Results are never cached; every call is
// appended to the M&A search log with its deal count.
func (s *Service) Mergers(ctx context.Context, market, timeframe string) (MergerResult, error) {
	market = strings.TrimSpace(market)
	timeframe = strings.TrimSpace(timeframe)
	if market == "" {
		return MergerResult{}, fmt.Errorf("%w: market is required", ErrInvalidInput)
	}
	if timeframe == "" {
		return MergerResult{}, fmt.Errorf("%w: timeframe is required", ErrInvalidInput)
	}

	resp, err := s.ask(ctx, "mergers", llm.Request{
		Input:        market,
		Instructions: mergersPrompt(market, timeframe),
		WebSearch:    true,
	})
	if err != nil {
		return MergerResult{}, err
	}

	res := MergerResult{
		Subject:   market,
		Timeframe: timeframe,
		Payload:   resp.Text,
		DealCount: report.CountRows(resp.Text),
	}
	id, err := s.store.SaveMASearch(market, timeframe, resp.Text, res.DealCount)
	if err != nil {
		return res, fmt.Errorf("saving M&A search: %w", err)
	}
	res.SearchID = id
	s.recorder.Record(ctx, analytics.EventMASearch, map[string]any{
		"subject":    market,
		"timeframe":  timeframe,
		"deal_count": res.DealCount,
	})
	return res, nil
}

// WebInsights answers a free-form research prompt from live web results.
func (s *Service) WebInsights(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	resp, err := s.ask(ctx, "web insights", llm.Request{
		Input:        prompt,
		Instructions: insightsInstructions,
		WebSearch:    true,
	})
	if err != nil {
		return "", err
	}
	s.recorder.Record(ctx, analytics.EventWebInsights, map[string]any{"prompt": prompt})
	return resp.Text, nil
}

func requestFor(kind storage.QueryKind, subject string) llm.Request {
	req := llm.Request{Input: subject, WebSearch: true}
	switch kind {
	case storage.KindGlobal:
		req.Instructions = globalInstructions
	case storage.KindVertical:
		req.Instructions = verticalInstructions
	case storage.KindHorizontal:
		req.Instructions = horizontalPrompt(subject)
	case storage.KindMetrics:
		req.Input = metricsInput(subject)
		req.Instructions = metricsInstructions
	case storage.KindCompanies:
		req.Input = companiesInput(subject)
		req.Instructions = companiesInstructions
		req.Temperature = llm.Float(0.3)
	}
	return req
}

// ask calls the model and maps provider failures onto service errors.
func (s *Service) ask(ctx context.Context, what string, req llm.Request) (llm.Response, error) {
	resp, err := s.model.Query(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrCircuitOpen) {
		return llm.Response{}, fmt.Errorf("%s: %w: %w", what, ErrUnavailable, err)
	}
	return llm.Response{}, fmt.Errorf("%s: %w", what, err)
}

func (s *Service) observeLookup(kind storage.QueryKind, hit bool) {
	if s.lookups != nil {
		s.lookups.CacheLookup(string(kind), hit)
	}
}

func (s *Service) record(ctx context.Context, subject string, kind storage.QueryKind, cached bool) {
	s.recorder.Record(ctx, analytics.EventMarketAnalysis, map[string]any{
		"subject":    subject,
		"query_kind": string(kind),
		"cached":     cached,
	})
}

func resultFromEntry(e storage.CacheEntry, cached bool) Result {
	return Result{
		Subject:   e.Subject,
		Kind:      e.Kind,
		Payload:   e.Payload,
		Cached:    cached,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	}
}
