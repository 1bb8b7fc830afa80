package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/ingest"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/research"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadSize      = 64 << 20 // 64MB
)

// MarketService answers market research queries.
type MarketService interface {
	Report(ctx context.Context, kind storage.QueryKind, subject string, opts research.Options) (research.Result, error)
	FullAnalysis(ctx context.Context, market string, opts research.Options) (research.Analysis, error)
	SubMarkets(ctx context.Context, market string, kind storage.QueryKind, opts research.Options) ([]string, error)
	Mergers(ctx context.Context, market, timeframe string) (research.MergerResult, error)
	WebInsights(ctx context.Context, prompt string) (string, error)
}

// DocumentService ingests and questions PDF reports.
type DocumentService interface {
	Process(ctx context.Context, fileName string, data []byte, question string) (ingest.Result, error)
	Ask(ctx context.Context, documentID int64, question string) (ingest.Result, error)
	Compare(ctx context.Context, documentIDs []int64, prompt string, webSearch bool) (ingest.Comparison, error)
}

// Sweeper removes expired cache entries on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (int64, error)
}

// Instrumentation wraps handlers and exposes collected metrics.
type Instrumentation interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

type Deps struct {
	Markets   MarketService
	Documents DocumentService
	Store     *storage.Store
	Sweeper   Sweeper         // optional; POST /v1/cache/sweep returns 404 without it
	Metrics   Instrumentation // optional
	Token     string
}

// NewHandler returns the HTTP API. /health and /metrics are public; every
// /v1 route requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(Session)

		r.Get("/markets/analysis", handleAnalysis(deps))
		r.Get("/markets/submarkets", handleSubMarkets(deps))
		r.Get("/markets/export", handleExport(deps))
		r.Get("/markets/{kind}", handleMarketReport(deps))
		r.Post("/mergers", handleMergers(deps))
		r.Get("/mergers", handleRecentMergers(deps))
		r.Post("/insights", handleInsights(deps))

		r.Post("/documents", handleUploadDocument(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Post("/documents/{id}/questions", handleAskDocument(deps))
		r.Get("/documents/{id}/questions", handleListQuestions(deps))
		r.Post("/comparisons", handleCompare(deps))

		r.Get("/history", handleHistory(deps))
		r.Get("/popular", handlePopular(deps))
		r.Post("/cache/sweep", handleSweep(deps))
		r.Get("/stats", handleStats(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// serviceError maps a domain error onto a status code and error type.
func serviceError(w http.ResponseWriter, err error) {
	var storeErr *storage.Error
	switch {
	case errors.Is(err, research.ErrInvalidInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, storage.ErrInvalidTransition):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, research.ErrUnavailable):
		w.Header().Set("Retry-After", "30")
		httpError(w, http.StatusServiceUnavailable, "service_unavailable", "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "timeout", "%v", err)
	case errors.Is(err, context.Canceled):
		// The client is gone; nothing useful can be written.
		slog.Debug("request canceled", "error", err)
	case errors.As(err, &storeErr):
		slog.Error("storage failure", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "storage failure: %v", err)
	default:
		httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseBoolParam(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid document id %q", chi.URLParam(r, "id"))
		return 0, false
	}
	return id, true
}
