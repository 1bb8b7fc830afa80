package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/analytics"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/report"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/research"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/storage"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func handleMarketReport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := storage.QueryKind(chi.URLParam(r, "kind"))
		res, err := deps.Markets.Report(r.Context(), kind, r.URL.Query().Get("subject"),
			research.Options{Refresh: parseBoolParam(r, "refresh")})
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, marketResult(res))
	}
}

func handleAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimSpace(r.URL.Query().Get("subject"))
		a, err := deps.Markets.FullAnalysis(r.Context(), subject, research.Options{Refresh: parseBoolParam(r, "refresh")})
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, AnalysisResponse{
			Subject:    subject,
			Global:     marketResult(a.Global),
			Vertical:   marketResult(a.Vertical),
			Horizontal: marketResult(a.Horizontal),
		})
	}
}

func handleSubMarkets(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimSpace(r.URL.Query().Get("subject"))
		kind := storage.QueryKind(r.URL.Query().Get("kind"))
		if kind == "" {
			kind = storage.KindVertical
		}
		names, err := deps.Markets.SubMarkets(r.Context(), subject, kind, research.Options{})
		if err != nil {
			serviceError(w, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, SubMarketsResponse{Subject: subject, Kind: string(kind), SubMarkets: names})
	}
}

// handleExport writes the global, vertical and horizontal tables of a market
// to a workbook, one sheet per view.
func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimSpace(r.URL.Query().Get("subject"))
		a, err := deps.Markets.FullAnalysis(r.Context(), subject, research.Options{})
		if err != nil {
			serviceError(w, err)
			return
		}

		var sheets []report.Sheet
		for _, res := range []research.Result{a.Global, a.Vertical, a.Horizontal} {
			tables := report.ParseTables(res.Payload)
			if len(tables) == 0 {
				continue
			}
			sheets = append(sheets, report.Sheet{Name: string(res.Kind), Tables: tables})
		}
		if len(sheets) == 0 {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "no tables found in the %s analysis", subject)
			return
		}

		var buf bytes.Buffer
		if err := report.WriteXLSX(&buf, sheets); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "building workbook: %v", err)
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFileName(subject)))
		w.Write(buf.Bytes())
	}
}

func exportFileName(subject string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, subject)
	if name == "" {
		name = "market"
	}
	return name + "_analysis.xlsx"
}

func handleMergers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MergersRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := deps.Markets.Mergers(r.Context(), req.Subject, req.Timeframe)
		if err != nil && res.Payload == "" {
			serviceError(w, err)
			return
		}
		if err != nil {
			// The search ran but was not logged; the answer is still useful.
			w.Header().Set("Warning", `199 - "search not saved"`)
		}
		writeJSON(w, MergersResponse{
			ID:        res.SearchID,
			Subject:   res.Subject,
			Timeframe: res.Timeframe,
			Payload:   res.Payload,
			DealCount: res.DealCount,
		})
	}
}

func handleRecentMergers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		searches, err := deps.Store.RecentMASearches(parseIntParam(r, "limit", 20, 100))
		if err != nil {
			serviceError(w, err)
			return
		}
		out := make([]MergersResponse, len(searches))
		for i, s := range searches {
			out[i] = MergersResponse{
				ID:        s.ID,
				Subject:   s.Subject,
				Timeframe: s.Timeframe,
				Payload:   s.Payload,
				DealCount: s.DealCount,
				CreatedAt: s.CreatedAt,
			}
		}
		writeJSON(w, out)
	}
}

func handleInsights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InsightsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		text, err := deps.Markets.WebInsights(r.Context(), req.Prompt)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, InsightsResponse{Prompt: strings.TrimSpace(req.Prompt), Insights: text})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Store.CacheHistory(parseIntParam(r, "limit", 50, 500))
		if err != nil {
			serviceError(w, err)
			return
		}
		out := make([]HistoryEntry, len(entries))
		for i, e := range entries {
			out[i] = HistoryEntry{Subject: e.Subject, Kind: string(e.Kind), CreatedAt: e.CreatedAt}
		}
		writeJSON(w, out)
	}
}

func handlePopular(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := parseIntParam(r, "days", 7, 365)
		if days == 0 {
			days = 7
		}
		eventType := r.URL.Query().Get("event_type")
		if eventType == "" {
			eventType = analytics.EventMarketAnalysis
		}
		popular, err := deps.Store.PopularSubjects(eventType, time.Duration(days)*24*time.Hour, parseIntParam(r, "limit", 10, 100))
		if err != nil {
			serviceError(w, err)
			return
		}
		out := make([]PopularSubject, len(popular))
		for i, p := range popular {
			out[i] = PopularSubject{Subject: p.Subject, Count: p.Count, LastSeen: p.LastSeen}
		}
		writeJSON(w, out)
	}
}

func handleSweep(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Sweeper == nil {
			httpError(w, http.StatusNotFound, "not_found", "cache sweeping is not enabled")
			return
		}
		n, err := deps.Sweeper.RunOnce(r.Context())
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, SweepResponse{Removed: n})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Store.Stats()
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, StatsResponse{Tables: st.Tables, SizeBytes: st.SizeBytes})
	}
}
