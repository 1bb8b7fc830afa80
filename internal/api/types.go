package api

import (
	"time"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/ingest"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/research"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/storage"
)

// JSON shapes shared by the HTTP API, the MCP tools and the CLI client.

type MarketResult struct {
	Subject   string     `json:"subject"`
	Kind      string     `json:"kind"`
	Payload   string     `json:"payload"`
	Cached    bool       `json:"cached"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type AnalysisResponse struct {
	Subject    string       `json:"subject"`
	Global     MarketResult `json:"global"`
	Vertical   MarketResult `json:"vertical"`
	Horizontal MarketResult `json:"horizontal"`
}

type SubMarketsResponse struct {
	Subject    string   `json:"subject"`
	Kind       string   `json:"kind"`
	SubMarkets []string `json:"submarkets"`
}

type MergersRequest struct {
	Subject   string `json:"subject"`
	Timeframe string `json:"timeframe"`
}

type MergersResponse struct {
	ID        int64     `json:"id"`
	Subject   string    `json:"subject"`
	Timeframe string    `json:"timeframe"`
	Payload   string    `json:"payload"`
	DealCount int       `json:"deal_count"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type InsightsRequest struct {
	Prompt string `json:"prompt"`
}

type InsightsResponse struct {
	Prompt   string `json:"prompt"`
	Insights string `json:"insights"`
}

type Document struct {
	ID          int64     `json:"id"`
	FileName    string    `json:"file_name"`
	ContentHash string    `json:"content_hash"`
	ByteSize    int64     `json:"byte_size"`
	PageCount   int       `json:"page_count"`
	ChunkCount  int       `json:"chunk_count"`
	ChunkPages  int       `json:"chunk_pages"`
	Status      string    `json:"status"`
	ErrorReason string    `json:"error_reason,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

type DocumentSummary struct {
	Document
	QACount      int        `json:"qa_count"`
	LastQuestion *time.Time `json:"last_question,omitempty"`
}

type QAEntry struct {
	ID             int64     `json:"id"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	QueryTokens    int       `json:"query_tokens"`
	ResponseTokens int       `json:"response_tokens"`
	CostEstimate   float64   `json:"cost_estimate"`
	CreatedAt      time.Time `json:"created_at"`
}

type SessionResponse struct {
	Document Document  `json:"document"`
	History  []QAEntry `json:"history"`
}

type DocumentAnswer struct {
	Document     Document `json:"document"`
	Reused       bool     `json:"reused"`
	QAID         int64    `json:"qa_id,omitempty"`
	Answer       string   `json:"answer,omitempty"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
}

type QuestionRequest struct {
	Question string `json:"question"`
}

type ComparisonRequest struct {
	DocumentIDs []int64 `json:"document_ids"`
	Prompt      string  `json:"prompt"`
	WebSearch   bool    `json:"web_search"`
}

type ComparisonResponse struct {
	ID          int64   `json:"id"`
	DocumentIDs []int64 `json:"document_ids"`
	Report      string  `json:"report"`
	WebInsights string  `json:"web_insights,omitempty"`
}

type HistoryEntry struct {
	Subject   string    `json:"subject"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

type PopularSubject struct {
	Subject  string    `json:"subject"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

type SweepResponse struct {
	Removed int64 `json:"removed"`
}

type StatsResponse struct {
	Tables    map[string]int64 `json:"tables"`
	SizeBytes int64            `json:"size_bytes"`
}

func marketResult(r research.Result) MarketResult {
	return MarketResult{
		Subject:   r.Subject,
		Kind:      string(r.Kind),
		Payload:   r.Payload,
		Cached:    r.Cached,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

func documentFrom(d storage.DocumentRecord) Document {
	return Document{
		ID:          d.ID,
		FileName:    d.FileName,
		ContentHash: d.ContentHash,
		ByteSize:    d.ByteSize,
		PageCount:   d.PageCount,
		ChunkCount:  d.ChunkCount,
		ChunkPages:  d.ChunkPages,
		Status:      string(d.Status),
		ErrorReason: d.ErrorReason,
		ProcessedAt: d.ProcessedAt,
	}
}

func qaEntries(entries []storage.QAEntry) []QAEntry {
	out := make([]QAEntry, len(entries))
	for i, e := range entries {
		out[i] = QAEntry{
			ID:             e.ID,
			Question:       e.Question,
			Answer:         e.Answer,
			QueryTokens:    e.QueryTokens,
			ResponseTokens: e.ResponseTokens,
			CostEstimate:   e.CostEstimate,
			CreatedAt:      e.CreatedAt,
		}
	}
	return out
}

func documentAnswer(r ingest.Result) DocumentAnswer {
	return DocumentAnswer{
		Document:     documentFrom(r.Document),
		Reused:       r.Reused,
		QAID:         r.QAID,
		Answer:       r.Answer,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
	}
}
