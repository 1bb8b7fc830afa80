package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/analytics"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/research"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Markets   MarketService
	Documents DocumentService
	Store     *storage.Store
	Version   string
}

// mcpSession tags usage events from MCP clients.
const mcpSession = "mcp"

// NewMCPServer creates an MCP server with the market tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"analyst",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("Market analyst: cached market sizing, sub-market breakdowns, M&A searches and questions over uploaded PDF reports."),
		server.WithRecovery(),
	)

	kinds := make([]string, len(storage.QueryKinds))
	for i, k := range storage.QueryKinds {
		kinds[i] = string(k)
	}

	s.AddTool(
		mcp.NewTool("market_report",
			mcp.WithDescription("Market report for a market or sub-market as Markdown tables with sources. Results are cached for a day."),
			mcp.WithString("subject", mcp.Description("Market or sub-market name, e.g. Plastics or Plastics in Automotive"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("Report kind"), mcp.Enum(kinds...), mcp.Required()),
			mcp.WithBoolean("refresh", mcp.Description("Bypass the cache")),
		),
		mcpMarketReport(deps),
	)

	s.AddTool(
		mcp.NewTool("market_mergers",
			mcp.WithDescription("Search mergers and acquisitions in a market during a timeframe."),
			mcp.WithString("subject", mcp.Description("Market name"), mcp.Required()),
			mcp.WithString("timeframe", mcp.Description("Timeframe, e.g. 2023 or last 5 years"), mcp.Required()),
		),
		mcpMergers(deps),
	)

	s.AddTool(
		mcp.NewTool("document_question",
			mcp.WithDescription("Ask a question about a processed PDF report. The answer has one section per page range."),
			mcp.WithNumber("document_id", mcp.Description("Document id from analyst://documents"), mcp.Required()),
			mcp.WithString("question", mcp.Description("Question to answer from the document"), mcp.Required()),
		),
		mcpDocumentQuestion(deps),
	)

	s.AddTool(
		mcp.NewTool("popular_markets",
			mcp.WithDescription("Most analysed markets in a trailing window."),
			mcp.WithNumber("days", mcp.Description("Window in days (default 7)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpPopular(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"analyst://history",
			"Analysis History",
			mcp.WithResourceDescription("Markets with live cached results, most recent first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"analyst://documents",
			"Processed Documents",
			mcp.WithResourceDescription("Processed PDF reports with question counts and the latest questions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	return s
}

func mcpMarketReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		subject, err := req.RequireString("subject")
		if err != nil {
			return mcpError("subject is required"), nil
		}
		kind, err := req.RequireString("kind")
		if err != nil {
			return mcpError("kind is required"), nil
		}

		ctx = analytics.WithSession(ctx, mcpSession)
		res, err := deps.Markets.Report(ctx, storage.QueryKind(kind), subject,
			research.Options{Refresh: req.GetBool("refresh", false)})
		if err != nil {
			return mcpError(fmt.Sprintf("report failed: %v", err)), nil
		}
		return mcpText(res.Payload), nil
	}
}

func mcpMergers(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		subject, err := req.RequireString("subject")
		if err != nil {
			return mcpError("subject is required"), nil
		}
		timeframe, err := req.RequireString("timeframe")
		if err != nil {
			return mcpError("timeframe is required"), nil
		}

		res, err := deps.Markets.Mergers(analytics.WithSession(ctx, mcpSession), subject, timeframe)
		if err != nil && res.Payload == "" {
			return mcpError(fmt.Sprintf("M&A search failed: %v", err)), nil
		}
		return mcpText(res.Payload), nil
	}
}

func mcpDocumentQuestion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("document_id")
		if err != nil || id <= 0 {
			return mcpError("document_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		res, err := deps.Documents.Ask(analytics.WithSession(ctx, mcpSession), int64(id), question)
		if err != nil {
			return mcpError(fmt.Sprintf("question failed: %v", err)), nil
		}
		return mcpText(res.Answer), nil
	}
}

func mcpPopular(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		days := req.GetInt("days", 7)
		if days <= 0 {
			days = 7
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		popular, err := deps.Store.PopularSubjects(analytics.EventMarketAnalysis, time.Duration(days)*24*time.Hour, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("popular markets failed: %v", err)), nil
		}
		out := make([]PopularSubject, len(popular))
		for i, p := range popular {
			out[i] = PopularSubject{Subject: p.Subject, Count: p.Count, LastSeen: p.LastSeen}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Store.CacheHistory(50)
		if err != nil {
			return nil, fmt.Errorf("failed to get history: %w", err)
		}
		out := make([]HistoryEntry, len(entries))
		for i, e := range entries {
			out[i] = HistoryEntry{Subject: e.Subject, Kind: string(e.Kind), CreatedAt: e.CreatedAt}
		}
		return jsonResource(req.Params.URI, out)
	}
}

func mcpResourceDocuments(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions, err := deps.Store.ListDocumentSessions(20)
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}

		type documentSummary struct {
			ID           int64  `json:"id"`
			FileName     string `json:"file_name"`
			Pages        int    `json:"pages"`
			QACount      int    `json:"qa_count"`
			LastQuestion string `json:"last_question,omitempty"`
		}

		summaries := make([]documentSummary, len(sessions))
		for i, s := range sessions {
			name := s.Document.FileName
			if utf8.RuneCountInString(name) > 200 {
				name = string([]rune(name)[:200]) + "..."
			}
			summaries[i] = documentSummary{
				ID:       s.Document.ID,
				FileName: name,
				Pages:    s.Document.PageCount,
				QACount:  s.QACount,
			}
			if s.LastQuestion != nil {
				summaries[i].LastQuestion = s.LastQuestion.Format(time.RFC3339)
			}
		}
		return jsonResource(req.Params.URI, summaries)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
