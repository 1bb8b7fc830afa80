package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/analytics"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/research"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store, *mockDocuments) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	docs := &mockDocuments{}
	return MCPDeps{
		Markets:   research.NewService(store, &mockModel{}, research.WithRecorder(analytics.NewRecorder(store, nil))),
		Documents: docs,
		Store:     store,
	}, store, docs
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestNewMCPServer_RegistersTools(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	s := NewMCPServer(deps)
	for _, name := range []string{"market_report", "market_mergers", "document_question", "popular_markets"} {
		if s.GetTool(name) == nil {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestMCPTool_MarketReport(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	handler := mcpMarketReport(deps)

	result, err := handler(context.Background(), makeCallToolRequest("market_report", map[string]interface{}{
		"subject": "Steel",
		"kind":    "vertical",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "Automotive") {
		t.Errorf("payload = %q", toolText(t, result))
	}

	events, err := store.RecentEvents(analytics.EventMarketAnalysis, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].SessionID != mcpSession {
		t.Errorf("events = %+v", events)
	}
}

func TestMCPTool_MarketReportValidation(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	handler := mcpMarketReport(deps)

	cases := []map[string]interface{}{
		{"kind": "global"},
		{"subject": "Steel"},
		{"subject": "Steel", "kind": "weather"},
	}
	for _, args := range cases {
		result, err := handler(context.Background(), makeCallToolRequest("market_report", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected tool error", args)
		}
	}
}

func TestMCPTool_Mergers(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	handler := mcpMergers(deps)

	result, err := handler(context.Background(), makeCallToolRequest("market_mergers", map[string]interface{}{
		"subject":   "Steel",
		"timeframe": "2024",
	}))
	if err != nil || result.IsError {
		t.Fatalf("unexpected failure: %v", err)
	}

	searches, err := store.RecentMASearches(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(searches) != 1 || searches[0].DealCount != 2 {
		t.Errorf("searches = %+v", searches)
	}
}

func TestMCPTool_DocumentQuestion(t *testing.T) {
	deps, _, docs := newTestMCPDeps(t)
	handler := mcpDocumentQuestion(deps)

	result, err := handler(context.Background(), makeCallToolRequest("document_question", map[string]interface{}{
		"document_id": float64(4),
		"question":    "Who leads?",
	}))
	if err != nil || result.IsError {
		t.Fatalf("unexpected failure: %v", err)
	}
	if got := toolText(t, result); got != "answer: Who leads?" {
		t.Errorf("answer = %q", got)
	}
	if docs.question != "Who leads?" {
		t.Errorf("question = %q", docs.question)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("document_question", map[string]interface{}{
		"question": "Who leads?",
	}))
	if !result.IsError {
		t.Error("missing document_id should be a tool error")
	}
}

func TestMCPTool_PopularMarkets(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	for _, s := range []string{"Steel", "Copper", "Steel"} {
		if err := store.RecordEvent(analytics.EventMarketAnalysis, map[string]any{"subject": s}, ""); err != nil {
			t.Fatal(err)
		}
	}

	result, err := mcpPopular(deps)(context.Background(), makeCallToolRequest("popular_markets", map[string]interface{}{
		"limit": float64(1),
	}))
	if err != nil || result.IsError {
		t.Fatalf("unexpected failure: %v", err)
	}

	var popular []PopularSubject
	if err := json.Unmarshal([]byte(toolText(t, result)), &popular); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(popular) != 1 || popular[0].Subject != "Steel" || popular[0].Count != 2 {
		t.Errorf("popular = %+v", popular)
	}
}

func TestMCPResource_History(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	if _, err := store.PutCached(storage.CachePut{Subject: "Steel", Kind: storage.KindGlobal, Payload: "x", TTL: storage.NoExpiry}); err != nil {
		t.Fatal(err)
	}

	contents, err := mcpResourceHistory(deps)(context.Background(), makeReadResourceRequest("analyst://history"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "analyst://history" || !strings.Contains(tc.Text, `"subject":"Steel"`) {
		t.Errorf("contents = %+v", tc)
	}
}

func TestMCPResource_Documents(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	id, err := store.RegisterDocument(storage.DocumentInput{FileName: "a.pdf", Content: []byte("a"), PageCount: 3, ExternalIDs: []string{"f"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendQA(storage.QAInput{DocumentID: id, Question: "q", Answer: "a"}); err != nil {
		t.Fatal(err)
	}

	contents, err := mcpResourceDocuments(deps)(context.Background(), makeReadResourceRequest("analyst://documents"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)

	var docs []struct {
		ID      int64 `json:"id"`
		Pages   int   `json:"pages"`
		QACount int   `json:"qa_count"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != id || docs[0].Pages != 3 || docs[0].QACount != 1 {
		t.Errorf("documents = %+v", docs)
	}
}
