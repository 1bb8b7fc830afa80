package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/analytics"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/llm"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/storage"
)

type fakeModel struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    func(req llm.Request) (llm.Response, error)
}

func (f *fakeModel) Query(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(req)
	}
	return llm.Response{Text: "| Metric | Value |\n|---|---|\n| Size | 1 |", InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, model llm.Querier, opts ...Option) (*Service, *storage.Store, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := storage.Open(t.TempDir(), storage.WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts = append([]Option{WithRecorder(analytics.NewRecorder(store, nil))}, opts...)
	return NewService(store, model, opts...), store, c
}

func TestReport_CacheHitSkipsModel(t *testing.T) {
	model := &fakeModel{}
	svc, _, _ := newTestService(t, model)
	ctx := context.Background()

	first, err := svc.GlobalMetrics(ctx, "Steel", Options{})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, model.calls())

	second, err := svc.GlobalMetrics(ctx, "Steel", Options{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, 1, model.calls(), "cache hit must not call the model")
}

func TestReport_ExpiredEntryRequeries(t *testing.T) {
	model := &fakeModel{}
	svc, _, c := newTestService(t, model, WithTTL(24*time.Hour))
	ctx := context.Background()

	_, err := svc.Verticals(ctx, "Plastics", Options{})
	require.NoError(t, err)

	c.Advance(25 * time.Hour)
	res, err := svc.Verticals(ctx, "Plastics", Options{})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, model.calls())
	require.NotNil(t, res.ExpiresAt)
	assert.True(t, res.ExpiresAt.Equal(c.Now().Add(24*time.Hour)), "expires_at = %v", *res.ExpiresAt)
}

func TestReport_RefreshBypassesCache(t *testing.T) {
	n := 0
	model := &fakeModel{reply: func(llm.Request) (llm.Response, error) {
		n++
		return llm.Response{Text: strings.Repeat("x", n)}, nil
	}}
	svc, store, _ := newTestService(t, model)
	ctx := context.Background()

	_, err := svc.Companies(ctx, "Plastics in Automotive", Options{})
	require.NoError(t, err)
	res, err := svc.Companies(ctx, "Plastics in Automotive", Options{Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, "xx", res.Payload)

	entry, err := store.GetCached("Plastics in Automotive", storage.KindCompanies, nil)
	require.NoError(t, err)
	assert.Equal(t, "xx", entry.Payload, "refresh replaces the cached entry")
}

func TestReport_BuildsKindSpecificRequests(t *testing.T) {
	model := &fakeModel{}
	svc, _, _ := newTestService(t, model)
	ctx := context.Background()

	_, err := svc.Horizontals(ctx, "Plastics", Options{})
	require.NoError(t, err)
	_, err = svc.Metrics(ctx, "Plastics in Automotive", Options{})
	require.NoError(t, err)
	_, err = svc.Companies(ctx, "Plastics in Packaging", Options{})
	require.NoError(t, err)

	require.Len(t, model.requests, 3)
	assert.Contains(t, model.requests[0].Instructions, "Plastics sector")
	assert.Equal(t, "Plastics", model.requests[0].Input)
	assert.Contains(t, model.requests[1].Input, "'Plastics in Automotive'")
	require.NotNil(t, model.requests[2].Temperature)
	assert.Equal(t, 0.3, *model.requests[2].Temperature)
	for _, r := range model.requests {
		assert.True(t, r.WebSearch)
	}
}

func TestReport_InvalidInput(t *testing.T) {
	model := &fakeModel{}
	svc, _, _ := newTestService(t, model)

	_, err := svc.GlobalMetrics(context.Background(), "   ", Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Report(context.Background(), storage.QueryKind("mystery"), "Steel", Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, model.calls())
}

func TestReport_RateLimitedIsUnavailable(t *testing.T) {
	model := &fakeModel{reply: func(llm.Request) (llm.Response, error) {
		return llm.Response{}, &llm.RateLimitError{Err: errors.New("429")}
	}}
	svc, store, _ := newTestService(t, model)

	_, err := svc.GlobalMetrics(context.Background(), "Steel", Options{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, llm.ErrRateLimited)

	_, err = store.GetCached("Steel", storage.KindGlobal, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound, "failures are never cached")
}

func TestReport_PermanentFailure(t *testing.T) {
	errBad := errors.New("400 bad request")
	model := &fakeModel{reply: func(llm.Request) (llm.Response, error) { return llm.Response{}, errBad }}
	svc, _, _ := newTestService(t, model)

	_, err := svc.Verticals(context.Background(), "Steel", Options{})
	assert.ErrorIs(t, err, errBad)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestReport_RecordsUsage(t *testing.T) {
	svc, store, _ := newTestService(t, &fakeModel{})
	ctx := analytics.WithSession(context.Background(), "sess-1")

	_, err := svc.GlobalMetrics(ctx, "Steel", Options{})
	require.NoError(t, err)
	_, err = svc.GlobalMetrics(ctx, "Steel", Options{})
	require.NoError(t, err)

	events, err := store.RecentEvents(analytics.EventMarketAnalysis, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "sess-1", events[0].SessionID)
	assert.Contains(t, events[0].Data, `"cached":true`)
	assert.Contains(t, events[1].Data, `"cached":false`)

	popular, err := store.PopularSubjects(analytics.EventMarketAnalysis, time.Hour, 5)
	require.NoError(t, err)
	require.Len(t, popular, 1)
	assert.Equal(t, "Steel", popular[0].Subject)
}

type failingPutStore struct {
	*storage.Store
}

func (failingPutStore) PutCached(storage.CachePut) (storage.CacheEntry, error) {
	return storage.CacheEntry{}, &storage.Error{Op: "put cached", Err: errors.New("disk full")}
}

func TestReport_PutFailureReturnsResult(t *testing.T) {
	_, store, _ := newTestService(t, &fakeModel{})
	svc := NewService(failingPutStore{store}, &fakeModel{})

	res, err := svc.GlobalMetrics(context.Background(), "Steel", Options{})
	require.Error(t, err)
	var se *storage.Error
	assert.ErrorAs(t, err, &se)
	assert.NotEmpty(t, res.Payload, "the model answer is still returned")
}

type failingGetStore struct {
	*storage.Store
}

func (failingGetStore) GetCached(string, storage.QueryKind, map[string]any) (storage.CacheEntry, error) {
	return storage.CacheEntry{}, &storage.Error{Op: "get cache entry", Err: errors.New("disk I/O error")}
}

func TestReport_CacheReadFailureQueriesModel(t *testing.T) {
	_, store, _ := newTestService(t, &fakeModel{})
	model := &fakeModel{}
	svc := NewService(failingGetStore{store}, model)

	res, err := svc.GlobalMetrics(context.Background(), "Steel", Options{})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.NotEmpty(t, res.Payload)
	assert.Equal(t, 1, model.calls())

	entry, err := store.GetCached("Steel", storage.KindGlobal, nil)
	require.NoError(t, err)
	assert.Equal(t, res.Payload, entry.Payload, "the fresh answer is still cached")
}

func TestReport_InvalidUTF8Subject(t *testing.T) {
	model := &fakeModel{}
	svc, _, _ := newTestService(t, model)

	_, err := svc.Metrics(context.Background(), "Plastics \xff", Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, model.calls())
}

func TestFullAnalysis(t *testing.T) {
	model := &fakeModel{}
	svc, store, _ := newTestService(t, model)

	a, err := svc.FullAnalysis(context.Background(), "Steel", Options{})
	require.NoError(t, err)
	assert.Equal(t, storage.KindGlobal, a.Global.Kind)
	assert.Equal(t, storage.KindVertical, a.Vertical.Kind)
	assert.Equal(t, storage.KindHorizontal, a.Horizontal.Kind)
	assert.Equal(t, 3, model.calls())

	complete, err := store.CompleteAnalysis("Steel")
	require.NoError(t, err)
	assert.Len(t, complete, 3)
}

func TestSubMarkets(t *testing.T) {
	model := &fakeModel{reply: func(llm.Request) (llm.Response, error) {
		return llm.Response{Text: "| Sub-market | Source |\n|---|---|\n| Automotive | [a](https://a) |\n| Packaging | [b](https://b) |"}, nil
	}}
	svc, _, _ := newTestService(t, model)

	names, err := svc.SubMarkets(context.Background(), "Plastics", "", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Automotive", "Packaging"}, names)

	_, err = svc.SubMarkets(context.Background(), "Plastics", storage.KindGlobal, Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMergers_NeverCachedAndLogged(t *testing.T) {
	model := &fakeModel{reply: func(llm.Request) (llm.Response, error) {
		return llm.Response{Text: "| Acquirer | Target |\n|---|---|\n| A | B |\n| C | D |"}, nil
	}}
	svc, store, _ := newTestService(t, model)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := svc.Mergers(ctx, "Plastics", "2023")
		require.NoError(t, err)
		assert.Equal(t, 2, res.DealCount)
		assert.NotZero(t, res.SearchID)
	}
	assert.Equal(t, 2, model.calls(), "mergers are never served from cache")
	assert.Contains(t, model.requests[0].Instructions, `"Plastics" during "2023"`)

	searches, err := store.RecentMASearches(10)
	require.NoError(t, err)
	assert.Len(t, searches, 2)

	events, err := store.RecentEvents(analytics.EventMASearch, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = svc.Mergers(ctx, "Plastics", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestWebInsights(t *testing.T) {
	model := &fakeModel{reply: func(req llm.Request) (llm.Response, error) {
		return llm.Response{Text: "- trend"}, nil
	}}
	svc, _, _ := newTestService(t, model)

	got, err := svc.WebInsights(context.Background(), "steel tariffs 2025")
	require.NoError(t, err)
	assert.Equal(t, "- trend", got)
	assert.Equal(t, insightsInstructions, model.requests[0].Instructions)

	_, err = svc.WebInsights(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
