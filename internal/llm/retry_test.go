package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var fastPolicy = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Step: time.Millisecond}

// scriptedService returns the scripted errors in order, then succeeds.
type scriptedService struct {
	calls  atomic.Int32
	errs   []error
	mu     sync.Mutex
	delete []string
}

func (s *scriptedService) next() error {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) {
		return s.errs[n]
	}
	return nil
}

func (s *scriptedService) Query(ctx context.Context, req Request) (Response, error) {
	if err := s.next(); err != nil {
		return Response{}, err
	}
	return Response{Text: "ok: " + req.Input, InputTokens: 10, OutputTokens: 5}, nil
}

func (s *scriptedService) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if err := s.next(); err != nil {
		return "", err
	}
	return "file-" + name, nil
}

func (s *scriptedService) DeleteFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delete = append(s.delete, fileID)
	return nil
}

func rateLimited() error {
	return &RateLimitError{Err: errors.New("429 Too Many Requests")}
}

type countingObserver struct {
	retries  atomic.Int32
	outcomes sync.Map
	tokensIn atomic.Int64
}

func (o *countingObserver) ObserveCall(op, outcome string, _ float64) {
	o.outcomes.Store(op, outcome)
}

func (o *countingObserver) ObserveRetry(string) { o.retries.Add(1) }

func (o *countingObserver) ObserveTokens(in, _ int) { o.tokensIn.Add(int64(in)) }

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{3 * time.Second, 5 * time.Second, 7 * time.Second}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestLinearBackOffReset(t *testing.T) {
	b := &linearBackOff{policy: RetryPolicy{InitialDelay: time.Second, Step: time.Second}}
	b.NextBackOff()
	b.NextBackOff()
	b.Reset()
	if got := b.NextBackOff(); got != time.Second {
		t.Errorf("after Reset NextBackOff = %v, want 1s", got)
	}
}

func TestResilient_RetriesRateLimit(t *testing.T) {
	svc := &scriptedService{errs: []error{rateLimited(), rateLimited()}}
	obs := &countingObserver{}
	r := NewResilient(svc, fastPolicy, WithObserver(obs))

	resp, err := r.Query(context.Background(), Request{Input: "Steel"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Text != "ok: Steel" {
		t.Errorf("Text = %q", resp.Text)
	}
	if got := svc.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if got := obs.retries.Load(); got != 2 {
		t.Errorf("retries observed = %d, want 2", got)
	}
	if got := obs.tokensIn.Load(); got != 10 {
		t.Errorf("tokens observed = %d, want 10", got)
	}
	if v, _ := obs.outcomes.Load("query"); v != "ok" {
		t.Errorf("outcome = %v, want ok", v)
	}
}

func TestResilient_GivesUpAfterMaxAttempts(t *testing.T) {
	svc := &scriptedService{errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited()}}
	r := NewResilient(svc, fastPolicy)

	_, err := r.Query(context.Background(), Request{Input: "Steel"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if got := svc.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want exactly 3", got)
	}
}

func TestResilient_PermanentErrorNotRetried(t *testing.T) {
	errBad := errors.New("400 bad request")
	svc := &scriptedService{errs: []error{errBad}}
	r := NewResilient(svc, fastPolicy)

	_, err := r.Query(context.Background(), Request{Input: "x"})
	if !errors.Is(err, errBad) {
		t.Fatalf("err = %v, want errBad", err)
	}
	if got := svc.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestResilient_SingleAttemptPolicy(t *testing.T) {
	svc := &scriptedService{errs: []error{rateLimited()}}
	r := NewResilient(svc, RetryPolicy{MaxAttempts: 1})

	_, err := r.Query(context.Background(), Request{Input: "x"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v", err)
	}
	if got := svc.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestResilient_CancelDuringWait(t *testing.T) {
	svc := &scriptedService{errs: []error{rateLimited(), rateLimited()}}
	r := NewResilient(svc, RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := r.Query(ctx, Request{Input: "x"})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Query did not return after cancellation")
	}
	if got := svc.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestResilient_UploadRetries(t *testing.T) {
	svc := &scriptedService{errs: []error{rateLimited()}}
	r := NewResilient(svc, fastPolicy)

	id, err := r.Upload(context.Background(), "a.pdf", []byte("x"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if id != "file-a.pdf" {
		t.Errorf("id = %q", id)
	}
	if got := svc.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestResilient_BreakerOpens(t *testing.T) {
	errDown := errors.New("connection refused")
	svc := &scriptedService{errs: []error{errDown, errDown, errDown, errDown}}
	r := NewResilient(svc, fastPolicy, WithBreaker(BreakerSettings{
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
		HalfOpenRequests:    1,
	}))

	for i := 0; i < 2; i++ {
		if _, err := r.Query(context.Background(), Request{Input: "x"}); !errors.Is(err, errDown) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}

	_, err := r.Query(context.Background(), Request{Input: "x"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := svc.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2 (open breaker must not call through)", got)
	}
}

func TestResilient_CallerErrorsDoNotTrip(t *testing.T) {
	if tripsBreaker(context.Canceled) {
		t.Error("context.Canceled must not trip the breaker")
	}
	if !tripsBreaker(rateLimited()) {
		t.Error("rate limiting should trip the breaker")
	}
	if !tripsBreaker(errors.New("dial tcp: refused")) {
		t.Error("transport errors should trip the breaker")
	}
}

func TestResilient_DeleteFilePassesThrough(t *testing.T) {
	svc := &scriptedService{}
	r := NewResilient(svc, fastPolicy)
	if err := r.DeleteFile(context.Background(), "file-1"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if len(svc.delete) != 1 || svc.delete[0] != "file-1" {
		t.Errorf("deleted = %v", svc.delete)
	}
}
