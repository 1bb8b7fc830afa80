package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrRateLimited marks a call the provider throttled (HTTP 429). It is the
// only failure the retry policy retries.
var ErrRateLimited = errors.New("rate limited")

// ErrCircuitOpen is returned without calling the provider while the circuit
// breaker is open.
var ErrCircuitOpen = errors.New("model service circuit open")

// ErrEmptyOutput is returned when a response carries no assistant text.
var ErrEmptyOutput = errors.New("model returned no output")

// RateLimitError wraps the provider error for a throttled call.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Request is a single model call.
type Request struct {
	Input        string
	Instructions string
	WebSearch    bool
	FileIDs      []string // uploaded files attached to the user message
	Temperature  *float64
}

// Response is the assistant text plus token usage.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Querier sends prompts to the hosted model.
type Querier interface {
	Query(ctx context.Context, req Request) (Response, error)
}

// Uploader stores files with the provider so requests can reference them.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// Service is the full model provider surface.
type Service interface {
	Querier
	Uploader
}

// Observer receives call outcomes for metrics. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveCall(operation, outcome string, seconds float64)
	ObserveRetry(operation string)
	ObserveTokens(input, output int)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, string, float64) {}
func (nopObserver) ObserveRetry(string)                 {}
func (nopObserver) ObserveTokens(int, int)              {}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 { return &v }
