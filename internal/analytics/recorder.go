// Package analytics records best-effort usage events.
package analytics

import (
	"context"
	"log/slog"
)

// Event types written to the usage log.
const (
	EventMarketAnalysis = "market_analysis"
	EventMASearch       = "ma_search"
	EventPDFUpload      = "pdf_upload"
	EventPDFQuery       = "pdf_query"
	EventComparison     = "comparison"
	EventWebInsights    = "web_insights"
)

type sessionKey struct{}

// WithSession returns a context carrying the caller's session id.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFrom returns the session id stored by WithSession, or "".
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// EventStore persists usage events.
type EventStore interface {
	RecordEvent(eventType string, data map[string]any, sessionID string) error
}

// DropCounter counts events that failed to persist.
type DropCounter interface {
	UsageDropped(eventType string)
}

// Recorder writes usage events without ever failing the caller.
type Recorder struct {
	store   EventStore
	dropped DropCounter
	logger  *slog.Logger
}

// NewRecorder creates a Recorder. dropped may be nil.
func NewRecorder(store EventStore, dropped DropCounter) *Recorder {
	return &Recorder{
		store:   store,
		dropped: dropped,
		logger:  slog.Default().With("component", "analytics"),
	}
}

// Record stores one event. Failures are logged and counted, never returned.
// A nil Recorder discards events.
func (r *Recorder) Record(ctx context.Context, eventType string, data map[string]any) {
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.RecordEvent(eventType, data, SessionFrom(ctx)); err != nil {
		r.logger.Warn("usage event dropped", "event_type", eventType, "error", err)
		if r.dropped != nil {
			r.dropped.UsageDropped(eventType)
		}
	}
}
