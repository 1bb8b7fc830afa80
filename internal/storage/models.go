package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or, for the
// result cache, has expired.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a document status change is not
// allowed from its current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Error reports a failure of the underlying database. Callers can match it
// with errors.As to tell storage faults apart from ErrNotFound.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// QueryKind names one of the cached market query shapes.
type QueryKind string

const (
	KindGlobal     QueryKind = "global"
	KindVertical   QueryKind = "vertical"
	KindHorizontal QueryKind = "horizontal"
	KindMetrics    QueryKind = "metrics"
	KindCompanies  QueryKind = "companies"
)

// QueryKinds lists every cacheable kind.
var QueryKinds = []QueryKind{KindGlobal, KindVertical, KindHorizontal, KindMetrics, KindCompanies}

// Valid reports whether k is a known cacheable kind.
func (k QueryKind) Valid() bool {
	for _, q := range QueryKinds {
		if k == q {
			return true
		}
	}
	return false
}

// NoExpiry passed as a TTL stores an entry that never expires.
const NoExpiry time.Duration = 0

type CacheEntry struct {
	ID          int64
	Subject     string
	Kind        QueryKind
	Fingerprint string
	Params      string // canonical JSON
	Payload     string
	Source      string
	CreatedAt   time.Time
	ExpiresAt   *time.Time // nil means no expiry
}

// CachePut describes a result to store in the cache.
type CachePut struct {
	Subject string
	Kind    QueryKind
	Params  map[string]any
	Payload string
	Source  string
	TTL     time.Duration // <= 0 means NoExpiry
}

// HistoryEntry is one live (subject, kind) pair in the cache.
type HistoryEntry struct {
	Subject   string
	Kind      QueryKind
	CreatedAt time.Time
}

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusError      DocumentStatus = "error"
)

type DocumentRecord struct {
	ID          int64
	FileName    string
	ContentHash string
	ByteSize    int64
	PageCount   int
	ChunkCount  int
	ChunkPages  int      // pages per uploaded chunk
	ExternalIDs []string // JSON array stored as text
	Status      DocumentStatus
	ErrorReason string
	ProcessedAt time.Time
}

// DocumentInput is the payload for RegisterDocument.
type DocumentInput struct {
	FileName    string
	Content     []byte
	PageCount   int
	ChunkCount  int // defaults to len(ExternalIDs)
	ChunkPages  int
	ExternalIDs []string
	Status      DocumentStatus // defaults to StatusProcessed
}

// DocumentSession summarises a processed document and its Q&A activity.
type DocumentSession struct {
	Document     DocumentRecord
	QACount      int
	LastQuestion *time.Time
}

// Session is everything needed to resume work on a document.
type Session struct {
	Document DocumentRecord
	History  []QAEntry
}

type QAEntry struct {
	ID             int64
	DocumentID     int64
	Question       string
	Answer         string
	QueryTokens    int
	ResponseTokens int
	CostEstimate   float64
	CreatedAt      time.Time
}

type QAInput struct {
	DocumentID     int64
	Question       string
	Answer         string
	QueryTokens    int
	ResponseTokens int
}

// Order selects chronological or reverse chronological listing.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Pricing holds per-1K-token rates used for Q&A cost estimates.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// DefaultPricing matches gpt-4o list prices at the time the rates were set.
var DefaultPricing = Pricing{InputPer1K: 0.01, OutputPer1K: 0.03}

// Cost returns the estimated cost of a call with the given token counts.
func (p Pricing) Cost(queryTokens, responseTokens int) float64 {
	return (float64(queryTokens)*p.InputPer1K + float64(responseTokens)*p.OutputPer1K) / 1000
}

type UsageEvent struct {
	ID        int64
	EventType string
	Data      string // JSON object stored as text
	SessionID string
	CreatedAt time.Time
}

// PopularSubject is one row of the popularity ranking.
type PopularSubject struct {
	Subject  string
	Count    int
	LastSeen time.Time
}

type MASearch struct {
	ID        int64
	Subject   string
	Timeframe string
	Payload   string
	DealCount int
	CreatedAt time.Time
}

type Comparison struct {
	ID          int64
	DocumentIDs []int64 // JSON array stored as text
	Prompt      string
	Payload     string
	WebSearch   bool
	WebInsights string
	CreatedAt   time.Time
}

// Stats reports row counts per table and the database size.
type Stats struct {
	Tables    map[string]int64
	SizeBytes int64
}
