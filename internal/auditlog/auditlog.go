// Package auditlog records one audit event per mediated chat request and
// answers the aggregate query behind the admin stats endpoint.
// Events carry only metadata (detected PII categories, lengths, timing); no
// message content is ever stored.
package auditlog

import (
	"context"
	"errors"
	"time"
)

// Event status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const (
	// DefaultStatsLimit is used when the caller passes a non-positive limit.
	DefaultStatsLimit = 20
	// MaxStatsLimit caps the number of recent events returned.
	MaxStatsLimit = 100
)

// ErrNilRecord is returned by Write when given a nil record.
var ErrNilRecord = errors.New("audit record is nil")

// Record is a single audit event. It is written once and never updated.
type Record struct {
	// ID is the request's UUID, also returned to the client as X-Request-ID
	ID string `json:"id" bson:"_id"`

	// Timestamp is when the event was recorded, in UTC
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	// PIITypes holds the sorted, de-duplicated labels detected in the request
	PIITypes []string `json:"pii_types" bson:"pii_types"`

	Model          *string  `json:"model" bson:"model"`
	LatencySeconds *float64 `json:"latency" bson:"latency"`
	OriginalLength int      `json:"original_length" bson:"original_length"`
	MaskedLength   int      `json:"masked_length" bson:"masked_length"`
	ClientIP       *string  `json:"client_ip" bson:"client_ip"`

	// Status is StatusSuccess or StatusError
	Status    string `json:"status" bson:"status"`
	ErrorType string `json:"error_type,omitempty" bson:"error_type,omitempty"`
}

// Stats is the aggregate returned to the admin endpoint.
// TotalRequests and PIICounts cover successful requests only;
// RecentEvents includes failures so operators can see them.
type Stats struct {
	TotalRequests int64            `json:"total_requests"`
	PIICounts     map[string]int64 `json:"pii_counts"`
	RecentEvents  []Record         `json:"recent_events"`
}

// Store appends audit records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Write persists rec before returning.
	Write(ctx context.Context, rec *Record) error

	// Close stops background work. The underlying connection is owned by
	// the storage layer and is not closed here.
	Close() error
}

// Reader answers the admin stats query.
type Reader interface {
	// Stats returns totals and the limit most recent events, newest first.
	Stats(ctx context.Context, limit int) (*Stats, error)
}

// Sink is a Store that can also be read back.
type Sink interface {
	Store
	Reader
}

// ClampLimit bounds limit to [1, MaxStatsLimit], mapping non-positive values
// to DefaultStatsLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultStatsLimit
	}
	if limit > MaxStatsLimit {
		return MaxStatsLimit
	}
	return limit
}

func newStats() *Stats {
	return &Stats{
		PIICounts:    make(map[string]int64),
		RecentEvents: make([]Record, 0),
	}
}

// normalize fills defaults on a record about to be written.
func normalize(rec *Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.PIITypes == nil {
		rec.PIITypes = []string{}
	}
	if rec.Status == "" {
		rec.Status = StatusSuccess
	}
}
