// Package audit implements the append-only, hash-chained audit log:
// every entry's hash covers the previous entry's hash, so tampering
// with or removing a historical entry (short of the explicit retention
// path) is detectable by walking the chain.
package audit

import (
	"context"
	"errors"
	"time"
)

// Severity is the audit event's severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Entry is one audit record. ID, Timestamp, Sequence, PreviousHash, and
// EntryHash are populated by Store.Append; callers fill in everything
// else.
type Entry struct {
	ID           string
	Timestamp    time.Time
	Sequence     int64
	UserID       string
	Category     string
	Action       string
	Severity     Severity
	Success      bool
	EntityType   string
	EntityID     string
	Data         map[string]any
	PreviousHash string
	EntryHash    string
}

// Query filters audit entries. Zero-value fields are treated as
// "don't filter on this".
type Query struct {
	UserID      string
	Category    string
	Action      string
	Severity    Severity
	EntityType  string
	EntityID    string
	FromTs      time.Time
	ToTs        time.Time
	SuccessOnly bool
	FailedOnly  bool
	SearchText  string
	Limit       int
	Offset      int
	SortOrder   SortOrder
}

// SortOrder controls Query result ordering by timestamp.
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// IntegrityReport is the result of VerifyIntegrity.
type IntegrityReport struct {
	Valid         bool
	EntriesChecked int
	BrokenAtID    string
	Error         string
}

// ErrNotFound is returned by Get when no entry with the given ID exists.
var ErrNotFound = errors.New("audit: entry not found")

// Store is the append-only audit log contract. Every implementation
// must serialize Append behind a single critical section per chain, so
// concurrent appenders observe a linearizable, dense hash chain.
type Store interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	Query(ctx context.Context, q Query) ([]Entry, error)
	VerifyIntegrity(ctx context.Context, fromID string, limit int) (IntegrityReport, error)
	// DeleteForRetention is the only path permitted to remove entries;
	// survivors keep their original PreviousHash, so any gap it leaves
	// is later detectable (not hidden) by VerifyIntegrity.
	DeleteForRetention(ctx context.Context, beforeTimestamp time.Time) (int, error)
	// EraseUser deletes every entry for userID (GDPR erasure) and drops
	// them from all indices.
	EraseUser(ctx context.Context, userID string) (int, error)
}
