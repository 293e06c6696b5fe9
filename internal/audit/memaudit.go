package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used in tests and as a fallback
// when no database is configured. Appends are serialized behind mu, the
// same single-critical-section discipline PostgresStore uses at the database
// level.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]Entry
	order    []string // entry IDs in append order, which is also hash-chain order
	lastHash string
	seq      int64
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now()
	entry.PreviousHash = s.lastHash
	entry.EntryHash = entryHash(entry)
	s.seq++
	entry.Sequence = s.seq

	s.entries[entry.ID] = entry
	s.order = append(s.order, entry.ID)
	s.lastHash = entry.EntryHash

	return entry, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Entry, error) {
	s.mu.Lock()
	all := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, s.entries[id])
	}
	s.mu.Unlock()

	var filtered []Entry
	for _, e := range all {
		if matchesQuery(e, q) {
			filtered = append(filtered, e)
		}
	}

	if q.SortOrder == SortDescending {
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Timestamp.After(filtered[j].Timestamp) })
	} else {
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Timestamp.Before(filtered[j].Timestamp) })
	}

	start := q.Offset
	if start > len(filtered) {
		start = len(filtered)
	}
	end := len(filtered)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return filtered[start:end], nil
}

func matchesQuery(e Entry, q Query) bool {
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if q.Category != "" && e.Category != q.Category {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.Severity != "" && e.Severity != q.Severity {
		return false
	}
	if q.EntityType != "" && e.EntityType != q.EntityType {
		return false
	}
	if q.EntityID != "" && e.EntityID != q.EntityID {
		return false
	}
	if !q.FromTs.IsZero() && e.Timestamp.Before(q.FromTs) {
		return false
	}
	if !q.ToTs.IsZero() && e.Timestamp.After(q.ToTs) {
		return false
	}
	if q.SuccessOnly && !e.Success {
		return false
	}
	if q.FailedOnly && e.Success {
		return false
	}
	if q.SearchText != "" {
		haystack := strings.ToLower(e.Category + " " + e.Action + " " + fmt.Sprint(e.Data))
		if !strings.Contains(haystack, strings.ToLower(q.SearchText)) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) VerifyIntegrity(ctx context.Context, fromID string, limit int) (IntegrityReport, error) {
	s.mu.Lock()
	order := append([]string(nil), s.order...)
	entries := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v
	}
	s.mu.Unlock()

	startIdx := 0
	if fromID != "" {
		for i, id := range order {
			if id == fromID {
				startIdx = i
				break
			}
		}
	}

	checked := 0
	var prevHash string
	if startIdx > 0 {
		prevHash = entries[order[startIdx-1]].EntryHash
	}

	for i := startIdx; i < len(order); i++ {
		if limit > 0 && checked >= limit {
			break
		}
		e := entries[order[i]]
		if e.PreviousHash != prevHash {
			return IntegrityReport{Valid: false, EntriesChecked: checked + 1, BrokenAtID: e.ID, Error: "previousHash mismatch"}, nil
		}
		if entryHash(e) != e.EntryHash {
			return IntegrityReport{Valid: false, EntriesChecked: checked + 1, BrokenAtID: e.ID, Error: "entryHash mismatch"}, nil
		}
		prevHash = e.EntryHash
		checked++
	}
	return IntegrityReport{Valid: true, EntriesChecked: checked}, nil
}

func (s *MemoryStore) DeleteForRetention(ctx context.Context, beforeTimestamp time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []string
	removed := 0
	for _, id := range s.order {
		e := s.entries[id]
		if e.Timestamp.Before(beforeTimestamp) {
			delete(s.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

func (s *MemoryStore) EraseUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []string
	removed := 0
	for _, id := range s.order {
		e := s.entries[id]
		if e.UserID == userID {
			delete(s.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}
