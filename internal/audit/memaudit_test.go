package audit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_AppendChainsHashes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Append(ctx, Entry{Category: "fetch", Action: "quote", Success: true})
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if first.PreviousHash != "" {
		t.Fatalf("expected empty previousHash on genesis entry, got %q", first.PreviousHash)
	}
	if first.EntryHash == "" {
		t.Fatal("expected non-empty entryHash")
	}

	second, err := s.Append(ctx, Entry{Category: "fetch", Action: "quote", Success: true})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if second.PreviousHash != first.EntryHash {
		t.Fatalf("expected chained previousHash %q, got %q", first.EntryHash, second.PreviousHash)
	}
	if second.Sequence != first.Sequence+1 {
		t.Fatalf("expected sequence to increment, got %d then %d", first.Sequence, second.Sequence)
	}
}

func TestMemoryStore_AppendIsDeterministicAcrossMapOrdering(t *testing.T) {
	e := Entry{
		Category: "llm_audit", Action: "complete", Success: true,
		Data: map[string]any{"z": 1, "a": 2, "m": 3},
	}
	h1 := entryHash(e)
	h2 := entryHash(e)
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %q then %q", h1, h2)
	}
}

func TestMemoryStore_VerifyIntegrityPassesOnUntamperedChain(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, Entry{Category: "fetch", Action: "quote", Success: true}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	report, err := s.VerifyIntegrity(ctx, "", 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Valid || report.EntriesChecked != 5 {
		t.Fatalf("expected valid chain of 5, got %+v", report)
	}
}

func TestMemoryStore_VerifyIntegrityDetectsTamperedEntry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	e1, _ := s.Append(ctx, Entry{Category: "fetch", Action: "quote", Success: true})
	e2, _ := s.Append(ctx, Entry{Category: "fetch", Action: "quote", Success: true})
	_, _ = s.Append(ctx, Entry{Category: "fetch", Action: "quote", Success: true})

	tampered := e2
	tampered.Action = "tampered"
	s.entries[e2.ID] = tampered

	report, err := s.VerifyIntegrity(ctx, "", 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Valid {
		t.Fatal("expected tampered chain to be reported invalid")
	}
	if report.BrokenAtID != e2.ID {
		t.Fatalf("expected break at %q, got %q", e2.ID, report.BrokenAtID)
	}
	_ = e1
}

func TestMemoryStore_QueryFiltersByUserAndCategory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Append(ctx, Entry{UserID: "u1", Category: "fetch", Action: "quote", Success: true})
	_, _ = s.Append(ctx, Entry{UserID: "u2", Category: "fetch", Action: "quote", Success: true})
	_, _ = s.Append(ctx, Entry{UserID: "u1", Category: "llm_audit", Action: "complete", Success: true})

	results, err := s.Query(ctx, Query{UserID: "u1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 entries for u1, got %d", len(results))
	}

	results, err = s.Query(ctx, Query{UserID: "u1", Category: "llm_audit"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 || results[0].Action != "complete" {
		t.Fatalf("expected 1 llm_audit entry for u1, got %+v", results)
	}
}

func TestMemoryStore_QueryRespectsSortOrderAndPagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, _ = s.Append(ctx, Entry{Category: "fetch", Action: "quote", Success: true})
	}

	asc, err := s.Query(ctx, Query{SortOrder: SortAscending, Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(asc) != 2 || asc[0].Sequence > asc[1].Sequence {
		t.Fatalf("expected ascending paginated results, got %+v", asc)
	}

	desc, err := s.Query(ctx, Query{SortOrder: SortDescending, Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(desc) != 2 || desc[0].Sequence < desc[1].Sequence {
		t.Fatalf("expected descending paginated results, got %+v", desc)
	}
}

func TestMemoryStore_DeleteForRetentionPreservesSurvivorsPreviousHash(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	old, _ := s.Append(ctx, Entry{Category: "fetch", Action: "quote", Success: true})
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	s.entries[old.ID] = old

	survivor, _ := s.Append(ctx, Entry{Category: "fetch", Action: "quote", Success: true})
	survivorPrevHash := survivor.PreviousHash

	removed, err := s.DeleteForRetention(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed entry, got %d", removed)
	}

	got, err := s.Get(ctx, survivor.ID)
	if err != nil {
		t.Fatalf("get survivor: %v", err)
	}
	if got.PreviousHash != survivorPrevHash {
		t.Fatalf("expected survivor previousHash untouched at %q, got %q", survivorPrevHash, got.PreviousHash)
	}

	report, err := s.VerifyIntegrity(ctx, "", 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Valid {
		t.Fatal("expected the gap left by retention deletion to surface as a broken chain")
	}
}

func TestMemoryStore_EraseUserRemovesOnlyThatUsersEntries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Append(ctx, Entry{UserID: "u1", Category: "fetch", Action: "quote", Success: true})
	_, _ = s.Append(ctx, Entry{UserID: "u2", Category: "fetch", Action: "quote", Success: true})
	_, _ = s.Append(ctx, Entry{UserID: "u1", Category: "fetch", Action: "quote", Success: true})

	removed, err := s.EraseUser(ctx, "u1")
	if err != nil {
		t.Fatalf("erase: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed entries for u1, got %d", removed)
	}

	remaining, err := s.Query(ctx, Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(remaining) != 1 || remaining[0].UserID != "u2" {
		t.Fatalf("expected only u2's entry to remain, got %+v", remaining)
	}
}

func TestMemoryStore_GetUnknownIDReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "does-not-exist")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
