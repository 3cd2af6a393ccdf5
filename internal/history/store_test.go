package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"campus_call/native/internal/domain"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryPath, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id string, ended time.Time) domain.CallRecord {
	return domain.CallRecord{
		CallID:      id,
		Local:       "school1_2024_alice",
		Remote:      "school1_2024_bob",
		Outgoing:    true,
		FinalState:  domain.StateActive,
		Reason:      "ended locally",
		ICERestarts: 1,
		Reinits:     1,
		StartedAt:   ended.Add(-time.Minute),
		EndedAt:     ended,
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	for i, id := range []string{"first", "second", "third"} {
		if err := s.Record(ctx, record(id, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	recs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 || recs[0].CallID != "third" || recs[1].CallID != "second" {
		t.Fatalf("expected newest two calls, got %+v", recs)
	}

	got := recs[0]
	want := record("third", base.Add(2*time.Second))
	if got.Remote != want.Remote || !got.Outgoing || got.FinalState != domain.StateActive ||
		got.ICERestarts != 1 || got.Reinits != 1 || got.Reason != want.Reason {
		t.Errorf("unexpected record %+v", got)
	}
	if !got.EndedAt.Equal(want.EndedAt) || !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("expected times %v-%v, got %v-%v", want.StartedAt, want.EndedAt, got.StartedAt, got.EndedAt)
	}
}

func TestRecent_Empty(t *testing.T) {
	s := openMemory(t)
	recs, err := s.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger", "calls.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Record(context.Background(), record("persisted", time.Now())); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	recs, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].CallID != "persisted" {
		t.Errorf("expected persisted call, got %+v", recs)
	}
}
