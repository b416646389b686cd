package state

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// setupStore creates a temporary state database with schema applied.
func setupStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

func testRecord(noteID string) NoteRecord {
	return NoteRecord{
		NoteID:       noteID,
		Title:        "Test Note",
		ContentHash:  "abc123",
		Tags:         []string{"work", "ideas"},
		TargetDocID:  "doc-1",
		LastSyncedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		SyncStatus:   StatusSynced,
	}
}

func TestUpsertGet_RoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	want := testRecord("n1")
	if err := s.Upsert(ctx, want); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	got, err := s.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil for existing record")
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("Get() = %+v, want %+v", *got, want)
	}
}

func TestGet_Missing(t *testing.T) {
	s := setupStore(t)

	got, err := s.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil for unknown note", got)
	}
}

func TestUpsert_ReplacesInPlace(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	rec := testRecord("n1")
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	rec.ContentHash = "def456"
	rec.TargetDocID = "doc-2"
	rec.Title = "Renamed"
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("second Upsert() failed: %v", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if len(snap) != 1 {
		t.Fatalf("Snapshot() has %d records, want 1 (one record per note)", len(snap))
	}
	if snap[0].ContentHash != "def456" || snap[0].TargetDocID != "doc-2" {
		t.Errorf("Snapshot()[0] = %+v, want updated hash and doc id", snap[0])
	}
}

func TestUpsert_ValidatesRecord(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  NoteRecord
	}{
		{
			name: "missing note id",
			rec:  NoteRecord{ContentHash: "h", SyncStatus: StatusFailed},
		},
		{
			name: "missing content hash",
			rec:  NoteRecord{NoteID: "n1", SyncStatus: StatusFailed},
		},
		{
			name: "synced without target doc id",
			rec:  NoteRecord{NoteID: "n1", ContentHash: "h", SyncStatus: StatusSynced},
		},
		{
			name: "unknown status",
			rec:  NoteRecord{NoteID: "n1", ContentHash: "h", SyncStatus: "bogus"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Upsert(ctx, tt.rec); err == nil {
				t.Errorf("Upsert(%+v) succeeded, want validation error", tt.rec)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, testRecord("n1")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := s.Remove(ctx, "n1"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	got, err := s.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Errorf("Get() after Remove() = %+v, want nil", got)
	}

	// Removing a missing record is idempotent.
	if err := s.Remove(ctx, "n1"); err != nil {
		t.Errorf("Remove() of missing record failed: %v", err)
	}
}

func TestSnapshot_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if err := s.Upsert(ctx, testRecord("n1")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// Reopen simulates a process restart after a committed write.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	snap, err := s2.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if len(snap) != 1 || snap[0].NoteID != "n1" {
		t.Errorf("Snapshot() after reopen = %+v, want the committed record", snap)
	}
}

func TestAppendLogAndStats(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	failed := testRecord("n2")
	failed.SyncStatus = StatusFailed
	failed.TargetDocID = ""
	if err := s.Upsert(ctx, testRecord("n1")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := s.Upsert(ctx, failed); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	entries := []LogEntry{
		{CycleID: "c1", StartedAt: time.Now().Add(-2 * time.Minute), EndedAt: time.Now().Add(-time.Minute), Created: 5},
		{CycleID: "c2", StartedAt: time.Now().Add(-time.Minute), EndedAt: time.Now(), Updated: 1, Failed: 1, Err: "auth failed"},
	}
	for _, e := range entries {
		if err := s.AppendLog(ctx, e); err != nil {
			t.Fatalf("AppendLog(%s) failed: %v", e.CycleID, err)
		}
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.TotalNotes != 2 {
		t.Errorf("TotalNotes = %d, want 2", stats.TotalNotes)
	}
	if stats.PendingFailures != 1 {
		t.Errorf("PendingFailures = %d, want 1", stats.PendingFailures)
	}
	if stats.LastLog == nil {
		t.Fatal("LastLog is nil, want most recent entry")
	}
	if stats.LastLog.CycleID != "c2" {
		t.Errorf("LastLog.CycleID = %q, want c2", stats.LastLog.CycleID)
	}
	if stats.LastLog.Err != "auth failed" {
		t.Errorf("LastLog.Err = %q, want recorded cycle error", stats.LastLog.Err)
	}
}

func TestGetStats_EmptyStore(t *testing.T) {
	s := setupStore(t)

	stats, err := s.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.TotalNotes != 0 || stats.PendingFailures != 0 || stats.LastLog != nil {
		t.Errorf("GetStats() on empty store = %+v, want zero values", stats)
	}
}
