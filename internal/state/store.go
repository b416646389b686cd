// Package state provides the durable sync-state bookkeeping for jopper.
//
// The store is a local SQLite database holding one record per note that has
// ever been synced (or partially synced) to the target, plus an append-only
// log of cycle reports. It is the reconciliation engine's only memory of
// prior outcomes: after a crash the engine resumes from exactly the set of
// notes the store says are still pending.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SyncStatus describes the last known outcome for a note.
type SyncStatus string

const (
	// StatusSynced means the note's content is in the target and the record
	// carries the target document ID.
	StatusSynced SyncStatus = "synced"

	// StatusFailed means the last apply attempt failed; target state for the
	// note is unknown and it is re-attempted on the next cycle.
	StatusFailed SyncStatus = "failed"
)

// NoteRecord tracks one note's last known sync state.
//
// NoteID is the sole identity key. Title is informational only; a title
// change never triggers a create or delete. ContentHash is a digest over
// the note's content fields, used for change detection, never for identity.
type NoteRecord struct {
	NoteID       string
	Title        string
	ContentHash  string
	Tags         []string
	TargetDocID  string
	LastSyncedAt time.Time
	SyncStatus   SyncStatus
}

// Validate checks the record invariants before a write.
func (r *NoteRecord) Validate() error {
	if r.NoteID == "" {
		return fmt.Errorf("note_id is required")
	}
	if r.ContentHash == "" {
		return fmt.Errorf("content_hash is required")
	}
	switch r.SyncStatus {
	case StatusSynced:
		if r.TargetDocID == "" {
			return fmt.Errorf("synced record must carry a target document id")
		}
	case StatusFailed:
	default:
		return fmt.Errorf("invalid sync_status %q", r.SyncStatus)
	}
	return nil
}

// LogEntry is one persisted cycle report in the append-only history.
type LogEntry struct {
	CycleID   string
	StartedAt time.Time
	EndedAt   time.Time
	Created   int
	Updated   int
	Deleted   int
	Skipped   int
	Failed    int
	Err       string
}

// Stats summarizes the store for the status surface.
type Stats struct {
	TotalNotes      int
	PendingFailures int
	LastLog         *LogEntry
}

// Store wraps the SQLite connection holding jopper's sync state.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the state database at the given path.
//
// The database is opened in WAL mode with synchronous=FULL so that every
// committed write is durable before the call returns. The caller must call
// Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	s := &Store{conn: conn, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		// Every upsert must survive a crash that happens right after it
		// returns, so fsync on each commit.
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.conn.Exec(p); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the notes and sync_log tables if they don't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		note_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		tags TEXT,  -- JSON array
		target_doc_id TEXT,
		last_synced_at TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'synced'
	);

	CREATE INDEX IF NOT EXISTS idx_notes_status ON notes(sync_status);

	CREATE TABLE IF NOT EXISTS sync_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT NOT NULL,
		created INTEGER NOT NULL,
		updated INTEGER NOT NULL,
		deleted INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_log_ended ON sync_log(ended_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the record for a note. The write is atomic per
// record and durable before Upsert returns.
func (s *Store) Upsert(ctx context.Context, rec NoteRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid note record: %w", err)
	}

	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	INSERT INTO notes (
		note_id, title, content_hash, tags,
		target_doc_id, last_synced_at, sync_status
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(note_id) DO UPDATE SET
		title = excluded.title,
		content_hash = excluded.content_hash,
		tags = excluded.tags,
		target_doc_id = excluded.target_doc_id,
		last_synced_at = excluded.last_synced_at,
		sync_status = excluded.sync_status
	`

	_, err = s.conn.ExecContext(ctx, query,
		rec.NoteID,
		rec.Title,
		rec.ContentHash,
		string(tagsJSON),
		nullString(rec.TargetDocID),
		rec.LastSyncedAt.UTC().Format(time.RFC3339),
		string(rec.SyncStatus),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", rec.NoteID, err)
	}
	return nil
}

// Remove deletes the record for a note. Returns nil if the record doesn't
// exist (idempotent).
func (s *Store) Remove(ctx context.Context, noteID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM notes WHERE note_id = ?`, noteID)
	if err != nil {
		return fmt.Errorf("failed to remove note %s: %w", noteID, err)
	}
	return nil
}

// Get retrieves the record for a single note.
// Returns (nil, nil) when the note is unknown.
func (s *Store) Get(ctx context.Context, noteID string) (*NoteRecord, error) {
	query := `
	SELECT note_id, title, content_hash, tags,
	       target_doc_id, last_synced_at, sync_status
	FROM notes
	WHERE note_id = ?
	`

	rec, err := scanNote(s.conn.QueryRowContext(ctx, query, noteID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", noteID, err)
	}
	return rec, nil
}

// Snapshot returns all records, consistent at a point in time.
func (s *Store) Snapshot(ctx context.Context) ([]NoteRecord, error) {
	query := `
	SELECT note_id, title, content_hash, tags,
	       target_doc_id, last_synced_at, sync_status
	FROM notes
	ORDER BY note_id
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot notes: %w", err)
	}
	defer rows.Close()

	var records []NoteRecord
	for rows.Next() {
		rec, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return records, nil
}

// AppendLog appends one cycle report to the history table.
func (s *Store) AppendLog(ctx context.Context, entry LogEntry) error {
	query := `
	INSERT INTO sync_log (cycle_id, started_at, ended_at, created, updated, deleted, skipped, failed, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		entry.CycleID,
		entry.StartedAt.UTC().Format(time.RFC3339),
		entry.EndedAt.UTC().Format(time.RFC3339),
		entry.Created,
		entry.Updated,
		entry.Deleted,
		entry.Skipped,
		entry.Failed,
		nullString(entry.Err),
	)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// GetStats returns store totals plus the most recent cycle log entry, if any.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&stats.TotalNotes)
	if err != nil {
		return nil, fmt.Errorf("failed to count notes: %w", err)
	}

	err = s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notes WHERE sync_status = ?`, string(StatusFailed),
	).Scan(&stats.PendingFailures)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending failures: %w", err)
	}

	query := `
	SELECT cycle_id, started_at, ended_at, created, updated, deleted, skipped, failed, error
	FROM sync_log
	ORDER BY id DESC
	LIMIT 1
	`

	var entry LogEntry
	var startedAt, endedAt string
	var errMsg sql.NullString
	err = s.conn.QueryRowContext(ctx, query).Scan(
		&entry.CycleID,
		&startedAt,
		&endedAt,
		&entry.Created,
		&entry.Updated,
		&entry.Deleted,
		&entry.Skipped,
		&entry.Failed,
		&errMsg,
	)
	switch {
	case err == sql.ErrNoRows:
		return stats, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read last sync log: %w", err)
	}

	if t, perr := time.Parse(time.RFC3339, startedAt); perr == nil {
		entry.StartedAt = t
	}
	if t, perr := time.Parse(time.RFC3339, endedAt); perr == nil {
		entry.EndedAt = t
	}
	if errMsg.Valid {
		entry.Err = errMsg.String
	}
	stats.LastLog = &entry
	return stats, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanNote.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNote(row scanner) (*NoteRecord, error) {
	var rec NoteRecord
	var tagsJSON sql.NullString
	var docID sql.NullString
	var lastSynced string
	var status string

	err := row.Scan(
		&rec.NoteID,
		&rec.Title,
		&rec.ContentHash,
		&tagsJSON,
		&docID,
		&lastSynced,
		&status,
	)
	if err != nil {
		return nil, err
	}

	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &rec.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if docID.Valid {
		rec.TargetDocID = docID.String
	}
	if t, err := time.Parse(time.RFC3339, lastSynced); err == nil {
		rec.LastSyncedAt = t
	}
	rec.SyncStatus = SyncStatus(status)

	return &rec, nil
}

// nullString converts an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
