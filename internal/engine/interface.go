package engine

import (
	"context"

	"github.com/jopper-sync/jopper/internal/note"
	"github.com/jopper-sync/jopper/internal/state"
)

// Mode selects which source notes participate in sync.
type Mode string

const (
	// ModeAll syncs every source note.
	ModeAll Mode = "all"

	// ModeTagged syncs only notes whose tag set intersects the configured
	// tag list.
	ModeTagged Mode = "tagged"
)

// Filter is the listing filter passed to the source adapter. Filtering
// happens before diffing: a note that loses its qualifying tag looks to the
// engine exactly like a note deleted from the source.
type Filter struct {
	Mode Mode
	Tags []string
}

// Source is the capability interface over the note collection treated as
// ground truth. Production implementation is the Joplin client; tests use
// in-memory fakes.
type Source interface {
	// ListNotes returns the current note set matching the filter.
	ListNotes(ctx context.Context, filter Filter) ([]note.Summary, error)

	// ReadContent fetches a note's body and resolves display metadata
	// needed for canonical formatting.
	ReadContent(ctx context.Context, noteID string) (*note.Content, error)

	// ListTags returns the note's current tag titles.
	ListTags(ctx context.Context, noteID string) ([]string, error)
}

// DocumentRef identifies one document in the target system.
type DocumentRef struct {
	ID   string
	Name string
}

// Document is the payload uploaded to the target for one note.
type Document struct {
	NoteID  string
	Title   string
	Content string
}

// Target is the capability interface over the knowledge-base collection
// kept in correspondence with the source.
type Target interface {
	// ListDocuments returns the documents currently in the target.
	ListDocuments(ctx context.Context) ([]DocumentRef, error)

	// CreateDocument uploads a new document and returns its identifier.
	CreateDocument(ctx context.Context, doc Document) (string, error)

	// ReplaceDocument replaces the document stored under id with new
	// content. The returned identifier may differ from id; callers must
	// persist whatever comes back.
	ReplaceDocument(ctx context.Context, id string, doc Document) (string, error)

	// DeleteDocument removes a document. Deleting an unknown id is not an
	// error.
	DeleteDocument(ctx context.Context, id string) error

	// EnsureMembership links a document into the configured knowledge
	// collection. Idempotent - safe to call when already linked.
	EnsureMembership(ctx context.Context, id string) error
}

// Store is the durable bookkeeping contract the engine runs against.
// Writes must be durable before the call returns; a crash between Upsert
// returning and the next action must never lose the just-written record.
type Store interface {
	Snapshot(ctx context.Context) ([]state.NoteRecord, error)
	Get(ctx context.Context, noteID string) (*state.NoteRecord, error)
	Upsert(ctx context.Context, rec state.NoteRecord) error
	Remove(ctx context.Context, noteID string) error
	AppendLog(ctx context.Context, entry state.LogEntry) error
	GetStats(ctx context.Context) (*state.Stats, error)
}
