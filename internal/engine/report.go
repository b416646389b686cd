package engine

import (
	"sync"
	"time"

	"github.com/jopper-sync/jopper/internal/state"
)

// Failure records one contained per-note error within a cycle.
type Failure struct {
	NoteID  string    `json:"note_id"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// CycleReport summarizes one completed or aborted reconciliation cycle.
type CycleReport struct {
	CycleID   string    `json:"cycle_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	Failures []Failure `json:"failures,omitempty"`

	// Err carries the cycle-fatal error message, empty for a completed
	// cycle. Per-note failures never set it.
	Err string `json:"error,omitempty"`

	mu sync.Mutex
}

func (r *CycleReport) addFailure(noteID string, kind ErrorKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed++
	r.Failures = append(r.Failures, Failure{NoteID: noteID, Kind: kind, Message: err.Error()})
}

func (r *CycleReport) incCreated() {
	r.mu.Lock()
	r.Created++
	r.mu.Unlock()
}

func (r *CycleReport) incUpdated() {
	r.mu.Lock()
	r.Updated++
	r.mu.Unlock()
}

func (r *CycleReport) incDeleted() {
	r.mu.Lock()
	r.Deleted++
	r.mu.Unlock()
}

func (r *CycleReport) incSkipped() {
	r.mu.Lock()
	r.Skipped++
	r.mu.Unlock()
}

// logEntry converts the report to its persisted history form.
func (r *CycleReport) logEntry() state.LogEntry {
	return state.LogEntry{
		CycleID:   r.CycleID,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Created:   r.Created,
		Updated:   r.Updated,
		Deleted:   r.Deleted,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		Err:       r.Err,
	}
}
