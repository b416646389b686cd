// Package engine implements the reconciliation core that keeps the target
// knowledge base in one-directional correspondence with the note source.
//
// One call to RunCycle performs a full diff-and-apply pass: it fetches the
// filtered source note set, compares it against the durable state store,
// computes the minimal create/update/delete action set, applies it through
// the adapters, and records every outcome in the store before moving on.
// Per-note failures are contained in the cycle report; only authentication
// and state-store failures abort a cycle.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jopper-sync/jopper/internal/note"
	"github.com/jopper-sync/jopper/internal/state"
)

// Config holds the immutable settings for the engine. It is assembled and
// validated once by the caller; the engine never re-reads configuration
// mid-cycle.
type Config struct {
	// Mode selects all-notes or tagged sync.
	Mode Mode

	// Tags is the qualifying tag list, used only when Mode is ModeTagged.
	Tags []string

	// CallTimeout bounds every individual adapter call.
	CallTimeout time.Duration

	// Parallelism bounds concurrent create/update actions within a cycle.
	Parallelism int

	// Logger for engine activity.
	Logger *logrus.Logger

	// Now supplies timestamps; defaults to time.Now.
	Now func() time.Time
}

// Engine computes and applies the per-cycle action set.
type Engine struct {
	source Source
	target Target
	store  Store

	mode        Mode
	tags        []string
	callTimeout time.Duration
	parallelism int
	logger      *logrus.Logger
	now         func() time.Time

	mu         sync.RWMutex
	lastReport *CycleReport
}

// Status is the read-only surface exposed to external callers.
type Status struct {
	LastCycle        *state.LogEntry `json:"last_cycle,omitempty"`
	TotalSyncedNotes int             `json:"total_synced_notes"`
	PendingFailures  int             `json:"pending_failures"`
}

// New creates an Engine over the given adapters and store.
func New(source Source, target Target, store Store, cfg Config) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("source adapter cannot be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target adapter cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("state store cannot be nil")
	}
	if cfg.Mode != ModeAll && cfg.Mode != ModeTagged {
		return nil, fmt.Errorf("invalid sync mode %q", cfg.Mode)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Engine{
		source:      source,
		target:      target,
		store:       store,
		mode:        cfg.Mode,
		tags:        cfg.Tags,
		callTimeout: cfg.CallTimeout,
		parallelism: cfg.Parallelism,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}, nil
}

// callContext bounds one adapter call. The call deadline is the only way a
// call ends early: cancellation is cooperative, checked between actions,
// never inside an in-progress adapter call. Aborting a call the server may
// have already acted on would leave an unrecorded document behind.
func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.callTimeout)
}

// upsertAction is one planned create or update.
type upsertAction struct {
	content   *note.Content
	canonical string
	hash      string

	// existing is the prior record, nil for a first-time create.
	existing *state.NoteRecord
}

// RunCycle performs one full reconciliation pass.
//
// The returned report is always non-nil. A non-nil error means the cycle
// was aborted by a cycle-fatal condition (authentication or state store
// failure); per-note failures are folded into the report and never escape.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	rep := &CycleReport{CycleID: uuid.NewString(), StartedAt: e.now()}
	e.logger.WithField("cycle_id", rep.CycleID).Info("Starting reconciliation cycle")

	err := e.runCycle(ctx, rep)
	rep.EndedAt = e.now()
	if err != nil {
		rep.Err = err.Error()
	}

	// History is observability; failing to append must not fail an
	// otherwise completed cycle.
	if logErr := e.store.AppendLog(context.WithoutCancel(ctx), rep.logEntry()); logErr != nil {
		e.logger.WithError(logErr).Warn("Failed to append cycle history")
	}

	e.mu.Lock()
	e.lastReport = rep
	e.mu.Unlock()

	fields := logrus.Fields{
		"cycle_id": rep.CycleID,
		"created":  rep.Created,
		"updated":  rep.Updated,
		"deleted":  rep.Deleted,
		"skipped":  rep.Skipped,
		"failed":   rep.Failed,
	}
	if err != nil {
		e.logger.WithFields(fields).WithError(err).Error("Cycle aborted")
	} else {
		e.logger.WithFields(fields).Info("Cycle complete")
	}

	return rep, err
}

func (e *Engine) runCycle(ctx context.Context, rep *CycleReport) error {
	if e.mode == ModeTagged && len(e.tags) == 0 {
		e.logger.Warn("Sync mode is tagged but no tags configured, nothing to sync")
		return nil
	}

	listCtx, cancel := e.callContext(ctx)
	summaries, err := e.source.ListNotes(listCtx, Filter{Mode: e.mode, Tags: e.tags})
	cancel()
	if err != nil {
		return fmt.Errorf("failed to list source notes: %w", err)
	}
	e.logger.WithField("notes", len(summaries)).Debug("Fetched source note set")

	prior, err := e.store.Snapshot(ctx)
	if err != nil {
		return StateStoreError(fmt.Errorf("failed to snapshot state: %w", err))
	}
	priorByID := make(map[string]state.NoteRecord, len(prior))
	for _, rec := range prior {
		priorByID[rec.NoteID] = rec
	}

	upserts, deletes, err := e.plan(ctx, summaries, priorByID, rep)
	if err != nil {
		return err
	}

	// Additive work first: with identity keyed strictly by note ID a rename
	// can never be misclassified as delete+create, and applying creates and
	// updates before deletes bounds the window in which content could be
	// transiently missing from the target if the process is interrupted.
	if fatal := e.applyUpserts(ctx, upserts, rep); fatal != nil {
		return fatal
	}
	return e.applyDeletes(ctx, deletes, rep)
}

// plan partitions the source set against the prior snapshot into pending
// creates/updates and deletes. Content read failures are contained per note
// and leave the prior record untouched.
func (e *Engine) plan(ctx context.Context, summaries []note.Summary, priorByID map[string]state.NoteRecord, rep *CycleReport) ([]upsertAction, []state.NoteRecord, error) {
	var upserts []upsertAction
	seen := make(map[string]bool, len(summaries))

	for _, sum := range summaries {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		seen[sum.ID] = true

		readCtx, cancel := e.callContext(ctx)
		content, err := e.source.ReadContent(readCtx, sum.ID)
		cancel()
		if err != nil {
			rep.addFailure(sum.ID, KindOf(err), err)
			if IsCycleFatal(err) {
				return nil, nil, err
			}
			continue
		}

		canonical := note.Canonical(*content)
		hash := note.Fingerprint(*content)

		rec, known := priorByID[sum.ID]
		recCopy := rec
		switch {
		case !known:
			upserts = append(upserts, upsertAction{content: content, canonical: canonical, hash: hash})
		case rec.SyncStatus == state.StatusFailed:
			// Last apply failed, so target state is unknown: re-attempt
			// regardless of hash match.
			upserts = append(upserts, upsertAction{content: content, canonical: canonical, hash: hash, existing: &recCopy})
		case rec.ContentHash != hash:
			upserts = append(upserts, upsertAction{content: content, canonical: canonical, hash: hash, existing: &recCopy})
		default:
			rep.incSkipped()
		}
	}

	var deletes []state.NoteRecord
	for id, rec := range priorByID {
		if !seen[id] {
			deletes = append(deletes, rec)
		}
	}
	sort.Slice(deletes, func(i, j int) bool { return deletes[i].NoteID < deletes[j].NoteID })

	return upserts, deletes, nil
}

// applyUpserts dispatches creates and updates with bounded parallelism.
// Each note is handled by exactly one goroutine, so state store writes for
// a given note ID are never in flight concurrently. Returns the first
// cycle-fatal error, which also cancels the remaining pending actions.
func (e *Engine) applyUpserts(ctx context.Context, actions []upsertAction, rep *CycleReport) error {
	if len(actions) == 0 {
		return nil
	}

	applyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatalMu sync.Mutex
	var fatal error
	setFatal := func(err error) {
		fatalMu.Lock()
		if fatal == nil {
			fatal = err
		}
		fatalMu.Unlock()
		cancel()
	}

	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for _, a := range actions {
		g.Go(func() error {
			// Cancellation is cooperative: checked between actions, never
			// inside an in-progress adapter call.
			if applyCtx.Err() != nil {
				return nil
			}
			if err := e.applyUpsert(applyCtx, a, rep); err != nil {
				setFatal(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	if fatal == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return fatal
}

// applyUpsert pushes one note to the target and records the outcome.
// Returns an error only for cycle-fatal conditions.
func (e *Engine) applyUpsert(ctx context.Context, a upsertAction, rep *CycleReport) error {
	id := a.content.ID
	doc := Document{NoteID: id, Title: a.content.Title, Content: a.canonical}
	isCreate := a.existing == nil || a.existing.TargetDocID == ""

	callCtx, cancel := e.callContext(ctx)
	var docID string
	var err error
	if isCreate {
		docID, err = e.target.CreateDocument(callCtx, doc)
	} else {
		docID, err = e.target.ReplaceDocument(callCtx, a.existing.TargetDocID, doc)
	}
	cancel()

	if err != nil {
		kind := KindOf(err)
		rep.addFailure(id, kind, err)
		if IsCycleFatal(err) {
			return err
		}
		if a.existing != nil {
			// Flag the record so the next cycle re-attempts regardless of
			// hash: after a failed replace the target state is unknown.
			rec := *a.existing
			rec.SyncStatus = state.StatusFailed
			if uerr := e.store.Upsert(context.WithoutCancel(ctx), rec); uerr != nil {
				uerr = StateStoreError(fmt.Errorf("failed to flag note %s: %w", id, uerr))
				rep.addFailure(id, KindStateStore, uerr)
				return uerr
			}
		}
		return nil
	}

	// A replace may have issued a fresh identifier, so collection membership
	// is ensured on every apply.
	memCtx, memCancel := e.callContext(ctx)
	merr := e.target.EnsureMembership(memCtx, docID)
	memCancel()
	if merr != nil {
		if IsCycleFatal(merr) {
			rep.addFailure(id, KindOf(merr), merr)
			return merr
		}
		// The document is uploaded and usable without the link; membership
		// is re-attempted on the next content change.
		e.logger.WithError(merr).WithField("note_id", id).Warn("Failed to ensure collection membership")
	}

	rec := state.NoteRecord{
		NoteID:       id,
		Title:        a.content.Title,
		ContentHash:  a.hash,
		Tags:         e.currentTags(ctx, a),
		TargetDocID:  docID,
		LastSyncedAt: e.now(),
		SyncStatus:   state.StatusSynced,
	}
	// Bookkeeping for a completed adapter call must land even if
	// cancellation arrived while the call was in flight.
	if uerr := e.store.Upsert(context.WithoutCancel(ctx), rec); uerr != nil {
		uerr = StateStoreError(fmt.Errorf("failed to record note %s: %w", id, uerr))
		rep.addFailure(id, KindStateStore, uerr)
		return uerr
	}

	if isCreate {
		rep.incCreated()
		e.logger.WithFields(logrus.Fields{"note_id": id, "doc_id": docID}).Info("Created document")
	} else {
		rep.incUpdated()
		e.logger.WithFields(logrus.Fields{"note_id": id, "doc_id": docID}).Info("Updated document")
	}
	return nil
}

// currentTags fetches the note's tag set for the record. Tags on the record
// are informational; on failure the last observation is kept.
func (e *Engine) currentTags(ctx context.Context, a upsertAction) []string {
	tagCtx, cancel := e.callContext(ctx)
	defer cancel()

	tags, err := e.source.ListTags(tagCtx, a.content.ID)
	if err != nil {
		e.logger.WithError(err).WithField("note_id", a.content.ID).Debug("Failed to list note tags")
		if a.existing != nil {
			return a.existing.Tags
		}
		return nil
	}
	return tags
}

// applyDeletes removes target documents for notes gone from the source. A
// record is removed from the store only after the target deletion has been
// confirmed; a failed delete leaves the record as-is so it is retried next
// cycle.
func (e *Engine) applyDeletes(ctx context.Context, deletes []state.NoteRecord, rep *CycleReport) error {
	for _, rec := range deletes {
		if err := ctx.Err(); err != nil {
			return err
		}

		if rec.TargetDocID != "" {
			callCtx, cancel := e.callContext(ctx)
			err := e.target.DeleteDocument(callCtx, rec.TargetDocID)
			cancel()
			if err != nil {
				rep.addFailure(rec.NoteID, KindOf(err), err)
				if IsCycleFatal(err) {
					return err
				}
				continue
			}
		}

		if err := e.store.Remove(context.WithoutCancel(ctx), rec.NoteID); err != nil {
			err = StateStoreError(fmt.Errorf("failed to remove note %s: %w", rec.NoteID, err))
			rep.addFailure(rec.NoteID, KindStateStore, err)
			return err
		}
		rep.incDeleted()
		e.logger.WithFields(logrus.Fields{"note_id": rec.NoteID, "doc_id": rec.TargetDocID}).Info("Deleted document")
	}
	return nil
}

// Status reads the current status surface without mutating engine state.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	stats, err := e.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}
	return &Status{
		LastCycle:        stats.LastLog,
		TotalSyncedNotes: stats.TotalNotes,
		PendingFailures:  stats.PendingFailures,
	}, nil
}

// LastReport returns the most recent in-memory cycle report, or nil before
// the first cycle.
func (e *Engine) LastReport() *CycleReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReport
}
