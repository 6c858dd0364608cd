package journal

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/notation/internal/apperr"
	"github.com/starford/notation/internal/codec"
	"github.com/starford/notation/internal/database"
	"github.com/starford/notation/internal/debounce"
	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notestore"
	"github.com/starford/notation/internal/prefs"
	"github.com/starford/notation/internal/storage"
)

// Hook is told about every note that could not be written.
type Hook func(n *models.Note, err error)

// Failure is one note or removal that did not reach the directory.
type Failure struct {
	ID       string
	Filename string
	Err      error
}

// FlushError reports the records that failed during a flush. The rest of
// the batch was written.
type FlushError struct {
	Failures []Failure
}

func (e *FlushError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Filename, f.Err))
	}
	return fmt.Sprintf("journal: %d record(s) not written: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *FlushError) Is(target error) bool { return target == apperr.ErrPartialFlush }

func (e *FlushError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

// Config controls the engine.
type Config struct {
	// Path of the journal file. Journaling is off when empty or Disabled.
	Path     string
	Disabled bool
}

// Engine owns the pending-write set. A note's Dirty flag is true exactly
// when its id is pending.
type Engine struct {
	cfg      Config
	store    *notestore.Store
	provider storage.Provider
	catalog  database.Catalog
	codec    *codec.Codec
	timer    *debounce.Debouncer
	logger   *slog.Logger

	journal    *File
	journalErr error

	pending  map[string]struct{}
	order    []string
	removals map[string]*models.DeletedNote

	didNotWrite Hook
}

// NewEngine wires an engine. catalog may be nil.
func NewEngine(cfg Config, store *notestore.Store, provider storage.Provider, catalog database.Catalog,
	c *codec.Codec, timer *debounce.Debouncer, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		provider: provider,
		catalog:  catalog,
		codec:    c,
		timer:    timer,
		logger:   logger.With(slog.String("component", "journal")),
		pending:  make(map[string]struct{}),
		removals: make(map[string]*models.DeletedNote),
	}
}

// OnDidNotWrite installs the per-record failure hook.
func (e *Engine) OnDidNotWrite(h Hook) { e.didNotWrite = h }

// Codec returns the active note codec.
func (e *Engine) Codec() *codec.Codec { return e.codec }

// Timer returns the flush debouncer.
func (e *Engine) Timer() *debounce.Debouncer { return e.timer }

// Journaling reports whether mutations are journaled before file writes.
func (e *Engine) Journaling() bool { return e.journal != nil }

// JournalError returns the condition that disabled journaling, if any.
func (e *Engine) JournalError() error { return e.journalErr }

// disable switches to direct-write mode and reports the cause once.
func (e *Engine) disable(op string, err error) {
	if e.journal != nil {
		_ = e.journal.Close()
		e.journal = nil
	}
	if e.journalErr != nil {
		return
	}
	e.journalErr = apperr.Journal(op, err)
	e.logger.Error("journaling disabled, writing notes directly",
		slog.String("op", op), slog.String("error", err.Error()))
}

// ScheduleWrite marks n dirty and (re)arms the flush timer.
func (e *Engine) ScheduleWrite(n *models.Note) {
	e.markPending(n)
	e.timer.Arm()
}

// ScheduleWriteNow marks n dirty and makes the flush due immediately.
func (e *Engine) ScheduleWriteNow(n *models.Note) {
	e.markPending(n)
	e.timer.ArmNow()
}

func (e *Engine) markPending(n *models.Note) {
	n.Dirty = true
	if _, ok := e.pending[n.ID]; !ok {
		e.pending[n.ID] = struct{}{}
		e.order = append(e.order, n.ID)
	}
}

// Unschedule drops a pending write without writing it.
func (e *Engine) Unschedule(id string) {
	if n, ok := e.store.Get(id); ok {
		n.Dirty = false
	}
	e.dropPending(id)
}

func (e *Engine) dropPending(id string) {
	if _, ok := e.pending[id]; !ok {
		return
	}
	delete(e.pending, id)
	for i, p := range e.order {
		if p == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// ScheduleRemoval queues deletion of a tombstoned note's file. Any pending
// write of the note is dropped.
func (e *Engine) ScheduleRemoval(t *models.DeletedNote) {
	e.dropPending(t.ID)
	e.removals[t.ID] = t
	e.timer.Arm()
}

// CancelRemoval forgets a queued deletion and reports whether there was
// one.
func (e *Engine) CancelRemoval(id string) bool {
	if _, ok := e.removals[id]; !ok {
		return false
	}
	delete(e.removals, id)
	return true
}

// IsPending reports whether id has an unflushed write.
func (e *Engine) IsPending(id string) bool {
	_, ok := e.pending[id]
	return ok
}

// IsRemovalPending reports whether id has an unflushed file removal.
func (e *Engine) IsRemovalPending(id string) bool {
	_, ok := e.removals[id]
	return ok
}

// PendingCount returns the size of the pending-write set.
func (e *Engine) PendingCount() int { return len(e.pending) }

// PendingIDs returns the pending note ids in scheduling order.
func (e *Engine) PendingIDs() []string { return append([]string(nil), e.order...) }

// Idle reports whether nothing awaits a flush.
func (e *Engine) Idle() bool { return len(e.pending) == 0 && len(e.removals) == 0 }

// FlushAll journals every pending record, then writes it to the note
// directory. Notes that fail stay dirty and the flush timer is rearmed.
// A partial failure returns *FlushError; a missing note directory aborts
// with a directory status and leaves every record pending.
func (e *Engine) FlushAll() error {
	e.timer.Cancel()
	if e.Idle() {
		return nil
	}
	batch := uuid.NewString()
	log := e.logger.With(slog.String("batch", batch))

	type job struct {
		note    *models.Note
		content []byte
	}
	var (
		jobs     []job
		failures []Failure
		entries  []Entry
	)
	for _, id := range e.PendingIDs() {
		n, ok := e.store.Get(id)
		if !ok {
			e.dropPending(id)
			continue
		}
		content, err := e.codec.Encode(n)
		if err != nil {
			failures = append(failures, Failure{ID: id, Filename: n.Filename, Err: err})
			continue
		}
		jobs = append(jobs, job{note: n, content: content})
		entries = append(entries, Entry{Op: OpWrite, Batch: batch, Note: n.Clone()})
	}
	for _, t := range e.removalList() {
		entries = append(entries, Entry{Op: OpRemove, Batch: batch, Tombstone: t})
	}

	if e.journal != nil && len(entries) > 0 {
		if err := e.journal.Append(entries); err != nil {
			e.disable("append", err)
		}
	}

	if err := e.checkRoot(); err != nil {
		return err
	}

	var (
		saved   []*models.Note
		removed []string
	)
	for _, j := range jobs {
		entry, err := e.provider.Write(j.note.Filename, j.content)
		if err != nil {
			if rootErr := e.checkRoot(); rootErr != nil {
				return rootErr
			}
			failures = append(failures, Failure{ID: j.note.ID, Filename: j.note.Filename, Err: err})
			continue
		}
		e.store.SetSnapshot(j.note.ID, entry)
		j.note.Format = codec.CurrentFormat
		j.note.Dirty = false
		e.dropPending(j.note.ID)
		saved = append(saved, j.note)
	}
	for _, t := range e.removalList() {
		if err := e.provider.Delete(t.Filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
			failures = append(failures, Failure{ID: t.ID, Filename: t.Filename, Err: err})
			continue
		}
		delete(e.removals, t.ID)
		removed = append(removed, t.ID)
	}

	if e.catalog != nil {
		if err := e.catalog.SaveNotes(saved); err != nil {
			log.Warn("catalog save failed", slog.String("error", err.Error()))
		}
		if err := e.catalog.DeleteNotes(removed); err != nil {
			log.Warn("catalog delete failed", slog.String("error", err.Error()))
		}
	}

	if e.journal != nil {
		if err := e.journal.Checkpoint(e.pendingEntries(batch)); err != nil {
			e.disable("checkpoint", err)
		}
	}

	log.Debug("flush complete",
		slog.Int("written", len(saved)),
		slog.Int("removed", len(removed)),
		slog.Int("failed", len(failures)))

	if len(failures) == 0 {
		return nil
	}
	for _, f := range failures {
		log.Warn("note did not write", slog.String("path", f.Filename), slog.String("error", f.Err.Error()))
		if e.didNotWrite != nil {
			if n, ok := e.store.Get(f.ID); ok {
				e.didNotWrite(n, f.Err)
			} else {
				e.didNotWrite(&models.Note{ID: f.ID, Filename: f.Filename}, f.Err)
			}
		}
	}
	// Retry the notes that stayed dirty.
	e.timer.Arm()
	return &FlushError{Failures: failures}
}

func (e *Engine) checkRoot() error {
	if _, err := e.provider.StatRoot(); err != nil {
		return apperr.Directory("flush", err)
	}
	return nil
}

// removalList returns queued removals in a stable order.
func (e *Engine) removalList() []*models.DeletedNote {
	out := make([]*models.DeletedNote, 0, len(e.removals))
	for _, t := range e.removals {
		out = append(out, t)
	}
	sortTombstones(out)
	return out
}

// PendingRemovals returns the queued file removals.
func (e *Engine) PendingRemovals() []*models.DeletedNote { return e.removalList() }

func sortTombstones(ts []*models.DeletedNote) {
	slices.SortFunc(ts, func(a, b *models.DeletedNote) int {
		if c := a.DeletedAt.Compare(b.DeletedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// pendingEntries snapshots what is still unflushed.
func (e *Engine) pendingEntries(batch string) []Entry {
	var out []Entry
	for _, id := range e.order {
		if n, ok := e.store.Get(id); ok {
			out = append(out, Entry{Op: OpWrite, Batch: batch, Note: n.Clone()})
		}
	}
	for _, t := range e.removalList() {
		out = append(out, Entry{Op: OpRemove, Batch: batch, Tombstone: t})
	}
	return out
}

// Replay applies journal entries to the store. An entry whose note is
// already at the same or a newer version is skipped, so replaying twice
// has the effect of replaying once. Applied writes are rescheduled.
func (e *Engine) Replay(entries []Entry) int {
	applied := 0
	for _, en := range entries {
		switch en.Op {
		case OpWrite:
			if en.Note == nil {
				continue
			}
			if cur, ok := e.store.Get(en.Note.ID); ok && cur.Version >= en.Note.Version {
				continue
			}
			if err := e.store.Put(en.Note); err != nil {
				e.logger.Warn("replay skipped entry",
					slog.String("id", en.Note.ID), slog.String("error", err.Error()))
				continue
			}
			n, _ := e.store.Get(en.Note.ID)
			e.ScheduleWrite(n)
			applied++
		case OpRemove:
			t := en.Tombstone
			if t == nil {
				continue
			}
			if t.AckedBy == nil {
				t.AckedBy = make(map[string]struct{})
			}
			if _, ok := e.store.Get(t.ID); ok {
				_, _, _ = e.store.Remove(t.ID)
			}
			if _, queued := e.removals[t.ID]; !queued {
				applied++
			}
			e.ScheduleRemoval(t)
		}
	}
	return applied
}

// Recover replays a journal left by an unclean shutdown and flushes the
// result. It must run before the first catalog scan. An unreadable
// journal disables journaling; the returned status is informational and
// startup continues.
func (e *Engine) Recover() (int, error) {
	if e.cfg.Disabled || e.cfg.Path == "" {
		return 0, nil
	}

	entries, err := Read(e.cfg.Path, e.codec.Sealer())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		entries = nil
	case err != nil:
		e.quarantine()
		e.disable("recover", err)
		return 0, e.journalErr
	}

	// Rewriting the readable prefix drops a torn tail and keeps the
	// entries durable while the replay is in flight.
	j, err := openJournal(e.cfg.Path, e.codec.Sealer(), entries)
	if err != nil {
		e.disable("open", err)
		return 0, e.journalErr
	}
	e.journal = j

	applied := e.Replay(entries)
	if applied > 0 {
		e.logger.Info("journal replayed", slog.Int("entries", applied))
		if err := e.FlushAll(); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// quarantine moves an unreadable journal aside so the next start does
// not trip over it again.
func (e *Engine) quarantine() {
	_ = os.Rename(e.cfg.Path, e.cfg.Path+".corrupt")
}

// RewriteAll schedules every note and flushes them as one batch.
func (e *Engine) RewriteAll() error {
	for _, n := range e.store.All() {
		e.markPending(n)
	}
	return e.FlushAll()
}

// UpgradeIfNecessary rewrites every note when the persisted storage format
// is older than the current one, then records the new format. It reports
// whether a rewrite happened.
func (e *Engine) UpgradeIfNecessary(p prefs.Store) (bool, error) {
	v, err := p.StorageFormat()
	if err != nil {
		return false, fmt.Errorf("journal: read storage format: %w", err)
	}
	if v >= codec.CurrentFormat {
		return false, nil
	}
	rewrite := false
	for _, n := range e.store.All() {
		if n.Format < codec.CurrentFormat {
			rewrite = true
			break
		}
	}
	if rewrite {
		e.logger.Info("upgrading note format",
			slog.Int("from", v), slog.Int("to", codec.CurrentFormat), slog.Int("notes", e.store.Len()))
		if err := e.RewriteAll(); err != nil {
			return true, err
		}
	}
	if err := p.SetStorageFormat(codec.CurrentFormat); err != nil {
		return rewrite, fmt.Errorf("journal: persist storage format: %w", err)
	}
	return rewrite, nil
}

// EncryptionSettingsChanged switches to c and rewrites every note and the
// journal under the new policy.
func (e *Engine) EncryptionSettingsChanged(c *codec.Codec) error {
	e.codec = c
	if e.journal != nil {
		e.journal.SetSealer(c.Sealer())
		if err := e.journal.Checkpoint(e.pendingEntries("")); err != nil {
			e.disable("checkpoint", err)
		}
	}
	return e.RewriteAll()
}

// Close flushes outstanding work. The journal is deleted when everything
// reached the directory and kept for recovery otherwise.
func (e *Engine) Close() error {
	err := e.FlushAll()
	if e.journal == nil {
		return err
	}
	if err == nil && e.Idle() {
		if rmErr := e.journal.Remove(); rmErr != nil {
			return rmErr
		}
	} else {
		_ = e.journal.Close()
	}
	e.journal = nil
	return err
}
