// Package notation ties the note store, the durability engine, the
// tombstone manager, the catalog scanner, the filter and the sorter into a
// single context object. A Notation is not safe for concurrent use; the
// Runner owns it on one goroutine.
package notation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/notation/internal/apperr"
	"github.com/starford/notation/internal/catalog"
	"github.com/starford/notation/internal/codec"
	"github.com/starford/notation/internal/database"
	"github.com/starford/notation/internal/debounce"
	"github.com/starford/notation/internal/filter"
	"github.com/starford/notation/internal/journal"
	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notestore"
	"github.com/starford/notation/internal/prefs"
	"github.com/starford/notation/internal/sorting"
	"github.com/starford/notation/internal/storage"
	"github.com/starford/notation/internal/tombstone"
	"github.com/starford/notation/internal/undo"
)

// Defaults applied by Open when the matching option is zero.
const (
	DefaultDebounce  = 2 * time.Second
	DefaultMaxDelay  = 30 * time.Second
	DefaultExtension = ".md"
)

// Options configures Open. Provider is required.
type Options struct {
	Provider storage.Provider
	// Catalog persists notes and tombstones between runs. May be nil.
	Catalog database.Catalog
	// Prefs holds the storage format and encryption settings. Defaults to
	// an in-memory store.
	Prefs prefs.Store
	// Codec encodes note files. Defaults to plain frontmatter files.
	Codec *codec.Codec

	Journal  journal.Config
	Debounce time.Duration
	MaxDelay time.Duration
	Clock    debounce.Clock

	Scanner   catalog.Config
	Extension string

	SortColumn    sorting.Column
	SortDirection sorting.Direction

	UndoLimit int
	Logger    *slog.Logger
}

// Notation is the note catalog of one directory.
type Notation struct {
	opts   Options
	logger *slog.Logger
	clock  debounce.Clock
	prefs  prefs.Store

	store   *notestore.Store
	engine  *journal.Engine
	tombs   *tombstone.Manager
	scanner *catalog.Scanner
	filter  *filter.Engine
	sorter  *sorting.Engine
	undo    *undo.Stack

	failures   map[string]journal.Failure
	lastDirMod time.Time
	lastReport catalog.Report
}

// Open loads the catalog, recovers an unclean journal, reconciles with the
// directory and upgrades old note files. A journal problem does not stop
// Open; it is reported through JournalError. A directory problem does.
func Open(ctx context.Context, opts Options) (*Notation, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("notation: provider is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Prefs == nil {
		opts.Prefs = prefs.NewMemory()
	}
	if opts.Codec == nil {
		opts.Codec = codec.New(nil)
	}
	if opts.Clock == nil {
		opts.Clock = debounce.SystemClock{}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}

	n := &Notation{
		opts:     opts,
		logger:   opts.Logger.With(slog.String("component", "notation")),
		clock:    opts.Clock,
		prefs:    opts.Prefs,
		store:    notestore.New(),
		undo:     undo.NewStack(opts.UndoLimit),
		failures: make(map[string]journal.Failure),
	}
	n.sorter = sorting.New(n.store, opts.SortColumn, opts.SortDirection)

	timer := debounce.New(opts.Clock, opts.Debounce, opts.MaxDelay)
	n.engine = journal.NewEngine(opts.Journal, n.store, opts.Provider, opts.Catalog, opts.Codec, timer, opts.Logger)
	n.engine.OnDidNotWrite(func(note *models.Note, err error) {
		n.failures[note.ID] = journal.Failure{ID: note.ID, Filename: note.Filename, Err: err}
	})
	n.tombs = tombstone.New(n.store, n.engine, opts.Catalog, n.undo, opts.Clock, opts.Logger)
	n.tombs.SetNameCheck(n.filenameTaken)
	n.scanner = catalog.New(opts.Scanner, opts.Provider, n.store, n.engine, n.tombs, opts.Catalog, opts.Logger)

	if _, err := n.checkDirectory(); err != nil {
		return nil, err
	}
	if err := n.load(); err != nil {
		return nil, err
	}

	applied, err := n.engine.Recover()
	switch {
	case errors.Is(err, apperr.ErrDirectory):
		return nil, err
	case errors.Is(err, apperr.ErrJournal):
		n.logger.Warn("journal could not be recovered", slog.String("error", err.Error()))
	case err != nil:
		n.logger.Warn("recovered notes did not all write", slog.String("error", err.Error()))
	}
	for _, t := range n.engine.PendingRemovals() {
		n.tombs.Adopt(t)
	}
	if applied > 0 {
		n.logger.Info("recovered unsaved changes", slog.Int("entries", applied))
	}

	if _, err := n.CheckAndReconcile(ctx, true); err != nil {
		return nil, err
	}
	if err := n.applyEncryption(); err != nil {
		return nil, err
	}
	if _, err := n.engine.UpgradeIfNecessary(n.prefs); err != nil {
		if errors.Is(err, apperr.ErrDirectory) {
			return nil, err
		}
		n.logger.Warn("format upgrade incomplete", slog.String("error", err.Error()))
	}

	n.filter = filter.New(n.store)
	n.logger.Info("notes loaded",
		slog.String("path", opts.Provider.Root()),
		slog.Int("notes", n.store.Len()),
		slog.Int("tombstones", n.tombs.Len()),
		slog.Bool("journaling", n.engine.Journaling()))
	return n, nil
}

func (n *Notation) load() error {
	c := n.opts.Catalog
	if c == nil {
		return nil
	}
	notes, err := c.LoadNotes()
	if err != nil {
		return fmt.Errorf("notation: load notes: %w", err)
	}
	for _, note := range notes {
		if err := n.store.Add(note); err != nil {
			n.logger.Warn("skipping catalog row", slog.String("id", note.ID), slog.String("error", err.Error()))
		}
	}
	ts, err := c.LoadTombstones()
	if err != nil {
		return fmt.Errorf("notation: load tombstones: %w", err)
	}
	peers, err := c.LoadPeers()
	if err != nil {
		return fmt.Errorf("notation: load peers: %w", err)
	}
	n.tombs.Load(ts, peers)
	return nil
}

// applyEncryption rewrites every note when the codec's encryption policy
// differs from the one the files were last written with.
func (n *Notation) applyEncryption() error {
	want := EncryptionOf(n.engine.Codec())
	have, err := n.prefs.Encryption()
	if err != nil {
		return fmt.Errorf("notation: read encryption settings: %w", err)
	}
	if have.Equal(want) {
		return nil
	}
	n.logger.Info("encryption settings changed, rewriting notes",
		slog.Bool("enabled", want.Enabled), slog.Int("notes", n.store.Len()))
	if err := n.engine.EncryptionSettingsChanged(n.engine.Codec()); err != nil {
		if errors.Is(err, apperr.ErrDirectory) {
			return err
		}
		// Notes that did not write stay pending; the settings are stored
		// anyway so the next flush writes them under the new policy.
		n.logger.Warn("rewrite incomplete", slog.String("error", err.Error()))
	}
	if err := n.prefs.SetEncryption(want); err != nil {
		return fmt.Errorf("notation: persist encryption settings: %w", err)
	}
	return nil
}

// SetCodec switches the encryption policy at runtime and rewrites every
// note under it.
func (n *Notation) SetCodec(c *codec.Codec) error {
	if err := n.engine.EncryptionSettingsChanged(c); err != nil && errors.Is(err, apperr.ErrDirectory) {
		return err
	}
	if err := n.prefs.SetEncryption(EncryptionOf(c)); err != nil {
		return fmt.Errorf("notation: persist encryption settings: %w", err)
	}
	return nil
}

// checkDirectory returns the directory mtime. It fails when the directory
// is gone or sits in a trash folder.
func (n *Notation) checkDirectory() (time.Time, error) {
	mod, err := n.opts.Provider.StatRoot()
	if err != nil {
		return time.Time{}, apperr.Directory("check directory", err)
	}
	if root := n.opts.Provider.Root(); storage.IsTrashed(root) {
		return time.Time{}, apperr.Directory("check directory", fmt.Errorf("%s is in the trash", root))
	}
	return mod, nil
}

// CheckAndReconcile rescans the directory. Unless force is set the scan is
// skipped when the directory's modification time has not moved since the
// last one.
func (n *Notation) CheckAndReconcile(ctx context.Context, force bool) (catalog.Report, error) {
	mod, err := n.checkDirectory()
	if err != nil {
		return catalog.Report{}, err
	}
	if !force && mod.Equal(n.lastDirMod) {
		return catalog.Report{}, nil
	}
	rep, err := n.scanner.Reconcile(ctx)
	if err != nil {
		return rep, err
	}
	n.lastDirMod = mod
	n.lastReport = rep
	return rep, nil
}

// LastReport returns the result of the most recent scan.
func (n *Notation) LastReport() catalog.Report { return n.lastReport }

// Tick flushes when the debounce deadline has passed. It reports whether a
// flush ran.
func (n *Notation) Tick() (bool, error) {
	if !n.engine.Timer().Due(n.clock.Now()) {
		return false, nil
	}
	return true, n.Flush()
}

// Flush writes every pending note and removal, then purges tombstones all
// peers have acknowledged.
func (n *Notation) Flush() error {
	err := n.engine.FlushAll()
	for id := range n.failures {
		if !n.engine.IsPending(id) && !n.engine.IsRemovalPending(id) {
			delete(n.failures, id)
		}
	}
	n.tombs.PurgeAcknowledged()
	return err
}

// Close flushes outstanding work and releases the journal.
func (n *Notation) Close() error {
	err := n.engine.Close()
	n.tombs.PurgeAcknowledged()
	return err
}

// Deadline returns when the next flush is due.
func (n *Notation) Deadline() (time.Time, bool) { return n.engine.Timer().Deadline() }

// Clock returns the clock driving the flush debouncer.
func (n *Notation) Clock() debounce.Clock { return n.clock }

func (n *Notation) Store() *notestore.Store        { return n.store }
func (n *Notation) Engine() *journal.Engine        { return n.engine }
func (n *Notation) Tombstones() *tombstone.Manager { return n.tombs }
func (n *Notation) Filter() *filter.Engine         { return n.filter }
func (n *Notation) Sorter() *sorting.Engine        { return n.sorter }
func (n *Notation) Undo() *undo.Stack              { return n.undo }

// Root returns the note directory.
func (n *Notation) Root() string { return n.opts.Provider.Root() }

// JournalError returns the condition that disabled journaling, if any.
func (n *Notation) JournalError() error { return n.engine.JournalError() }

// Subscribe registers l for store events.
func (n *Notation) Subscribe(l notestore.Listener) { n.store.Subscribe(l) }

// Get returns a note by id.
func (n *Notation) Get(id string) (*models.Note, error) {
	note, ok := n.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("notation: note %s: %w", id, apperr.ErrNotFound)
	}
	return note, nil
}

// WriteFailures returns the notes whose last write failed and are still
// pending, ordered by filename.
func (n *Notation) WriteFailures() []journal.Failure {
	out := make([]journal.Failure, 0, len(n.failures))
	for _, f := range n.failures {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b journal.Failure) int { return strings.Compare(a.Filename, b.Filename) })
	return out
}

// AddNote creates a note and schedules its file.
func (n *Notation) AddNote(title, body string, labels []string) (*models.Note, error) {
	now := n.clock.Now()
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	note := &models.Note{
		ID:         uuid.NewString(),
		Title:      title,
		Body:       body,
		CreatedAt:  now,
		ModifiedAt: now,
		Filename:   n.uniqueFilename(title, n.opts.Extension, ""),
		Format:     codec.CurrentFormat,
	}
	note.SetLabels(labels)
	if err := n.store.Add(note); err != nil {
		return nil, fmt.Errorf("notation: add note: %w", err)
	}
	n.engine.ScheduleWrite(note)
	return note, nil
}

// UpdateBody replaces a note's content.
func (n *Notation) UpdateBody(id, body string) (*models.Note, error) {
	note, err := n.store.Update(id, func(note *models.Note) {
		note.Body = body
		note.ModifiedAt = n.clock.Now()
	})
	if err != nil {
		return nil, fmt.Errorf("notation: update note: %w", err)
	}
	n.engine.ScheduleWrite(note)
	return note, nil
}

// RenameNote retitles a note, moves its file to a matching name and
// rewrites [[links]] to the old title in other notes. It returns the number
// of notes whose links changed.
func (n *Notation) RenameNote(id, title string) (int, error) {
	note, err := n.Get(id)
	if err != nil {
		return 0, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return 0, fmt.Errorf("notation: rename %s: empty title: %w", id, apperr.ErrConflict)
	}
	oldTitle, oldName := note.Title, note.Filename
	if title == oldTitle {
		return 0, nil
	}
	newName := n.uniqueFilename(title, filepath.Ext(oldName), id)

	var moved *models.CatalogEntry
	if newName != oldName && (note.NodeID != 0 || !note.DiskModTime.IsZero()) {
		entry, err := n.opts.Provider.Move(oldName, newName)
		switch {
		case err == nil:
			moved = &entry
		case errors.Is(err, fs.ErrNotExist):
			// Not written yet; the next flush creates it under the new name.
		default:
			if _, dirErr := n.checkDirectory(); dirErr != nil {
				return 0, dirErr
			}
			return 0, fmt.Errorf("notation: rename %s: %w", oldName, err)
		}
	}

	if _, err := n.store.Update(id, func(note *models.Note) {
		note.Title = title
		note.Filename = newName
		note.ModifiedAt = n.clock.Now()
	}); err != nil {
		return 0, fmt.Errorf("notation: rename %s: %w", id, err)
	}
	if moved != nil {
		n.store.SetSnapshot(id, *moved)
	}
	n.engine.ScheduleWrite(note)

	relinked := 0
	for _, other := range n.store.All() {
		if other.ID == id {
			continue
		}
		body, changed := codec.RewriteLinks(other.Body, oldTitle, title)
		if !changed {
			continue
		}
		if _, err := n.store.Update(other.ID, func(o *models.Note) { o.Body = body }); err != nil {
			n.logger.Warn("link rewrite failed", slog.String("path", other.Filename), slog.String("error", err.Error()))
			continue
		}
		n.engine.ScheduleWrite(other)
		relinked++
	}
	n.logger.Debug("note renamed", slog.String("from", oldName), slog.String("to", newName), slog.Int("relinked", relinked))
	return relinked, nil
}

// uniqueFilename derives a file name for title that no other note and no
// foreign file uses. self is the id allowed to hold the name already.
func (n *Notation) uniqueFilename(title, ext, self string) string {
	name := codec.FilenameFor(title, ext)
	ext = filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; n.filenameTaken(name, self); i++ {
		name = fmt.Sprintf("%s %d%s", stem, i, ext)
	}
	return name
}

func (n *Notation) filenameTaken(name, self string) bool {
	if holder, ok := n.store.ByFilename(name); ok {
		return holder.ID != self
	}
	for _, t := range n.engine.PendingRemovals() {
		if t.Filename == name {
			return true
		}
	}
	_, err := n.opts.Provider.Stat(name)
	return err == nil
}

// AddLabels adds labels to the given notes as one undoable action.
func (n *Notation) AddLabels(ids []string, labels ...string) error {
	return n.editLabels("Add Labels", ids, func(cur []string) []string {
		return append(slices.Clone(cur), labels...)
	})
}

// RemoveLabels removes labels from the given notes as one undoable action.
func (n *Notation) RemoveLabels(ids []string, labels ...string) error {
	return n.editLabels("Remove Labels", ids, func(cur []string) []string {
		return slices.DeleteFunc(slices.Clone(cur), func(l string) bool { return slices.Contains(labels, l) })
	})
}

func (n *Notation) editLabels(name string, ids []string, edit func([]string) []string) error {
	before := make(map[string][]string, len(ids))
	for _, id := range ids {
		note, err := n.Get(id)
		if err != nil {
			n.restoreLabels(before)
			return err
		}
		next := models.NormalizeLabels(edit(note.Labels))
		if slices.Equal(next, note.Labels) {
			continue
		}
		before[id] = slices.Clone(note.Labels)
		if _, err := n.store.Update(id, func(note *models.Note) {
			note.Labels = next
			note.ModifiedAt = n.clock.Now()
		}); err != nil {
			n.restoreLabels(before)
			return fmt.Errorf("notation: %s: %w", strings.ToLower(name), err)
		}
		n.engine.ScheduleWrite(note)
	}
	if len(before) == 0 {
		return nil
	}
	n.undo.Register(undo.Action{Name: name, Undo: func() error {
		n.restoreLabels(before)
		return nil
	}})
	return nil
}

func (n *Notation) restoreLabels(labels map[string][]string) {
	for id, ls := range labels {
		note, err := n.store.Update(id, func(note *models.Note) { note.Labels = ls })
		if err != nil {
			continue
		}
		n.engine.ScheduleWrite(note)
	}
}

// RemoveNotes deletes notes through the tombstone manager as one undoable
// action.
func (n *Notation) RemoveNotes(ids ...string) error {
	return n.tombs.Remove(ids...)
}

// UndoLast reverts the most recent undoable action and returns its name.
func (n *Notation) UndoLast() (string, error) {
	return n.undo.Undo()
}

// AddNotesFromSync merges notes received from a sync peer. Notes deleted
// here and notes already at the same or a newer version are ignored. It
// returns the notes that were imported or updated.
func (n *Notation) AddNotesFromSync(notes []*models.Note) ([]*models.Note, error) {
	var out []*models.Note
	for _, in := range notes {
		if in.ID == "" {
			continue
		}
		if _, deleted := n.tombs.Get(in.ID); deleted {
			continue
		}
		next := in.Clone()
		next.Dirty, next.Deleted = false, false
		cur, exists := n.store.Get(in.ID)
		if exists {
			if cur.Version >= in.Version {
				continue
			}
			next.NodeID, next.DiskModTime, next.Size = cur.NodeID, cur.DiskModTime, cur.Size
			next.Filename = cur.Filename
		} else {
			next.NodeID, next.DiskModTime, next.Size = 0, time.Time{}, 0
			next.Filename = n.uniqueFilename(next.Title, n.opts.Extension, "")
		}
		if err := n.store.Put(next); err != nil {
			return out, fmt.Errorf("notation: import %s: %w", in.ID, err)
		}
		note, _ := n.store.Get(in.ID)
		n.engine.ScheduleWrite(note)
		out = append(out, note)
	}
	if len(out) > 0 {
		n.logger.Info("imported notes from sync", slog.Int("count", len(out)))
	}
	return out, nil
}

// FilterString narrows the visible notes to those matching q.
func (n *Notation) FilterString(q string, force bool) bool {
	return n.filter.FilterString(q, force)
}

// FilterLabels narrows the visible notes to those carrying any of labels.
func (n *Notation) FilterLabels(labels ...string) bool {
	return n.filter.FilterLabels(labels...)
}

// SetSort changes the sort column and direction.
func (n *Notation) SetSort(col sorting.Column, dir sorting.Direction) {
	n.sorter.SetColumn(col, dir)
}

// Visible returns the filtered notes in display order.
func (n *Notation) Visible() []*models.Note { return n.filter.Visible() }

// LabelCount is one entry of the label list.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Labels returns every label in use with the number of notes carrying it,
// ordered by label.
func (n *Notation) Labels() []LabelCount {
	counts := make(map[string]int)
	for _, note := range n.store.All() {
		for _, l := range note.Labels {
			counts[l]++
		}
	}
	out := make([]LabelCount, 0, len(counts))
	for l, c := range counts {
		out = append(out, LabelCount{Label: l, Count: c})
	}
	slices.SortFunc(out, func(a, b LabelCount) int { return strings.Compare(a.Label, b.Label) })
	return out
}

// EncryptionOf describes the encryption policy of c as stored in prefs.
func EncryptionOf(c *codec.Codec) prefs.Encryption {
	s := c.Sealer()
	if s == nil {
		return prefs.Encryption{}
	}
	return prefs.Encryption{Enabled: true, Salt: s.Salt(), Fingerprint: s.Fingerprint()}
}

// CodecFor builds the codec for the configured encryption policy, reusing
// the stored salt so an unchanged passphrase derives the same key.
func CodecFor(p prefs.Store, enabled bool, passphrase string) (*codec.Codec, error) {
	if !enabled {
		return codec.New(nil), nil
	}
	if passphrase == "" {
		return nil, fmt.Errorf("notation: encryption enabled without a passphrase")
	}
	enc, err := p.Encryption()
	if err != nil {
		return nil, fmt.Errorf("notation: read encryption settings: %w", err)
	}
	var salt []byte
	if enc.Enabled {
		salt = enc.Salt
	}
	s, err := codec.NewSealer(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("notation: %w", err)
	}
	return codec.New(s), nil
}
