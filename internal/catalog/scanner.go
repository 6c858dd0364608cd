// Package catalog reconciles the note store with the note directory:
// identity-first matching of directory entries to notes, then renames,
// external edits, deletions and new files.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/notation/internal/apperr"
	"github.com/starford/notation/internal/codec"
	"github.com/starford/notation/internal/database"
	"github.com/starford/notation/internal/journal"
	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notestore"
	"github.com/starford/notation/internal/storage"
	"github.com/starford/notation/internal/tombstone"
)

// ConflictPolicy decides between a dirty note and an external edit.
type ConflictPolicy string

const (
	// LocalWins keeps the unsaved note and overwrites the file at once.
	LocalWins ConflictPolicy = "local-wins"
	// ExternalWins drops the unsaved change and reloads the file.
	ExternalWins ConflictPolicy = "external-wins"
)

// DefaultChunkSize is the number of entries requested per listing call.
const DefaultChunkSize = 256

// Config tunes the scanner.
type Config struct {
	ChunkSize int
	Policy    ConflictPolicy
}

// Skipped is a file the scan could not import.
type Skipped struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// Report summarizes one reconciliation.
type Report struct {
	Added     int       `json:"added"`
	Updated   int       `json:"updated"`
	Renamed   int       `json:"renamed"`
	Removed   int       `json:"removed"`
	Conflicts int       `json:"conflicts"`
	Skipped   []Skipped `json:"skipped,omitempty"`
}

// Changes returns the number of store mutations the scan made.
func (r Report) Changes() int {
	return r.Added + r.Updated + r.Renamed + r.Removed
}

// Scanner diffs directory snapshots against the store.
type Scanner struct {
	cfg        Config
	provider   storage.Provider
	store      *notestore.Store
	engine     *journal.Engine
	tombstones *tombstone.Manager
	catalog    database.Catalog
	logger     *slog.Logger
}

// New creates a scanner. catalog may be nil.
func New(cfg Config, provider storage.Provider, store *notestore.Store, engine *journal.Engine,
	tombstones *tombstone.Manager, catalog database.Catalog, logger *slog.Logger) *Scanner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Policy == "" {
		cfg.Policy = LocalWins
	}
	return &Scanner{
		cfg:        cfg,
		provider:   provider,
		store:      store,
		engine:     engine,
		tombstones: tombstones,
		catalog:    catalog,
		logger:     logger.With(slog.String("component", "catalog")),
	}
}

// Snapshot lists the note files in the directory, one chunk at a time.
func (s *Scanner) Snapshot(ctx context.Context) ([]models.CatalogEntry, error) {
	cur, err := s.provider.Open()
	if err != nil {
		return nil, apperr.Directory("scan", err)
	}
	defer cur.Close()

	var out []models.CatalogEntry
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := cur.Next(s.cfg.ChunkSize)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, apperr.Directory("scan", err)
		}
		for _, e := range chunk {
			if strings.HasPrefix(e.Filename, ".") || !e.Recognized() {
				continue
			}
			out = append(out, e)
		}
	}
}

type pair struct {
	note  *models.Note
	entry models.CatalogEntry
}

// Reconcile brings the store in line with the directory. Unreadable files
// are skipped and listed in the report; only directory failures are
// returned as errors.
func (s *Scanner) Reconcile(ctx context.Context) (Report, error) {
	var rep Report
	entries, err := s.Snapshot(ctx)
	if err != nil {
		return rep, err
	}

	matched := make(map[string]bool, len(entries))
	pairs := make([]pair, 0, len(entries))
	var unmatched []models.CatalogEntry

	// Node identity first, so renames are not read as delete plus add.
	var rest []models.CatalogEntry
	for _, e := range entries {
		if n, ok := s.store.ByNode(e.NodeID); ok && !matched[n.ID] {
			matched[n.ID] = true
			pairs = append(pairs, pair{note: n, entry: e})
			continue
		}
		rest = append(rest, e)
	}
	// Files replaced by an atomic save elsewhere keep their name only.
	for _, e := range rest {
		if n, ok := s.store.ByFilename(e.Filename); ok && !matched[n.ID] {
			matched[n.ID] = true
			pairs = append(pairs, pair{note: n, entry: e})
			continue
		}
		unmatched = append(unmatched, e)
	}

	// Deleted files go first so their names are free for renames.
	var gone []string
	for _, n := range s.store.All() {
		if matched[n.ID] || !onDisk(n) {
			continue
		}
		if s.engine.IsPending(n.ID) && s.cfg.Policy == LocalWins {
			rep.Conflicts++
			s.logger.Warn("note file deleted while note has unsaved changes, recreating",
				slog.String("path", n.Filename))
			s.engine.ScheduleWriteNow(n)
			continue
		}
		gone = append(gone, n.ID)
	}
	if len(gone) > 0 {
		if err := s.tombstones.RemoveExternal(gone...); err != nil {
			return rep, fmt.Errorf("catalog: remove deleted notes: %w", err)
		}
		rep.Removed += len(gone)
	}

	var changed []*models.Note
	s.applyRenames(pairs, &rep, &changed)

	for _, p := range pairs {
		s.reconcilePair(p, &rep, &changed)
	}

	for _, e := range unmatched {
		if n, ok := s.importEntry(e, &rep); ok {
			changed = append(changed, n)
		}
	}

	if s.catalog != nil && len(changed) > 0 {
		if err := s.catalog.SaveNotes(changed); err != nil {
			s.logger.Warn("catalog save failed", slog.String("error", err.Error()))
		}
	}

	if rep.Changes() > 0 || rep.Conflicts > 0 || len(rep.Skipped) > 0 {
		s.logger.Info("directory reconciled",
			slog.Int("added", rep.Added),
			slog.Int("updated", rep.Updated),
			slog.Int("renamed", rep.Renamed),
			slog.Int("removed", rep.Removed),
			slog.Int("conflicts", rep.Conflicts),
			slog.Int("skipped", len(rep.Skipped)))
	}
	return rep, nil
}

// onDisk reports whether a note has ever been written to the directory.
func onDisk(n *models.Note) bool {
	return n.NodeID != 0 || !n.DiskModTime.IsZero()
}

// applyRenames moves notes to their new filenames. Renames whose target
// is still held by another note wait for it to move; cycles go through a
// temporary name.
func (s *Scanner) applyRenames(pairs []pair, rep *Report, changed *[]*models.Note) {
	var todo []pair
	orig := make(map[string]string)
	for _, p := range pairs {
		if p.note.Filename != p.entry.Filename {
			todo = append(todo, p)
			orig[p.note.ID] = p.note.Filename
		}
	}
	for len(todo) > 0 {
		var blocked []pair
		for _, p := range todo {
			if holder, taken := s.store.ByFilename(p.entry.Filename); taken && holder != p.note {
				blocked = append(blocked, p)
				continue
			}
			s.rename(p.note, orig[p.note.ID], p.entry.Filename, rep, changed)
		}
		if len(blocked) == len(todo) && !s.breakCycle(blocked, orig) {
			for _, p := range blocked {
				rep.Skipped = append(rep.Skipped, Skipped{
					Filename: p.entry.Filename,
					Error:    "name is held by another note",
				})
			}
			return
		}
		todo = blocked
	}
}

// breakCycle parks one note of a rename cycle under a temporary name and
// reports whether it found one.
func (s *Scanner) breakCycle(blocked []pair, orig map[string]string) bool {
	for _, p := range blocked {
		holder, _ := s.store.ByFilename(p.entry.Filename)
		if _, renaming := orig[holder.ID]; !renaming {
			continue
		}
		_, err := s.store.Update(holder.ID, func(n *models.Note) { n.Filename = "\x00" + n.ID })
		return err == nil
	}
	return false
}

func (s *Scanner) rename(n *models.Note, old, filename string, rep *Report, changed *[]*models.Note) {
	retitle := codec.TitleFromFilename(old) == n.Title
	if _, err := s.store.Update(n.ID, func(n *models.Note) {
		n.Filename = filename
		if retitle {
			n.Title = codec.TitleFromFilename(filename)
		}
	}); err != nil {
		rep.Skipped = append(rep.Skipped, Skipped{Filename: filename, Error: err.Error()})
		return
	}
	rep.Renamed++
	*changed = append(*changed, n)
	s.logger.Debug("note renamed externally", slog.String("from", old), slog.String("to", filename))
	if retitle && n.Format >= codec.FormatFrontmatter {
		// The header still carries the old title.
		s.engine.ScheduleWrite(n)
	}
}

func (s *Scanner) reconcilePair(p pair, rep *Report, changed *[]*models.Note) {
	n, e := p.note, p.entry
	if e.SameContentAs(n) {
		if n.NodeID != e.NodeID {
			s.store.SetSnapshot(n.ID, e)
			*changed = append(*changed, n)
		}
		return
	}

	if s.engine.IsPending(n.ID) {
		rep.Conflicts++
		if s.cfg.Policy == LocalWins {
			s.logger.Warn("note changed on disk while it has unsaved changes, keeping local version",
				slog.String("path", n.Filename))
			s.engine.ScheduleWriteNow(n)
			return
		}
		s.logger.Warn("note changed on disk while it has unsaved changes, reloading",
			slog.String("path", n.Filename))
		s.engine.Unschedule(n.ID)
	}

	d, err := s.read(e)
	if err != nil {
		rep.Skipped = append(rep.Skipped, Skipped{Filename: e.Filename, Error: err.Error()})
		return
	}
	if _, err := s.store.Update(n.ID, func(n *models.Note) {
		n.Title = d.Title
		n.Body = d.Body
		n.SetLabels(d.Labels)
		n.Format = d.Format
		n.ModifiedAt = e.ModTime
		if !d.CreatedAt.IsZero() {
			n.CreatedAt = d.CreatedAt
		}
	}); err != nil {
		rep.Skipped = append(rep.Skipped, Skipped{Filename: e.Filename, Error: err.Error()})
		return
	}
	s.store.SetSnapshot(n.ID, e)
	rep.Updated++
	*changed = append(*changed, n)
}

func (s *Scanner) read(e models.CatalogEntry) (codec.Decoded, error) {
	data, err := s.provider.Read(e.Filename)
	if err != nil {
		return codec.Decoded{}, err
	}
	return s.engine.Codec().Decode(e.Filename, data)
}

func (s *Scanner) importEntry(e models.CatalogEntry, rep *Report) (*models.Note, bool) {
	d, err := s.read(e)
	if err != nil {
		s.logger.Warn("skipping unreadable note", slog.String("path", e.Filename), slog.String("error", err.Error()))
		rep.Skipped = append(rep.Skipped, Skipped{Filename: e.Filename, Error: err.Error()})
		return nil, false
	}

	n := &models.Note{
		ID:          d.ID,
		NodeID:      e.NodeID,
		Title:       d.Title,
		Body:        d.Body,
		CreatedAt:   d.CreatedAt,
		ModifiedAt:  e.ModTime,
		DiskModTime: e.ModTime,
		Size:        e.Size,
		Filename:    e.Filename,
		Format:      d.Format,
	}
	n.SetLabels(d.Labels)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = e.ModTime
	}

	reassigned := false
	if n.ID == "" || s.idTaken(n.ID) {
		reassigned = n.ID != ""
		n.ID = uuid.NewString()
	}
	if err := s.store.Add(n); err != nil {
		rep.Skipped = append(rep.Skipped, Skipped{Filename: e.Filename, Error: err.Error()})
		return nil, false
	}
	if reassigned {
		// A copied file shares its header id with another note.
		s.engine.ScheduleWrite(n)
	}
	rep.Added++
	return n, true
}

func (s *Scanner) idTaken(id string) bool {
	if _, ok := s.store.Get(id); ok {
		return true
	}
	_, ok := s.tombstones.Get(id)
	return ok
}
