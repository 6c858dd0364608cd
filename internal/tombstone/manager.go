// Package tombstone keeps deleted-note records until every known sync
// peer has acknowledged the deletion.
package tombstone

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/starford/notation/internal/database"
	"github.com/starford/notation/internal/debounce"
	"github.com/starford/notation/internal/journal"
	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notestore"
	"github.com/starford/notation/internal/undo"
)

// Manager owns the tombstone set and the set of known peers.
type Manager struct {
	store   *notestore.Store
	engine  *journal.Engine
	catalog database.Catalog
	undo    undo.Manager
	clock   debounce.Clock
	logger  *slog.Logger

	tombstones map[string]*models.DeletedNote
	peers      map[string]struct{}

	// nameTaken reports whether a restored note may not use name.
	nameTaken func(name, self string) bool
}

// New creates a manager. catalog may be nil; undo defaults to discarding.
func New(store *notestore.Store, engine *journal.Engine, catalog database.Catalog, u undo.Manager,
	clock debounce.Clock, logger *slog.Logger) *Manager {
	if u == nil {
		u = undo.Discard{}
	}
	if clock == nil {
		clock = debounce.SystemClock{}
	}
	return &Manager{
		store:      store,
		engine:     engine,
		catalog:    catalog,
		undo:       u,
		clock:      clock,
		logger:     logger.With(slog.String("component", "tombstone")),
		tombstones: make(map[string]*models.DeletedNote),
		peers:      make(map[string]struct{}),
	}
}

// SetNameCheck replaces the check used to pick a free filename for a
// restored note whose file is gone. The default only consults the store
// and the queued removals.
func (m *Manager) SetNameCheck(taken func(name, self string) bool) {
	m.nameTaken = taken
}

func (m *Manager) filenameTaken(name, self string) bool {
	if m.nameTaken != nil {
		return m.nameTaken(name, self)
	}
	if holder, ok := m.store.ByFilename(name); ok {
		return holder.ID != self
	}
	for _, t := range m.engine.PendingRemovals() {
		if t.Filename == name && t.ID != self {
			return true
		}
	}
	return false
}

// Load installs persisted tombstones and peers.
func (m *Manager) Load(ts []*models.DeletedNote, peers []string) {
	for _, t := range ts {
		if t.AckedBy == nil {
			t.AckedBy = make(map[string]struct{})
		}
		m.tombstones[t.ID] = t
	}
	for _, p := range peers {
		m.peers[p] = struct{}{}
	}
}

// Adopt records a tombstone created elsewhere, such as one recovered from
// the journal, unless it is already known.
func (m *Manager) Adopt(t *models.DeletedNote) {
	if _, ok := m.tombstones[t.ID]; ok {
		return
	}
	if t.AckedBy == nil {
		t.AckedBy = make(map[string]struct{})
	}
	m.tombstones[t.ID] = t
	m.persist(t)
}

type removal struct {
	note  *models.Note
	seq   uint64
	dirty bool
	ts    *models.DeletedNote
}

// Remove deletes notes from the live store, tombstones them and queues
// their files for deletion. One undo action restores all of them.
func (m *Manager) Remove(ids ...string) error {
	return m.remove(ids, true)
}

// RemoveExternal tombstones notes whose files were already deleted by
// another program. Undo recreates the files.
func (m *Manager) RemoveExternal(ids ...string) error {
	return m.remove(ids, false)
}

func (m *Manager) remove(ids []string, deleteFile bool) error {
	var done []removal
	for _, id := range ids {
		dirty := m.engine.IsPending(id)
		n, seq, err := m.store.Remove(id)
		if err != nil {
			m.register(done, deleteFile)
			return fmt.Errorf("tombstone: remove: %w", err)
		}
		n.Deleted = true
		ts := models.NewDeletedNote(n, m.clock.Now())
		m.tombstones[ts.ID] = ts
		m.persist(ts)
		if deleteFile {
			m.engine.ScheduleRemoval(ts)
		} else {
			m.engine.Unschedule(id)
			m.forgetNote(id)
		}
		n.Dirty = false
		done = append(done, removal{note: n, seq: seq, dirty: dirty, ts: ts})
		m.logger.Debug("note removed", slog.String("id", id), slog.String("path", n.Filename),
			slog.Bool("external", !deleteFile))
	}
	m.register(done, deleteFile)
	return nil
}

func (m *Manager) register(done []removal, deleteFile bool) {
	if len(done) == 0 {
		return
	}
	name := "Delete Note"
	if len(done) > 1 {
		name = "Delete Notes"
	}
	m.undo.Register(undo.Action{Name: name, Undo: func() error {
		var errs []error
		for i := len(done) - 1; i >= 0; i-- {
			if err := m.restore(done[i], deleteFile); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}})
}

// restore undoes one removal: the note comes back and then the tombstone
// goes away. The file is rewritten unless its deletion was still queued
// and the note had no unsaved changes. A note whose file is gone loses its
// disk snapshot, and moves to a free name if another note took its own.
func (m *Manager) restore(r removal, deleteFile bool) error {
	n := r.note
	if _, taken := m.store.Get(n.ID); taken {
		return fmt.Errorf("tombstone: restore %s: note already present", n.ID)
	}
	cancelled := deleteFile && m.engine.CancelRemoval(n.ID)

	filename, node, modTime, size := n.Filename, n.NodeID, n.DiskModTime, n.Size
	renamed := false
	if !cancelled {
		n.NodeID, n.DiskModTime, n.Size = 0, time.Time{}, 0
		if m.filenameTaken(n.Filename, n.ID) {
			n.Filename = m.freeFilename(n.Filename, n.ID)
			renamed = true
		}
	}

	n.Deleted = false
	if err := m.store.Restore(n, r.seq); err != nil {
		n.Deleted = true
		n.Filename, n.NodeID, n.DiskModTime, n.Size = filename, node, modTime, size
		if cancelled {
			m.engine.ScheduleRemoval(r.ts)
		}
		return fmt.Errorf("tombstone: restore: %w", err)
	}
	m.discard(n.ID)
	if renamed {
		m.logger.Info("restored note renamed", slog.String("id", n.ID),
			slog.String("from", filename), slog.String("to", n.Filename))
	}
	if !cancelled || r.dirty {
		m.engine.ScheduleWrite(n)
	}
	return nil
}

func (m *Manager) freeFilename(name, self string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s %d%s", stem, i, ext)
		if !m.filenameTaken(candidate, self) {
			return candidate
		}
	}
}

// Get returns the tombstone for id.
func (m *Manager) Get(id string) (*models.DeletedNote, bool) {
	t, ok := m.tombstones[id]
	return t, ok
}

// Len returns the number of tombstones.
func (m *Manager) Len() int { return len(m.tombstones) }

// All returns the tombstones ordered by deletion time.
func (m *Manager) All() []*models.DeletedNote {
	out := make([]*models.DeletedNote, 0, len(m.tombstones))
	for _, t := range m.tombstones {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *models.DeletedNote) int {
		if c := a.DeletedAt.Compare(b.DeletedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Unacknowledged returns the tombstones peer has not received yet.
func (m *Manager) Unacknowledged(peer string) []*models.DeletedNote {
	var out []*models.DeletedNote
	for _, t := range m.All() {
		if !t.Acked(peer) {
			out = append(out, t)
		}
	}
	return out
}

// Acknowledge records that peer received the deletion of id.
func (m *Manager) Acknowledge(id, peer string) bool {
	t, ok := m.tombstones[id]
	if !ok {
		return false
	}
	if t.Acked(peer) {
		return true
	}
	t.AckedBy[peer] = struct{}{}
	m.persist(t)
	return true
}

// Peers returns the known peers in sorted order.
func (m *Manager) Peers() []string {
	out := make([]string, 0, len(m.peers))
	for p := range m.peers {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// RegisterPeer adds a peer whose acknowledgement is required for purging.
func (m *Manager) RegisterPeer(name string) {
	if _, ok := m.peers[name]; ok {
		return
	}
	m.peers[name] = struct{}{}
	if m.catalog != nil {
		if err := m.catalog.SavePeer(name); err != nil {
			m.logger.Warn("persist peer failed", slog.String("peer", name), slog.String("error", err.Error()))
		}
	}
}

// DeauthorizePeer forgets a peer and drops its acknowledgements, so its
// earlier receipts no longer count if it comes back.
func (m *Manager) DeauthorizePeer(name string) {
	ids := make([]string, 0, len(m.tombstones))
	for id := range m.tombstones {
		ids = append(ids, id)
	}
	m.Orphan(ids, name)
	delete(m.peers, name)
	if m.catalog != nil {
		if err := m.catalog.DeletePeer(name); err != nil {
			m.logger.Warn("forget peer failed", slog.String("peer", name), slog.String("error", err.Error()))
		}
	}
}

// Orphan removes peer's acknowledgement from the given tombstones.
func (m *Manager) Orphan(ids []string, peer string) {
	var changed []*models.DeletedNote
	for _, id := range ids {
		t, ok := m.tombstones[id]
		if !ok || !t.Acked(peer) {
			continue
		}
		delete(t.AckedBy, peer)
		changed = append(changed, t)
	}
	m.persist(changed...)
}

// PurgeAcknowledged discards every tombstone acknowledged by all known
// peers and returns their ids. With no known peers every tombstone goes.
func (m *Manager) PurgeAcknowledged() []string {
	var purged []string
	for _, t := range m.All() {
		if !m.fullyAcked(t) {
			continue
		}
		delete(m.tombstones, t.ID)
		purged = append(purged, t.ID)
	}
	if len(purged) > 0 && m.catalog != nil {
		if err := m.catalog.DeleteTombstones(purged); err != nil {
			m.logger.Warn("purge tombstones failed", slog.String("error", err.Error()))
		}
	}
	if len(purged) > 0 {
		m.logger.Debug("tombstones purged", slog.Int("count", len(purged)))
	}
	return purged
}

func (m *Manager) fullyAcked(t *models.DeletedNote) bool {
	for p := range m.peers {
		if !t.Acked(p) {
			return false
		}
	}
	return true
}

func (m *Manager) discard(id string) {
	if _, ok := m.tombstones[id]; !ok {
		return
	}
	delete(m.tombstones, id)
	if m.catalog != nil {
		if err := m.catalog.DeleteTombstones([]string{id}); err != nil {
			m.logger.Warn("delete tombstone failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) forgetNote(id string) {
	if m.catalog == nil {
		return
	}
	if err := m.catalog.DeleteNotes([]string{id}); err != nil {
		m.logger.Warn("catalog delete failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func (m *Manager) persist(ts ...*models.DeletedNote) {
	if m.catalog == nil || len(ts) == 0 {
		return
	}
	if err := m.catalog.SaveTombstones(ts); err != nil {
		m.logger.Warn("persist tombstones failed", slog.String("error", err.Error()))
	}
}
