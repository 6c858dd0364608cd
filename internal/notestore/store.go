// Package notestore holds the canonical ordered collection of notes.
//
// The store is not safe for concurrent use; it is owned by the single
// goroutine that drives the notation core.
package notestore

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/starford/notation/internal/apperr"
	"github.com/starford/notation/internal/models"
)

// EventKind classifies a store change.
type EventKind int

const (
	Added EventKind = iota
	Updated
	Removed
	Reordered
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Reordered:
		return "reordered"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event describes one change. Note is nil for Reordered.
type Event struct {
	Kind  EventKind
	Note  *models.Note
	Index int
}

// Listener receives store events synchronously.
type Listener func(Event)

// Order compares two notes by sort key; ties are broken by the store.
type Order func(a, b *models.Note) int

// Store keeps notes sorted by the active order, ties in insertion order.
type Store struct {
	notes []*models.Note
	seq   map[string]uint64
	next  uint64

	byID   map[string]*models.Note
	byNode map[uint64]*models.Note
	byName map[string]*models.Note

	order     Order
	listeners []Listener
}

// New returns an empty store ordered by insertion.
func New() *Store {
	return &Store{
		seq:    make(map[string]uint64),
		byID:   make(map[string]*models.Note),
		byNode: make(map[uint64]*models.Note),
		byName: make(map[string]*models.Note),
	}
}

// Subscribe registers l for every subsequent event.
func (s *Store) Subscribe(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Store) emit(e Event) {
	for _, l := range s.listeners {
		l(e)
	}
}

// Len returns the number of notes.
func (s *Store) Len() int { return len(s.notes) }

// All returns the notes in store order. The slice is a copy; the notes
// are shared.
func (s *Store) All() []*models.Note { return slices.Clone(s.notes) }

// At returns the note at index i.
func (s *Store) At(i int) *models.Note { return s.notes[i] }

// Get returns the note with id.
func (s *Store) Get(id string) (*models.Note, bool) {
	n, ok := s.byID[id]
	return n, ok
}

// ByNode returns the note backed by the file with the given node id.
func (s *Store) ByNode(nodeID uint64) (*models.Note, bool) {
	if nodeID == 0 {
		return nil, false
	}
	n, ok := s.byNode[nodeID]
	return n, ok
}

// ByFilename returns the note stored in name.
func (s *Store) ByFilename(name string) (*models.Note, bool) {
	n, ok := s.byName[name]
	return n, ok
}

// Seq returns the insertion sequence number of id.
func (s *Store) Seq(id string) (uint64, bool) {
	q, ok := s.seq[id]
	return q, ok
}

// Compare orders two stored notes the way the store does.
func (s *Store) Compare(a, b *models.Note) int {
	if s.order != nil {
		if c := s.order(a, b); c != 0 {
			return c
		}
	}
	return cmp.Compare(s.seq[a.ID], s.seq[b.ID])
}

// IndexOf returns the position of id, or -1.
func (s *Store) IndexOf(id string) int {
	n, ok := s.byID[id]
	if !ok {
		return -1
	}
	i, found := slices.BinarySearchFunc(s.notes, n, s.Compare)
	if !found {
		return -1
	}
	return i
}

// Add inserts a new note at its sorted position.
func (s *Store) Add(n *models.Note) error {
	return s.insert(n, 0)
}

// Restore reinserts a previously removed note with its original
// insertion sequence, so it regains its old position among equal keys.
func (s *Store) Restore(n *models.Note, seq uint64) error {
	return s.insert(n, seq)
}

func (s *Store) insert(n *models.Note, seq uint64) error {
	if n.ID == "" {
		return fmt.Errorf("notestore: add: empty id")
	}
	if _, ok := s.byID[n.ID]; ok {
		return fmt.Errorf("notestore: add %s: %w", n.ID, apperr.ErrAlreadyExists)
	}
	if _, ok := s.byName[n.Filename]; ok {
		return fmt.Errorf("notestore: add %s: filename %q: %w", n.ID, n.Filename, apperr.ErrAlreadyExists)
	}
	if seq == 0 {
		s.next++
		seq = s.next
	} else if seq > s.next {
		s.next = seq
	}
	s.seq[n.ID] = seq
	s.index(n)
	i := s.place(n)
	s.emit(Event{Kind: Added, Note: n, Index: i})
	return nil
}

func (s *Store) place(n *models.Note) int {
	i, _ := slices.BinarySearchFunc(s.notes, n, s.Compare)
	s.notes = slices.Insert(s.notes, i, n)
	return i
}

func (s *Store) index(n *models.Note) {
	s.byID[n.ID] = n
	s.byName[n.Filename] = n
	if n.NodeID != 0 {
		s.byNode[n.NodeID] = n
	}
}

func (s *Store) unindex(n *models.Note) {
	delete(s.byID, n.ID)
	if s.byName[n.Filename] == n {
		delete(s.byName, n.Filename)
	}
	if n.NodeID != 0 && s.byNode[n.NodeID] == n {
		delete(s.byNode, n.NodeID)
	}
}

// detach removes n from the ordered slice using its current sort key.
func (s *Store) detach(n *models.Note) int {
	i := slices.Index(s.notes, n)
	if i >= 0 {
		s.notes = slices.Delete(s.notes, i, i+1)
	}
	return i
}

// Remove deletes id and returns the note with its insertion sequence.
func (s *Store) Remove(id string) (*models.Note, uint64, error) {
	n, ok := s.byID[id]
	if !ok {
		return nil, 0, fmt.Errorf("notestore: remove %s: %w", id, apperr.ErrNotFound)
	}
	seq := s.seq[id]
	i := s.detach(n)
	s.unindex(n)
	delete(s.seq, id)
	s.emit(Event{Kind: Removed, Note: n, Index: i})
	return n, seq, nil
}

// Update applies fn to the note, bumps its version and repositions it.
// Identity fields may be changed by fn; the filename must stay unique.
func (s *Store) Update(id string, fn func(n *models.Note)) (*models.Note, error) {
	n, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("notestore: update %s: %w", id, apperr.ErrNotFound)
	}
	next := n.Clone()
	fn(next)
	next.ID = n.ID
	if next.Filename != n.Filename {
		if other, taken := s.byName[next.Filename]; taken && other != n {
			return nil, fmt.Errorf("notestore: update %s: filename %q: %w", id, next.Filename, apperr.ErrAlreadyExists)
		}
	}
	next.Version = n.Version + 1
	s.replace(n, next)
	return n, nil
}

// Put inserts n or overwrites the stored note with the same id, keeping
// n's version. It is used to apply journal entries and sync imports.
func (s *Store) Put(n *models.Note) error {
	cur, ok := s.byID[n.ID]
	if !ok {
		return s.Add(n.Clone())
	}
	if other, taken := s.byName[n.Filename]; taken && other != cur {
		return fmt.Errorf("notestore: put %s: filename %q: %w", n.ID, n.Filename, apperr.ErrAlreadyExists)
	}
	s.replace(cur, n)
	return nil
}

// replace copies next into the stored pointer, reindexes and repositions.
func (s *Store) replace(cur, next *models.Note) {
	s.detach(cur)
	s.unindex(cur)
	dirty, deleted := cur.Dirty, cur.Deleted
	*cur = *next.Clone()
	cur.Dirty, cur.Deleted = dirty, deleted
	s.index(cur)
	i := s.place(cur)
	s.emit(Event{Kind: Updated, Note: cur, Index: i})
}

// SetSnapshot records the on-disk state of a note after a write or scan.
// It changes no visible field and emits no event.
func (s *Store) SetSnapshot(id string, e models.CatalogEntry) {
	n, ok := s.byID[id]
	if !ok {
		return
	}
	if n.NodeID != 0 && s.byNode[n.NodeID] == n {
		delete(s.byNode, n.NodeID)
	}
	n.NodeID = e.NodeID
	n.DiskModTime = e.ModTime
	n.Size = e.Size
	if n.NodeID != 0 {
		s.byNode[n.NodeID] = n
	}
}

// SetOrder installs a comparator and re-sorts. Notes with equal keys keep
// their insertion order.
func (s *Store) SetOrder(o Order) {
	s.order = o
	s.Resort()
}

// Resort re-sorts under the current order and emits Reordered.
func (s *Store) Resort() {
	slices.SortStableFunc(s.notes, s.Compare)
	s.emit(Event{Kind: Reordered, Index: -1})
}
