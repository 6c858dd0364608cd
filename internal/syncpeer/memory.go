package syncpeer

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/starford/notation/internal/models"
)

// Memory is an in-process peer. It is used in tests and as a loopback
// replica.
type Memory struct {
	name string

	mu      sync.Mutex
	notes   map[string]*Record
	deleted map[string]*models.DeletedNote

	// Fail, when set, is returned by every push.
	Fail error
}

var _ Peer = (*Memory)(nil)

// NewMemory creates an empty peer.
func NewMemory(name string) *Memory {
	return &Memory{
		name:    name,
		notes:   make(map[string]*Record),
		deleted: make(map[string]*models.DeletedNote),
	}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) PushNote(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	c := *r
	c.Labels = slices.Clone(r.Labels)
	m.notes[r.ID] = &c
	return nil
}

func (m *Memory) PushDeletion(_ context.Context, t *models.DeletedNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	delete(m.notes, t.ID)
	m.deleted[t.ID] = &models.DeletedNote{ID: t.ID, Filename: t.Filename, DeletedAt: t.DeletedAt}
	return nil
}

func (m *Memory) Pull(context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, 0, len(m.notes))
	for _, id := range slices.Sorted(maps.Keys(m.notes)) {
		c := *m.notes[id]
		out = append(out, &c)
	}
	return out, nil
}

// Put stores a note as if another replica had pushed it.
func (m *Memory) Put(r *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[r.ID] = r
}

// Note returns the stored copy of id.
func (m *Memory) Note(id string) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.notes[id]
	return r, ok
}

// Deleted returns the ids of deletions received, sorted.
func (m *Memory) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := slices.Collect(maps.Keys(m.deleted))
	slices.SortFunc(ids, strings.Compare)
	return ids
}
