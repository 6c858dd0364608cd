package testutil

import (
	"fmt"
	"io"
	"io/fs"
	"slices"
	"sync"
	"time"

	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/storage"
)

type memFile struct {
	data    []byte
	node    uint64
	modTime time.Time
}

// MemFS is an in-memory storage.Provider. Every write replaces the node id
// the way an atomic save does. Failures can be injected per file name.
type MemFS struct {
	mu       sync.Mutex
	root     string
	files    map[string]*memFile
	nextNode uint64
	now      func() time.Time
	dirMod   time.Time
	missing  bool

	// FailWrite makes writes to the named files fail.
	FailWrite map[string]error
}

var _ storage.Provider = (*MemFS)(nil)

// NewMemFS returns an empty provider. root is only reported by Root.
func NewMemFS(root string, now func() time.Time) *MemFS {
	if now == nil {
		now = time.Now
	}
	return &MemFS{root: root, files: make(map[string]*memFile), now: now, dirMod: now(), FailWrite: make(map[string]error)}
}

func (m *MemFS) Root() string { return m.root }

// StatRoot reports a directory mtime that advances whenever an entry is
// added, removed or renamed. In-place edits leave it unchanged.
func (m *MemFS) StatRoot() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing {
		return time.Time{}, fmt.Errorf("memfs: stat root %s: %w", m.root, fs.ErrNotExist)
	}
	return m.dirMod, nil
}

// SetRootMissing makes the directory appear deleted, or brings it back.
func (m *MemFS) SetRootMissing(missing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing = missing
}

// touchDir must be called with mu held.
func (m *MemFS) touchDir() {
	next := m.now()
	if !next.After(m.dirMod) {
		next = m.dirMod.Add(time.Millisecond)
	}
	m.dirMod = next
}

func (m *MemFS) entry(name string, f *memFile) models.CatalogEntry {
	return models.NewCatalogEntry(name, f.node, int64(len(f.data)), f.modTime)
}

// Put stores content as if written by another program.
func (m *MemFS) Put(name, content string) models.CatalogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNode++
	f := &memFile{data: []byte(content), node: m.nextNode, modTime: m.now()}
	m.files[name] = f
	m.touchDir()
	return m.entry(name, f)
}

// Modify changes content in place, keeping the node id.
func (m *MemFS) Modify(name, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.files[name]
	f.data = []byte(content)
	f.modTime = m.now().Add(time.Second)
}

// Content returns a file's bytes, or false when it does not exist.
func (m *MemFS) Content(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[name]
	if !ok {
		return "", false
	}
	return string(f.data), true
}

// Names returns the sorted file names.
func (m *MemFS) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for n := range m.files {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (m *MemFS) Open() (storage.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for n := range m.files {
		names = append(names, n)
	}
	slices.Sort(names)
	entries := make([]models.CatalogEntry, 0, len(names))
	for _, n := range names {
		entries = append(entries, m.entry(n, m.files[n]))
	}
	return &memCursor{entries: entries}, nil
}

func (m *MemFS) Stat(name string) (models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[name]
	if !ok {
		return models.CatalogEntry{}, fmt.Errorf("memfs: stat %s: %w", name, fs.ErrNotExist)
	}
	return m.entry(name, f), nil
}

func (m *MemFS) Read(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("memfs: read %s: %w", name, fs.ErrNotExist)
	}
	return slices.Clone(f.data), nil
}

func (m *MemFS) Write(name string, content []byte) (models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailWrite[name]; err != nil {
		return models.CatalogEntry{}, err
	}
	m.nextNode++
	f := &memFile{data: slices.Clone(content), node: m.nextNode, modTime: m.now()}
	m.files[name] = f
	m.touchDir()
	return m.entry(name, f), nil
}

func (m *MemFS) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return fmt.Errorf("memfs: delete %s: %w", name, fs.ErrNotExist)
	}
	delete(m.files, name)
	m.touchDir()
	return nil
}

func (m *MemFS) Move(oldName, newName string) (models.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[oldName]
	if !ok {
		return models.CatalogEntry{}, fmt.Errorf("memfs: move %s: %w", oldName, fs.ErrNotExist)
	}
	if _, taken := m.files[newName]; taken {
		return models.CatalogEntry{}, fmt.Errorf("memfs: move %s: %w", newName, fs.ErrExist)
	}
	delete(m.files, oldName)
	m.files[newName] = f
	m.touchDir()
	return m.entry(newName, f), nil
}

// Rename moves a file as another program would.
func (m *MemFS) Rename(oldName, newName string) {
	_, _ = m.Move(oldName, newName)
}

// Remove deletes a file as another program would.
func (m *MemFS) Remove(name string) {
	_ = m.Delete(name)
}

type memCursor struct {
	entries []models.CatalogEntry
}

func (c *memCursor) Next(n int) ([]models.CatalogEntry, error) {
	if len(c.entries) == 0 {
		return nil, io.EOF
	}
	if n <= 0 || n > len(c.entries) {
		n = len(c.entries)
	}
	out := c.entries[:n]
	c.entries = c.entries[n:]
	return out, nil
}

func (c *memCursor) Close() error { return nil }
