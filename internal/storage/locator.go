package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrDirectoryNotFound is returned by Resolve when the directory can no
// longer be located.
var ErrDirectoryNotFound = errors.New("storage: note directory not found")

// Locator is a rename-surviving reference to the note directory. It keeps
// the directory's device and inode next to its last known path and, where
// the platform allows, an open handle whose path follows renames.
type Locator struct {
	path string
	dev  uint64
	ino  uint64

	handle      *os.File
	needsUpdate bool
}

type locatorData struct {
	Path string `json:"path"`
	Dev  uint64 `json:"dev"`
	Ino  uint64 `json:"ino"`
}

// NewLocator creates a locator for an existing directory.
func NewLocator(path string) (*Locator, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve locator: %w", err)
	}
	dev, ino, err := statNode(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat locator: %w", err)
	}
	l := &Locator{path: abs, dev: dev, ino: ino, needsUpdate: true}
	l.handle, _ = os.Open(abs)
	return l, nil
}

// UnmarshalLocator restores a persisted locator. The directory may have
// moved since it was saved; Resolve finds it.
func UnmarshalLocator(data []byte) (*Locator, error) {
	var d locatorData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("storage: decode locator: %w", err)
	}
	if d.Path == "" {
		return nil, fmt.Errorf("storage: decode locator: empty path")
	}
	return &Locator{path: d.Path, dev: d.Dev, ino: d.Ino}, nil
}

// Marshal encodes the locator for persistence and clears NeedsUpdate.
func (l *Locator) Marshal() ([]byte, error) {
	data, err := json.Marshal(locatorData{Path: l.path, Dev: l.dev, Ino: l.ino})
	if err != nil {
		return nil, err
	}
	l.needsUpdate = false
	return data, nil
}

// NeedsUpdate reports whether the locator changed since it was last
// marshaled and should be persisted again.
func (l *Locator) NeedsUpdate() bool { return l.needsUpdate }

// SetNeedsUpdate forces the next persistence pass to rewrite the locator.
func (l *Locator) SetNeedsUpdate(v bool) { l.needsUpdate = v }

// Path returns the last resolved path without touching the filesystem.
func (l *Locator) Path() string { return l.path }

// Resolve returns the directory's current path. A directory that moved is
// found again through the open handle or by scanning the old parent for
// the same device and inode.
func (l *Locator) Resolve() (string, error) {
	if p, ok := l.followHandle(); ok {
		l.update(p)
		return l.path, nil
	}
	dev, ino, err := statNode(l.path)
	if err == nil && (l.ino == 0 || (dev == l.dev && ino == l.ino)) {
		if l.ino == 0 {
			l.dev, l.ino = dev, ino
			l.needsUpdate = true
		}
		return l.path, nil
	}
	if p, ok := l.searchSiblings(); ok {
		l.update(p)
		return l.path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrDirectoryNotFound, l.path)
}

// Close releases the open directory handle.
func (l *Locator) Close() error {
	if l.handle == nil {
		return nil
	}
	err := l.handle.Close()
	l.handle = nil
	return err
}

func (l *Locator) update(p string) {
	if p != l.path {
		l.path = p
		l.needsUpdate = true
	}
}

func (l *Locator) followHandle() (string, bool) {
	if l.handle == nil {
		return "", false
	}
	p, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", l.handle.Fd()))
	if err != nil || strings.HasSuffix(p, " (deleted)") {
		return "", false
	}
	return p, true
}

func (l *Locator) searchSiblings() (string, bool) {
	if l.ino == 0 {
		return "", false
	}
	parent := filepath.Dir(l.path)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(parent, e.Name())
		dev, ino, err := statNode(candidate)
		if err == nil && dev == l.dev && ino == l.ino {
			return candidate, true
		}
	}
	return "", false
}

// IsTrashed reports whether a directory path lies inside a trash folder.
func IsTrashed(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		switch part {
		case ".Trash", ".Trashes", "Trash", "$RECYCLE.BIN":
			return true
		}
		if strings.HasPrefix(part, ".Trash-") {
			return true
		}
	}
	return false
}
