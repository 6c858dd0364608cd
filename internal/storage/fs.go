package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/notation/internal/models"
)

const tempPrefix = ".notation-tmp-"

type exchangeSupport int

const (
	exchangeUnknown exchangeSupport = iota
	exchangeSupported
	exchangeUnsupported
)

// FS implements Provider backed by a local directory.
type FS struct {
	root string // absolute path to the note directory

	mu       sync.Mutex
	exchange exchangeSupport
}

// NewFS creates a provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute directory path.
func (f *FS) Root() string { return f.root }

// StatRoot returns the directory's modification time.
func (f *FS) StatRoot() (time.Time, error) {
	info, err := os.Stat(f.root)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return time.Time{}, fmt.Errorf("storage: root is not a directory: %s", f.root)
	}
	return info.ModTime(), nil
}

// IsTemp reports whether name is one of the provider's own scratch files.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

// safePath resolves a note filename against the root and rejects anything
// that is not a plain name inside it.
func (f *FS) safePath(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("storage: invalid name %q", name)
	}
	if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
		return "", fmt.Errorf("storage: name must not contain separators: %s", name)
	}
	return filepath.Join(f.root, name), nil
}

type dirCursor struct {
	dir *os.File
}

// Open starts a chunked listing of the directory.
func (f *FS) Open() (Cursor, error) {
	d, err := os.Open(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: open root: %w", err)
	}
	return &dirCursor{dir: d}, nil
}

// Next returns up to n regular files. Entries that vanish between listing
// and stat are dropped.
func (c *dirCursor) Next(n int) ([]models.CatalogEntry, error) {
	if n <= 0 {
		n = 256
	}
	for {
		dirents, err := c.dir.ReadDir(n)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("storage: read dir: %w", err)
		}
		out := make([]models.CatalogEntry, 0, len(dirents))
		for _, d := range dirents {
			if !d.Type().IsRegular() || IsTemp(d.Name()) {
				continue
			}
			info, statErr := d.Info()
			if statErr != nil {
				continue
			}
			out = append(out, models.NewCatalogEntry(d.Name(), nodeID(info), info.Size(), info.ModTime()))
		}
		if len(out) > 0 {
			return out, nil
		}
		if errors.Is(err, io.EOF) || len(dirents) == 0 {
			return nil, io.EOF
		}
	}
}

func (c *dirCursor) Close() error { return c.dir.Close() }

// Stat returns the catalog snapshot of name.
func (f *FS) Stat(name string) (models.CatalogEntry, error) {
	abs, err := f.safePath(name)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.CatalogEntry{}, fmt.Errorf("storage: stat %s: %w", name, err)
	}
	return models.NewCatalogEntry(name, nodeID(info), info.Size(), info.ModTime()), nil
}

// Read returns the raw bytes of a note file.
func (f *FS) Read(name string) ([]byte, error) {
	abs, err := f.safePath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, nil
}

// Write replaces name with content without a partial-write window.
//
// The content goes to a synced temp file first. When the volume supports
// atomic exchange the temp file is swapped with the target; otherwise the
// old file is moved aside, the temp file renamed into place, and the
// backup removed only after the directory entry is synced.
func (f *FS) Write(name string, content []byte) (models.CatalogEntry, error) {
	abs, err := f.safePath(name)
	if err != nil {
		return models.CatalogEntry{}, err
	}

	tmp, err := os.CreateTemp(f.root, tempPrefix+"*")
	if err != nil {
		return models.CatalogEntry{}, fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return models.CatalogEntry{}, fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return models.CatalogEntry{}, fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return models.CatalogEntry{}, fmt.Errorf("storage: close temp: %w", err)
	}

	if err := f.replace(tmpName, abs); err != nil {
		return models.CatalogEntry{}, err
	}
	success = true
	_ = syncDir(f.root)
	return f.Stat(name)
}

func (f *FS) replace(tmpName, abs string) error {
	if _, err := os.Lstat(abs); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(tmpName, abs); err != nil {
			return fmt.Errorf("storage: rename: %w", err)
		}
		return nil
	}

	if f.exchangeState() != exchangeUnsupported {
		err := exchange(tmpName, abs)
		switch {
		case err == nil:
			f.setExchange(exchangeSupported)
			// tmpName now holds the previous content.
			_ = os.Remove(tmpName)
			return nil
		case errors.Is(err, ErrExchangeUnsupported):
			f.setExchange(exchangeUnsupported)
		default:
			return fmt.Errorf("storage: exchange: %w", err)
		}
	}

	backup := tmpName + ".old"
	if err := os.Rename(abs, backup); err != nil {
		return fmt.Errorf("storage: move aside: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		_ = os.Rename(backup, abs)
		return fmt.Errorf("storage: rename: %w", err)
	}
	if err := syncDir(f.root); err != nil {
		return fmt.Errorf("storage: fsync dir: %w", err)
	}
	_ = os.Remove(backup)
	return nil
}

func (f *FS) exchangeState() exchangeSupport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchange
}

func (f *FS) setExchange(s exchangeSupport) {
	f.mu.Lock()
	f.exchange = s
	f.mu.Unlock()
}

// SupportsExchange reports whether atomic exchange has been observed to
// work. It is false until the first overwrite probes the volume.
func (f *FS) SupportsExchange() bool {
	return f.exchangeState() == exchangeSupported
}

// Delete removes a note file.
func (f *FS) Delete(name string) error {
	abs, err := f.safePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}

// Move renames a note file. The target must not exist.
func (f *FS) Move(oldName, newName string) (models.CatalogEntry, error) {
	absOld, err := f.safePath(oldName)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	absNew, err := f.safePath(newName)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	if _, err := os.Lstat(absNew); err == nil {
		return models.CatalogEntry{}, fmt.Errorf("storage: move %s: %w", newName, os.ErrExist)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return models.CatalogEntry{}, fmt.Errorf("storage: move: %w", err)
	}
	return f.Stat(newName)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
