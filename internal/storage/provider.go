// Package storage is the directory collaborator: chunked enumeration of
// note files and atomic reads and writes inside the note directory.
package storage

import (
	"errors"
	"time"

	"github.com/starford/notation/internal/models"
)

// ErrExchangeUnsupported is returned by exchange when the volume cannot
// atomically swap two directory entries.
var ErrExchangeUnsupported = errors.New("storage: atomic exchange unsupported")

// Provider is the interface for note directory operations. Names are
// relative to the directory root and never contain separators.
type Provider interface {
	// Open starts a chunked enumeration of the directory.
	Open() (Cursor, error)
	// Stat returns the catalog snapshot of one file.
	Stat(name string) (models.CatalogEntry, error)
	// Read returns the raw bytes of a note file.
	Read(name string) ([]byte, error)
	// Write atomically replaces the file and returns its new snapshot.
	Write(name string, content []byte) (models.CatalogEntry, error)
	// Delete removes a note file.
	Delete(name string) error
	// Move renames a note file and returns its new snapshot.
	Move(oldName, newName string) (models.CatalogEntry, error)
	// Root returns the directory being served.
	Root() string
	// StatRoot returns the directory's modification time, or an error
	// when it is missing or not a directory.
	StatRoot() (time.Time, error)
}

// Cursor yields directory entries in bounded chunks. Next returns io.EOF
// once the listing is exhausted.
type Cursor interface {
	Next(n int) ([]models.CatalogEntry, error)
	Close() error
}
