// Package models defines the domain types shared by the notation core.
package models

import (
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Note is the in-memory representation of one note file.
type Note struct {
	ID     string `json:"id"`
	NodeID uint64 `json:"node_id"`

	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`

	// DiskModTime and Size are the last-known on-disk snapshot compared
	// against catalog entries during reconciliation.
	DiskModTime time.Time `json:"disk_mod_time"`
	Size        int64     `json:"size"`

	Filename string `json:"filename"`
	Format   int    `json:"format"`
	Version  uint64 `json:"version"`

	// Dirty is owned by the durability engine and agrees with its pending set.
	Dirty   bool `json:"-"`
	Deleted bool `json:"-"`
}

// Clone returns a deep copy of n.
func (n *Note) Clone() *Note {
	c := *n
	c.Labels = slices.Clone(n.Labels)
	return &c
}

// HasLabel reports whether n carries label (exact match).
func (n *Note) HasLabel(label string) bool {
	_, found := slices.BinarySearch(n.Labels, label)
	return found
}

// SetLabels replaces the label set, keeping it sorted and de-duplicated.
func (n *Note) SetLabels(labels []string) {
	n.Labels = NormalizeLabels(labels)
}

// NormalizeLabels trims, drops empties, sorts and de-duplicates labels.
func NormalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// FileType tags a catalog entry by its extension.
type FileType string

const (
	FileTypeUnknown  FileType = ""
	FileTypeMarkdown FileType = "md"
	FileTypeText     FileType = "txt"
)

// FileTypeOf derives the type tag from a filename.
func FileTypeOf(name string) FileType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return FileTypeMarkdown
	case ".txt", ".text":
		return FileTypeText
	}
	return FileTypeUnknown
}

// CatalogEntry is a point-in-time snapshot of one file's metadata.
type CatalogEntry struct {
	ModTime  time.Time
	Size     int64
	Type     FileType
	NodeID   uint64
	Filename string
	// NameLen is the filename length in characters. Filenames are not
	// assumed to be valid UTF-8, so it is counted rune-wise with
	// invalid bytes counted individually.
	NameLen int
}

// NewCatalogEntry fills the derived fields of an entry.
func NewCatalogEntry(name string, nodeID uint64, size int64, modTime time.Time) CatalogEntry {
	return CatalogEntry{
		ModTime:  modTime,
		Size:     size,
		Type:     FileTypeOf(name),
		NodeID:   nodeID,
		Filename: name,
		NameLen:  utf8.RuneCountInString(name),
	}
}

// Recognized reports whether the entry looks like a note file.
func (e CatalogEntry) Recognized() bool {
	return e.Type != FileTypeUnknown
}

// SameContentAs reports whether a note's disk snapshot matches the entry.
func (e CatalogEntry) SameContentAs(n *Note) bool {
	return e.Size == n.Size && e.ModTime.Equal(n.DiskModTime)
}

// DeletedNote is a tombstone retained until every sync peer has seen the
// deletion.
type DeletedNote struct {
	ID        string              `json:"id"`
	Filename  string              `json:"filename"`
	DeletedAt time.Time           `json:"deleted_at"`
	AckedBy   map[string]struct{} `json:"-"`
}

// NewDeletedNote creates a tombstone for n.
func NewDeletedNote(n *Note, at time.Time) *DeletedNote {
	return &DeletedNote{
		ID:        n.ID,
		Filename:  n.Filename,
		DeletedAt: at,
		AckedBy:   make(map[string]struct{}),
	}
}

// Acked reports whether peer acknowledged the deletion.
func (d *DeletedNote) Acked(peer string) bool {
	_, ok := d.AckedBy[peer]
	return ok
}

// Peers returns the acknowledging peers in sorted order.
func (d *DeletedNote) Peers() []string {
	out := make([]string, 0, len(d.AckedBy))
	for p := range d.AckedBy {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
