// Package journal implements the durability engine: a write-ahead journal
// of pending note mutations, debounced batch flushing to the note
// directory, crash recovery and whole-store rewrites.
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/starford/notation/internal/apperr"
	"github.com/starford/notation/internal/codec"
	"github.com/starford/notation/internal/models"
)

var magic = []byte("NTNJRNL1")

const (
	frameHeader = 8
	maxFrame    = 64 << 20
)

// Op is the kind of a journal entry.
type Op string

const (
	OpWrite  Op = "write"
	OpRemove Op = "remove"
)

// Entry is one journaled mutation. Write entries carry the full note so
// replay can restore it; remove entries carry the tombstone.
type Entry struct {
	Op        Op                  `json:"op"`
	Batch     string              `json:"batch,omitempty"`
	Note      *models.Note        `json:"note,omitempty"`
	Tombstone *models.DeletedNote `json:"tombstone,omitempty"`
}

// ID returns the note id the entry refers to.
func (e Entry) ID() string {
	switch {
	case e.Note != nil:
		return e.Note.ID
	case e.Tombstone != nil:
		return e.Tombstone.ID
	}
	return ""
}

// File is an open journal. Each record is framed as
// [len uint32][crc32 uint32][payload], the payload being the JSON entry,
// sealed when a sealer is set.
type File struct {
	path   string
	f      *os.File
	sealer *codec.Sealer
}

// openJournal writes a journal at path holding only entries and opens it
// for appending.
func openJournal(path string, sealer *codec.Sealer, entries []Entry) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	j := &File{path: path, sealer: sealer}
	if err := j.Checkpoint(entries); err != nil {
		return nil, err
	}
	return j, nil
}

// Path returns the journal location.
func (j *File) Path() string { return j.path }

// SetSealer changes how subsequently written records are sealed.
func (j *File) SetSealer(s *codec.Sealer) { j.sealer = s }

// Append writes entries and syncs them to disk.
func (j *File) Append(entries []Entry) error {
	buf, err := j.frame(entries)
	if err != nil {
		return err
	}
	if _, err := j.f.Write(buf); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("journal: fsync: %w", err)
	}
	return nil
}

func (j *File) frame(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	var hdr [frameHeader]byte
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("journal: encode entry: %w", err)
		}
		if j.sealer != nil {
			if payload, err = j.sealer.Seal(payload); err != nil {
				return nil, fmt.Errorf("journal: seal entry: %w", err)
			}
		}
		binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
		binary.BigEndian.PutUint32(hdr[4:8], crc32.ChecksumIEEE(payload))
		buf.Write(hdr[:])
		buf.Write(payload)
	}
	return buf.Bytes(), nil
}

// Checkpoint atomically replaces the journal with one holding only
// entries.
func (j *File) Checkpoint(entries []Entry) error {
	body, err := j.frame(entries)
	if err != nil {
		return err
	}
	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("journal: checkpoint: %w", err)
	}
	_, werr := f.Write(append(bytes.Clone(magic), body...))
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: checkpoint: %w", werr)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: checkpoint rename: %w", err)
	}

	nf, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("journal: reopen: %w", err)
	}
	if j.f != nil {
		_ = j.f.Close()
	}
	j.f = nf
	return nil
}

// Close closes the journal, keeping it on disk.
func (j *File) Close() error {
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// Remove closes and deletes the journal. It is called on clean shutdown.
func (j *File) Remove() error {
	_ = j.Close()
	if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("journal: remove: %w", err)
	}
	return nil
}

// Read decodes the journal at path. A record cut short at the end of the
// file is a crash artifact and ends the read without error. A bad header,
// a checksum mismatch before the last record, or an undecodable record is
// reported as apperr.ErrCorrupt.
func Read(path string, sealer *codec.Sealer) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("journal: bad header: %w", apperr.ErrCorrupt)
	}

	var out []Entry
	r := bytes.NewReader(data[len(magic):])
	for {
		var hdr [frameHeader]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			// EOF or a torn header.
			return out, nil
		}
		size := binary.BigEndian.Uint32(hdr[0:4])
		sum := binary.BigEndian.Uint32(hdr[4:8])
		if size > maxFrame {
			if r.Len() < int(size) {
				return out, nil
			}
			return nil, fmt.Errorf("journal: oversized record: %w", apperr.ErrCorrupt)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return out, nil
		}
		if crc32.ChecksumIEEE(payload) != sum {
			if r.Len() == 0 {
				return out, nil
			}
			return nil, fmt.Errorf("journal: checksum mismatch at record %d: %w", len(out), apperr.ErrCorrupt)
		}
		if codec.IsSealed(payload) {
			if sealer == nil {
				return nil, fmt.Errorf("journal: sealed record without key: %w", apperr.ErrCorrupt)
			}
			if payload, err = sealer.Open(payload); err != nil {
				return nil, fmt.Errorf("journal: open record: %v: %w", err, apperr.ErrCorrupt)
			}
		}
		var e Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("journal: decode record: %v: %w", err, apperr.ErrCorrupt)
		}
		if e.ID() == "" {
			return nil, fmt.Errorf("journal: record without id: %w", apperr.ErrCorrupt)
		}
		out = append(out, e)
	}
}
