// Package noteservice is the request-shaped facade over the note catalog
// shared by the HTTP API and the MCP tools. Every call is executed on the
// goroutine that owns the catalog.
package noteservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/starford/notation/internal/apperr"
	"github.com/starford/notation/internal/catalog"
	"github.com/starford/notation/internal/checksum"
	"github.com/starford/notation/internal/codec"
	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notation"
	"github.com/starford/notation/internal/sorting"
)

// Doer runs fn on the goroutine that owns the Notation.
type Doer interface {
	Do(ctx context.Context, fn func(*notation.Notation) error) error
}

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Checksum   string    `json:"checksum"`
	Labels     []string  `json:"labels"`
	Backlinks  []string  `json:"backlinks"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Version    uint64    `json:"version"`
	Unsaved    bool      `json:"unsaved"`
}

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Title      string    `json:"title"`
	Checksum   string    `json:"checksum"`
	Labels     []string  `json:"labels"`
	Size       int       `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ListQuery selects and orders the visible notes.
type ListQuery struct {
	Query     string
	Labels    []string
	Sort      sorting.Column
	Direction sorting.Direction
	Limit     int
	Offset    int
}

// Status reports the durability state of the catalog.
type Status struct {
	Notes        int            `json:"notes"`
	Pending      int            `json:"pending"`
	Tombstones   int            `json:"tombstones"`
	Peers        []string       `json:"peers"`
	Journaling   bool           `json:"journaling"`
	JournalError string         `json:"journal_error,omitempty"`
	Failures     []WriteFailure `json:"write_failures"`
	LastScan     catalog.Report `json:"last_scan"`
}

// WriteFailure is a note whose last write did not reach the directory.
type WriteFailure struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// Service coordinates note operations for the outer adapters.
type Service struct {
	doer Doer
}

// NewService creates a new note service.
func NewService(doer Doer) *Service {
	return &Service{doer: doer}
}

// GetNote returns a note with its backlinks.
func (s *Service) GetNote(ctx context.Context, id string) (*NoteDetail, error) {
	var out *NoteDetail
	err := s.doer.Do(ctx, func(n *notation.Notation) error {
		note, err := n.Get(id)
		if err != nil {
			return err
		}
		out = detail(n, note)
		return nil
	})
	return out, err
}

// CreateNote adds a note. Its file is written by the next flush.
func (s *Service) CreateNote(ctx context.Context, title, body string, labels []string) (*NoteDetail, error) {
	var out *NoteDetail
	err := s.doer.Do(ctx, func(n *notation.Notation) error {
		note, err := n.AddNote(title, body, labels)
		if err != nil {
			return err
		}
		out = detail(n, note)
		return nil
	})
	return out, err
}

// UpdateNote replaces a note's body. A non-empty ifMatch must equal the
// checksum of the current body.
func (s *Service) UpdateNote(ctx context.Context, id, body, ifMatch string) (*NoteDetail, error) {
	var out *NoteDetail
	err := s.doer.Do(ctx, func(n *notation.Notation) error {
		note, err := n.Get(id)
		if err != nil {
			return err
		}
		if ifMatch != "" && ifMatch != checksum.SumString(note.Body) {
			return fmt.Errorf("noteservice: update %s: %w", id, apperr.ErrConflict)
		}
		if note.Body != body {
			if note, err = n.UpdateBody(id, body); err != nil {
				return err
			}
		}
		out = detail(n, note)
		return nil
	})
	return out, err
}

// RenameNote retitles a note and returns it with the number of notes whose
// links were rewritten.
func (s *Service) RenameNote(ctx context.Context, id, title string) (*NoteDetail, int, error) {
	var (
		out      *NoteDetail
		relinked int
	)
	err := s.doer.Do(ctx, func(n *notation.Notation) error {
		var err error
		if relinked, err = n.RenameNote(id, title); err != nil {
			return err
		}
		note, err := n.Get(id)
		if err != nil {
			return err
		}
		out = detail(n, note)
		return nil
	})
	return out, relinked, err
}

// DeleteNotes moves notes to the tombstone set.
func (s *Service) DeleteNotes(ctx context.Context, ids ...string) error {
	return s.doer.Do(ctx, func(n *notation.Notation) error {
		return n.RemoveNotes(ids...)
	})
}

// Undo reverts the last undoable change and returns its name.
func (s *Service) Undo(ctx context.Context) (string, error) {
	var name string
	err := s.doer.Do(ctx, func(n *notation.Notation) error {
		var err error
		name, err = n.UndoLast()
		return err
	})
	return name, err
}

// ListNotes applies q to the list view and returns one page of it with the
// number of matching notes.
func (s *Service) ListNotes(ctx context.Context, q ListQuery) ([]NoteListItem, int, error) {
	var (
		items []NoteListItem
		total int
	)
	err := s.doer.Do(ctx, func(n *notation.Notation) error {
		col, dir := n.Sorter().Column()
		want, wantDir := col, dir
		if q.Sort != "" {
			want = q.Sort
		}
		if q.Direction != "" {
			wantDir = q.Direction
		}
		if want != col || wantDir != dir {
			n.SetSort(want, wantDir)
		}
		n.FilterLabels(q.Labels...)
		n.FilterString(q.Query, false)

		visible := n.Visible()
		total = len(visible)
		start := min(max(q.Offset, 0), total)
		end := total
		if q.Limit > 0 {
			end = min(start+q.Limit, total)
		}
		items = make([]NoteListItem, 0, end-start)
		for _, note := range visible[start:end] {
			items = append(items, NoteListItem{
				ID:         note.ID,
				Filename:   note.Filename,
				Title:      note.Title,
				Checksum:   checksum.SumString(note.Body),
				Labels:     nonNilSlice(note.Labels),
				Size:       len(note.Body),
				ModifiedAt: note.ModifiedAt,
			})
		}
		return nil
	})
	return items, total, err
}

// Labels returns label usage counts.
func (s *Service) Labels(ctx context.Context) ([]notation.LabelCount, error) {
	var out []notation.LabelCount
	err := s.doer.Do(ctx, func(n *notation.Notation) error {
		out = n.Labels()
		return nil
	})
	return out, err
}

// AddLabels tags notes.
func (s *Service) AddLabels(ctx context.Context, ids []string, labels ...string) error {
	return s.doer.Do(ctx, func(n *notation.Notation) error {
		return n.AddLabels(ids, labels...)
	})
}

// RemoveLabels untags notes.
func (s *Service) RemoveLabels(ctx context.Context, ids []string, labels ...string) error {
	return s.doer.Do(ctx, func(n *notation.Notation) error {
		return n.RemoveLabels(ids, labels...)
	})
}

// Scan reconciles with the directory now.
func (s *Service) Scan(ctx context.Context) (catalog.Report, error) {
	var rep catalog.Report
	err := s.doer.Do(ctx, func(n *notation.Notation) error {
		var err error
		rep, err = n.CheckAndReconcile(ctx, true)
		return err
	})
	return rep, err
}

// Flush writes every pending change now.
func (s *Service) Flush(ctx context.Context) error {
	return s.doer.Do(ctx, func(n *notation.Notation) error {
		return n.Flush()
	})
}

// Status reports pending work and failures.
func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.doer.Do(ctx, func(n *notation.Notation) error {
		st = Status{
			Notes:      n.Store().Len(),
			Pending:    n.Engine().PendingCount(),
			Tombstones: n.Tombstones().Len(),
			Peers:      nonNilSlice(n.Tombstones().Peers()),
			Journaling: n.Engine().Journaling(),
			Failures:   []WriteFailure{},
			LastScan:   n.LastReport(),
		}
		if err := n.JournalError(); err != nil {
			st.JournalError = err.Error()
		}
		for _, f := range n.WriteFailures() {
			st.Failures = append(st.Failures, WriteFailure{ID: f.ID, Filename: f.Filename, Error: f.Err.Error()})
		}
		return nil
	})
	return st, err
}

func detail(n *notation.Notation, note *models.Note) *NoteDetail {
	return &NoteDetail{
		ID:         note.ID,
		Filename:   note.Filename,
		Title:      note.Title,
		Body:       note.Body,
		Checksum:   checksum.SumString(note.Body),
		Labels:     nonNilSlice(note.Labels),
		Backlinks:  backlinks(n, note),
		CreatedAt:  note.CreatedAt,
		ModifiedAt: note.ModifiedAt,
		Version:    note.Version,
		Unsaved:    note.Dirty,
	}
}

// backlinks lists the titles of notes linking to note.
func backlinks(n *notation.Notation, note *models.Note) []string {
	out := []string{}
	for _, other := range n.Store().All() {
		if other.ID == note.ID {
			continue
		}
		for _, target := range codec.Links(other.Body) {
			if strings.EqualFold(target, note.Title) {
				out = append(out, other.Title)
				break
			}
		}
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
