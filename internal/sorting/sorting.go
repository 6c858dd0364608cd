// Package sorting orders the note store by a selectable column.
package sorting

import (
	"cmp"
	"fmt"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notestore"
)

// Column names a sort key.
type Column string

const (
	ColumnTitle    Column = "title"
	ColumnModified Column = "modified"
	ColumnCreated  Column = "created"
	ColumnSize     Column = "size"
	ColumnLabels   Column = "labels"
)

// Direction is ascending or descending.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// ParseColumn validates a column name.
func ParseColumn(s string) (Column, error) {
	switch c := Column(strings.ToLower(s)); c {
	case ColumnTitle, ColumnModified, ColumnCreated, ColumnSize, ColumnLabels:
		return c, nil
	}
	return "", fmt.Errorf("sorting: unknown column %q", s)
}

// ParseDirection validates a direction; empty means ascending.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(s)); d {
	case "":
		return Ascending, nil
	case Ascending, Descending:
		return d, nil
	}
	return "", fmt.Errorf("sorting: unknown direction %q", s)
}

// Engine owns the active comparator. Ties are left to the store, which
// breaks them by insertion order, so equal keys never swap places.
type Engine struct {
	store    *notestore.Store
	col      Column
	dir      Direction
	collator *collate.Collator

	listeners []func(Column, Direction)
}

// New installs col and dir on store and sorts it.
func New(store *notestore.Store, col Column, dir Direction) *Engine {
	e := &Engine{
		store:    store,
		collator: collate.New(language.Und, collate.IgnoreCase, collate.Loose),
	}
	e.SetColumn(col, dir)
	return e
}

// Column returns the active column and direction.
func (e *Engine) Column() (Column, Direction) { return e.col, e.dir }

// OnSorted registers fn to be told whenever the visible order changed.
func (e *Engine) OnSorted(fn func(Column, Direction)) {
	e.listeners = append(e.listeners, fn)
}

// SetColumn swaps the comparator and re-sorts. The filter keeps its
// matches and only reorders them.
func (e *Engine) SetColumn(col Column, dir Direction) {
	if col == "" {
		col = ColumnModified
	}
	if dir == "" {
		dir = Ascending
	}
	e.col, e.dir = col, dir
	e.store.SetOrder(e.Order())
}

// Resort re-sorts the store with the current comparator.
func (e *Engine) Resort() {
	e.store.Resort()
}

// SortAndNotify re-sorts and tells listeners the order changed.
func (e *Engine) SortAndNotify() {
	e.Resort()
	for _, fn := range e.listeners {
		fn(e.col, e.dir)
	}
}

// Order returns the comparator for the active column and direction.
func (e *Engine) Order() notestore.Order {
	base := e.compareBy(e.col)
	if e.dir == Descending {
		return func(a, b *models.Note) int { return base(b, a) }
	}
	return base
}

func (e *Engine) compareBy(col Column) notestore.Order {
	switch col {
	case ColumnTitle:
		return func(a, b *models.Note) int { return e.collator.CompareString(a.Title, b.Title) }
	case ColumnCreated:
		return func(a, b *models.Note) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case ColumnSize:
		// Content length, not the disk snapshot, so writes never reorder.
		return func(a, b *models.Note) int { return cmp.Compare(len(a.Body), len(b.Body)) }
	case ColumnLabels:
		return func(a, b *models.Note) int {
			return e.collator.CompareString(strings.Join(a.Labels, ","), strings.Join(b.Labels, ","))
		}
	default:
		return func(a, b *models.Note) int { return a.ModifiedAt.Compare(b.ModifiedAt) }
	}
}
