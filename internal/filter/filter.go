// Package filter evaluates text and label queries against the note store
// and maintains the visible result incrementally.
package filter

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notestore"
)

// Event is a change of the visible list. Index is the position in the
// result; Reordered means the whole list may have changed.
type Event = notestore.Event

// Listener receives visible-list events.
type Listener func(Event)

type haystack struct {
	version uint64
	title   string
	body    string
	labels  []string
}

// Engine holds the current query and its result, a subsequence of store
// order.
type Engine struct {
	store  *notestore.Store
	folder cases.Caser

	query    string
	norm     string
	tokens   []string
	boundary int
	labels   []string

	results  []*models.Note
	included map[string]struct{}
	cache    map[string]*haystack

	selected  string
	selIndex  int
	preferred int

	listeners []Listener
}

// New creates an engine over store with an empty query, so every note
// is visible.
func New(store *notestore.Store) *Engine {
	e := &Engine{
		store:     store,
		folder:    cases.Fold(),
		included:  make(map[string]struct{}),
		cache:     make(map[string]*haystack),
		preferred: -1,
		selIndex:  -1,
	}
	store.Subscribe(e.onStore)
	e.rescan(store.All())
	return e
}

// Subscribe registers l for visible-list events.
func (e *Engine) Subscribe(l Listener) {
	e.listeners = append(e.listeners, l)
}

func (e *Engine) emit(ev Event) {
	for _, l := range e.listeners {
		l(ev)
	}
}

// Normalize folds case and compatibility forms so queries match
// regardless of either.
func (e *Engine) Normalize(s string) string {
	return e.folder.String(norm.NFKC.String(s))
}

// Query returns the raw query string.
func (e *Engine) Query() string { return e.query }

// WordBoundary returns the byte offset in the normalized query where the
// last word starts.
func (e *Engine) WordBoundary() int { return e.boundary }

// Labels returns the selected labels.
func (e *Engine) Labels() []string { return slices.Clone(e.labels) }

// FilterString applies a new text query and reports whether the result
// changed. A query extending the previous one is evaluated against the
// previous result only, unless forceUncached is set.
func (e *Engine) FilterString(q string, forceUncached bool) bool {
	normalized := e.Normalize(q)
	continuation := !forceUncached && strings.HasPrefix(normalized, e.norm)

	e.query = q
	e.norm = normalized
	e.tokens = strings.Fields(normalized)
	e.boundary = strings.LastIndexFunc(normalized, unicode.IsSpace) + 1

	if continuation {
		return e.rescan(e.results)
	}
	return e.rescan(e.store.All())
}

// FilterLabels selects notes carrying any of labels, combined with the
// text query. No labels clears the selection. Always a full re-scan.
func (e *Engine) FilterLabels(labels ...string) bool {
	e.labels = models.NormalizeLabels(labels)
	return e.rescan(e.store.All())
}

// Refresh re-evaluates the whole store.
func (e *Engine) Refresh() bool {
	return e.rescan(e.store.All())
}

func (e *Engine) rescan(candidates []*models.Note) bool {
	next := make([]*models.Note, 0, len(candidates))
	for _, n := range candidates {
		if e.Matches(n) {
			next = append(next, n)
		}
	}
	changed := !sameNotes(e.results, next)
	e.results = next
	clear(e.included)
	for _, n := range next {
		e.included[n.ID] = struct{}{}
	}
	e.reselect()
	if changed {
		e.emit(Event{Kind: notestore.Reordered, Index: -1})
	}
	return changed
}

func sameNotes(a, b []*models.Note) bool {
	return slices.EqualFunc(a, b, func(x, y *models.Note) bool { return x.ID == y.ID })
}

// Matches reports whether n satisfies the label selection and every
// query token appears in its title, body or one of its labels.
func (e *Engine) Matches(n *models.Note) bool {
	if len(e.labels) > 0 && !slices.ContainsFunc(e.labels, n.HasLabel) {
		return false
	}
	if len(e.tokens) == 0 {
		return true
	}
	h := e.haystack(n)
	for _, tok := range e.tokens {
		if strings.Contains(h.title, tok) || strings.Contains(h.body, tok) {
			continue
		}
		if slices.ContainsFunc(h.labels, func(l string) bool { return strings.Contains(l, tok) }) {
			continue
		}
		return false
	}
	return true
}

func (e *Engine) haystack(n *models.Note) *haystack {
	if h, ok := e.cache[n.ID]; ok && h.version == n.Version {
		return h
	}
	h := &haystack{
		version: n.Version,
		title:   e.Normalize(n.Title),
		body:    e.Normalize(n.Body),
		labels:  make([]string, len(n.Labels)),
	}
	for i, l := range n.Labels {
		h.labels[i] = e.Normalize(l)
	}
	e.cache[n.ID] = h
	return h
}

// onStore keeps the result in step with single-note changes without
// re-scanning.
func (e *Engine) onStore(ev notestore.Event) {
	switch ev.Kind {
	case notestore.Reordered:
		slices.SortFunc(e.results, e.store.Compare)
		e.reselect()
		e.emit(Event{Kind: notestore.Reordered, Index: -1})
	case notestore.Added:
		if e.Matches(ev.Note) {
			i := e.insert(ev.Note)
			e.reselect()
			e.emit(Event{Kind: notestore.Added, Note: ev.Note, Index: i})
		}
	case notestore.Updated:
		delete(e.cache, ev.Note.ID)
		_, was := e.included[ev.Note.ID]
		old := -1
		if was {
			old = e.detach(ev.Note)
		}
		switch {
		case e.Matches(ev.Note):
			i := e.insert(ev.Note)
			e.reselect()
			kind := notestore.Updated
			if !was {
				kind = notestore.Added
			}
			e.emit(Event{Kind: kind, Note: ev.Note, Index: i})
		case was:
			e.reselect()
			e.emit(Event{Kind: notestore.Removed, Note: ev.Note, Index: old})
		}
	case notestore.Removed:
		delete(e.cache, ev.Note.ID)
		if _, was := e.included[ev.Note.ID]; was {
			i := e.detach(ev.Note)
			e.reselect()
			e.emit(Event{Kind: notestore.Removed, Note: ev.Note, Index: i})
		}
	}
}

func (e *Engine) insert(n *models.Note) int {
	i, _ := slices.BinarySearchFunc(e.results, n, e.store.Compare)
	e.results = slices.Insert(e.results, i, n)
	e.included[n.ID] = struct{}{}
	return i
}

func (e *Engine) detach(n *models.Note) int {
	delete(e.included, n.ID)
	i := slices.IndexFunc(e.results, func(x *models.Note) bool { return x.ID == n.ID })
	if i >= 0 {
		e.results = slices.Delete(e.results, i, i+1)
	}
	return i
}

// Select marks id as the selected note. An empty id clears the selection.
func (e *Engine) Select(id string) {
	e.selected = id
	e.reselect()
}

// Selected returns the selected note id, empty when none.
func (e *Engine) Selected() string { return e.selected }

// reselect keeps the selection when its note is still visible; otherwise
// it clears it and proposes the position closest to where it was.
func (e *Engine) reselect() {
	if len(e.results) == 0 {
		e.preferred = -1
		if e.selected != "" && e.IndexOf(e.selected) < 0 {
			e.selected = ""
		}
		return
	}
	if e.selected != "" {
		if i := e.IndexOf(e.selected); i >= 0 {
			e.selIndex = i
			e.preferred = i
			return
		}
		e.selected = ""
	}
	switch {
	case e.selIndex < 0:
		e.preferred = 0
	case e.selIndex >= len(e.results):
		e.preferred = len(e.results) - 1
	default:
		e.preferred = e.selIndex
	}
}

// PreferredIndex is the index the caller should select after a change,
// or -1 for an empty result.
func (e *Engine) PreferredIndex() int { return e.preferred }

// PreferredMatchesQuery reports whether the preferred note's title
// starts with the query, for completing a typed title.
func (e *Engine) PreferredMatchesQuery() bool {
	if e.preferred < 0 || e.norm == "" {
		return false
	}
	return strings.HasPrefix(e.Normalize(e.results[e.preferred].Title), e.norm)
}

// Len returns the number of visible notes.
func (e *Engine) Len() int { return len(e.results) }

// TotalCount returns the number of notes in the store.
func (e *Engine) TotalCount() int { return e.store.Len() }

// At returns the visible note at i.
func (e *Engine) At(i int) *models.Note { return e.results[i] }

// Visible returns a copy of the visible notes in order.
func (e *Engine) Visible() []*models.Note { return slices.Clone(e.results) }

// IndexOf returns the visible position of id, or -1.
func (e *Engine) IndexOf(id string) int {
	if _, ok := e.included[id]; !ok {
		return -1
	}
	return slices.IndexFunc(e.results, func(n *models.Note) bool { return n.ID == id })
}

// Indexes maps ids to visible positions, skipping hidden notes.
func (e *Engine) Indexes(ids []string) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if i := e.IndexOf(id); i >= 0 {
			out = append(out, i)
		}
	}
	return out
}

// Notes returns the visible notes at indexes, skipping out-of-range ones.
func (e *Engine) Notes(indexes []int) []*models.Note {
	out := make([]*models.Note, 0, len(indexes))
	for _, i := range indexes {
		if i >= 0 && i < len(e.results) {
			out = append(out, e.results[i])
		}
	}
	return out
}
