package notestore

import (
	"cmp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/notation/internal/apperr"
	"github.com/starford/notation/internal/models"
)

func note(id, title string) *models.Note {
	return &models.Note{ID: id, Title: title, Filename: title + ".md"}
}

func titles(s *Store) []string {
	var out []string
	for _, n := range s.All() {
		out = append(out, n.Title)
	}
	return out
}

func TestAddKeepsInsertionOrder(t *testing.T) {
	s := New()
	var events []Event
	s.Subscribe(func(e Event) { events = append(events, e) })

	require.NoError(t, s.Add(note("1", "b")))
	require.NoError(t, s.Add(note("2", "a")))
	assert.Equal(t, []string{"b", "a"}, titles(s))
	require.Len(t, events, 2)
	assert.Equal(t, Added, events[1].Kind)
	assert.Equal(t, 1, events[1].Index)
}

func TestAddRejectsDuplicates(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(note("1", "a")))
	assert.ErrorIs(t, s.Add(note("1", "other")), apperr.ErrAlreadyExists)
	assert.ErrorIs(t, s.Add(&models.Note{ID: "2", Filename: "a.md"}), apperr.ErrAlreadyExists)
}

func TestOrderAndTies(t *testing.T) {
	s := New()
	for i, title := range []string{"b", "a", "b", "a"} {
		n := note(string(rune('1'+i)), title)
		n.Filename = n.ID + ".md"
		require.NoError(t, s.Add(n))
	}
	var reordered int
	s.Subscribe(func(e Event) {
		if e.Kind == Reordered {
			reordered++
		}
	})
	s.SetOrder(func(a, b *models.Note) int { return cmp.Compare(a.Title, b.Title) })
	assert.Equal(t, 1, reordered)

	var ids []string
	for _, n := range s.All() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"2", "4", "1", "3"}, ids)

	// New notes land at their sorted position.
	n := note("5", "a")
	n.Filename = "5.md"
	require.NoError(t, s.Add(n))
	assert.Equal(t, 2, s.IndexOf("5"))
}

func TestUpdateBumpsVersionAndReindexes(t *testing.T) {
	s := New()
	n := note("1", "a")
	n.NodeID = 7
	require.NoError(t, s.Add(n))

	got, err := s.Update("1", func(n *models.Note) {
		n.Filename = "renamed.md"
		n.Body = "x"
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
	_, ok := s.ByFilename("a.md")
	assert.False(t, ok)
	byName, ok := s.ByFilename("renamed.md")
	require.True(t, ok)
	assert.Same(t, n, byName)
	byNode, ok := s.ByNode(7)
	require.True(t, ok)
	assert.Same(t, n, byNode)
}

func TestUpdateRejectsTakenFilename(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(note("1", "a")))
	require.NoError(t, s.Add(note("2", "b")))
	_, err := s.Update("1", func(n *models.Note) { n.Filename = "b.md" })
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestRemoveAndRestore(t *testing.T) {
	s := New()
	require.NoError(t, s.Add(note("1", "a")))
	require.NoError(t, s.Add(note("2", "b")))
	require.NoError(t, s.Add(note("3", "c")))

	removed, seq, err := s.Remove("1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, titles(s))

	require.NoError(t, s.Restore(removed, seq))
	assert.Equal(t, []string{"a", "b", "c"}, titles(s))

	_, _, err = s.Remove("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPutKeepsVersion(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(&models.Note{ID: "1", Filename: "a.md", Version: 5}))
	n, _ := s.Get("1")
	assert.Equal(t, uint64(5), n.Version)

	n.Dirty = true
	require.NoError(t, s.Put(&models.Note{ID: "1", Filename: "a.md", Title: "new", Version: 6}))
	assert.Equal(t, "new", n.Title)
	assert.True(t, n.Dirty, "dirty flag is owned by the engine")
}

func TestSetSnapshotMovesNodeIndex(t *testing.T) {
	s := New()
	n := note("1", "a")
	n.NodeID = 1
	require.NoError(t, s.Add(n))
	s.SetSnapshot("1", models.CatalogEntry{NodeID: 2, Size: 9})
	_, ok := s.ByNode(1)
	assert.False(t, ok)
	got, ok := s.ByNode(2)
	require.True(t, ok)
	assert.Equal(t, int64(9), got.Size)
}
