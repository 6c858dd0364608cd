package sorting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/starford/notation/internal/filter"
	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notestore"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func order(s *notestore.Store) []string {
	var out []string
	for _, n := range s.All() {
		out = append(out, n.ID)
	}
	return out
}

func TestColumns(t *testing.T) {
	s := notestore.New()
	require.NoError(t, s.Add(&models.Note{ID: "1", Title: "banana", Filename: "1", Body: "xx", CreatedAt: base.Add(2 * time.Hour), ModifiedAt: base}))
	require.NoError(t, s.Add(&models.Note{ID: "2", Title: "Apple", Filename: "2", Body: "xxx", CreatedAt: base, ModifiedAt: base.Add(time.Hour)}))
	require.NoError(t, s.Add(&models.Note{ID: "3", Title: "cherry", Filename: "3", Body: "x", CreatedAt: base.Add(time.Hour), ModifiedAt: base.Add(2 * time.Hour)}))

	e := New(s, ColumnTitle, Ascending)
	assert.Equal(t, []string{"2", "1", "3"}, order(s))

	e.SetColumn(ColumnCreated, Ascending)
	assert.Equal(t, []string{"2", "3", "1"}, order(s))

	e.SetColumn(ColumnModified, Descending)
	assert.Equal(t, []string{"3", "2", "1"}, order(s))

	e.SetColumn(ColumnSize, Ascending)
	assert.Equal(t, []string{"3", "1", "2"}, order(s))
}

func TestSetColumnKeepsFilterMatches(t *testing.T) {
	s := notestore.New()
	require.NoError(t, s.Add(&models.Note{ID: "1", Title: "b plan", Filename: "1"}))
	require.NoError(t, s.Add(&models.Note{ID: "2", Title: "other", Filename: "2"}))
	require.NoError(t, s.Add(&models.Note{ID: "3", Title: "a plan", Filename: "3"}))
	e := New(s, ColumnModified, Ascending)
	f := filter.New(s)
	f.FilterString("plan", false)

	var notified int
	e.OnSorted(func(Column, Direction) { notified++ })
	e.SetColumn(ColumnTitle, Ascending)
	e.SortAndNotify()

	var got []string
	for _, n := range f.Visible() {
		got = append(got, n.ID)
	}
	assert.Equal(t, []string{"3", "1"}, got)
	assert.Equal(t, 1, notified)
}

func TestParse(t *testing.T) {
	c, err := ParseColumn("Title")
	require.NoError(t, err)
	assert.Equal(t, ColumnTitle, c)
	_, err = ParseColumn("color")
	assert.Error(t, err)
	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, Ascending, d)
}

// Re-sorting with an unchanged comparator never swaps equal keys, and
// equal keys stay in insertion order.
func TestStabilityProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := notestore.New()
		n := rapid.IntRange(0, 30).Draw(rt, "n")
		for i := 0; i < n; i++ {
			title := rapid.SampledFrom([]string{"a", "b", "c"}).Draw(rt, "title")
			id := string(rune('A' + i))
			require.NoError(rt, s.Add(&models.Note{ID: id, Title: title, Filename: id}))
		}
		col := rapid.SampledFrom([]Column{ColumnTitle, ColumnSize, ColumnModified}).Draw(rt, "col")
		dir := rapid.SampledFrom([]Direction{Ascending, Descending}).Draw(rt, "dir")
		e := New(s, col, dir)
		before := order(s)
		e.Resort()
		e.Resort()
		assert.Equal(rt, before, order(s))

		all := s.All()
		for i := 1; i < len(all); i++ {
			if e.Order()(all[i-1], all[i]) == 0 {
				a, _ := s.Seq(all[i-1].ID)
				b, _ := s.Seq(all[i].ID)
				if a > b {
					rt.Fatalf("equal keys out of insertion order: %s before %s", all[i-1].ID, all[i].ID)
				}
			}
		}
	})
}
