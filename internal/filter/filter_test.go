package filter

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notestore"
)

func add(t require.TestingT, s *notestore.Store, id, title, body string, labels ...string) *models.Note {
	n := &models.Note{ID: id, Title: title, Body: body, Filename: id + ".md"}
	n.SetLabels(labels)
	require.NoError(t, s.Add(n))
	return n
}

func ids(notes []*models.Note) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.ID)
	}
	return out
}

func TestShoppingAndPlanScenario(t *testing.T) {
	s := notestore.New()
	add(t, s, "A", "shopping list", "", "home")
	add(t, s, "B", "project plan", "", "work")
	f := New(s)

	f.FilterString("plan", false)
	assert.Equal(t, []string{"B"}, ids(f.Visible()))

	f.FilterString("plan work", false)
	assert.Equal(t, []string{"B"}, ids(f.Visible()))

	f.FilterString("", false)
	assert.Equal(t, []string{"A", "B"}, ids(f.Visible()))
}

func TestCaseAndCompatibilityFolding(t *testing.T) {
	s := notestore.New()
	add(t, s, "1", "Straße", "")
	add(t, s, "2", "ＦＵＬＬＷＩＤＴＨ", "")
	f := New(s)

	f.FilterString("STRASSE", false)
	assert.Equal(t, []string{"1"}, ids(f.Visible()))
	f.FilterString("fullwidth", true)
	assert.Equal(t, []string{"2"}, ids(f.Visible()))
}

func TestLabelFilterComposesWithText(t *testing.T) {
	s := notestore.New()
	add(t, s, "1", "alpha", "x", "work")
	add(t, s, "2", "alpha", "x", "home")
	add(t, s, "3", "beta", "x", "work", "home")
	f := New(s)

	f.FilterLabels("work")
	assert.Equal(t, []string{"1", "3"}, ids(f.Visible()))
	f.FilterString("alpha", false)
	assert.Equal(t, []string{"1"}, ids(f.Visible()))
	f.FilterLabels("work", "home")
	assert.Equal(t, []string{"1", "2"}, ids(f.Visible()))
	f.FilterLabels()
	f.FilterString("", false)
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, 3, f.TotalCount())
}

func TestIncrementalStoreEvents(t *testing.T) {
	s := notestore.New()
	add(t, s, "1", "plan a", "")
	f := New(s)
	f.FilterString("plan", false)

	var kinds []notestore.EventKind
	f.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	add(t, s, "2", "other", "")
	add(t, s, "3", "plan b", "")
	assert.Equal(t, []string{"1", "3"}, ids(f.Visible()))

	_, err := s.Update("2", func(n *models.Note) { n.Body = "now with a plan" })
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids(f.Visible()))

	_, err = s.Update("1", func(n *models.Note) { n.Title = "nothing" })
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, ids(f.Visible()))

	_, _, err = s.Remove("3")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(f.Visible()))

	assert.Equal(t, []notestore.EventKind{notestore.Added, notestore.Added, notestore.Removed, notestore.Removed}, kinds)
}

func TestSelectionPreservation(t *testing.T) {
	s := notestore.New()
	add(t, s, "1", "apple", "")
	add(t, s, "2", "apricot", "")
	add(t, s, "3", "banana", "")
	add(t, s, "4", "avocado", "")
	f := New(s)
	assert.Equal(t, 0, f.PreferredIndex(), "first match without a selection")

	f.Select("4")
	f.FilterString("a", false)
	assert.Equal(t, "4", f.Selected())
	assert.Equal(t, 3, f.PreferredIndex())

	f.FilterString("ap", false)
	assert.Empty(t, f.Selected())
	assert.Equal(t, 1, f.PreferredIndex(), "closest position to the old selection")
	assert.True(t, f.PreferredMatchesQuery())

	f.FilterString("zzz", false)
	assert.Equal(t, -1, f.PreferredIndex())
}

func TestLookups(t *testing.T) {
	s := notestore.New()
	add(t, s, "1", "a", "")
	add(t, s, "2", "b", "")
	add(t, s, "3", "c", "")
	f := New(s)
	assert.Equal(t, 1, f.IndexOf("2"))
	assert.Equal(t, -1, f.IndexOf("x"))
	assert.Equal(t, []int{2, 0}, f.Indexes([]string{"3", "x", "1"}))
	assert.Equal(t, []string{"3", "1"}, ids(f.Notes([]int{2, 9, 0})))
	assert.Equal(t, "2", f.At(1).ID)
}

// Continuing from a prefix query yields the same result as evaluating
// the longer query from scratch.
func TestContinuationProperty(t *testing.T) {
	words := []string{"plan", "work", "home", "shop", "list", "Plan", "ÉTÉ", "été"}
	rapid.Check(t, func(rt *rapid.T) {
		s := notestore.New()
		count := rapid.IntRange(0, 15).Draw(rt, "notes")
		for i := 0; i < count; i++ {
			title := rapid.SampledFrom(words).Draw(rt, "title") + " " + rapid.SampledFrom(words).Draw(rt, "title2")
			body := rapid.SampledFrom(words).Draw(rt, "body")
			label := rapid.SampledFrom(words).Draw(rt, "label")
			add(rt, s, string(rune('a'+i)), title, body, label)
		}
		q2 := rapid.StringMatching(`[a-zé ]{0,8}`).Draw(rt, "query")
		cut := rapid.IntRange(0, len([]rune(q2))).Draw(rt, "cut")
		q1 := string([]rune(q2)[:cut])

		inc := New(s)
		inc.FilterString(q1, false)
		inc.FilterString(q2, false)

		full := New(s)
		full.FilterString(q2, true)

		if !slices.Equal(ids(inc.Visible()), ids(full.Visible())) {
			rt.Fatalf("q1=%q q2=%q: incremental %v, full %v", q1, q2, ids(inc.Visible()), ids(full.Visible()))
		}
	})
}
