package noteservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/notation/internal/apperr"
	"github.com/starford/notation/internal/checksum"
	"github.com/starford/notation/internal/notation"
	"github.com/starford/notation/internal/sorting"
	"github.com/starford/notation/internal/testutil"
)

type direct struct{ n *notation.Notation }

func (d direct) Do(_ context.Context, fn func(*notation.Notation) error) error { return fn(d.n) }

func newService(t *testing.T, files map[string]string) (*Service, *notation.Notation) {
	t.Helper()
	_, fs := testutil.TestVault(t, files)
	n, err := notation.Open(context.Background(), notation.Options{
		Provider: fs,
		Clock:    testutil.Clock(),
		Logger:   testutil.Logger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return NewService(direct{n}), n
}

func TestCreateGetUpdate(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	created, err := svc.CreateNote(ctx, "Hello", "world", []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, created.Labels)
	assert.True(t, created.Unsaved)
	assert.Equal(t, checksum.SumString("world"), created.Checksum)

	_, err = svc.UpdateNote(ctx, created.ID, "new", "stale")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	updated, err := svc.UpdateNote(ctx, created.ID, "new", created.Checksum)
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Body)

	_, err = svc.GetNote(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBacklinksAndRename(t *testing.T) {
	svc, n := newService(t, map[string]string{
		"Topic.md": "---\nid: topic\ntitle: Topic\n---\ncontent",
		"Ref.md":   "---\nid: ref\ntitle: Ref\n---\nsee [[topic]]",
	})
	ctx := context.Background()

	got, err := svc.GetNote(ctx, "topic")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ref"}, got.Backlinks)

	renamed, relinked, err := svc.RenameNote(ctx, "topic", "Subject")
	require.NoError(t, err)
	assert.Equal(t, 1, relinked)
	assert.Equal(t, "Subject.md", renamed.Filename)
	assert.Equal(t, []string{"Ref"}, renamed.Backlinks)

	ref, _ := n.Get("ref")
	assert.Equal(t, "see [[Subject]]", ref.Body)
}

func TestListNotesPagesTheFilteredView(t *testing.T) {
	svc, _ := newService(t, map[string]string{
		"alpha.md": "---\nlabels: [work]\n---\nplan the week",
		"beta.md":  "---\nlabels: [home]\n---\nplan dinner",
		"gamma.md": "---\nlabels: [work]\n---\nreview",
	})
	ctx := context.Background()

	items, total, err := svc.ListNotes(ctx, ListQuery{Sort: sorting.ColumnTitle})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 3)
	assert.Equal(t, "alpha", items[0].Title)

	items, total, err = svc.ListNotes(ctx, ListQuery{Query: "plan", Sort: sorting.ColumnTitle, Direction: sorting.Descending})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "beta", items[0].Title)

	items, total, err = svc.ListNotes(ctx, ListQuery{Labels: []string{"work"}, Sort: sorting.ColumnTitle, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 1)
	assert.Equal(t, "gamma", items[0].Title)

	items, _, err = svc.ListNotes(ctx, ListQuery{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeleteUndoAndStatus(t *testing.T) {
	svc, _ := newService(t, map[string]string{"x.md": "---\nid: x\n---\nx"})
	ctx := context.Background()

	require.NoError(t, svc.DeleteNotes(ctx, "x"))
	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Notes)
	assert.Equal(t, 1, st.Tombstones)
	assert.Empty(t, st.Failures)

	name, err := svc.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Delete Note", name)
	_, err = svc.GetNote(ctx, "x")
	require.NoError(t, err)

	require.NoError(t, svc.AddLabels(ctx, []string{"x"}, "kept"))
	labels, err := svc.Labels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []notation.LabelCount{{Label: "kept", Count: 1}}, labels)
	require.NoError(t, svc.RemoveLabels(ctx, []string{"x"}, "kept"))

	require.NoError(t, svc.Flush(ctx))
	rep, err := svc.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Changes())
}
