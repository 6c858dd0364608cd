package tombstone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/starford/notation/internal/codec"
	"github.com/starford/notation/internal/debounce"
	"github.com/starford/notation/internal/journal"
	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notestore"
	"github.com/starford/notation/internal/testutil"
	"github.com/starford/notation/internal/undo"
)

type env struct {
	store  *notestore.Store
	fs     *testutil.MemFS
	engine *journal.Engine
	undo   *undo.Stack
	mgr    *Manager
}

func newEnv(t require.TestingT, dir string) *env {
	clock := testutil.Clock()
	store := notestore.New()
	mem := testutil.NewMemFS(dir, clock.Now)
	eng := journal.NewEngine(journal.Config{}, store, mem, nil, codec.New(nil),
		debounce.New(clock, time.Second, time.Minute), testutil.Logger())
	stack := undo.NewStack(0)
	return &env{store: store, fs: mem, engine: eng, undo: stack,
		mgr: New(store, eng, nil, stack, clock, testutil.Logger())}
}

func (e *env) addFlushed(t require.TestingT, id, title string) *models.Note {
	n := &models.Note{ID: id, Title: title, Filename: title + ".md", Body: title}
	require.NoError(t, e.store.Add(n))
	e.engine.ScheduleWrite(n)
	require.NoError(t, e.engine.FlushAll())
	return n
}

func TestRemoveThenUndoRestoresNote(t *testing.T) {
	e := newEnv(t, t.TempDir())
	c := e.addFlushed(t, "c", "groceries")
	before := *c.Clone()

	require.NoError(t, e.mgr.Remove("c"))
	_, inStore := e.store.Get("c")
	assert.False(t, inStore)
	ts, ok := e.mgr.Get("c")
	require.True(t, ok)
	assert.Empty(t, ts.AckedBy)
	assert.Equal(t, "groceries.md", ts.Filename)

	_, err := e.undo.Undo()
	require.NoError(t, err)

	got, ok := e.store.Get("c")
	require.True(t, ok)
	assert.Equal(t, before.Title, got.Title)
	assert.Equal(t, before.Body, got.Body)
	assert.Equal(t, before.Version, got.Version)
	assert.False(t, got.Deleted)
	_, ok = e.mgr.Get("c")
	assert.False(t, ok, "tombstone discarded on undo")
	assert.False(t, e.engine.IsRemovalPending("c"))
	assert.False(t, got.Dirty, "file was never deleted, nothing to rewrite")
}

func TestUndoAfterFlushRecreatesFile(t *testing.T) {
	e := newEnv(t, t.TempDir())
	e.addFlushed(t, "c", "groceries")
	require.NoError(t, e.mgr.Remove("c"))
	require.NoError(t, e.engine.FlushAll())
	_, exists := e.fs.Content("groceries.md")
	require.False(t, exists)

	_, err := e.undo.Undo()
	require.NoError(t, err)
	got, _ := e.store.Get("c")
	assert.True(t, got.Dirty)
	require.NoError(t, e.engine.FlushAll())
	_, exists = e.fs.Content("groceries.md")
	assert.True(t, exists)
}

func TestUndoMovesToFreeNameWhenTaken(t *testing.T) {
	e := newEnv(t, t.TempDir())
	e.addFlushed(t, "c", "groceries")
	require.NoError(t, e.mgr.Remove("c"))
	require.NoError(t, e.engine.FlushAll())

	other := &models.Note{ID: "n", Title: "groceries", Filename: "groceries.md", Body: "new list"}
	require.NoError(t, e.store.Add(other))
	e.engine.ScheduleWrite(other)
	require.NoError(t, e.engine.FlushAll())

	_, err := e.undo.Undo()
	require.NoError(t, err)
	got, ok := e.store.Get("c")
	require.True(t, ok, "note is live again")
	assert.Equal(t, "groceries 2.md", got.Filename)
	assert.True(t, got.Dirty)
	_, ok = e.mgr.Get("c")
	assert.False(t, ok)

	require.NoError(t, e.engine.FlushAll())
	content, ok := e.fs.Content("groceries 2.md")
	require.True(t, ok)
	assert.Contains(t, content, "groceries")
	content, _ = e.fs.Content("groceries.md")
	assert.Contains(t, content, "new list")
}

func TestUndoOfDeletedFileDropsDiskSnapshot(t *testing.T) {
	e := newEnv(t, t.TempDir())
	c := e.addFlushed(t, "c", "groceries")
	node := c.NodeID
	require.NotZero(t, node)
	require.NoError(t, e.mgr.Remove("c"))
	require.NoError(t, e.engine.FlushAll())

	_, err := e.undo.Undo()
	require.NoError(t, err)
	got, _ := e.store.Get("c")
	assert.Zero(t, got.NodeID)
	assert.True(t, got.DiskModTime.IsZero())
	assert.Zero(t, got.Size)
	_, ok := e.store.ByNode(node)
	assert.False(t, ok, "old node id no longer maps to the note")

	// External removals lose it too.
	e.addFlushed(t, "x", "external")
	e.fs.Remove("external.md")
	require.NoError(t, e.mgr.RemoveExternal("x"))
	_, err = e.undo.Undo()
	require.NoError(t, err)
	x, _ := e.store.Get("x")
	assert.Zero(t, x.NodeID)
}

func TestUndoKeepsSnapshotWhileDeletionQueued(t *testing.T) {
	e := newEnv(t, t.TempDir())
	c := e.addFlushed(t, "c", "groceries")
	node := c.NodeID
	require.NoError(t, e.mgr.Remove("c"))
	_, err := e.undo.Undo()
	require.NoError(t, err)
	got, _ := e.store.Get("c")
	assert.Equal(t, node, got.NodeID)
	assert.Equal(t, "groceries.md", got.Filename)
}

func TestUndoRestoresWhatItCan(t *testing.T) {
	e := newEnv(t, t.TempDir())
	e.addFlushed(t, "a", "a")
	e.addFlushed(t, "b", "b")
	require.NoError(t, e.mgr.Remove("a", "b"))
	require.NoError(t, e.engine.FlushAll())

	// A note with the same id came back from elsewhere.
	require.NoError(t, e.store.Add(&models.Note{ID: "b", Title: "b", Filename: "b.md"}))

	_, err := e.undo.Undo()
	assert.Error(t, err)
	_, ok := e.store.Get("a")
	assert.True(t, ok, "a is restored despite b failing")
	_, ok = e.mgr.Get("a")
	assert.False(t, ok)
	_, ok = e.mgr.Get("b")
	assert.True(t, ok, "b keeps its tombstone")
}

func TestFailedRestoreRequeuesDeletion(t *testing.T) {
	e := newEnv(t, t.TempDir())
	e.addFlushed(t, "c", "groceries")
	require.NoError(t, e.mgr.Remove("c"))
	// Another note claims the name while the deletion is still queued.
	require.NoError(t, e.store.Add(&models.Note{ID: "n", Title: "groceries", Filename: "groceries.md"}))

	_, err := e.undo.Undo()
	assert.Error(t, err)
	assert.True(t, e.engine.IsRemovalPending("c"))
	_, ok := e.mgr.Get("c")
	assert.True(t, ok)
}

func TestRemoveManyIsOneUndo(t *testing.T) {
	e := newEnv(t, t.TempDir())
	e.addFlushed(t, "a", "a")
	e.addFlushed(t, "b", "b")
	require.NoError(t, e.mgr.Remove("a", "b"))
	assert.Equal(t, 1, e.undo.Len())
	_, err := e.undo.Undo()
	require.NoError(t, err)
	assert.Equal(t, 2, e.store.Len())
	assert.Equal(t, "a", e.store.At(0).ID)
}

func TestRemoveExternalDoesNotQueueDeletion(t *testing.T) {
	e := newEnv(t, t.TempDir())
	e.addFlushed(t, "a", "a")
	e.fs.Remove("a.md")
	require.NoError(t, e.mgr.RemoveExternal("a"))
	assert.False(t, e.engine.IsRemovalPending("a"))
	assert.Equal(t, 1, e.mgr.Len())

	_, err := e.undo.Undo()
	require.NoError(t, err)
	require.NoError(t, e.engine.FlushAll())
	_, exists := e.fs.Content("a.md")
	assert.True(t, exists)
}

func TestPurgeWaitsForEveryPeer(t *testing.T) {
	e := newEnv(t, t.TempDir())
	e.mgr.RegisterPeer("s3")
	e.mgr.RegisterPeer("laptop")
	e.addFlushed(t, "a", "a")
	require.NoError(t, e.mgr.Remove("a"))

	assert.Empty(t, e.mgr.PurgeAcknowledged())
	e.mgr.Acknowledge("a", "s3")
	assert.Empty(t, e.mgr.PurgeAcknowledged())
	assert.Len(t, e.mgr.Unacknowledged("laptop"), 1)

	e.mgr.Acknowledge("a", "laptop")
	assert.Equal(t, []string{"a"}, e.mgr.PurgeAcknowledged())
	assert.Equal(t, 0, e.mgr.Len())
}

func TestOrphanAndDeauthorize(t *testing.T) {
	e := newEnv(t, t.TempDir())
	e.mgr.RegisterPeer("s3")
	e.mgr.RegisterPeer("laptop")
	e.addFlushed(t, "a", "a")
	require.NoError(t, e.mgr.Remove("a"))
	e.mgr.Acknowledge("a", "s3")

	e.mgr.Orphan([]string{"a"}, "s3")
	ts, _ := e.mgr.Get("a")
	assert.False(t, ts.Acked("s3"))

	e.mgr.Acknowledge("a", "s3")
	e.mgr.DeauthorizePeer("s3")
	assert.False(t, ts.Acked("s3"))
	assert.Equal(t, []string{"laptop"}, e.mgr.Peers())

	e.mgr.Acknowledge("a", "laptop")
	assert.Equal(t, []string{"a"}, e.mgr.PurgeAcknowledged())
}

// A tombstone is present while any registered peer has not acknowledged
// it and gone after a purge once all have.
func TestPurgeProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := newEnv(rt, t.TempDir())
		peers := []string{"p1", "p2", "p3"}
		for _, p := range peers {
			e.mgr.RegisterPeer(p)
		}
		e.addFlushed(rt, "x", "x")
		require.NoError(rt, e.mgr.Remove("x"))

		acks := rapid.SliceOfN(rapid.SampledFrom(peers), 0, 6).Draw(rt, "acks")
		seen := map[string]bool{}
		for _, p := range acks {
			e.mgr.Acknowledge("x", p)
			seen[p] = true
			e.mgr.PurgeAcknowledged()
			_, present := e.mgr.Get("x")
			all := len(seen) == len(peers)
			if present == all {
				rt.Fatalf("present=%v after acks %v", present, seen)
			}
		}
	})
}
