package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/notation/internal/apperr"
	"github.com/starford/notation/internal/codec"
	"github.com/starford/notation/internal/debounce"
	"github.com/starford/notation/internal/journal"
	"github.com/starford/notation/internal/models"
	"github.com/starford/notation/internal/notestore"
	"github.com/starford/notation/internal/storage"
	"github.com/starford/notation/internal/testutil"
	"github.com/starford/notation/internal/tombstone"
	"github.com/starford/notation/internal/undo"
)

type env struct {
	clock   *debounce.ManualClock
	fs      *testutil.MemFS
	store   *notestore.Store
	engine  *journal.Engine
	tombs   *tombstone.Manager
	scanner *Scanner
	events  []notestore.Event
}

func newEnv(t *testing.T, policy ConflictPolicy) *env {
	t.Helper()
	e := &env{clock: testutil.Clock(), store: notestore.New()}
	e.fs = testutil.NewMemFS(t.TempDir(), e.clock.Now)
	e.engine = journal.NewEngine(journal.Config{}, e.store, e.fs, nil, codec.New(nil),
		debounce.New(e.clock, time.Second, time.Minute), testutil.Logger())
	e.tombs = tombstone.New(e.store, e.engine, nil, undo.NewStack(0), e.clock, testutil.Logger())
	e.scanner = New(Config{ChunkSize: 2, Policy: policy}, e.fs, e.store, e.engine, e.tombs, nil, testutil.Logger())
	e.store.Subscribe(func(ev notestore.Event) { e.events = append(e.events, ev) })
	return e
}

func (e *env) scan(t *testing.T) Report {
	t.Helper()
	e.events = nil
	rep, err := e.scanner.Reconcile(context.Background())
	require.NoError(t, err)
	return rep
}

func (e *env) note(t *testing.T, filename string) *models.Note {
	t.Helper()
	n, ok := e.store.ByFilename(filename)
	require.True(t, ok, "no note for %s", filename)
	return n
}

func TestImportsNewFilesInChunks(t *testing.T) {
	e := newEnv(t, LocalWins)
	e.fs.Put("a.md", "---\ntitle: Alpha\nlabels: [x]\n---\nbody a")
	e.fs.Put("b.txt", "plain b")
	e.fs.Put("c.md", "c")
	e.fs.Put("image.png", "binary")
	e.fs.Put(".hidden.md", "x")

	rep := e.scan(t)
	assert.Equal(t, 3, rep.Added)
	assert.Equal(t, 3, e.store.Len())

	a := e.note(t, "a.md")
	assert.Equal(t, "Alpha", a.Title)
	assert.Equal(t, []string{"x"}, a.Labels)
	assert.NotEmpty(t, a.ID)
	b := e.note(t, "b.txt")
	assert.Equal(t, "b", b.Title)
	assert.Equal(t, codec.FormatPlain, b.Format)
}

func TestScanAfterFlushIsQuiet(t *testing.T) {
	e := newEnv(t, LocalWins)
	n := &models.Note{ID: "n1", Title: "fresh", Filename: "fresh.md", Body: "hello"}
	require.NoError(t, e.store.Add(n))
	e.engine.ScheduleWrite(n)

	// Not on disk yet: neither deleted nor a conflict.
	rep := e.scan(t)
	assert.Zero(t, rep.Removed+rep.Conflicts)

	require.NoError(t, e.engine.FlushAll())
	rep = e.scan(t)
	assert.Zero(t, rep.Changes())
	assert.Empty(t, e.events)
}

func TestExternalModifyCleanReloads(t *testing.T) {
	e := newEnv(t, LocalWins)
	e.fs.Put("d.md", "old")
	e.scan(t)
	d := e.note(t, "d.md")

	e.fs.Modify("d.md", "changed outside with more bytes")
	rep := e.scan(t)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, "changed outside with more bytes", d.Body)
	assert.False(t, d.Dirty)
	require.Len(t, e.events, 1)
	assert.Equal(t, notestore.Updated, e.events[0].Kind)
}

func TestExternalModifyDirtyOverwrites(t *testing.T) {
	e := newEnv(t, LocalWins)
	e.fs.Put("d.md", "old")
	e.scan(t)
	d := e.note(t, "d.md")
	_, err := e.store.Update(d.ID, func(n *models.Note) { n.Body = "local edit" })
	require.NoError(t, err)
	e.engine.ScheduleWrite(d)
	assert.False(t, e.engine.Timer().Due(e.clock.Now()))

	e.fs.Modify("d.md", "external edit that is longer")
	rep := e.scan(t)
	assert.Equal(t, 1, rep.Conflicts)
	assert.Zero(t, rep.Updated)
	assert.Equal(t, "local edit", d.Body)
	assert.True(t, e.engine.Timer().Due(e.clock.Now()), "overwrite flush scheduled immediately")

	require.NoError(t, e.engine.FlushAll())
	content, _ := e.fs.Content("d.md")
	assert.Contains(t, content, "local edit")
}

func TestExternalWinsPolicyReloads(t *testing.T) {
	e := newEnv(t, ExternalWins)
	e.fs.Put("d.md", "old")
	e.scan(t)
	d := e.note(t, "d.md")
	d.Body = "local"
	e.engine.ScheduleWrite(d)

	e.fs.Modify("d.md", "external version")
	rep := e.scan(t)
	assert.Equal(t, 1, rep.Conflicts)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, "external version", d.Body)
	assert.False(t, d.Dirty)
	assert.False(t, e.engine.IsPending(d.ID))
}

func TestRenameKeepsIdentity(t *testing.T) {
	e := newEnv(t, LocalWins)
	e.fs.Put("old name.txt", "content")
	e.scan(t)
	n := e.note(t, "old name.txt")
	id := n.ID

	e.fs.Rename("old name.txt", "new name.txt")
	rep := e.scan(t)
	assert.Equal(t, 1, rep.Renamed)
	assert.Zero(t, rep.Added+rep.Removed)
	got := e.note(t, "new name.txt")
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "new name", got.Title)
	assert.Equal(t, "content", got.Body)
}

func TestSwappedNamesResolve(t *testing.T) {
	e := newEnv(t, LocalWins)
	e.fs.Put("a.txt", "A")
	e.fs.Put("b.txt", "B")
	e.scan(t)
	a, b := e.note(t, "a.txt"), e.note(t, "b.txt")

	e.fs.Rename("a.txt", "tmp.txt")
	e.fs.Rename("b.txt", "a.txt")
	e.fs.Rename("tmp.txt", "b.txt")
	rep := e.scan(t)
	assert.Equal(t, 2, rep.Renamed)
	assert.Equal(t, "b.txt", a.Filename)
	assert.Equal(t, "a.txt", b.Filename)
	assert.Empty(t, rep.Skipped)
}

func TestAtomicSaveElsewhereMatchesByName(t *testing.T) {
	e := newEnv(t, LocalWins)
	e.fs.Put("x.md", "one")
	e.scan(t)
	x := e.note(t, "x.md")
	id := x.ID

	e.fs.Put("x.md", "replaced by an editor") // new node id
	rep := e.scan(t)
	assert.Equal(t, 1, rep.Updated)
	assert.Zero(t, rep.Added+rep.Removed)
	assert.Equal(t, id, e.note(t, "x.md").ID)
}

func TestExternalDeleteCreatesTombstone(t *testing.T) {
	e := newEnv(t, LocalWins)
	e.fs.Put("gone.md", "bye")
	e.scan(t)
	id := e.note(t, "gone.md").ID

	e.fs.Remove("gone.md")
	rep := e.scan(t)
	assert.Equal(t, 1, rep.Removed)
	_, ok := e.tombs.Get(id)
	assert.True(t, ok)
	assert.False(t, e.engine.IsRemovalPending(id))
}

func TestDirtyNoteWhoseFileVanishedIsRecreated(t *testing.T) {
	e := newEnv(t, LocalWins)
	e.fs.Put("keep.md", "v1")
	e.scan(t)
	n := e.note(t, "keep.md")
	e.engine.ScheduleWrite(n)

	e.fs.Remove("keep.md")
	rep := e.scan(t)
	assert.Equal(t, 1, rep.Conflicts)
	assert.Zero(t, rep.Removed)
	require.NoError(t, e.engine.FlushAll())
	_, ok := e.fs.Content("keep.md")
	assert.True(t, ok)
}

func TestUnreadableFilesAreSkipped(t *testing.T) {
	e := newEnv(t, LocalWins)
	sealer, err := codec.NewSealer("pw", nil)
	require.NoError(t, err)
	sealed, err := codec.New(sealer).Encode(&models.Note{ID: "s", Title: "secret"})
	require.NoError(t, err)
	e.fs.Put("secret.md", string(sealed))
	e.fs.Put("open.md", "fine")

	rep := e.scan(t)
	assert.Equal(t, 1, rep.Added)
	require.Len(t, rep.Skipped, 1)
	assert.Equal(t, "secret.md", rep.Skipped[0].Filename)
}

func TestDuplicateHeaderIDIsReassigned(t *testing.T) {
	e := newEnv(t, LocalWins)
	e.fs.Put("a.md", "---\nid: same\n---\nA")
	e.fs.Put("copy.md", "---\nid: same\n---\nA")
	rep := e.scan(t)
	assert.Equal(t, 2, rep.Added)
	assert.NotEqual(t, e.note(t, "a.md").ID, e.note(t, "copy.md").ID)
}

func TestMissingDirectoryIsDirectoryError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "notes")
	require.NoError(t, os.Mkdir(dir, 0o755))
	fs, err := storage.NewFS(dir)
	require.NoError(t, err)
	e := newEnv(t, LocalWins)
	e.scanner = New(Config{}, fs, e.store, e.engine, e.tombs, nil, testutil.Logger())
	require.NoError(t, os.Remove(dir))

	_, err = e.scanner.Reconcile(context.Background())
	assert.ErrorIs(t, err, apperr.ErrDirectory)
}
