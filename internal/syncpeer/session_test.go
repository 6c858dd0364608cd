package syncpeer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/notation/internal/notation"
	"github.com/starford/notation/internal/testutil"
)

type direct struct{ n *notation.Notation }

func (d direct) Do(_ context.Context, fn func(*notation.Notation) error) error { return fn(d.n) }

func openNotation(t *testing.T, files map[string]string) *notation.Notation {
	t.Helper()
	_, fs := testutil.TestVault(t, files)
	n, err := notation.Open(context.Background(), notation.Options{
		Provider: fs,
		Clock:    testutil.Clock(),
		Logger:   testutil.Logger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestSyncPushesOnlyChanges(t *testing.T) {
	n := openNotation(t, map[string]string{"a.md": "---\nid: a\n---\nalpha", "b.md": "---\nid: b\n---\nbeta"})
	peer := NewMemory("phone")
	s := NewSession(direct{n}, []Peer{peer}, testutil.Logger())
	require.NoError(t, s.Register(context.Background()))

	res, err := s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res[0].Pushed)
	r, ok := peer.Note("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", r.Body)

	res, err = s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res[0].Pushed)

	_, err = n.UpdateBody("a", "alpha v2")
	require.NoError(t, err)
	res, err = s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res[0].Pushed)
	r, _ = peer.Note("a")
	assert.Equal(t, "alpha v2", r.Body)
}

func TestSyncImportsWithoutEchoing(t *testing.T) {
	n := openNotation(t, nil)
	peer := NewMemory("laptop")
	peer.Put(&Record{ID: "remote", Title: "Remote", Body: "from afar", Version: 4, Labels: []string{"x"}})
	s := NewSession(direct{n}, []Peer{peer}, testutil.Logger())

	res, err := s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res[0].Pulled)
	assert.Zero(t, res[0].Pushed)

	got, err := n.Get("remote")
	require.NoError(t, err)
	assert.Equal(t, "from afar", got.Body)
	assert.Equal(t, []string{"x"}, got.Labels)
	assert.True(t, got.Dirty)
}

func TestSyncDeliversDeletionsThenPurges(t *testing.T) {
	n := openNotation(t, map[string]string{"gone.md": "---\nid: gone\n---\nbye"})
	phone, laptop := NewMemory("phone"), NewMemory("laptop")
	s := NewSession(direct{n}, []Peer{phone, laptop}, testutil.Logger())
	require.NoError(t, s.Register(context.Background()))
	_, err := s.SyncAll(context.Background())
	require.NoError(t, err)

	require.NoError(t, n.RemoveNotes("gone"))
	laptop.Fail = errors.New("offline")
	res, err := s.SyncAll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, res[0].Deleted)
	assert.Equal(t, 1, res[1].Failures)
	assert.Equal(t, []string{"gone"}, phone.Deleted())
	_, held := phone.Note("gone")
	assert.False(t, held)

	require.NoError(t, n.Flush())
	assert.Equal(t, 1, n.Tombstones().Len(), "laptop has not acknowledged yet")

	laptop.Fail = nil
	_, err = s.SyncAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, n.Flush())
	assert.Zero(t, n.Tombstones().Len())
}

func TestRunStopsWithContext(t *testing.T) {
	n := openNotation(t, map[string]string{"a.md": "a"})
	peer := NewMemory("p")
	s := NewSession(direct{n}, []Peer{peer}, testutil.Logger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 10*time.Millisecond) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"p"}, n.Tombstones().Peers())
}

func TestRegisterDeauthorizesRemovedPeers(t *testing.T) {
	n := openNotation(t, map[string]string{"x.md": "---\nid: x\n---\nx"})
	n.Tombstones().RegisterPeer("retired")
	require.NoError(t, n.RemoveNotes("x"))
	n.Tombstones().Acknowledge("x", "retired")

	s := NewSession(direct{n}, []Peer{NewMemory("current")}, testutil.Logger())
	require.NoError(t, s.Register(context.Background()))
	assert.Equal(t, []string{"current"}, n.Tombstones().Peers())

	ts, ok := n.Tombstones().Get("x")
	require.True(t, ok)
	assert.False(t, ts.Acked("retired"))
}
