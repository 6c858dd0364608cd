package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/notation/internal/apperr"
	"github.com/starford/notation/internal/codec"
	"github.com/starford/notation/internal/models"
)

func writeEntry(id string, version uint64) Entry {
	return Entry{Op: OpWrite, Note: &models.Note{ID: id, Filename: id + ".md", Body: "b", Version: version}}
}

func TestAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	j, err := openJournal(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, j.Append([]Entry{writeEntry("a", 1), writeEntry("b", 1)}))
	require.NoError(t, j.Append([]Entry{{Op: OpRemove, Tombstone: &models.DeletedNote{ID: "c", Filename: "c.md"}}}))
	require.NoError(t, j.Close())

	entries, err := Read(path, nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].ID())
	assert.Equal(t, OpRemove, entries[2].Op)
}

func TestTornTailIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	j, err := openJournal(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, j.Append([]Entry{writeEntry("a", 1), writeEntry("b", 1)}))
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o600))

	entries, err := Read(path, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ID())
}

func TestMidFileCorruptionIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	j, err := openJournal(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, j.Append([]Entry{writeEntry("a", 1), writeEntry("b", 1)}))
	require.NoError(t, j.Close())

	data, _ := os.ReadFile(path)
	data[len(magic)+frameHeader+2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = Read(path, nil)
	assert.ErrorIs(t, err, apperr.ErrCorrupt)
}

func TestBadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	_, err := Read(path, nil)
	assert.ErrorIs(t, err, apperr.ErrCorrupt)
}

func TestCheckpointReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	j, err := openJournal(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, j.Append([]Entry{writeEntry("a", 1), writeEntry("b", 1)}))
	require.NoError(t, j.Checkpoint([]Entry{writeEntry("b", 1)}))
	require.NoError(t, j.Append([]Entry{writeEntry("c", 1)}))
	require.NoError(t, j.Close())

	entries, err := Read(path, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ID())
	assert.Equal(t, "c", entries[1].ID())
}

func TestOpenJournalStartsFromGivenEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	j, err := openJournal(path, nil, []Entry{writeEntry("kept", 2)})
	require.NoError(t, err)
	require.NoError(t, j.Append([]Entry{writeEntry("next", 1)}))
	require.NoError(t, j.Close())

	entries, err := Read(path, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "kept", entries[0].ID())
	assert.Equal(t, "next", entries[1].ID())
}

func TestSealedJournal(t *testing.T) {
	sealer, err := codec.NewSealer("pass", nil)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "journal")
	j, err := openJournal(path, sealer, nil)
	require.NoError(t, err)
	require.NoError(t, j.Append([]Entry{writeEntry("secret", 1)}))
	require.NoError(t, j.Close())

	raw, _ := os.ReadFile(path)
	assert.NotContains(t, string(raw), "secret")

	entries, err := Read(path, sealer)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, err = Read(path, nil)
	assert.ErrorIs(t, err, apperr.ErrCorrupt)
}
