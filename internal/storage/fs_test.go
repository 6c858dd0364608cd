package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func tempDir(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempDir(t)
	content := []byte("# Hello\nWorld\n")
	entry, err := s.Write("note.md", content)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if entry.Size != int64(len(content)) || entry.Filename != "note.md" {
		t.Errorf("entry = %+v", entry)
	}
	got, err := s.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestOverwriteReturnsFreshSnapshot(t *testing.T) {
	s := tempDir(t)
	if _, err := s.Write("a.md", []byte("one")); err != nil {
		t.Fatal(err)
	}
	entry, err := s.Write("a.md", []byte("three"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	st, err := s.Stat("a.md")
	if err != nil {
		t.Fatal(err)
	}
	if st.NodeID != entry.NodeID || st.Size != 5 || !st.ModTime.Equal(entry.ModTime) {
		t.Errorf("returned %+v, stat %+v", entry, st)
	}
}

func TestDelete(t *testing.T) {
	s := tempDir(t)
	_, _ = s.Write("del.md", []byte("bye"))
	if err := s.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.md"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestMoveKeepsNodeID(t *testing.T) {
	s := tempDir(t)
	before, _ := s.Write("old.md", []byte("data"))
	after, err := s.Move("old.md", "new.md")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if after.NodeID != before.NodeID {
		t.Errorf("node id changed across rename: %d -> %d", before.NodeID, after.NodeID)
	}
	if _, err := s.Read("old.md"); err == nil {
		t.Error("old name should not exist")
	}
}

func TestMoveRefusesExistingTarget(t *testing.T) {
	s := tempDir(t)
	_, _ = s.Write("a.md", []byte("a"))
	_, _ = s.Write("b.md", []byte("b"))
	if _, err := s.Move("a.md", "b.md"); !errors.Is(err, os.ErrExist) {
		t.Errorf("err = %v, want ErrExist", err)
	}
}

func TestCursorChunks(t *testing.T) {
	s := tempDir(t)
	for _, name := range []string{"a.md", "b.md", "c.txt", "d.md", "e.md"} {
		if _, err := s.Write(name, []byte(name)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(s.Root(), "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	cur, err := s.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cur.Close()

	total := 0
	for {
		chunk, err := cur.Next(2)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if len(chunk) > 2 {
			t.Fatalf("chunk of %d entries exceeds limit", len(chunk))
		}
		total += len(chunk)
	}
	if total != 5 {
		t.Errorf("listed %d files, want 5", total)
	}
}

func TestSeparatorsRejected(t *testing.T) {
	s := tempDir(t)
	cases := []string{"../../etc/passwd", "../outside.md", "/etc/shadow", "sub/a.md", ""}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for read of %q", p)
		}
		if _, err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoScratchFiles(t *testing.T) {
	s := tempDir(t)
	_, _ = s.Write("atomic.md", []byte("original content"))
	if _, err := s.Write("atomic.md", []byte("updated content")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != "updated content" {
		t.Errorf("expected updated content, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, tempPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp(t.TempDir(), "notation-test-*")
	_ = f.Close()
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
