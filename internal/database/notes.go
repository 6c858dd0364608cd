package database

import (
	"encoding/json"
	"fmt"

	"github.com/starford/notation/internal/models"
)

// Catalog is the persistence surface the notation core depends on.
type Catalog interface {
	LoadNotes() ([]*models.Note, error)
	SaveNotes(notes []*models.Note) error
	DeleteNotes(ids []string) error
	LoadTombstones() ([]*models.DeletedNote, error)
	SaveTombstones(ts []*models.DeletedNote) error
	DeleteTombstones(ids []string) error
	LoadPeers() ([]string, error)
	SavePeer(name string) error
	DeletePeer(name string) error
}

var _ Catalog = (*DB)(nil)

// LoadNotes returns every note in the order it was first saved.
func (db *DB) LoadNotes() ([]*models.Note, error) {
	rows, err := db.conn.Query(`
		SELECT id, node_id, filename, title, body, labels, created_at, modified_at,
		       disk_mod_time, size, format, version
		FROM notes ORDER BY seq, rowid`)
	if err != nil {
		return nil, fmt.Errorf("database: load notes: %w", err)
	}
	defer rows.Close()

	var out []*models.Note
	for rows.Next() {
		var (
			n       models.Note
			nodeID  int64
			labels  string
			version int64
		)
		if err := rows.Scan(&n.ID, &nodeID, &n.Filename, &n.Title, &n.Body, &labels,
			&n.CreatedAt, &n.ModifiedAt, &n.DiskModTime, &n.Size, &n.Format, &version); err != nil {
			return nil, fmt.Errorf("database: scan note: %w", err)
		}
		n.NodeID = uint64(nodeID)
		n.Version = uint64(version)
		if err := json.Unmarshal([]byte(labels), &n.Labels); err != nil {
			return nil, fmt.Errorf("database: decode labels of %s: %w", n.ID, err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// SaveNotes upserts notes in one transaction. A note that takes over the
// filename of a stale row replaces it.
func (db *DB) SaveNotes(notes []*models.Note) error {
	if len(notes) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("database: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM notes`).Scan(&seq); err != nil {
		return fmt.Errorf("database: next seq: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO notes (id, node_id, filename, title, body, labels, created_at, modified_at,
		                   disk_mod_time, size, format, version, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			node_id       = excluded.node_id,
			filename      = excluded.filename,
			title         = excluded.title,
			body          = excluded.body,
			labels        = excluded.labels,
			created_at    = excluded.created_at,
			modified_at   = excluded.modified_at,
			disk_mod_time = excluded.disk_mod_time,
			size          = excluded.size,
			format        = excluded.format,
			version       = excluded.version
	`)
	if err != nil {
		return fmt.Errorf("database: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, n := range notes {
		labels, _ := json.Marshal(nonNil(n.Labels))
		if _, err := tx.Exec(`DELETE FROM notes WHERE filename = ? AND id <> ?`, n.Filename, n.ID); err != nil {
			return fmt.Errorf("database: clear filename: %w", err)
		}
		seq++
		if _, err := stmt.Exec(n.ID, int64(n.NodeID), n.Filename, n.Title, n.Body, string(labels),
			n.CreatedAt.UTC(), n.ModifiedAt.UTC(), n.DiskModTime.UTC(), n.Size, n.Format,
			int64(n.Version), seq); err != nil {
			return fmt.Errorf("database: upsert note %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteNotes removes notes by id. Unknown ids are ignored.
func (db *DB) DeleteNotes(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("database: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM notes WHERE id = ?`, id); err != nil {
			return fmt.Errorf("database: delete note %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// CountNotes returns the number of catalogued notes.
func (db *DB) CountNotes() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("database: count notes: %w", err)
	}
	return n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
