package database

import (
	"fmt"

	"github.com/starford/notation/internal/models"
)

// LoadTombstones returns every tombstone with its acknowledgements.
func (db *DB) LoadTombstones() ([]*models.DeletedNote, error) {
	rows, err := db.conn.Query(`SELECT id, filename, deleted_at FROM tombstones ORDER BY deleted_at, id`)
	if err != nil {
		return nil, fmt.Errorf("database: load tombstones: %w", err)
	}
	defer rows.Close()

	var out []*models.DeletedNote
	byID := make(map[string]*models.DeletedNote)
	for rows.Next() {
		d := &models.DeletedNote{AckedBy: make(map[string]struct{})}
		if err := rows.Scan(&d.ID, &d.Filename, &d.DeletedAt); err != nil {
			return nil, fmt.Errorf("database: scan tombstone: %w", err)
		}
		out = append(out, d)
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	acks, err := db.conn.Query(`SELECT tombstone_id, peer FROM tombstone_acks`)
	if err != nil {
		return nil, fmt.Errorf("database: load acks: %w", err)
	}
	defer acks.Close()
	for acks.Next() {
		var id, peer string
		if err := acks.Scan(&id, &peer); err != nil {
			return nil, fmt.Errorf("database: scan ack: %w", err)
		}
		if d, ok := byID[id]; ok {
			d.AckedBy[peer] = struct{}{}
		}
	}
	return out, acks.Err()
}

// SaveTombstones upserts tombstones and replaces their acknowledgement sets.
func (db *DB) SaveTombstones(ts []*models.DeletedNote) error {
	if len(ts) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("database: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, d := range ts {
		_, err := tx.Exec(`
			INSERT INTO tombstones (id, filename, deleted_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET filename = excluded.filename, deleted_at = excluded.deleted_at
		`, d.ID, d.Filename, d.DeletedAt.UTC())
		if err != nil {
			return fmt.Errorf("database: upsert tombstone %s: %w", d.ID, err)
		}
		if _, err := tx.Exec(`DELETE FROM tombstone_acks WHERE tombstone_id = ?`, d.ID); err != nil {
			return fmt.Errorf("database: clear acks: %w", err)
		}
		for _, peer := range d.Peers() {
			if _, err := tx.Exec(`INSERT INTO tombstone_acks (tombstone_id, peer) VALUES (?, ?)`, d.ID, peer); err != nil {
				return fmt.Errorf("database: insert ack: %w", err)
			}
		}
	}
	return tx.Commit()
}

// DeleteTombstones removes tombstones and, by cascade, their acknowledgements.
func (db *DB) DeleteTombstones(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("database: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM tombstones WHERE id = ?`, id); err != nil {
			return fmt.Errorf("database: delete tombstone %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// LoadPeers returns the known sync peers.
func (db *DB) LoadPeers() ([]string, error) {
	rows, err := db.conn.Query(`SELECT name FROM peers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("database: load peers: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePeer records a known peer.
func (db *DB) SavePeer(name string) error {
	if _, err := db.conn.Exec(`INSERT OR IGNORE INTO peers (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("database: save peer: %w", err)
	}
	return nil
}

// DeletePeer forgets a peer.
func (db *DB) DeletePeer(name string) error {
	if _, err := db.conn.Exec(`DELETE FROM peers WHERE name = ?`, name); err != nil {
		return fmt.Errorf("database: delete peer: %w", err)
	}
	return nil
}
