// Package database is the SQLite catalog: note metadata and content
// mirrored from the note directory, tombstones with their peer
// acknowledgements, and preferences.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id            TEXT PRIMARY KEY,
	node_id       INTEGER NOT NULL DEFAULT 0,
	filename      TEXT NOT NULL UNIQUE,
	title         TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	labels        TEXT NOT NULL DEFAULT '[]',
	created_at    DATETIME NOT NULL,
	modified_at   DATETIME NOT NULL,
	disk_mod_time DATETIME NOT NULL,
	size          INTEGER NOT NULL DEFAULT 0,
	format        INTEGER NOT NULL DEFAULT 0,
	version       INTEGER NOT NULL DEFAULT 0,
	seq           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tombstones (
	id         TEXT PRIMARY KEY,
	filename   TEXT NOT NULL,
	deleted_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tombstone_acks (
	tombstone_id TEXT NOT NULL REFERENCES tombstones(id) ON DELETE CASCADE,
	peer         TEXT NOT NULL,
	UNIQUE(tombstone_id, peer)
);

CREATE TABLE IF NOT EXISTS peers (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS prefs (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_acks_peer ON tombstone_acks(peer);
`

// DB wraps a sql.DB with catalog operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("database: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
