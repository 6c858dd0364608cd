package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/starford/notation/internal/prefs"
)

const (
	keyFormat     = "storage_format"
	keyEncryption = "encryption"
	keyLocator    = "locator"
)

var _ prefs.Store = (*DB)(nil)

func (db *DB) getPref(key string) ([]byte, error) {
	var v []byte
	err := db.conn.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database: read pref %s: %w", key, err)
	}
	return v, nil
}

func (db *DB) setPref(key string, value []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO prefs (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("database: write pref %s: %w", key, err)
	}
	return nil
}

// StorageFormat returns the persisted note format, 0 when unset.
func (db *DB) StorageFormat() (int, error) {
	v, err := db.getPref(keyFormat)
	if err != nil || v == nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, fmt.Errorf("database: parse storage format: %w", err)
	}
	return n, nil
}

func (db *DB) SetStorageFormat(v int) error {
	return db.setPref(keyFormat, []byte(strconv.Itoa(v)))
}

type encryptionPref struct {
	Enabled     bool   `json:"enabled"`
	Salt        []byte `json:"salt,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

func (db *DB) Encryption() (prefs.Encryption, error) {
	v, err := db.getPref(keyEncryption)
	if err != nil || v == nil {
		return prefs.Encryption{}, err
	}
	var p encryptionPref
	if err := json.Unmarshal(v, &p); err != nil {
		return prefs.Encryption{}, fmt.Errorf("database: decode encryption: %w", err)
	}
	return prefs.Encryption{Enabled: p.Enabled, Salt: p.Salt, Fingerprint: p.Fingerprint}, nil
}

func (db *DB) SetEncryption(e prefs.Encryption) error {
	v, err := json.Marshal(encryptionPref{Enabled: e.Enabled, Salt: e.Salt, Fingerprint: e.Fingerprint})
	if err != nil {
		return err
	}
	return db.setPref(keyEncryption, v)
}

func (db *DB) Locator() ([]byte, error) { return db.getPref(keyLocator) }

func (db *DB) SetLocator(data []byte) error { return db.setPref(keyLocator, data) }
