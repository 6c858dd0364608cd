// Package prefs defines the preferences collaborator: the persisted
// storage-format version, encryption settings and directory locator.
package prefs

import (
	"bytes"
	"sync"
)

// Encryption is the persisted encryption policy. Fingerprint identifies
// the passphrase without storing it.
type Encryption struct {
	Enabled     bool
	Salt        []byte
	Fingerprint string
}

// Equal reports whether two policies seal notes the same way.
func (e Encryption) Equal(o Encryption) bool {
	if e.Enabled != o.Enabled {
		return false
	}
	if !e.Enabled {
		return true
	}
	return e.Fingerprint == o.Fingerprint && bytes.Equal(e.Salt, o.Salt)
}

// Store reads and persists preferences. A zero format means none was
// recorded yet.
type Store interface {
	StorageFormat() (int, error)
	SetStorageFormat(v int) error
	Encryption() (Encryption, error)
	SetEncryption(e Encryption) error
	Locator() ([]byte, error)
	SetLocator(data []byte) error
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	format  int
	enc     Encryption
	locator []byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) StorageFormat() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format, nil
}

func (m *Memory) SetStorageFormat(v int) error {
	m.mu.Lock()
	m.format = v
	m.mu.Unlock()
	return nil
}

func (m *Memory) Encryption() (Encryption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enc, nil
}

func (m *Memory) SetEncryption(e Encryption) error {
	m.mu.Lock()
	m.enc = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Locator() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.locator), nil
}

func (m *Memory) SetLocator(data []byte) error {
	m.mu.Lock()
	m.locator = bytes.Clone(data)
	m.mu.Unlock()
	return nil
}
