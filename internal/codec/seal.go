package codec

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/starford/notation/internal/checksum"
)

// sealMagic prefixes every sealed payload; the salt and nonce follow.
var sealMagic = []byte("NOTATION-SEALED\x01")

const saltSize = 16

// scrypt cost parameters.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var (
	// ErrBadKey is returned when a sealed payload does not authenticate.
	ErrBadKey = errors.New("codec: wrong passphrase or corrupt payload")
	errShort  = errors.New("codec: sealed payload truncated")
)

// Sealer encrypts note files and journal records with XChaCha20-Poly1305
// under a passphrase-derived key.
type Sealer struct {
	passphrase []byte
	salt       []byte
	key        []byte

	mu   sync.Mutex
	keys map[string][]byte // derived keys by salt
}

// NewSealer derives the key for passphrase. A nil salt generates a fresh
// one; persist Salt() to derive the same key next time.
func NewSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("codec: empty passphrase")
	}
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("codec: generate salt: %w", err)
		}
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("codec: salt must be %d bytes", saltSize)
	}
	s := &Sealer{
		passphrase: []byte(passphrase),
		salt:       bytes.Clone(salt),
		keys:       make(map[string][]byte),
	}
	key, err := s.keyFor(s.salt)
	if err != nil {
		return nil, err
	}
	s.key = key
	return s, nil
}

// Salt returns the salt of the primary key.
func (s *Sealer) Salt() []byte { return bytes.Clone(s.salt) }

// Fingerprint identifies the passphrase and salt pair without revealing
// the key.
func (s *Sealer) Fingerprint() string {
	return checksum.Sum(append([]byte("fingerprint:"), s.key...))[:16]
}

// IsSealed reports whether data was produced by Seal.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealMagic)
}

// Seal encrypts plain under the primary key.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("codec: cipher: %w", err)
	}
	out := make([]byte, 0, len(sealMagic)+saltSize+aead.NonceSize()+len(plain)+aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, s.salt...)
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("codec: nonce: %w", err)
	}
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, sealMagic), nil
}

// Open decrypts a payload produced by Seal with the same passphrase. The
// payload's own salt is used, so files sealed under an older salt still
// open.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, errors.New("codec: payload is not sealed")
	}
	rest := sealed[len(sealMagic):]
	if len(rest) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, errShort
	}
	salt, rest := rest[:saltSize], rest[saltSize:]
	nonce, ct := rest[:chacha20poly1305.NonceSizeX], rest[chacha20poly1305.NonceSizeX:]

	key, err := s.keyFor(salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("codec: cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ct, sealMagic)
	if err != nil {
		return nil, ErrBadKey
	}
	return plain, nil
}

func (s *Sealer) keyFor(salt []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[string(salt)]; ok {
		return k, nil
	}
	k, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("codec: derive key: %w", err)
	}
	s.keys[string(salt)] = k
	return k, nil
}
