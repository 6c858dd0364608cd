// Package checksum computes content digests used for change detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumString is Sum for string content.
func SumString(s string) string {
	return Sum([]byte(s))
}

// Short returns the first 12 hex characters of the digest, enough to tag
// log lines and HTTP validators.
func Short(data []byte) string {
	return Sum(data)[:12]
}
