// Package fingerprint computes content digests used as cache key components.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"io"
)

// Hash reads r to EOF and returns the hex SHA-256 digest of its bytes.
func Hash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("fingerprint: read: %w", err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// HashBytes returns the hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// HashString returns the hex SHA-256 digest of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}
