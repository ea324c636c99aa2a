// Package util generates identifiers and opaque secrets.
package util

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
)

// NewID returns 16 random bytes as hex, prefixed with "prefix_" when prefix
// is set.
func NewID(prefix string) string {
	id := hex.EncodeToString(randomBytes(16))
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewToken returns size random bytes encoded for use in URLs and headers.
func NewToken(size int) string {
	return base64.RawURLEncoding.EncodeToString(randomBytes(size))
}

func randomBytes(size int) []byte {
	buf := make([]byte, size)
	_, _ = rand.Read(buf)
	return buf
}
