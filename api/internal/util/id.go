package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 32-char hex token for session ids.
func NewID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
