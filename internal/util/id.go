package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier of the form "<prefix>_<hex>".
// An empty prefix yields the bare hex string.
func NewID(prefix string) string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	id := hex.EncodeToString(buf[:])
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
