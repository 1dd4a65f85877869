package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID mints an opaque identifier, optionally prefixed ("blk_ab12...").
// Used for reference block ids, which must not collide with any id the
// authoring surface has ever assigned.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
