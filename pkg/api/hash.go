package api

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Hash returns a deterministic BLAKE3-derived 64-bit hash of the topic.
// It hashes the canonical binary encoding, so two URIs hash equally exactly
// when they compare equal.
func (u URI) Hash() uint64 {
	h := blake3.New()
	// Domain separation keeps topic hashes apart from other hashed values.
	_, _ = h.Write([]byte("upbridge/uri\x00"))
	_, _ = h.Write(u.appendTo(nil))
	return binary.LittleEndian.Uint64(h.Sum(nil)[:8])
}
