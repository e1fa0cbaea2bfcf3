package sqlblob

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// ID uniquely identifies a chunk.  It is the blake2b hash of the chunk's
// content, so identical chunks written under different keys collapse to one
// stored chunk.
type ID []byte

// Hash produces an ID by hashing data.
func Hash(data []byte) ID {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// IDFromHex parses a hex string into an ID.
func IDFromHex(h string) (ID, error) {
	return hex.DecodeString(h)
}

// HexString hex encodes the ID.  Chunk IDs are stored in the database in
// this form.
func (id ID) HexString() string {
	return hex.EncodeToString(id)
}

// KeyRef is one blob key and the ordered list of chunks its content is
// assembled from.
type KeyRef struct {
	Key    string
	Chunks []ID
}
