package types

import (
	"crypto/sha256"
	"encoding/hex"
)

// Ordinal identifies exactly one (chunk text, embedding) pair for the
// lifetime of an index. Ordinals are never reused.
type Ordinal uint32

// DigestSize is the size of a content digest in bytes
const DigestSize = sha256.Size

// Digest is a SHA-256 content hash
type Digest [DigestSize]byte

// IsZero reports whether the digest is the zero value. A zero digest on a
// FileRecord marks a file whose last indexing was incomplete.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String returns the hex encoding of the digest
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// DigestFromBytes copies b into a Digest. It returns false if b has the wrong length.
func DigestFromBytes(b []byte) (Digest, bool) {
	var d Digest
	if len(b) != DigestSize {
		return d, false
	}
	copy(d[:], b)
	return d, true
}
