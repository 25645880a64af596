package types

import "slices"

// FileRecord links a tracked file path to the ordinals computed from its last
// indexed content and the digest of that content.
type FileRecord struct {
	Path     string
	Ordinals []Ordinal
	Hash     Digest
}

// Complete reports whether every chunk of the recorded content was indexed
func (r FileRecord) Complete() bool {
	return !r.Hash.IsZero()
}

// Clone returns a deep copy of the record
func (r FileRecord) Clone() FileRecord {
	r.Ordinals = slices.Clone(r.Ordinals)
	return r
}

// Owns reports whether o is one of the record's ordinals
func (r FileRecord) Owns(o Ordinal) bool {
	return slices.Contains(r.Ordinals, o)
}
