package types

import "time"

// Status is a point-in-time summary of an index session
type Status struct {
	ProjectRoot    string
	TrackedFiles   int
	LiveOrdinals   int
	Tombstoned     int
	NextOrdinal    Ordinal
	Dirty          bool
	Generation     uint64
	LastFlush      time.Time
	LastFlushError string
	Aborted        bool
	AbortReason    string
	EmbeddingModel string
	EmbeddingDim   int
	PendingEvents  int
}
