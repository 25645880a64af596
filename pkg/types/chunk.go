package types

// ChunkType represents the kind of source fragment a chunk was cut from
type ChunkType string

const (
	ChunkFunction ChunkType = "function"
	ChunkMethod   ChunkType = "method"
	ChunkTypeDecl ChunkType = "type"
	ChunkBlock    ChunkType = "block"
)

// Chunk is a bounded fragment of a file's text plus its embedding vector.
// It is immutable once an ordinal has been assigned.
type Chunk struct {
	Ordinal   Ordinal
	Text      string
	Embedding []float32
}

// Fragment is a chunk of text produced by the chunker, before embedding
type Fragment struct {
	Text      string
	Type      ChunkType
	StartLine int
	EndLine   int
}
