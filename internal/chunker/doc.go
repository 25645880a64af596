// Package chunker splits file content into bounded fragments for embedding.
//
// Output is deterministic: the same path and bytes always produce the same
// ordered list of chunks, so a file whose content hash is unchanged never
// needs to be chunked again.
//
// # Basic Usage
//
//	c := chunker.New(chunker.DefaultMaxChars)
//	for _, text := range c.Chunk("service.go", content) {
//	    // embed text
//	}
//
// # Chunking Strategy
//
// Go files are parsed with internal/parser and cut at declaration boundaries:
//   - Functions: complete function with signature
//   - Methods: complete method including receiver
//   - Types: full type declaration (struct, interface, alias)
//   - Const and var specs
//
// Files that are not Go, or Go files with no recoverable declarations, are
// cut at runs of blank lines.
//
// Every fragment is then bounded by MaxChars. Longer fragments are split on
// line boundaries; a single line longer than the bound is cut at the bound.
// Whitespace-only fragments are dropped and a text that repeats within one
// file is emitted only at its first position.
package chunker
