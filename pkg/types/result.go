package types

// Match is a live ordinal returned by a similarity query
type Match struct {
	Ordinal Ordinal
	Score   float32 // Similarity, higher is better
	Path    string  // Owning file, relative to the project root
	Text    string  // Stored chunk text
}

// SearchResult represents a single ranked search result
type SearchResult struct {
	Rank    int // Position in result set (1-based)
	Ordinal Ordinal
	Score   float64
	Path    string
	Content string
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Path == "" {
		return ErrMissingFileInfo
	}

	if sr.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
