package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/codelocal/internal/embedder"
	"github.com/dshills/codelocal/pkg/types"
)

const (
	DefaultLimit    = 10
	MaxLimit        = 100
	defaultCacheTTL = time.Hour
	cacheSize       = 1000
	// filtered queries over-fetch so filters still leave enough results
	overfetch     = 4
	maxCandidates = 400
)

// ErrEmptyQuery is returned for a blank query
var ErrEmptyQuery = errors.New("query cannot be empty")

// Index is the live vector index queried by a Searcher
type Index interface {
	Search(ctx context.Context, vector []float32, k int) ([]types.Match, error)
	// Revision changes whenever index content changes
	Revision() uint64
}

// Request contains parameters for a search operation
type Request struct {
	Query string
	Limit int
	// FilePattern is a path.Match glob over the root-relative path. A
	// pattern without a slash is matched against the base name.
	FilePattern string
	MinScore    float64 // 0 disables the score filter
	UseCache    bool
	CacheTTL    time.Duration
}

// Response contains search results and metadata
type Response struct {
	Results      []types.SearchResult
	TotalResults int
	Candidates   int // Matches returned by the index before filtering
	Duration     time.Duration
	CacheHit     bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher embeds queries and filters index matches. Results keep the
// index's similarity order.
type Searcher struct {
	index    Index
	embedder embedder.Embedder
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.Mutex
}

// NewSearcher creates a new Searcher instance
func NewSearcher(index Index, emb embedder.Embedder) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Searcher{
		index:    index,
		embedder: emb,
		cache:    cache,
	}
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}
	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	// the revision is part of the key, so any index change misses the cache
	key := computeQueryHash(req, s.index.Revision())
	if req.UseCache {
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	k := req.Limit
	if req.FilePattern != "" || req.MinScore != 0 {
		k = min(req.Limit*overfetch, maxCandidates)
	}
	matches, err := s.index.Search(ctx, emb.Vector, k)
	if err != nil {
		return nil, err
	}

	kept := make([]types.Match, 0, len(matches))
	for _, m := range matches {
		if !matchesPattern(req.FilePattern, m.Path) || (req.MinScore != 0 && float64(m.Score) < req.MinScore) {
			continue
		}
		kept = append(kept, m)
	}

	results := buildResults(kept, req.Limit)
	response := &Response{
		Results:      results,
		TotalResults: len(results),
		Candidates:   len(matches),
		Duration:     time.Since(startTime),
	}

	if req.UseCache && len(results) > 0 {
		s.storeInCache(key, response, req.CacheTTL)
	}
	return response, nil
}

func buildResults(matches []types.Match, limit int) []types.SearchResult {
	limit = min(limit, len(matches))
	results := make([]types.SearchResult, 0, limit)
	for i, m := range matches[:limit] {
		results = append(results, types.SearchResult{
			Rank:    i + 1,
			Ordinal: m.Ordinal,
			Score:   float64(m.Score),
			Path:    m.Path,
			Content: m.Text,
		})
	}
	return results
}

// matchesPattern reports whether rel matches the file glob. Malformed
// patterns match nothing; validateRequest rejects them up front.
func matchesPattern(pattern, rel string) bool {
	if pattern == "" {
		return true
	}
	target := rel
	if !strings.Contains(pattern, "/") {
		target = path.Base(rel)
	}
	ok, err := path.Match(pattern, target)
	return err == nil && ok
}

// validateRequest ensures search request is valid and fills in defaults
func validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if req.FilePattern != "" {
		if _, err := path.Match(req.FilePattern, ""); err != nil {
			return fmt.Errorf("file pattern %q: %w", req.FilePattern, err)
		}
	}
	if req.MinScore < -1 || req.MinScore > 1 {
		return fmt.Errorf("min score must be within [-1, 1], got %v", req.MinScore)
	}

	if req.CacheTTL <= 0 {
		req.CacheTTL = defaultCacheTTL
	}
	return nil
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(key [32]byte) *Response {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, found := s.cache.Get(key)
	if !found {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil
	}
	return copyResponse(entry.response)
}

// storeInCache saves a copy of response
func (s *Searcher) storeInCache(key [32]byte, response *Response, ttl time.Duration) {
	entry := &cacheEntry{
		response:  copyResponse(response),
		expiresAt: time.Now().Add(ttl),
	}
	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache.Len()
}

func copyResponse(src *Response) *Response {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = append([]types.SearchResult(nil), src.Results...)
	return &dst
}

// computeQueryHash computes a unique hash for a search request against one
// index revision
func computeQueryHash(req Request, revision uint64) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	fmt.Fprintf(&data, "|%d|%d", req.Limit, revision)
	data.WriteString("|filters:")
	data.WriteString(req.FilePattern)
	fmt.Fprintf(&data, "|%.4f", req.MinScore)
	return sha256.Sum256([]byte(data.String()))
}
