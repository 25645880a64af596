package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DefaultCacheSize is the number of embeddings kept by NewCache(0)
const DefaultCacheSize = 10000

// Embedding is one vector produced for a chunk or a query
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // ComputeHash of the embedded text
}

// EmbeddingRequest asks for the vector of a single text.
// An empty Model selects the provider default.
type EmbeddingRequest struct {
	Text  string
	Model string
}

// BatchEmbeddingRequest asks for one vector per text, in order
type BatchEmbeddingRequest struct {
	Texts []string
	Model string
}

// BatchEmbeddingResponse holds vectors aligned with the request texts
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder turns text into fixed-dimension vectors. The indexer embeds chunk
// text through it and the searcher embeds queries; both must use the same
// provider and model or distances are meaningless.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch returns len(req.Texts) embeddings or an error
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension is the length of every vector this embedder returns
	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// Cache is an LRU of embeddings keyed by text hash. Unchanged chunks keep
// their text across reindexing, so a warm cache saves provider calls.
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache returns a cache holding up to maxLen embeddings, or
// DefaultCacheSize when maxLen is not positive
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](DefaultCacheSize)
	}
	return &Cache{cache: cache}
}

// Get retrieves a copy of an embedding from cache.
// Callers may mutate the returned vector freely.
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	return cloneEmbedding(emb), true
}

// Set stores a copy of an embedding in cache
func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, cloneEmbedding(emb))
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

func cloneEmbedding(emb *Embedding) *Embedding {
	vec := make([]float32, len(emb.Vector))
	copy(vec, emb.Vector)
	return &Embedding{
		Vector:    vec,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}
}

// ComputeHash is the cache key for text: its hex SHA-256 digest
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateRequest rejects empty text
func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest rejects an empty batch or any empty text in it
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	for i, text := range req.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}

// CheckDimension verifies that emb has the dimension the caller expects
func CheckDimension(emb *Embedding, want int) error {
	if emb == nil {
		return fmt.Errorf("%w: nil embedding", ErrProviderFailed)
	}
	if len(emb.Vector) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb.Vector), want)
	}
	return nil
}

// batchFunc embeds a list of texts that are known to be absent from the cache
type batchFunc func(ctx context.Context, texts []string, model string) ([]*Embedding, error)

// cachedBatch serves what it can from cache and sends the rest through fn,
// keeping the output aligned with texts
func cachedBatch(ctx context.Context, cache *Cache, texts []string, model string, fn batchFunc) ([]*Embedding, error) {
	out := make([]*Embedding, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if cache != nil {
			if emb, ok := cache.Get(ComputeHash(text)); ok {
				out[i] = emb
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := fn(ctx, missing, model)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missing) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrProviderFailed, len(fresh), len(missing))
	}

	for j, emb := range fresh {
		emb.Hash = ComputeHash(missing[j])
		if cache != nil {
			cache.Set(emb.Hash, emb)
		}
		out[missingIdx[j]] = emb
	}
	return out, nil
}
