// Package embedder generates vector embeddings for chunk text.
//
// Providers implement the Embedder interface: Jina AI over HTTP, OpenAI through
// github.com/sashabaranov/go-openai, and an offline local provider that
// feature-hashes identifier tokens into a fixed dimension.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider:  "openai",
//	    APIKey:    key,
//	    CacheSize: 10000,
//	    RateLimit: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "func ParseFile(path string) error { ... }",
//	})
//
// # Provider Comparison
//
// OpenAI (text-embedding-3-small):
//   - Dimensions: 1536
//
// Jina AI (jina-embeddings-v3):
//   - Dimensions: 1024
//
// Local (feature hashing):
//   - Dimensions: 384 by default, configurable with WithDimension
//   - Deterministic and offline; similarity reflects shared vocabulary only
//
// # Caching
//
// Providers given a Cache look texts up by SHA-256 before calling out.
// Batches send only the cache misses to the remote API.
//
// # Error Handling
//
// Remote calls are retried with exponential backoff (see RetryConfig).
// When retries are exhausted the error wraps ErrProviderFailed:
//
//	_, err := emb.GenerateBatch(ctx, req)
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // skip these chunks for this cycle
//	}
//
// RateLimited wraps any Embedder with a golang.org/x/time/rate token bucket;
// a call that cannot get a token before ctx expires fails without reaching
// the provider.
package embedder
