package embedder

import (
	"fmt"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int
	Timeout   time.Duration
	CacheSize int
	// RateLimit is the maximum number of provider calls per second; 0 disables limiting
	RateLimit float64
}

// New creates an embedder from explicit configuration.
// An empty provider selects the offline local provider.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	opts := []Option{
		WithModel(cfg.Model),
		WithBaseURL(cfg.BaseURL),
		WithTimeout(cfg.Timeout),
		WithDimension(cfg.Dimension),
	}

	var (
		emb Embedder
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		emb, err = NewJinaProvider(cfg.APIKey, cache, opts...)
	case ProviderOpenAI:
		emb, err = NewOpenAIProvider(cfg.APIKey, cache, opts...)
	case ProviderLocal, "":
		emb, err = NewLocalProvider(cache, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewRateLimited(emb, cfg.RateLimit, 1), nil
}

// IsRemote reports whether provider calls leave the process
func IsRemote(provider string) bool {
	switch strings.ToLower(provider) {
	case ProviderJina, ProviderOpenAI:
		return true
	default:
		return false
	}
}
