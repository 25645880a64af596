// Package config loads codelocal settings from CODELOCAL_* environment
// variables and builds the process logger.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/dshills/codelocal/internal/embedder"
	"github.com/dshills/codelocal/internal/graph"
	"github.com/dshills/codelocal/internal/indexer"
)

// Prefix is the environment variable prefix
const Prefix = "CODELOCAL"

// ErrInvalid is returned by Validate
var ErrInvalid = errors.New("invalid configuration")

// Config holds every setting. Field names map to CODELOCAL_<envconfig tag>.
type Config struct {
	// DataDir holds one state directory per project.
	// Env: DATA_DIR (default: ~/.codelocal)
	DataDir string `envconfig:"DATA_DIR"`

	// Env: LOG_LEVEL (default: info)
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// LogFormat is text or json.
	// Env: LOG_FORMAT (default: text)
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// EmbeddingProvider is local, openai or jina.
	// Env: EMBEDDING_PROVIDER (default: local)
	EmbeddingProvider string        `envconfig:"EMBEDDING_PROVIDER" default:"local"`
	EmbeddingAPIKey   string        `envconfig:"EMBEDDING_API_KEY"`
	EmbeddingModel    string        `envconfig:"EMBEDDING_MODEL"`
	EmbeddingBaseURL  string        `envconfig:"EMBEDDING_BASE_URL"`
	EmbeddingTimeout  time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`
	// EmbeddingRateLimit is provider requests per second, 0 for unlimited.
	// Env: EMBEDDING_RATE_LIMIT (default: 0)
	EmbeddingRateLimit float64 `envconfig:"EMBEDDING_RATE_LIMIT" default:"0"`
	EmbeddingCacheSize int     `envconfig:"EMBEDDING_CACHE_SIZE" default:"10000"`

	ChunkMaxChars int           `envconfig:"CHUNK_MAX_CHARS" default:"8192"`
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"1m"`
	// Workers bounds files indexed in parallel; 0 selects the CPU count.
	// Env: WORKERS (default: 0)
	Workers int `envconfig:"WORKERS" default:"0"`

	GraphM              int    `envconfig:"GRAPH_M" default:"16"`
	GraphEFConstruction int    `envconfig:"GRAPH_EF_CONSTRUCTION" default:"100"`
	GraphEFSearch       int    `envconfig:"GRAPH_EF_SEARCH" default:"64"`
	SnapshotCompression string `envconfig:"SNAPSHOT_COMPRESSION" default:"zstd"`

	// Extensions lists indexable extensions; empty selects the built-in set.
	// Env: EXTENSIONS (comma separated)
	Extensions    []string      `envconfig:"EXTENSIONS"`
	WatchDebounce time.Duration `envconfig:"WATCH_DEBOUNCE" default:"250ms"`
}

// Load reads the configuration from the environment and validates it
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".codelocal")
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects out-of-range sizes and unknown names
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("CHUNK_MAX_CHARS", c.ChunkMaxChars)
	positive("GRAPH_M", c.GraphM)
	positive("GRAPH_EF_CONSTRUCTION", c.GraphEFConstruction)
	positive("GRAPH_EF_SEARCH", c.GraphEFSearch)
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("WORKERS must not be negative, got %d", c.Workers))
	}
	if c.EmbeddingCacheSize < 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_CACHE_SIZE must not be negative, got %d", c.EmbeddingCacheSize))
	}
	if c.EmbeddingRateLimit < 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_RATE_LIMIT must not be negative, got %v", c.EmbeddingRateLimit))
	}
	if c.EmbeddingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_TIMEOUT must be positive, got %v", c.EmbeddingTimeout))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("FLUSH_INTERVAL must be positive, got %v", c.FlushInterval))
	}
	if c.WatchDebounce < 0 {
		errs = append(errs, fmt.Errorf("WATCH_DEBOUNCE must not be negative, got %v", c.WatchDebounce))
	}

	switch strings.ToLower(c.EmbeddingProvider) {
	case embedder.ProviderLocal, embedder.ProviderOpenAI, embedder.ProviderJina:
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider))
	}
	if embedder.IsRemote(c.EmbeddingProvider) && c.EmbeddingAPIKey == "" {
		errs = append(errs, fmt.Errorf("EMBEDDING_API_KEY is required for provider %s", c.EmbeddingProvider))
	}
	if _, err := graph.ParseCompression(c.SnapshotCompression); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Embedder returns the embedder settings
func (c Config) Embedder() embedder.Config {
	return embedder.Config{
		Provider:  c.EmbeddingProvider,
		APIKey:    c.EmbeddingAPIKey,
		Model:     c.EmbeddingModel,
		BaseURL:   c.EmbeddingBaseURL,
		Timeout:   c.EmbeddingTimeout,
		CacheSize: c.EmbeddingCacheSize,
		RateLimit: c.EmbeddingRateLimit,
	}
}

// Graph returns the proximity graph settings
func (c Config) Graph() graph.Options {
	opts := graph.DefaultOptions()
	opts.M = c.GraphM
	opts.EFConstruction = c.GraphEFConstruction
	opts.EFSearch = c.GraphEFSearch
	return opts
}

// Compression returns the snapshot compression; Validate has checked it
func (c Config) Compression() graph.Compression {
	comp, err := graph.ParseCompression(c.SnapshotCompression)
	if err != nil {
		return graph.CompressionZstd
	}
	return comp
}

// Policy returns the indexable-path policy
func (c Config) Policy() indexer.Policy {
	return indexer.NewPolicy(c.Extensions)
}

// ProjectDir returns the state directory of the project rooted at root:
// DataDir/<base name>-<first 8 hex digits of sha256(absolute root)>
func (c Config) ProjectDir(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	sum := sha256.Sum256([]byte(abs))
	base := filepath.Base(abs)
	if base == string(filepath.Separator) || base == "." {
		base = "root"
	}
	return filepath.Join(c.DataDir, base+"-"+hex.EncodeToString(sum[:4])), nil
}

// ParseLevel maps debug, info, warn or error to a slog level
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown LOG_LEVEL %q", s)
	}
	return lvl, nil
}

// NewLogger builds a logger writing to w. Unknown levels fall back to info.
// Stdout must not be used while serving MCP over stdio.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Logger builds the process logger on stderr
func (c Config) Logger() *slog.Logger {
	return NewLogger(os.Stderr, c.LogLevel, c.LogFormat)
}
