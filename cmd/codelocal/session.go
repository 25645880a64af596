package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/codelocal/internal/chunker"
	"github.com/dshills/codelocal/internal/config"
	"github.com/dshills/codelocal/internal/embedder"
	"github.com/dshills/codelocal/internal/indexer"
	"github.com/dshills/codelocal/internal/searcher"
)

// session is one open index over a project root
type session struct {
	cfg      config.Config
	logger   *slog.Logger
	emb      embedder.Embedder
	engine   *indexer.Engine
	searcher *searcher.Searcher
}

// projectRoot resolves the optional root argument, defaulting to the
// working directory
func projectRoot(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project root %s is not a directory", abs)
	}
	return abs, nil
}

func openSession(ctx context.Context, root string) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := cfg.Logger()

	stateDir, err := cfg.ProjectDir(root)
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(cfg.Embedder())
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	policy := cfg.Policy()
	eng, err := indexer.Open(ctx, indexer.Options{
		Root:        root,
		StateDir:    stateDir,
		Embedder:    emb,
		Chunker:     chunker.New(cfg.ChunkMaxChars),
		Policy:      &policy,
		Graph:       cfg.Graph(),
		Compression: cfg.Compression(),
		Workers:     cfg.Workers,
		Logger:      logger,
	})
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("open index: %w", err)
	}

	logger.Debug("index opened",
		"root", root,
		"state_dir", stateDir,
		"provider", emb.Provider(),
		"model", emb.Model())

	return &session{
		cfg:      cfg,
		logger:   logger,
		emb:      emb,
		engine:   eng,
		searcher: searcher.NewSearcher(eng, emb),
	}, nil
}

// close flushes and closes the engine, then the embedder
func (s *session) close(ctx context.Context) error {
	return errors.Join(s.engine.Close(ctx), s.emb.Close())
}
