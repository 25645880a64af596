package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codelocal/internal/indexer"
	"github.com/dshills/codelocal/internal/mcp"
	"github.com/dshills/codelocal/internal/persistence"
	"github.com/dshills/codelocal/internal/storage"
	"github.com/dshills/codelocal/internal/watcher"
)

// shutdownTimeout bounds the final flush on exit
const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var (
		noWatch bool
		noScan  bool
	)

	cmd := &cobra.Command{
		Use:   "serve [project-root]",
		Short: "Start the MCP server on stdio",
		Long: `Start the MCP (Model Context Protocol) server on stdio for one project.

The index is restored from the state directory, brought up to date by a
background scan and kept in sync by a file watcher. Dirty state is flushed
every CODELOCAL_FLUSH_INTERVAL and on shutdown. Logs go to stderr.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot(args)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), root, !noWatch, !noScan)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch the project for changes")
	cmd.Flags().BoolVar(&noScan, "no-scan", false, "Skip the startup scan")

	return cmd
}

func runServe(ctx context.Context, root string, watch, scan bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, root)
	if err != nil {
		return err
	}
	logger := s.logger
	logger.Info("codelocal starting", "version", version, "root", root, "build_mode", storage.BuildMode)

	sched := persistence.NewScheduler(s.engine, s.cfg.FlushInterval, logger)
	srv, err := mcp.NewServer(mcp.Options{
		Engine:    s.engine,
		Searcher:  s.searcher,
		Scheduler: sched,
		Version:   version,
		Logger:    logger,
	})
	if err != nil {
		_ = s.close(context.Background())
		return err
	}

	// the session ends when stdin closes, on a signal or when any part fails
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return s.engine.Run(gctx) })
	if err := sched.Start(gctx); err != nil {
		logger.Error("periodic flush not started", "error", err)
	}

	if watch {
		w, err := watcher.New(root, s.engine.Policy(), s.engine, watcher.Options{
			Debounce: s.cfg.WatchDebounce,
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("file watcher unavailable, changes are picked up by index_project only", "error", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	if scan {
		task := s.engine.StartScan(gctx)
		g.Go(func() error {
			stats, err := task.Wait()
			switch {
			case errors.Is(err, indexer.ErrSessionAborted):
				return err
			case err != nil:
				logger.Warn("startup scan incomplete", "error", err)
			default:
				logger.Info("startup scan done", "indexed", stats.FilesIndexed, "unchanged", stats.FilesUnchanged)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		return srv.Serve(gctx, os.Stdin, os.Stdout)
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	closeErr := errors.Join(sched.Close(closeCtx), s.close(closeCtx))
	if closeErr != nil {
		logger.Error("shutdown incomplete", "error", closeErr)
	}
	logger.Info("codelocal stopped")
	return errors.Join(runErr, closeErr)
}
