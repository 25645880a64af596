package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codelocal/internal/indexer"
	"github.com/dshills/codelocal/pkg/types"
)

func indexCmd() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "index [project-root]",
		Short: "Scan the project once and persist the index",
		Long: `Scan the project, re-embed new and changed files, drop records of deleted
files and flush the index to the state directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot(args)
			if err != nil {
				return err
			}
			return runIndex(cmd.Context(), cmd.OutOrStdout(), root, paths)
		},
	}

	cmd.Flags().StringSliceVar(&paths, "path", nil, "Limit the scan to these directories (repeatable)")

	return cmd
}

func runIndex(ctx context.Context, out io.Writer, root string, paths []string) (err error) {
	s, err := openSession(ctx, root)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.close(context.Background())) }()

	stats, scanErr := s.engine.Scan(ctx, paths...)
	if stats != nil {
		printStatistics(out, stats)
	}
	return scanErr
}

func printStatistics(w io.Writer, stats *indexer.Statistics) {
	fmt.Fprintf(w, "Indexing Statistics:\n")
	fmt.Fprintf(w, "  Files Visited:   %d\n", stats.FilesVisited)
	fmt.Fprintf(w, "  Files Indexed:   %d\n", stats.FilesIndexed)
	fmt.Fprintf(w, "  Files Unchanged: %d\n", stats.FilesUnchanged)
	fmt.Fprintf(w, "  Files Failed:    %d\n", stats.FilesFailed)
	fmt.Fprintf(w, "  Files Removed:   %d\n", stats.FilesRemoved)
	fmt.Fprintf(w, "  Chunks Embedded: %d\n", stats.ChunksEmbedded)
	fmt.Fprintf(w, "  Chunks Failed:   %d\n", stats.ChunksFailed)
	fmt.Fprintf(w, "  Duration:        %v\n", stats.Duration.Round(time.Millisecond))
	if stats.FlushError != "" {
		fmt.Fprintf(w, "  Flush Error:     %s\n", stats.FlushError)
	}

	if len(stats.ErrorMessages) > 0 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, msg := range stats.ErrorMessages {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [project-root]",
		Short: "Print the persisted index state as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			root, err := projectRoot(args)
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.close(context.Background())) }()

			out := struct {
				Status  types.Status          `json:"status"`
				Restore indexer.RestoreReport `json:"restore"`
			}{s.engine.Status(), s.engine.LastRestore()}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
