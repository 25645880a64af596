package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codelocal/internal/searcher"
)

func searchCmd() *cobra.Command {
	var (
		root     string
		limit    int
		pattern  string
		minScore float64
		full     bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the persisted index",
		Long: `Search the index of a project without starting the server. The index is used
as last persisted; run index first to bring it up to date.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			abs, err := projectRoot([]string{root})
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), abs)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, s.close(context.Background())) }()

			resp, err := s.searcher.Search(cmd.Context(), searcher.Request{
				Query:       strings.Join(args, " "),
				Limit:       limit,
				FilePattern: pattern,
				MinScore:    minScore,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(resp.Results) == 0 {
				fmt.Fprintln(w, "no results")
				return nil
			}
			for _, r := range resp.Results {
				fmt.Fprintf(w, "%2d. %s  (score %.4f, ordinal %d)\n", r.Rank, r.Path, r.Score, r.Ordinal)
				fmt.Fprintln(w, indent(preview(r.Content, full)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&root, "root", "r", ".", "Project root")
	cmd.Flags().IntVarP(&limit, "limit", "n", searcher.DefaultLimit, "Maximum number of results")
	cmd.Flags().StringVar(&pattern, "pattern", "", "Glob over the project-relative path")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Drop results below this similarity")
	cmd.Flags().BoolVar(&full, "full", false, "Print whole chunks instead of the first lines")

	return cmd
}

// previewLines is the number of chunk lines printed without --full
const previewLines = 6

func preview(text string, full bool) string {
	text = strings.TrimRight(text, "\n")
	if full {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= previewLines {
		return text
	}
	return strings.Join(lines[:previewLines], "\n") + "\n..."
}

func indent(text string) string {
	return "      " + strings.ReplaceAll(text, "\n", "\n      ")
}
