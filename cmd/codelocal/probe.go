package main

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codelocal/internal/config"
	"github.com/dshills/codelocal/internal/embedder"
)

const probeText = `// Add adds two numbers
func Add(a, b int) int {
	return a + b
}`

func probeCmd() *cobra.Command {
	var text string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Embed a sample text with the configured provider",
		Long: `Embed a sample text with the provider selected by CODELOCAL_EMBEDDING_PROVIDER
and report the model, dimension and latency. Use it to check credentials and
connectivity before indexing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			emb, err := embedder.New(cfg.Embedder())
			if err != nil {
				return fmt.Errorf("create embedder: %w", err)
			}
			defer func() { err = errors.Join(err, emb.Close()) }()

			start := time.Now()
			res, err := emb.GenerateEmbedding(cmd.Context(), embedder.EmbeddingRequest{Text: text})
			if err != nil {
				return fmt.Errorf("probe %s: %w", emb.Provider(), err)
			}
			latency := time.Since(start)

			var norm float64
			for _, v := range res.Vector {
				norm += float64(v) * float64(v)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Provider:  %s\n", emb.Provider())
			fmt.Fprintf(w, "Model:     %s\n", res.Model)
			fmt.Fprintf(w, "Dimension: %d\n", len(res.Vector))
			fmt.Fprintf(w, "Norm:      %.4f\n", math.Sqrt(norm))
			fmt.Fprintf(w, "Latency:   %v\n", latency.Round(time.Microsecond))
			if len(res.Vector) != emb.Dimension() {
				return fmt.Errorf("%w: provider reports %d, got %d",
					embedder.ErrDimensionMismatch, emb.Dimension(), len(res.Vector))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", probeText, "Text to embed")

	return cmd
}
