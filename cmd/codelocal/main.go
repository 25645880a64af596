// Command codelocal keeps a local semantic index of a project in sync with
// the files on disk and serves it to AI assistants over MCP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/codelocal/internal/storage"
)

// Version information set via ldflags during build.
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codelocal",
		Short: "Local semantic code index",
		Long: `codelocal indexes the text files of a project as embedded chunks and keeps the
index in sync as files change. Configuration is read from CODELOCAL_* environment
variables; state lives under CODELOCAL_DATA_DIR (default ~/.codelocal).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(versionText())

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(indexCmd())
	cmd.AddCommand(searchCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(probeCmd())

	return cmd
}

func versionText() string {
	return fmt.Sprintf("codelocal\n  version:    %s\n  built:      %s\n  build mode: %s\n  sqlite:     %s\n",
		version, buildTime, storage.BuildMode, storage.DriverName)
}
