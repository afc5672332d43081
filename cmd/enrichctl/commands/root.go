// Package commands implements the enrichctl subcommands.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	serverURL string
	timeout   int
)

var rootCmd = &cobra.Command{
	Use:   "enrichctl",
	Short: "Operations CLI for the enrichment engine",
	Long: `enrichctl drives a running enrichment engine API: kick off ingestion of a
JSON source, check batch status, and run semantic search and refinement
against the enriched corpus.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8086", "enrichment engine API base URL")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 120, "request timeout in seconds")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
