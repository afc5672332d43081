// Package main provides the enrichctl operations CLI.
package main

import (
	"fmt"
	"os"

	"github.com/glyphic-ai/enrichment-engine/cmd/enrichctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
