package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/servicechunks/internal/cli"
	"github.com/cloo-solutions/servicechunks/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "chunkctl",
		Short: "Service chunk CLI",
		Long: `chunkctl talks to a running chunksd to generate chunks, run QA and read reports.

Environment variables:
  CHUNKS_API_KEY   API key for authentication (required)
  CHUNKS_API_URL   API base URL (default: http://localhost:8080)`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)
	cli.Annotate(rootCmd, cli.AnnotationEnv, "CHUNKS_API_KEY", "CHUNKS_API_URL")

	rootCmd.AddCommand(client.AuthCmd())
	rootCmd.AddCommand(client.QACmd())
	rootCmd.AddCommand(client.ChunkCmd())
	rootCmd.AddCommand(client.GenerateCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
