package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/servicechunks/internal/cli"
	"github.com/cloo-solutions/servicechunks/internal/cli/admin"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "chunksd",
		Short:   "Service chunk daemon",
		Long:    "Runs the service chunk API and the QA scheduler, and manages the chunk store",
		Version: version,
	}

	cli.AddHelpJSONFlag(rootCmd)

	serveCmd := admin.ServeCmd()
	cli.Annotate(serveCmd, cli.AnnotationTables, cli.StoreTables...)
	cli.Annotate(serveCmd, cli.AnnotationEnv, "DATABASE_URL", "PORT", "API_KEYS", "OPENAI_API_KEY", "BRAVE_API_KEY",
		"REDIS_URL", "S3_ENDPOINT", "S3_BUCKET", "SENTRY_DSN", "QA_SCHEDULER_ENABLED", "QA_SCHEDULE", "GUARD_RULES_FILE")

	migrateCmd := admin.MigrateCmd()
	cli.Annotate(migrateCmd, cli.AnnotationTables, cli.StoreTables...)
	cli.Annotate(migrateCmd, cli.AnnotationEnv, "DATABASE_URL")

	cycleCmd := admin.CycleCmd()
	cli.Annotate(cycleCmd, cli.AnnotationTables, cli.StoreTables...)
	cli.Annotate(cycleCmd, cli.AnnotationEnv, "DATABASE_URL", "OPENAI_API_KEY", "S3_ENDPOINT", "S3_BUCKET")

	importCmd := admin.ImportCmd()
	cli.Annotate(importCmd, cli.AnnotationTables, cli.TableChunks)
	cli.Annotate(importCmd, cli.AnnotationEnv, "DATABASE_URL")

	exportCmd := admin.ExportCmd()
	cli.Annotate(exportCmd, cli.AnnotationTables, cli.TableChunks)
	cli.Annotate(exportCmd, cli.AnnotationEnv, "DATABASE_URL")

	rootCmd.AddCommand(serveCmd, migrateCmd, cycleCmd, importCmd, exportCmd, admin.APIKeyCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
