package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoot() *cobra.Command {
	root := &cobra.Command{Use: "chunksd", Short: "Service chunk daemon"}
	AddHelpJSONFlag(root)

	migrate := &cobra.Command{Use: "migrate", Short: "Apply database migrations", RunE: func(*cobra.Command, []string) error { return nil }}
	migrate.Flags().Int("down", 0, "Roll back this many migrations")
	Annotate(migrate, AnnotationTables, StoreTables...)
	Annotate(migrate, AnnotationEnv, "DATABASE_URL")

	export := &cobra.Command{Use: "export <vehicle_key>...", Aliases: []string{"dump"}, RunE: func(*cobra.Command, []string) error { return nil }}
	export.Flags().String("out", "", "Output file")
	_ = export.MarkFlagRequired("out")

	hidden := &cobra.Command{Use: "debug", Hidden: true, RunE: func(*cobra.Command, []string) error { return nil }}

	root.AddCommand(migrate, export, hidden)
	return root
}

func TestAnnotate(t *testing.T) {
	cmd := &cobra.Command{Use: "serve"}

	Annotate(cmd, AnnotationEnv, "PORT", "DATABASE_URL")
	Annotate(cmd, AnnotationEnv, "DATABASE_URL", "API_KEYS")

	assert.Equal(t, "API_KEYS,DATABASE_URL,PORT", cmd.Annotations[AnnotationEnv])
}

func TestDescribe(t *testing.T) {
	schema := Describe(testRoot())

	assert.Equal(t, "chunksd", schema.Path)
	require.Len(t, schema.Subcommands, 2, "hidden and help commands are skipped")

	migrate := schema.Subcommands[1]
	assert.Equal(t, "chunksd migrate", migrate.Path)
	assert.Equal(t, []string{"chunks", "qa_history_daily", "scheduler_checkpoints"}, migrate.Tables)
	assert.Equal(t, []string{"DATABASE_URL"}, migrate.Env)
	require.Len(t, migrate.Flags, 1)
	assert.Equal(t, "down", migrate.Flags[0].Name)
	assert.Equal(t, "int", migrate.Flags[0].Type)
	assert.False(t, migrate.Flags[0].Required)

	export := schema.Subcommands[0]
	require.Len(t, export.Flags, 1)
	assert.True(t, export.Flags[0].Required)
}

func TestHelpJSONTarget(t *testing.T) {
	root := testRoot()

	_, ok := HelpJSONTarget(root, []string{"migrate", "--down", "1"})
	assert.False(t, ok)

	target, ok := HelpJSONTarget(root, []string{"migrate", "--help-json"})
	require.True(t, ok)
	assert.Equal(t, "migrate", target.Name())

	target, ok = HelpJSONTarget(root, []string{"dump", "2020_ford_f150", "--help-json"})
	require.True(t, ok)
	assert.Equal(t, "export", target.Name())

	target, ok = HelpJSONTarget(root, []string{"--help-json"})
	require.True(t, ok)
	assert.Equal(t, "chunksd", target.Name())
}

func TestWriteSchema(t *testing.T) {
	root := testRoot()
	migrate, _ := HelpJSONTarget(root, []string{"migrate", "--help-json"})

	var buf bytes.Buffer
	require.NoError(t, WriteSchema(&buf, migrate))

	var got CommandSchema
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "migrate", got.Name)
	assert.Contains(t, got.Tables, TableChunks)
}
