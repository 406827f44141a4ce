// Package cli holds what chunksd and chunkctl share: the --help-json command
// schema and the command annotations it reports.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Command annotations reported by --help-json
const (
	// AnnotationEnv lists the environment variables a command reads
	AnnotationEnv = "servicechunks.env"
	// AnnotationTables lists the chunk store tables a command reads or writes
	AnnotationTables = "servicechunks.tables"
)

// Chunk store tables, in migration order
const (
	TableChunks               = "chunks"
	TableQAHistoryDaily       = "qa_history_daily"
	TableSchedulerCheckpoints = "scheduler_checkpoints"
)

// StoreTables is every table created by the migrations
var StoreTables = []string{TableChunks, TableQAHistoryDaily, TableSchedulerCheckpoints}

const helpJSONFlag = "help-json"

type FlagSchema struct {
	Name       string `json:"name"`
	Shorthand  string `json:"shorthand,omitempty"`
	Type       string `json:"type"`
	Default    string `json:"default,omitempty"`
	Usage      string `json:"usage,omitempty"`
	Required   bool   `json:"required"`
	Persistent bool   `json:"persistent,omitempty"`
}

// CommandSchema describes one command and its subcommands
type CommandSchema struct {
	Name        string          `json:"name"`
	Path        string          `json:"path"`
	Use         string          `json:"use,omitempty"`
	Short       string          `json:"short,omitempty"`
	Long        string          `json:"long,omitempty"`
	Env         []string        `json:"env,omitempty"`
	Tables      []string        `json:"tables,omitempty"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

// Annotate appends values to a list annotation, keeping them sorted and unique
func Annotate(cmd *cobra.Command, key string, values ...string) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	merged := append(annotationList(cmd, key), values...)
	slices.Sort(merged)
	cmd.Annotations[key] = strings.Join(slices.Compact(merged), ",")
	return cmd
}

func annotationList(cmd *cobra.Command, key string) []string {
	raw := cmd.Annotations[key]
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// Describe builds the schema of cmd and every visible subcommand
func Describe(cmd *cobra.Command) CommandSchema {
	schema := CommandSchema{
		Name:   cmd.Name(),
		Path:   cmd.CommandPath(),
		Use:    cmd.Use,
		Short:  cmd.Short,
		Long:   cmd.Long,
		Env:    annotationList(cmd, AnnotationEnv),
		Tables: annotationList(cmd, AnnotationTables),
		Flags:  describeFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Name() == "help" || sub.Hidden {
			continue
		}
		schema.Subcommands = append(schema.Subcommands, Describe(sub))
	}
	return schema
}

func describeFlags(cmd *cobra.Command) []FlagSchema {
	var flags []FlagSchema
	persistent := cmd.PersistentFlags()
	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if f.Name == helpJSONFlag || f.Name == "help" {
			return
		}
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		flags = append(flags, FlagSchema{
			Name:       f.Name,
			Shorthand:  f.Shorthand,
			Type:       f.Value.Type(),
			Default:    f.DefValue,
			Usage:      f.Usage,
			Required:   required,
			Persistent: persistent.Lookup(f.Name) != nil,
		})
	})
	return flags
}

// WriteSchema writes the indented JSON schema of cmd to w
func WriteSchema(w io.Writer, cmd *cobra.Command) error {
	out, err := json.MarshalIndent(Describe(cmd), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode command schema: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// AddHelpJSONFlag adds --help-json to cmd and its subcommands
func AddHelpJSONFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool(helpJSONFlag, false, "Output command schema as JSON")
}

// HelpJSONTarget returns the command addressed by args when they ask for
// --help-json. Positional arguments after the command path are ignored.
func HelpJSONTarget(root *cobra.Command, args []string) (*cobra.Command, bool) {
	i := slices.Index(args, "--"+helpJSONFlag)
	if i < 0 {
		return nil, false
	}
	return findCommand(root, args[:i]), true
}

func findCommand(cmd *cobra.Command, args []string) *cobra.Command {
	if len(args) == 0 {
		return cmd
	}
	for _, sub := range cmd.Commands() {
		if sub.Name() == args[0] || sub.HasAlias(args[0]) {
			return findCommand(sub, args[1:])
		}
	}
	return cmd
}

// CheckHelpJSON prints the schema and exits when os.Args asks for
// --help-json. Call it before Execute so argument validation is skipped.
func CheckHelpJSON(root *cobra.Command) {
	target, ok := HelpJSONTarget(root, os.Args[1:])
	if !ok {
		return
	}
	if err := WriteSchema(os.Stdout, target); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
