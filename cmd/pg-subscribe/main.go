// Command pg-subscribe is the CLI and daemon front end for the
// subscription engine: every subcommand below is a thin cobra wrapper
// around internal/engine, mirroring the way the teacher CLI wraps
// internal/analyzer behind a single root command.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nnaka2992/pg-subscribe/internal/config"
	"github.com/nnaka2992/pg-subscribe/internal/engine"
)

var version = "0.1.0"

var (
	fileFlag     string
	outputFormat string
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := buildRootCommand()
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		code := determineExitCode(err)
		if code == 0 {
			code = 1
		}
		return code
	}
	return 0
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "pg-subscribe",
		Short:        "Reactive subscriptions over PostgreSQL SELECT queries",
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "path to a config file (yaml/json/toml)")
	root.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format for structured commands: text, json, yaml")
	root.PersistentFlags().StringVarP(&fileFlag, "file", "f", "", "read the SQL query from a file instead of args/stdin")
	config.Bind(root)

	root.AddCommand(
		buildSubscribeCommand(),
		buildSnapshotCommand(),
		buildPrepareCommand(),
		buildCancelCommand(),
		buildListCommand(),
		buildStatsCommand(),
		buildAnalyzeCommand(),
		buildNormalizeCommand(),
		buildHashCommand(),
		buildServeCommand(),
	)
	return root
}

// determineExitCode maps an engine.Error's Kind to a stable process exit
// code, the way the teacher CLI matches parser error strings to codes.
func determineExitCode(err error) int {
	switch {
	case engine.IsKind(err, engine.KindInvalidQuery), engine.IsKind(err, engine.KindUnsupportedQuery):
		return 2
	case engine.IsKind(err, engine.KindResourceExhausted):
		return 3
	case engine.IsKind(err, engine.KindCancelled):
		return 4
	default:
		return 1
	}
}

// sqlInput resolves the subscribed SQL query from --file, the first
// positional argument, or stdin, in that priority order.
func sqlInput(cmd *cobra.Command, args []string) (string, error) {
	if fileFlag != "" {
		content, err := os.ReadFile(fileFlag)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", fileFlag, err)
		}
		return string(content), nil
	}
	if len(args) > 0 {
		return args[0], nil
	}
	stat, err := os.Stdin.Stat()
	if err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(content), nil
	}
	_ = cmd.Usage()
	return "", fmt.Errorf("no SQL query provided: pass it as an argument, via --file, or on stdin")
}
