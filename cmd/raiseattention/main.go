// Command raiseattention is the batch (check) and editor-facing (lsp)
// frontend for the exception-flow analyser, plus cache maintenance
// subcommands. The analysis core lives under internal/; this command only
// wires configuration, file discovery, and output formatting around it.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	debugFlag bool
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "raiseattention",
	Short: "Static exception-flow analyser",
	Long: `raiseattention determines, for every call site in a Python project,
which exception types may propagate out unhandled, and surfaces the result
as diagnostics on stdout or over the Language Server Protocol.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if debugFlag {
			level = slog.LevelDebug
		}
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging and tracing spans")
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(lspCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

// supportsColor decides whether stdout can take ANSI color: plain text when
// stdout is not a terminal (piped to a file, CI log, or --json already
// requested structured output).
func supportsColor() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
