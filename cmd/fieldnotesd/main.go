package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fieldnotes/internal/analysis"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fieldnotesd: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand serves the API until the command context is cancelled. A
// non-nil completer replaces the configured LLM client.
func newRootCommand(completer analysis.Completer) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "fieldnotesd",
		Short:         "Serve the fieldnotes analysis API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, completer)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	return cmd
}
