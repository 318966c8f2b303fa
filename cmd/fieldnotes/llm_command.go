package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fieldnotes/internal/daemon"
)

const llmCheckTimeout = 30 * time.Second

func newLLMCommand(ctx *commandContext) *cobra.Command {
	llmCmd := &cobra.Command{
		Use:   "llm",
		Short: "Model utilities",
	}

	llmCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify the configured model answers JSON requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireLLM(); err != nil {
				return err
			}
			client := daemon.NewLLMClient(cfg)
			checkCtx, cancel := context.WithTimeout(cmd.Context(), llmCheckTimeout)
			defer cancel()

			colorize := shouldColorize(cmd.OutOrStdout())
			out := cmd.OutOrStdout()
			started := time.Now()
			if err := client.HealthCheck(checkCtx); err != nil {
				fmt.Fprintln(out, renderStatusLine("Model", statusError, client.Model(), colorize))
				return err
			}
			elapsed := time.Since(started).Round(time.Millisecond)
			fmt.Fprintln(out, renderStatusLine("Model", statusOK, fmt.Sprintf("%s (%s)", client.Model(), elapsed), colorize))
			return nil
		},
	})
	return llmCmd
}
