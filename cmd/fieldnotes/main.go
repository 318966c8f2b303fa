package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"fieldnotes/internal/services"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, formatCommandError(err))
		}
		os.Exit(1)
	}
}

// formatCommandError prefixes pipeline failures with their coarse kind so
// scripts can grep for them.
func formatCommandError(err error) string {
	kind := services.Kind(err)
	if kind == services.KindInternal {
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", kind, err)
}
