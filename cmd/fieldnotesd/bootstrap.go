package main

import (
	"context"
	"fmt"

	"fieldnotes/internal/analysis"
	"fieldnotes/internal/config"
	"fieldnotes/internal/daemon"
	"fieldnotes/internal/logging"
)

// run serves the API until ctx is cancelled. A nil completer uses the
// configured LLM client.
func run(ctx context.Context, configPath string, completer analysis.Completer) error {
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	d, err := daemon.Build(cfg, completer, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-ctx.Done()
	logger.Info("fieldnotesd shutting down")
	return nil
}
