package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"fieldnotes/internal/config"
	"fieldnotes/internal/testsupport"
)

func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	content, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfig(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, path, testsupport.NewScriptedCompleter())
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not exit after cancel")
	}
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		t.Fatalf("expected database at %s: %v", cfg.DatabasePath(), err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.Format = "xml"
	path := writeConfig(t, cfg)

	if err := run(context.Background(), path, testsupport.NewScriptedCompleter()); err == nil {
		t.Fatal("expected invalid config to fail")
	}
}

func TestRootCommandPassesConfigFlag(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.Format = "xml"
	path := writeConfig(t, cfg)

	cmd := newRootCommand(testsupport.NewScriptedCompleter())
	cmd.SetArgs([]string{"--config", path})
	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "logging.format") {
		t.Fatalf("expected the flagged config to be loaded and rejected, got %v", err)
	}

	cmd = newRootCommand(testsupport.NewScriptedCompleter())
	cmd.SetArgs([]string{"extra"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected positional arguments to be rejected")
	}
}
