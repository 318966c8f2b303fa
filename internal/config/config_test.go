package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"fieldnotes/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "test-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "fieldnotes")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "fieldnotes.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatalf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Analysis.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", cfg.Analysis.MaxAttempts)
	}
	if cfg.API.DefaultOwner != "local" {
		t.Fatalf("unexpected default owner %q", cfg.API.DefaultOwner)
	}
	if err := cfg.RequireLLM(); err != nil {
		t.Fatalf("RequireLLM returned error: %v", err)
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"data_dir": "~/notes",
		},
		"llm": map[string]any{
			"api_key": " file-key ",
			"model":   "demo/model",
		},
		"analysis": map[string]any{
			"excerpt_workers": 8,
			"max_attempts":    5,
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "Debug",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != cfgPath {
		t.Fatalf("expected config %q to be loaded, got %q (exists=%v)", cfgPath, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "notes") {
		t.Fatalf("unexpected data dir %q", cfg.Paths.DataDir)
	}
	if cfg.LLM.APIKey != "file-key" {
		t.Fatalf("expected trimmed api key, got %q", cfg.LLM.APIKey)
	}
	if cfg.Analysis.ExcerptWorkers != 8 || cfg.Analysis.MaxAttempts != 5 {
		t.Fatalf("unexpected analysis overrides: %+v", cfg.Analysis)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging, got %+v", cfg.Logging)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero attempts", func(c *config.Config) { c.Analysis.MaxAttempts = 0 }, "analysis.max_attempts"},
		{"zero workers", func(c *config.Config) { c.Analysis.ExcerptWorkers = 0 }, "analysis.excerpt_workers"},
		{"merge over split", func(c *config.Config) { c.Analysis.MergeMinChars = 5000 }, "merge_min_chars"},
		{"stage shorter than call", func(c *config.Config) { c.Analysis.StageTimeoutSeconds = 10 }, "stage_timeout_seconds"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative rps", func(c *config.Config) { c.LLM.RequestsPerSecond = -1 }, "requests_per_second"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error to mention %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRequireLLMWithoutKey(t *testing.T) {
	cfg := config.Default()
	if err := cfg.RequireLLM(); err == nil || !strings.Contains(err.Error(), "OPENROUTER_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestCreateSampleLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(target)
	if err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.API.Bind != config.Default().API.Bind {
		t.Fatalf("unexpected bind %q", cfg.API.Bind)
	}
}
