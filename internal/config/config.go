package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and database locations.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	Database string `toml:"database"`
}

// LLM contains the chat-completion connection settings.
type LLM struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	Referer           string  `toml:"referer"`
	Title             string  `toml:"title"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	TransportRetries  int     `toml:"transport_retries"`
}

// Analysis contains pipeline limits and retry settings.
type Analysis struct {
	MaxAttempts            int  `toml:"max_attempts"`
	BackoffBaseMillis      int  `toml:"backoff_base_ms"`
	BackoffMaxMillis       int  `toml:"backoff_max_ms"`
	ExcerptWorkers         int  `toml:"excerpt_workers"`
	MaxConcurrentRuns      int  `toml:"max_concurrent_runs"`
	CallTimeoutSeconds     int  `toml:"call_timeout_seconds"`
	StageTimeoutSeconds    int  `toml:"stage_timeout_seconds"`
	PipelineTimeoutSeconds int  `toml:"pipeline_timeout_seconds"`
	MergeMinChars          int  `toml:"merge_min_chars"`
	SplitMaxChars          int  `toml:"split_max_chars"`
	PromptBudgetChars      int  `toml:"prompt_budget_chars"`
	SuggestPersonas        bool `toml:"suggest_personas"`
	MaxPersonaSuggestions  int  `toml:"max_persona_suggestions"`
}

// API contains the HTTP listener settings.
type API struct {
	Bind           string `toml:"bind"`
	Token          string `toml:"token"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	DefaultOwner   string `toml:"default_owner"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for fieldnotes.
//
// Configuration sections by subsystem:
//   - Paths: data, log and database locations
//   - LLM: chat completion endpoint, model and pacing
//   - Analysis: retry policy, worker pools and timeouts
//   - API: HTTP bind address, auth token and upload limits
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	LLM      LLM      `toml:"llm"`
	Analysis Analysis `toml:"analysis"`
	API      API      `toml:"api"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/fieldnotes/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("fieldnotes.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Paths.Database != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.Database))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	if strings.TrimSpace(c.Paths.Database) != "" {
		return c.Paths.Database
	}
	return filepath.Join(c.Paths.DataDir, "fieldnotes.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "fieldnotesd.lock")
}

// CallTimeout returns the per-LLM-call timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Analysis.CallTimeoutSeconds) * time.Second
}

// StageTimeout returns the per-stage timeout.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Analysis.StageTimeoutSeconds) * time.Second
}

// PipelineTimeout returns the overall analysis timeout.
func (c *Config) PipelineTimeout() time.Duration {
	return time.Duration(c.Analysis.PipelineTimeoutSeconds) * time.Second
}

// BackoffBase returns the first retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Analysis.BackoffBaseMillis) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Analysis.BackoffMaxMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
