package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// RequireLLM reports a configuration error when no API key is available.
// Commands that never call the model (config, listings) skip this check.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = "~/.config/fieldnotes/config.toml"
	}
	return fmt.Errorf("llm.api_key is required. Set OPENROUTER_API_KEY env var or edit %s (create with 'fieldnotes config init')", defaultPath)
}

func (c *Config) validateLLM() error {
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	if c.LLM.RequestsPerSecond < 0 {
		return errors.New("llm.requests_per_second must not be negative")
	}
	if c.LLM.TransportRetries < 0 {
		return errors.New("llm.transport_retries must not be negative")
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if err := ensurePositiveMap(map[string]int{
		"analysis.max_attempts":             c.Analysis.MaxAttempts,
		"analysis.excerpt_workers":          c.Analysis.ExcerptWorkers,
		"analysis.max_concurrent_runs":      c.Analysis.MaxConcurrentRuns,
		"analysis.call_timeout_seconds":     c.Analysis.CallTimeoutSeconds,
		"analysis.stage_timeout_seconds":    c.Analysis.StageTimeoutSeconds,
		"analysis.pipeline_timeout_seconds": c.Analysis.PipelineTimeoutSeconds,
		"analysis.merge_min_chars":          c.Analysis.MergeMinChars,
		"analysis.split_max_chars":          c.Analysis.SplitMaxChars,
		"analysis.prompt_budget_chars":      c.Analysis.PromptBudgetChars,
	}); err != nil {
		return err
	}
	if c.Analysis.BackoffBaseMillis < 0 || c.Analysis.BackoffMaxMillis < 0 {
		return errors.New("analysis.backoff_base_ms and analysis.backoff_max_ms must not be negative")
	}
	if c.Analysis.MergeMinChars >= c.Analysis.SplitMaxChars {
		return errors.New("analysis.merge_min_chars must be less than analysis.split_max_chars")
	}
	if c.Analysis.SplitMaxChars > c.Analysis.PromptBudgetChars {
		return errors.New("analysis.split_max_chars must not exceed analysis.prompt_budget_chars")
	}
	if c.Analysis.StageTimeoutSeconds < c.Analysis.CallTimeoutSeconds {
		return errors.New("analysis.stage_timeout_seconds must be at least analysis.call_timeout_seconds")
	}
	if c.Analysis.PipelineTimeoutSeconds < c.Analysis.StageTimeoutSeconds {
		return errors.New("analysis.pipeline_timeout_seconds must be at least analysis.stage_timeout_seconds")
	}
	if c.Analysis.MaxPersonaSuggestions < 0 {
		return errors.New("analysis.max_persona_suggestions must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
