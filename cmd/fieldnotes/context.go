package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"fieldnotes/internal/analysis"
	"fieldnotes/internal/config"
	"fieldnotes/internal/daemon"
	"fieldnotes/internal/logging"
	"fieldnotes/internal/pipeline"
	"fieldnotes/internal/store"
)

type commandContext struct {
	configFlag *string
	verbose    *bool
	completer  analysis.Completer

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// logger writes to stderr only with --verbose; one-shot commands otherwise
// stay quiet apart from warnings.
func (c *commandContext) logger(cfg *config.Config) *slog.Logger {
	level := "warn"
	if c.verbose != nil && *c.verbose {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func (c *commandContext) openStore() (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg)
}

func (c *commandContext) llmCompleter(cfg *config.Config) (analysis.Completer, error) {
	if c.completer != nil {
		return c.completer, nil
	}
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}
	return daemon.NewPipelineLLMClient(cfg), nil
}

// withService opens the store and builds a pipeline for the duration of fn.
func (c *commandContext) withService(fn func(*pipeline.Service, *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	completer, err := c.llmCompleter(cfg)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := pipeline.NewService(completer, st, pipeline.OptionsFromConfig(cfg, c.logger(cfg)))
	return fn(svc, st)
}

func (c *commandContext) withStore(fn func(*store.Store) error) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// ownerOrDefault falls back to the configured default owner.
func (c *commandContext) ownerOrDefault(owner string) string {
	if owner = strings.TrimSpace(owner); owner != "" {
		return owner
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.API.DefaultOwner
	}
	return ""
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
