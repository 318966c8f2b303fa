package daemon

import (
	"fmt"
	"log/slog"

	"fieldnotes/internal/analysis"
	"fieldnotes/internal/api"
	"fieldnotes/internal/config"
	"fieldnotes/internal/pipeline"
	"fieldnotes/internal/services/llm"
	"fieldnotes/internal/store"
)

// NewLLMClient builds the OpenRouter client described by cfg for standalone
// calls. Transient failures are retried llm.transport_retries times.
func NewLLMClient(cfg *config.Config) *llm.Client {
	return newLLMClient(cfg, cfg.LLM.TransportRetries+1)
}

// NewPipelineLLMClient builds a client that sends each request once. The
// analysis stages own retries, so one stage call issues at most
// analysis.max_attempts requests.
func NewPipelineLLMClient(cfg *config.Config) *llm.Client {
	return newLLMClient(cfg, 1)
}

func newLLMClient(cfg *config.Config, attempts int) *llm.Client {
	return llm.NewClient(llm.Config{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Referer:           cfg.LLM.Referer,
		Title:             cfg.LLM.Title,
		TimeoutSeconds:    cfg.LLM.TimeoutSeconds,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	},
		llm.WithRetryMaxAttempts(attempts),
	)
}

// Build opens the store and wires the pipeline and HTTP API for cfg.
// A nil completer uses the configured LLM client. The returned daemon owns
// the store and closes it in Close.
func Build(cfg *config.Config, completer analysis.Completer, logger *slog.Logger) (*Daemon, error) {
	model := cfg.LLM.Model
	if completer == nil {
		if err := cfg.RequireLLM(); err != nil {
			return nil, err
		}
		client := NewPipelineLLMClient(cfg)
		completer = client
		model = client.Model()
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	svc := pipeline.NewService(completer, st, pipeline.OptionsFromConfig(cfg, logger))
	server := api.NewServer(svc, st, api.Options{
		Token:          cfg.API.Token,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		DefaultOwner:   cfg.API.DefaultOwner,
		Model:          model,
		Logger:         logger,
	})

	d, err := New(cfg, st, server, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return d, nil
}
