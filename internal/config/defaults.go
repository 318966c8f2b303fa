package config

const (
	defaultDataDir               = "~/.local/share/fieldnotes"
	defaultLogDir                = "~/.local/share/fieldnotes/logs"
	defaultLLMBaseURL            = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel              = "google/gemini-3-flash-preview"
	defaultLLMReferer            = "https://github.com/fieldnotes/fieldnotes"
	defaultLLMTitle              = "fieldnotes interview analysis"
	defaultLLMTimeoutSeconds     = 90
	defaultLLMRequestsPerSecond  = 2
	defaultLLMTransportRetries   = 2
	defaultMaxAttempts           = 3
	defaultBackoffBaseMillis     = 500
	defaultBackoffMaxMillis      = 8000
	defaultExcerptWorkers        = 4
	defaultMaxConcurrentRuns     = 2
	defaultCallTimeoutSeconds    = 120
	defaultStageTimeoutSeconds   = 600
	defaultPipelineTimeout       = 1200
	defaultMergeMinChars         = 80
	defaultSplitMaxChars         = 1200
	defaultPromptBudgetChars     = 60000
	defaultMaxPersonaSuggestions = 5
	defaultAPIBind               = "127.0.0.1:7591"
	defaultMaxUploadBytes        = 10 << 20
	defaultOwner                 = "local"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		LLM: LLM{
			BaseURL:           defaultLLMBaseURL,
			Model:             defaultLLMModel,
			Referer:           defaultLLMReferer,
			Title:             defaultLLMTitle,
			TimeoutSeconds:    defaultLLMTimeoutSeconds,
			RequestsPerSecond: defaultLLMRequestsPerSecond,
			TransportRetries:  defaultLLMTransportRetries,
		},
		Analysis: Analysis{
			MaxAttempts:            defaultMaxAttempts,
			BackoffBaseMillis:      defaultBackoffBaseMillis,
			BackoffMaxMillis:       defaultBackoffMaxMillis,
			ExcerptWorkers:         defaultExcerptWorkers,
			MaxConcurrentRuns:      defaultMaxConcurrentRuns,
			CallTimeoutSeconds:     defaultCallTimeoutSeconds,
			StageTimeoutSeconds:    defaultStageTimeoutSeconds,
			PipelineTimeoutSeconds: defaultPipelineTimeout,
			MergeMinChars:          defaultMergeMinChars,
			SplitMaxChars:          defaultSplitMaxChars,
			PromptBudgetChars:      defaultPromptBudgetChars,
			MaxPersonaSuggestions:  defaultMaxPersonaSuggestions,
		},
		API: API{
			Bind:           defaultAPIBind,
			MaxUploadBytes: defaultMaxUploadBytes,
			DefaultOwner:   defaultOwner,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
