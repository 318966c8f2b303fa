// Package llm provides an OpenRouter chat client used by the analysis chain.
//
// The client sends a system prompt and a user prompt to the configured model
// with response_format=json_object and returns the raw text. Callers own
// parsing; DecodeLLMJSON and DecodeStrictJSON strip code fences and stray
// prose before decoding.
//
// # Configuration
//
// Requires api_key and model; base_url, referer, title, timeout_seconds and
// requests_per_second are optional.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Complete / Client.CompleteJSON: send prompts, receive model text.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// Transport failures are retried through retry.Policy: HTTP 408/429/5xx,
// empty completions and network timeouts back off exponentially (base 1s,
// max 10s, 3 attempts by default) and honour Retry-After. Other statuses fail
// at once. Exhausted calls surface as *CallError, which matches
// services.ErrLLMCall. Context cancellation aborts retries immediately.
//
// Requests are paced by a token bucket when requests_per_second is set.
package llm
