package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fieldnotes/internal/services"
)

func choicesServer(t *testing.T, choice map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"choices": []any{choice}}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat["type"] != jsonResponseType {
			t.Errorf("expected json response format, got %v", req.ResponseFormat)
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"ok":true}`,
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckCodeFence(t *testing.T) {
	server := choicesServer(t, map[string]any{
		"message": map[string]any{"content": "```json\n{\"ok\":true}\n```"},
	})
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	err := client.HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected health check to fail")
	}
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected CallError with 401, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected auth failure not to be retried, got %d calls", calls.Load())
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{Model: "demo"})
	_, err := client.Complete(context.Background(), "system", "user")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestClientCompleteReturnsRawContent(t *testing.T) {
	server := choicesServer(t, map[string]any{
		"message": map[string]any{"content": "```json\n{\"problems\":[]}\n```"},
	})
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.Complete(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if !strings.Contains(content, "```") {
		t.Fatalf("expected raw content to retain code fence, got %q", content)
	}
}

func TestClientCompleteToolCallsArguments(t *testing.T) {
	server := choicesServer(t, map[string]any{
		"finish_reason": "tool_calls",
		"message": map[string]any{
			"content": "",
			"tool_calls": []any{
				map[string]any{
					"type": "function",
					"id":   "call_1",
					"function": map[string]any{
						"name":      "extract_problems",
						"arguments": `{"problems":[{"title":"Slow exports"}]}`,
					},
				},
			},
		},
	})
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.Complete(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if !strings.Contains(content, "Slow exports") {
		t.Fatalf("expected tool call arguments, got %q", content)
	}
}

func TestClientCompleteDeltaAndLegacyText(t *testing.T) {
	cases := map[string]map[string]any{
		"delta":  {"delta": map[string]any{"content": `{"ok":true}`}},
		"legacy": {"finish_reason": "stop", "text": `{"ok":true}`},
	}
	for name, choice := range cases {
		t.Run(name, func(t *testing.T) {
			server := choicesServer(t, choice)
			defer server.Close()

			client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
			content, err := client.Complete(context.Background(), "system", "user")
			if err != nil {
				t.Fatalf("Complete returned error: %v", err)
			}
			if content != `{"ok":true}` {
				t.Fatalf("unexpected content %q", content)
			}
		})
	}
}

func TestClientEmptyContentHasSnippet(t *testing.T) {
	server := choicesServer(t, map[string]any{
		"finish_reason": "stop",
		"message":       map[string]any{"content": ""},
	})
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.Complete(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected complete to fail")
	}
	if !errors.Is(err, services.ErrLLMCall) {
		t.Fatalf("expected ErrLLMCall, got %v", err)
	}
	if !strings.Contains(err.Error(), "empty content") || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected empty-content error to include snippet, got %v", err)
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{"content": `{"ok":true}`},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	if _, err := client.Complete(context.Background(), "system", "user"); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestClientRetriesOnEmptyContentThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := ""
		if calls.Add(1) >= 3 {
			content = `{"ok":true}`
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "stop",
					"message":       map[string]any{"content": content},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(5),
	)
	if _, err := client.Complete(context.Background(), "system", "user"); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestClientServerErrorExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithRetryMaxAttempts(3),
	)
	_, err := client.Complete(context.Background(), "system", "user")
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Attempts != 3 || callErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected call error %+v", callErr)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestClientCanceledContextStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(time.Millisecond, time.Millisecond),
		WithSleeper(func(time.Duration) { cancel() }),
	)
	_, err := client.Complete(ctx, "system", "user")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodeStrictJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		OK bool `json:"ok"`
	}
	if err := DecodeStrictJSON("```json\n{\"ok\":true}\n```", &target); err != nil || !target.OK {
		t.Fatalf("expected fenced payload to decode, got %v", err)
	}
	if err := DecodeStrictJSON(`{"ok":true,"extra":1}`, &target); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
	if err := DecodeStrictJSON(`{"ok":true} {"ok":false}`, &target); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}
	if err := DecodeStrictJSON("   ", &target); err == nil {
		t.Fatal("expected empty payload to be rejected")
	}
}

func TestRateLimiterPacesRequests(t *testing.T) {
	client := NewClient(Config{APIKey: "test", RequestsPerSecond: 0.5})
	if client.limiter == nil {
		t.Fatal("expected limiter for positive rate")
	}
	if got := NewClient(Config{APIKey: "test"}).limiter; got != nil {
		t.Fatal("expected no limiter when rate is unset")
	}
}

func TestClientTimeoutIsRetryHinted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model", TimeoutSeconds: 1},
		WithRetryMaxAttempts(1),
	)
	_, err := client.Complete(context.Background(), "system", "user")
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if !strings.Contains(err.Error(), "timeout=1s") {
		t.Fatalf("expected configured timeout in error, got %v", err)
	}
	if retry, _ := callErr.RetryHint(); !retry {
		t.Fatal("timeouts should be worth retrying")
	}
	if callErr.Attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", callErr.Attempts)
	}
}

func TestCallErrorRetryHint(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantRetry bool
		wantAfter time.Duration
	}{
		{"rate limited", &httpStatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: 3 * time.Second}, true, 3 * time.Second},
		{"bad gateway", &httpStatusError{StatusCode: http.StatusBadGateway}, true, 0},
		{"unauthorized", &httpStatusError{StatusCode: http.StatusUnauthorized}, false, 0},
		{"cancelled", context.Canceled, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, after := (&CallError{Op: "llm complete", Attempts: 1, Err: tt.err}).RetryHint()
			if retry != tt.wantRetry || after != tt.wantAfter {
				t.Fatalf("RetryHint = (%v, %s), want (%v, %s)", retry, after, tt.wantRetry, tt.wantAfter)
			}
		})
	}
}
