package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const chatReplyJSON = `{
	"model":"openai/gpt-4.1-mini",
	"choices":[{"message":{"role":"assistant","content":"{\"insights\":[]}"}}],
	"usage":{"prompt_tokens":120,"completion_tokens":30,"total_tokens":150}
}`

func analysisRequest() GenerateRequest {
	return GenerateRequest{
		Model:           "openai/gpt-4.1-mini",
		Instructions:    "Return JSON only",
		Input:           "sources go here",
		Temperature:     0.2,
		MaxOutputTokens: 800,
		JSONOutput:      true,
	}
}

func TestOpenRouterClientSendsJSONMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		format, _ := payload["response_format"].(map[string]any)
		if format["type"] != "json_object" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"missing response_format"}`))
			return
		}
		_, _ = w.Write([]byte(chatReplyJSON))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
	})
	result, err := client.Generate(context.Background(), analysisRequest())
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if result.Text != `{"insights":[]}` {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Usage.TotalTokens != 150 {
		t.Fatalf("expected total tokens 150, got %d", result.Usage.TotalTokens)
	}
}

func TestOpenRouterClientRetriesOnRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
			return
		}
		_, _ = w.Write([]byte(chatReplyJSON))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{APIKey: "test-key", BaseURL: server.URL, MaxRetries: 2})
	if _, err := client.Generate(context.Background(), analysisRequest()); err != nil {
		t.Fatalf("expected success after retry, got err=%v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestOpenRouterClientDoesNotRetryAuthFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{APIKey: "bad-key", BaseURL: server.URL, MaxRetries: 3})
	_, err := client.Generate(context.Background(), analysisRequest())
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("auth errors must not be retryable")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestOpenRouterClientParsesArrayContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"model":"openai/gpt-4.1-mini",
			"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"part 1"},{"type":"text","text":"part 2"}]}}]
		}`))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{APIKey: "test-key", BaseURL: server.URL})
	result, err := client.Generate(context.Background(), analysisRequest())
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if result.Text != "part 1\npart 2" {
		t.Fatalf("unexpected parsed text: %q", result.Text)
	}
}

func TestClientsUnavailableWithoutKey(t *testing.T) {
	generators := []TextGenerator{
		NewOpenRouterClient(OpenRouterClientConfig{}),
		NewOpenAIClient(OpenAIClientConfig{}),
		NewGeminiClient("", "", 0),
	}
	for _, generator := range generators {
		if generator.Available() {
			t.Fatalf("%s: expected unavailable", generator.Name())
		}
		_, err := generator.Generate(context.Background(), analysisRequest())
		if !errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("%s: expected ErrProviderUnavailable, got %v", generator.Name(), err)
		}
	}
}

func TestOpenRouterClientHonoursRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(chatReplyJSON))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterClientConfig{APIKey: "test-key", BaseURL: server.URL, MaxRetries: 1})
	started := time.Now()
	if _, err := client.Generate(context.Background(), analysisRequest()); err != nil {
		t.Fatalf("expected success after retry, got err=%v", err)
	}
	if elapsed := time.Since(started); elapsed < time.Second {
		t.Fatalf("expected to wait for Retry-After, waited %s", elapsed)
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := map[string]time.Duration{
		"":     0,
		"abc":  0,
		"-3":   0,
		"2":    2 * time.Second,
		"3600": maxRetryAfter,
		" 1 ":  time.Second,
	}
	for value, want := range cases {
		if got := parseRetryAfter(value); got != want {
			t.Fatalf("parseRetryAfter(%q) = %s, want %s", value, got, want)
		}
	}
}
