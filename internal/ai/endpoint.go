package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	maxResponseBytes = 8 << 20
	maxRetryAfter    = 10 * time.Second
)

// endpoint is a JSON-over-HTTPS provider API reached with a bearer key.
type endpoint struct {
	provider   string
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	headers    map[string]string
}

func newEndpoint(provider, apiKey, baseURL, defaultBaseURL string, timeout time.Duration, client *http.Client) endpoint {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return endpoint{
		provider:   provider,
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		timeout:    timeout,
		httpClient: client,
		headers:    map[string]string{},
	}
}

func (e endpoint) available() bool {
	return e.apiKey != ""
}

// postJSON sends body to path and decodes a 2xx answer into out. Non-2xx
// answers become *ProviderError.
func (e endpoint) postJSON(ctx context.Context, path string, body []byte, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", e.provider, err)
	}
	request.Header.Set("Authorization", "Bearer "+e.apiKey)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range e.headers {
		if value != "" {
			request.Header.Set(key, value)
		}
	}

	response, err := e.httpClient.Do(request)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: request timeout: %w", e.provider, err)
		}
		return fmt.Errorf("%s: transport error: %w", e.provider, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", e.provider, err)
	}
	if response.StatusCode/100 != 2 {
		return &ProviderError{
			Provider:   e.provider,
			StatusCode: response.StatusCode,
			Message:    truncateMessage(payload),
			RetryAfter: parseRetryAfter(response.Header.Get("Retry-After")),
		}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", e.provider, err)
	}
	return nil
}

// parseRetryAfter reads the delay-seconds form of Retry-After.
func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return min(time.Duration(seconds)*time.Second, maxRetryAfter)
}
