package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiClient calls Gemini through the official genai SDK. The SDK client
// is created on first use.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	maxRetries int

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiClient(apiKey, baseURL string, maxRetries int) *GeminiClient {
	return &GeminiClient{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimSpace(baseURL),
		maxRetries: max(maxRetries, 0),
	}
}

func (c *GeminiClient) Name() string {
	return "gemini"
}

func (c *GeminiClient) Available() bool {
	return c.apiKey != ""
}

func (c *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      c.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: c.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	c.client = client
	return client, nil
}

func (c *GeminiClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, fmt.Errorf("gemini: %w", ErrProviderUnavailable)
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return GenerateResult{}, err
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(request.Temperature)),
		MaxOutputTokens: int32(request.MaxOutputTokens),
	}
	if instructions := strings.TrimSpace(request.Instructions); instructions != "" {
		config.SystemInstruction = genai.NewContentFromText(instructions, genai.RoleUser)
	}
	if request.JSONOutput {
		config.ResponseMIMEType = "application/json"
	}
	contents := []*genai.Content{genai.NewContentFromText(request.Input, genai.RoleUser)}

	return withRetries(ctx, c.maxRetries, func() (GenerateResult, error) {
		resp, err := client.Models.GenerateContent(ctx, request.Model, contents, config)
		if err != nil {
			return GenerateResult{}, mapGeminiError(err)
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return GenerateResult{}, fmt.Errorf("gemini: %w", errEmptyOutput)
		}
		result := GenerateResult{Text: text, ModelID: firstNonEmpty(resp.ModelVersion, request.Model)}
		if resp.UsageMetadata != nil {
			result.Usage = TokenUsage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
			}
		}
		return result, nil
	})
}

func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return fmt.Errorf("gemini: %w", err)
}
