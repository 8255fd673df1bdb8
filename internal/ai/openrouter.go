package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type OpenRouterClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	SiteURL    string
	AppName    string
}

// OpenRouterClient talks to the OpenRouter chat completions API.
type OpenRouterClient struct {
	api        endpoint
	maxRetries int
}

func NewOpenRouterClient(config OpenRouterClientConfig) *OpenRouterClient {
	api := newEndpoint("openrouter", config.APIKey, config.BaseURL, "https://openrouter.ai/api/v1", config.Timeout, config.HTTPClient)
	api.headers["HTTP-Referer"] = strings.TrimSpace(config.SiteURL)
	api.headers["X-Title"] = firstNonEmpty(config.AppName, "lead-intel")
	return &OpenRouterClient{api: api, maxRetries: max(config.MaxRetries, 0)}
}

func (c *OpenRouterClient) Name() string {
	return "openrouter"
}

func (c *OpenRouterClient) Available() bool {
	return c.api.available()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatReply struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			// Content is a string or a list of {type, text} parts.
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenRouterClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, fmt.Errorf("openrouter: %w", ErrProviderUnavailable)
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	body := chatRequest{
		Model:       request.Model,
		Temperature: request.Temperature,
		MaxTokens:   request.MaxOutputTokens,
	}
	if instructions := strings.TrimSpace(request.Instructions); instructions != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: instructions})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: request.Input})
	if request.JSONOutput {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("openrouter: encode request: %w", err)
	}

	return withRetries(ctx, c.maxRetries, func() (GenerateResult, error) {
		var reply chatReply
		if err := c.api.postJSON(ctx, "/chat/completions", encoded, &reply); err != nil {
			return GenerateResult{}, err
		}
		text := reply.text()
		if text == "" {
			return GenerateResult{}, fmt.Errorf("openrouter: %w", errEmptyOutput)
		}
		return GenerateResult{
			Text:    text,
			ModelID: firstNonEmpty(reply.Model, request.Model),
			Usage: TokenUsage{
				InputTokens:  reply.Usage.PromptTokens,
				OutputTokens: reply.Usage.CompletionTokens,
				TotalTokens:  reply.Usage.TotalTokens,
			},
		}, nil
	})
}

func (r chatReply) text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	raw := r.Choices[0].Message.Content

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return strings.TrimSpace(plain)
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if text := strings.TrimSpace(part.Text); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n")
}
