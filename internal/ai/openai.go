package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type OpenAIClientConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	HTTPClient   *http.Client
	Organization string
}

// OpenAIClient talks to the OpenAI Responses API.
type OpenAIClient struct {
	api        endpoint
	maxRetries int
}

func NewOpenAIClient(config OpenAIClientConfig) *OpenAIClient {
	api := newEndpoint("openai", config.APIKey, config.BaseURL, "https://api.openai.com/v1", config.Timeout, config.HTTPClient)
	api.headers["OpenAI-Organization"] = strings.TrimSpace(config.Organization)
	return &OpenAIClient{api: api, maxRetries: max(config.MaxRetries, 0)}
}

func (c *OpenAIClient) Name() string {
	return "openai"
}

func (c *OpenAIClient) Available() bool {
	return c.api.available()
}

type responsesRequest struct {
	Model           string         `json:"model"`
	Input           string         `json:"input"`
	Instructions    string         `json:"instructions,omitempty"`
	Temperature     float64        `json:"temperature"`
	MaxOutputTokens int            `json:"max_output_tokens"`
	Text            *responsesText `json:"text,omitempty"`
}

type responsesText struct {
	Format struct {
		Type string `json:"type"`
	} `json:"format"`
}

type responsesReply struct {
	Model  string `json:"model"`
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	OutputText string `json:"output_text"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, fmt.Errorf("openai: %w", ErrProviderUnavailable)
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	body := responsesRequest{
		Model:           request.Model,
		Input:           request.Input,
		Instructions:    request.Instructions,
		Temperature:     request.Temperature,
		MaxOutputTokens: request.MaxOutputTokens,
	}
	if request.JSONOutput {
		body.Text = &responsesText{}
		body.Text.Format.Type = "json_object"
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("openai: encode request: %w", err)
	}

	return withRetries(ctx, c.maxRetries, func() (GenerateResult, error) {
		var reply responsesReply
		if err := c.api.postJSON(ctx, "/responses", encoded, &reply); err != nil {
			return GenerateResult{}, err
		}
		text := reply.text()
		if text == "" {
			return GenerateResult{}, fmt.Errorf("openai: %w", errEmptyOutput)
		}
		return GenerateResult{
			Text:    text,
			ModelID: firstNonEmpty(reply.Model, request.Model),
			Usage: TokenUsage{
				InputTokens:  reply.Usage.InputTokens,
				OutputTokens: reply.Usage.OutputTokens,
				TotalTokens:  reply.Usage.TotalTokens,
			},
		}, nil
	})
}

func (r responsesReply) text() string {
	if text := strings.TrimSpace(r.OutputText); text != "" {
		return text
	}
	var parts []string
	for _, output := range r.Output {
		for _, content := range output.Content {
			if content.Type != "output_text" && content.Type != "text" {
				continue
			}
			if text := strings.TrimSpace(content.Text); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n")
}
