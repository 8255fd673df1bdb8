package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// BraveProvider queries the Brave Search web API.
type BraveProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewBraveProvider(apiKey, baseURL string, timeout time.Duration) *BraveProvider {
	if baseURL == "" {
		baseURL = "https://api.search.brave.com/res/v1"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BraveProvider{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *BraveProvider) Name() string {
	return "brave"
}

type braveResponse struct {
	Web struct {
		Results []struct {
			URL   string `json:"url"`
			Title string `json:"title"`
		} `json:"results"`
	} `json:"web"`
}

func (p *BraveProvider) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if p.apiKey == "" {
		return nil, ErrMissingCredentials
	}
	if limit <= 0 || limit > 20 {
		limit = 20
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("brave status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}
	results := make([]Result, 0, len(parsed.Web.Results))
	for _, item := range parsed.Web.Results {
		if item.URL == "" {
			continue
		}
		results = append(results, Result{URL: item.URL, Title: item.Title})
	}
	return results, nil
}
