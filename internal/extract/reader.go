package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ReaderStrategy converts pages to markdown through a remote reader service
// such as r.jina.ai. Calls are spaced by at least minDelay.
type ReaderStrategy struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewReaderStrategy(baseURL, apiKey string, minDelay time.Duration) *ReaderStrategy {
	if baseURL == "" {
		baseURL = "https://r.jina.ai"
	}
	if minDelay <= 0 {
		minDelay = time.Second
	}
	return &ReaderStrategy{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Every(minDelay), 1),
	}
}

func (s *ReaderStrategy) Name() string {
	return "remote"
}

// Open returns the strategy itself; the reader keeps no per-batch state.
func (s *ReaderStrategy) Open(context.Context) (Fetcher, error) {
	return readerFetcher{s}, nil
}

type readerFetcher struct {
	*ReaderStrategy
}

func (readerFetcher) Close() error {
	return nil
}

func (s *ReaderStrategy) Fetch(ctx context.Context, url string) (Page, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+url, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("X-Return-Format", "markdown")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Page{}, fmt.Errorf("read reader response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, fmt.Errorf("reader status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), 300))
	}
	return ParseMarkdown(string(body)), nil
}

var readerPreamble = []string{"URL Source:", "Published Time:", "Markdown Content:", "Warning:"}

// ParseMarkdown turns reader output into a Page. The title is the first
// heading, or the first line when there is no heading. The excerpt is the
// start of the body with headings removed.
func ParseMarkdown(markdown string) Page {
	lines := strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n")

	var (
		title      string
		firstLine  string
		bodyLines  []string
		contentOut []string
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			contentOut = append(contentOut, "")
			continue
		}
		if value, ok := strings.CutPrefix(trimmed, "Title:"); ok && firstLine == "" {
			firstLine = strings.TrimSpace(value)
			continue
		}
		if hasAnyPrefix(trimmed, readerPreamble) {
			continue
		}
		contentOut = append(contentOut, line)
		if strings.HasPrefix(trimmed, "#") {
			if title == "" {
				title = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			}
			continue
		}
		if firstLine == "" {
			firstLine = trimmed
		}
		bodyLines = append(bodyLines, trimmed)
	}
	if title == "" {
		title = firstLine
	}

	return Page{
		Title:   title,
		Content: strings.TrimSpace(strings.Join(contentOut, "\n")),
		Excerpt: excerpt(collapseWhitespace(strings.Join(bodyLines, " ")), ExcerptLength, false),
	}
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
