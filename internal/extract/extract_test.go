package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	fail     map[string]bool
	delay    time.Duration
	opened   atomic.Int32
	closed   atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeStrategy) Name() string { return "fake" }

func (f *fakeStrategy) Open(context.Context) (Fetcher, error) {
	f.opened.Add(1)
	return fakeFetcher{f}, nil
}

type fakeFetcher struct{ s *fakeStrategy }

func (f fakeFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	current := f.s.inFlight.Add(1)
	defer f.s.inFlight.Add(-1)
	for {
		peak := f.s.peak.Load()
		if current <= peak || f.s.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	select {
	case <-time.After(f.s.delay):
	case <-ctx.Done():
		return Page{}, ctx.Err()
	}
	if f.s.fail[url] {
		return Page{}, errors.New("boom")
	}
	return Page{Title: url, Content: "content of " + url}, nil
}

func (f fakeFetcher) Close() error {
	f.s.closed.Add(1)
	return nil
}

func urls(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://site-%d.example", i+1)
	}
	return out
}

func TestExtractBatchChunksAndDropsFailures(t *testing.T) {
	input := urls(12)
	strategy := &fakeStrategy{fail: map[string]bool{input[6]: true}, delay: 10 * time.Millisecond}
	extractor := NewExtractor(strategy, 5, time.Second, zerolog.Nop())

	result, err := extractor.ExtractBatch(context.Background(), input, 5)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Chunks)
	assert.Len(t, result.Pages, 11)
	assert.Equal(t, []string{input[6]}, result.Failed)
	assert.LessOrEqual(t, strategy.peak.Load(), int32(5))
	assert.Equal(t, int32(1), strategy.opened.Load())
	assert.Equal(t, int32(1), strategy.closed.Load())

	for i, page := range result.Pages {
		assert.Equal(t, "fake", page.Strategy)
		if i < 6 {
			assert.Equal(t, input[i], page.URL)
		}
	}
}

func TestExtractBatchStopsBetweenChunksWhenCancelled(t *testing.T) {
	strategy := &fakeStrategy{delay: 20 * time.Millisecond}
	extractor := NewExtractor(strategy, 2, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	result, err := extractor.ExtractBatch(ctx, urls(6), 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, int32(1), strategy.closed.Load())
}

func TestExtractTimeoutCountsAsFailure(t *testing.T) {
	strategy := &fakeStrategy{delay: 200 * time.Millisecond}
	extractor := NewExtractor(strategy, 5, 20*time.Millisecond, zerolog.Nop())

	result, err := extractor.ExtractBatch(context.Background(), urls(2), 0)
	require.NoError(t, err)
	assert.Empty(t, result.Pages)
	assert.Len(t, result.Failed, 2)
}

func TestParseMarkdown(t *testing.T) {
	input := "Title: Reader Title\nURL Source: https://a.example\nMarkdown Content:\n# Main Heading\n\nFirst paragraph of the body.\n\n## Sub\nSecond paragraph."
	page := ParseMarkdown(input)

	assert.Equal(t, "Main Heading", page.Title)
	assert.Equal(t, "First paragraph of the body. Second paragraph.", page.Excerpt)
	assert.Contains(t, page.Content, "# Main Heading")
	assert.NotContains(t, page.Content, "URL Source")
}

func TestParseMarkdownFallsBackToFirstLine(t *testing.T) {
	body := strings.Repeat("word ", 200)
	page := ParseMarkdown("Plain first line\n" + body)

	assert.Equal(t, "Plain first line", page.Title)
	assert.Equal(t, 500, len([]rune(page.Excerpt)))
}

func TestCleanHTMLStripsNoise(t *testing.T) {
	html := `<html><head><title>Acme Report</title><script>var x = 1;</script></head>
	<body>
		<nav>Home | About</nav>
		<div class="cookie-banner">We use cookies</div>
		<main>
			<h1>Quarterly results</h1>
			<p>Revenue grew   strongly.</p><p>Margins improved.</p>
			<aside class="sidebar">Related links</aside>
			<div id="comments">Nice post!</div>
			<div class="advertisement">Buy now</div>
		</main>
		<footer>Copyright</footer>
	</body></html>`

	page, err := CleanHTML(html)
	require.NoError(t, err)
	assert.Equal(t, "Acme Report", page.Title)
	assert.Equal(t, "Quarterly results Revenue grew strongly. Margins improved.", page.Content)
	assert.Equal(t, page.Content, page.Excerpt)
}

func TestCleanHTMLKeepsContainersTaggedByConsentManagers(t *testing.T) {
	cases := map[string]string{
		"body": `<html class="cookie-consent-pending"><body class="cookie-consent-pending"><main><p>Quarterly revenue grew.</p></main></body></html>`,
		"main": `<html><body><main class="consent-given"><p>Quarterly revenue grew.</p><div class="cookie-banner">Accept?</div></main></body></html>`,
	}
	for name, html := range cases {
		t.Run(name, func(t *testing.T) {
			page, err := CleanHTML(html)
			require.NoError(t, err)
			assert.Equal(t, "Quarterly revenue grew.", page.Content)
		})
	}
}

func TestCleanHTMLFallsBackToBodyAndAddsEllipsis(t *testing.T) {
	html := "<html><body><div>" + strings.Repeat("a", 600) + "</div></body></html>"
	page, err := CleanHTML(html)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(page.Excerpt, "…"))
	assert.Equal(t, 501, len([]rune(page.Excerpt)))
}

func TestReaderStrategyEnforcesMinimumDelay(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []time.Time
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, time.Now())
		mu.Unlock()
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		_, _ = w.Write([]byte("# Title\nBody text for " + r.URL.Path))
	}))
	defer server.Close()

	strategy := NewReaderStrategy(server.URL, "", 100*time.Millisecond)
	extractor := NewExtractor(strategy, 5, time.Second, zerolog.Nop())

	result, err := extractor.ExtractBatch(context.Background(), []string{"https://a.example", "https://b.example", "https://c.example"}, 3)
	require.NoError(t, err)
	require.Len(t, result.Pages, 3)
	assert.Equal(t, "Title", result.Pages[0].Title)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 3)
	first, last := calls[0], calls[0]
	for _, call := range calls {
		if call.Before(first) {
			first = call
		}
		if call.After(last) {
			last = call
		}
	}
	assert.GreaterOrEqual(t, last.Sub(first), 180*time.Millisecond)
}

func TestReaderStrategyReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := NewExtractor(NewReaderStrategy(server.URL, "", time.Millisecond), 5, time.Second, zerolog.Nop()).
		Extract(context.Background(), "https://a.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
