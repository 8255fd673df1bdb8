package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iago/lead-intel/internal/metrics"
)

const (
	DefaultChunkSize  = 5
	DefaultURLTimeout = 30 * time.Second
	ExcerptLength     = 500
)

// ErrEmptyContent is returned when a page yields no readable text.
var ErrEmptyContent = errors.New("page has no readable content")

// Page is the cleaned result of extracting one URL.
type Page struct {
	URL      string
	Title    string
	Content  string
	Excerpt  string
	Strategy string
}

// Fetcher extracts pages until it is closed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
	Close() error
}

// Strategy opens a Fetcher scoped to one extraction batch. Resources held by
// the fetcher are released by Close.
type Strategy interface {
	Name() string
	Open(ctx context.Context) (Fetcher, error)
}

// BatchResult lists extracted pages in input order and the URLs that failed.
type BatchResult struct {
	Pages  []Page
	Failed []string
	Chunks int
}

type Extractor struct {
	strategy  Strategy
	chunkSize int
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewExtractor(strategy Strategy, chunkSize int, timeout time.Duration, logger zerolog.Logger) *Extractor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if timeout <= 0 {
		timeout = DefaultURLTimeout
	}
	return &Extractor{strategy: strategy, chunkSize: chunkSize, timeout: timeout, logger: logger}
}

func (e *Extractor) Strategy() string {
	return e.strategy.Name()
}

// Extract fetches a single URL with a dedicated fetcher.
func (e *Extractor) Extract(ctx context.Context, url string) (Page, error) {
	fetcher, err := e.strategy.Open(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("open %s: %w", e.strategy.Name(), err)
	}
	defer e.closeFetcher(fetcher)
	return e.fetchOne(ctx, fetcher, url)
}

// ExtractBatch fetches urls in sequential chunks of at most concurrency URLs,
// running the URLs of a chunk in parallel. Failing URLs are logged and left
// out of Pages. A cancelled ctx stops the batch before the next chunk.
func (e *Extractor) ExtractBatch(ctx context.Context, urls []string, concurrency int) (BatchResult, error) {
	if concurrency <= 0 {
		concurrency = e.chunkSize
	}
	var result BatchResult
	if len(urls) == 0 {
		return result, nil
	}

	fetcher, err := e.strategy.Open(ctx)
	if err != nil {
		return result, fmt.Errorf("open %s: %w", e.strategy.Name(), err)
	}
	defer e.closeFetcher(fetcher)

	for start := 0; start < len(urls); start += concurrency {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(start+concurrency, len(urls))
		chunk := urls[start:end]
		result.Chunks++

		pages := make([]*Page, len(chunk))
		g, gctx := errgroup.WithContext(ctx)
		for i, url := range chunk {
			g.Go(func() error {
				page, err := e.fetchOne(gctx, fetcher, url)
				if err != nil {
					e.logger.Warn().Err(err).Str("url", url).Str("strategy", e.strategy.Name()).Msg("extraction failed")
					return nil
				}
				pages[i] = &page
				return nil
			})
		}
		_ = g.Wait()

		for i, page := range pages {
			if page == nil {
				result.Failed = append(result.Failed, chunk[i])
				continue
			}
			result.Pages = append(result.Pages, *page)
		}
	}
	return result, nil
}

func (e *Extractor) fetchOne(ctx context.Context, fetcher Fetcher, url string) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	page, err := fetcher.Fetch(ctx, url)
	if err == nil && strings.TrimSpace(page.Content) == "" {
		err = ErrEmptyContent
	}
	metrics.IncExtractPage(e.strategy.Name(), err == nil)
	if err != nil {
		return Page{}, err
	}
	page.URL = url
	page.Strategy = e.strategy.Name()
	return page, nil
}

func (e *Extractor) closeFetcher(fetcher Fetcher) {
	if err := fetcher.Close(); err != nil {
		e.logger.Warn().Err(err).Str("strategy", e.strategy.Name()).Msg("release extractor resources")
	}
}

// excerpt returns the first n runes of text, adding an ellipsis when the
// text was cut and ellipsis is set.
func excerpt(text string, n int, ellipsis bool) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	cut := strings.TrimSpace(string(runes[:n]))
	if ellipsis {
		cut += "…"
	}
	return cut
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
