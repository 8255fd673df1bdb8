package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/domain"
	"github.com/iago/lead-intel/internal/metrics"
	"github.com/iago/lead-intel/internal/repository"
)

const (
	DefaultQueryTTL = 24 * time.Hour
	DefaultURLTTL   = 7 * 24 * time.Hour
)

type Config struct {
	QueryTTL time.Duration
	URLTTL   time.Duration
}

// Layer answers query-level and URL-level cache lookups from persisted jobs
// and sources. Lookup failures are reported as misses.
type Layer struct {
	jobs    repository.JobsRepository
	sources repository.SourcesRepository
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
}

func NewLayer(jobs repository.JobsRepository, sources repository.SourcesRepository, cfg Config, logger zerolog.Logger) *Layer {
	if cfg.QueryTTL <= 0 {
		cfg.QueryTTL = DefaultQueryTTL
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = DefaultURLTTL
	}
	return &Layer{
		jobs:    jobs,
		sources: sources,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NormalizePrompt lowercases the prompt, strips punctuation and collapses
// whitespace.
func NormalizePrompt(prompt string) string {
	var b strings.Builder
	b.Grow(len(prompt))
	for _, r := range strings.ToLower(prompt) {
		if unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ComputeQueryKey derives the prompt hash for a user and prompt.
func ComputeQueryKey(userID, prompt string) string {
	joined := strings.TrimSpace(userID) + "||" + NormalizePrompt(prompt)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// LookupQueryResult returns the most recent job of jobType completed within
// the query TTL for key, or nil.
func (l *Layer) LookupQueryResult(ctx context.Context, key string, jobType domain.JobType) *domain.ResearchJob {
	job, err := l.jobs.LatestCompletedByHash(ctx, key, jobType, l.now().Add(-l.cfg.QueryTTL))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		metrics.IncCacheRequest("query", "miss")
		return nil
	case err != nil:
		metrics.IncCacheRequest("query", "error")
		l.logger.Warn().Err(err).Str("prompt_hash", key).Msg("query cache lookup failed")
		return nil
	}
	metrics.IncCacheRequest("query", "hit")
	return job
}

// LookupURLBatch returns cached sources keyed by URL. URLs without a fresh,
// non-empty entry are absent from the result.
func (l *Layer) LookupURLBatch(ctx context.Context, urls []string) map[string]domain.Source {
	if len(urls) == 0 {
		return map[string]domain.Source{}
	}
	found, err := l.sources.RecentSources(ctx, urls, l.now().Add(-l.cfg.URLTTL))
	if err != nil {
		metrics.IncCacheRequest("url", "error")
		l.logger.Warn().Err(err).Int("urls", len(urls)).Msg("url cache lookup failed")
		return map[string]domain.Source{}
	}

	hits := make(map[string]domain.Source, len(found))
	for _, url := range urls {
		source, ok := found[url]
		if !ok || strings.TrimSpace(source.Content) == "" {
			metrics.IncCacheRequest("url", "miss")
			continue
		}
		metrics.IncCacheRequest("url", "hit")
		hits[url] = source
	}
	return hits
}
