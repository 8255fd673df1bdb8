package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/domain"
)

// ErrMissingCredentials is returned by providers that need an API key they
// were not given.
var ErrMissingCredentials = errors.New("search provider credentials missing")

// Result is one ranked search hit.
type Result struct {
	URL   string
	Title string
}

// Provider is a search strategy that turns a query into ranked results.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Registry keeps a mapping from provider names to implementations.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

func NewRegistry(defaultProvider string) *Registry {
	return &Registry{providers: map[string]Provider{}, fallback: defaultProvider}
}

func (r *Registry) Register(provider Provider) {
	r.providers[provider.Name()] = provider
}

// Resolve returns the named provider, or the default one when name is empty.
func (r *Registry) Resolve(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.fallback
	}
	if provider, ok := r.providers[name]; ok {
		return provider, nil
	}
	return nil, fmt.Errorf("search provider %q is not registered", name)
}

// Service discovers candidate URLs for a research prompt.
type Service struct {
	registry   *Registry
	blocklist  []string
	maxSources int
	logger     zerolog.Logger
}

func NewService(registry *Registry, maxSources int, logger zerolog.Logger) *Service {
	if maxSources <= 0 {
		maxSources = 10
	}
	return &Service{
		registry:   registry,
		blocklist:  DefaultBlocklist,
		maxSources: maxSources,
		logger:     logger,
	}
}

// Discover queries the named provider and returns filtered URLs in the
// provider's ranking order. Failures are classified for the job record.
func (s *Service) Discover(ctx context.Context, prompt, providerName string) ([]string, error) {
	provider, err := s.registry.Resolve(providerName)
	if err != nil {
		return nil, domain.Permanent(domain.StageDiscovery, err)
	}

	// over-fetch so blocked hosts do not starve the source budget
	results, err := provider.Search(ctx, prompt, s.maxSources*2)
	if err != nil {
		if errors.Is(err, ErrMissingCredentials) {
			return nil, domain.Permanent(domain.StageDiscovery, err)
		}
		return nil, domain.Transient(domain.StageDiscovery, fmt.Errorf("%s search: %w", provider.Name(), err))
	}

	urls := make([]string, 0, len(results))
	for _, result := range results {
		urls = append(urls, result.URL)
	}
	filtered := FilterBlocked(urls, s.blocklist)
	if len(filtered) > s.maxSources {
		filtered = filtered[:s.maxSources]
	}

	s.logger.Debug().
		Str("provider", provider.Name()).
		Int("results", len(results)).
		Int("kept", len(filtered)).
		Msg("discovery finished")
	return filtered, nil
}
