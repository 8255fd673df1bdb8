package ai

import (
	"fmt"
	"strings"
)

// ModelProfile holds the generation settings used for a provider.
type ModelProfile struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

// Registry maps provider names to generators and their default models.
type Registry struct {
	generators map[string]TextGenerator
	defaults   map[string]ModelProfile
	fallback   string
}

func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		generators: map[string]TextGenerator{},
		defaults:   map[string]ModelProfile{},
		fallback:   strings.ToLower(strings.TrimSpace(defaultProvider)),
	}
}

func (r *Registry) Register(generator TextGenerator, profile ModelProfile) {
	if profile.Temperature <= 0 {
		profile.Temperature = 0.2
	}
	if profile.MaxOutputTokens <= 0 {
		profile.MaxOutputTokens = 4000
	}
	r.generators[generator.Name()] = generator
	r.defaults[generator.Name()] = profile
}

// Resolve picks the generator for provider (or the default provider) and
// the model to use, falling back to the provider's default model.
func (r *Registry) Resolve(provider, model string) (TextGenerator, ModelProfile, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = r.fallback
	}
	generator, ok := r.generators[provider]
	if !ok {
		return nil, ModelProfile{}, fmt.Errorf("provider %q is not registered", provider)
	}
	profile := r.defaults[provider]
	if trimmed := strings.TrimSpace(model); trimmed != "" {
		profile.Model = trimmed
	}
	return generator, profile, nil
}
