package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/ai"
	"github.com/iago/lead-intel/internal/domain"
	"github.com/iago/lead-intel/internal/metrics"
)

var errNoContent = errors.New("no source content to analyze")

type Config struct {
	PromptsDir        string
	MaxCharsPerSource int
	MaxTotalChars     int
}

// Request is the input of one analysis call.
type Request struct {
	Prompt   string
	JobType  domain.JobType
	Sources  []domain.Source
	Provider string
	Model    string
}

// Analyzer turns aggregated source content into insights, action items and,
// for lead jobs, leads, using one language model call.
type Analyzer struct {
	registry  *ai.Registry
	templates *templates
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

func NewAnalyzer(registry *ai.Registry, cfg Config, logger zerolog.Logger) *Analyzer {
	if cfg.MaxCharsPerSource <= 0 {
		cfg.MaxCharsPerSource = 12000
	}
	if cfg.MaxTotalChars <= 0 {
		cfg.MaxTotalChars = 60000
	}
	return &Analyzer{
		registry:  registry,
		templates: newTemplates(cfg.PromptsDir),
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Analyze runs the analysis call. Returned errors are *domain.PipelineError
// values; missing credentials and unknown providers are permanent, provider
// and output failures are transient.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (domain.AnalysisResult, error) {
	generator, profile, err := a.registry.Resolve(req.Provider, req.Model)
	if err != nil {
		return domain.AnalysisResult{}, domain.Permanent(domain.StageAnalysis, err)
	}
	if !generator.Available() {
		return domain.AnalysisResult{}, domain.Permanent(domain.StageAnalysis,
			fmt.Errorf("%s: %w", generator.Name(), ai.ErrProviderUnavailable))
	}

	sources := aggregateSources(req.Sources, a.cfg.MaxCharsPerSource, a.cfg.MaxTotalChars)
	if len(sources) == 0 {
		return domain.AnalysisResult{}, domain.Transient(domain.StageAnalysis, errNoContent)
	}

	data := promptData{Prompt: req.Prompt, IncludeLeads: req.JobType.IncludesLeads(), Sources: sources}
	instructions, err := a.templates.render(instructionsTemplate, data)
	if err != nil {
		return domain.AnalysisResult{}, domain.Permanent(domain.StageAnalysis, err)
	}
	input, err := a.templates.render(inputTemplate, data)
	if err != nil {
		return domain.AnalysisResult{}, domain.Permanent(domain.StageAnalysis, err)
	}

	started := time.Now()
	output, err := generator.Generate(ctx, ai.GenerateRequest{
		Model:           profile.Model,
		Instructions:    instructions,
		Input:           input,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
		JSONOutput:      true,
	})
	metrics.ObserveAnalysis(generator.Name(), profile.Model, err == nil, time.Since(started))
	if err != nil {
		if errors.Is(err, ai.ErrProviderUnavailable) || ai.IsAuthError(err) {
			return domain.AnalysisResult{}, domain.Permanent(domain.StageAnalysis, err)
		}
		return domain.AnalysisResult{}, domain.Transient(domain.StageAnalysis, err)
	}

	result, err := parseOutput(output.Text, req.JobType.IncludesLeads())
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("provider", generator.Name()).
			Str("model", output.ModelID).
			Msg("analysis output rejected")
		return domain.AnalysisResult{}, domain.Transient(domain.StageAnalysis, fmt.Errorf("%s output: %w", generator.Name(), err))
	}

	a.stamp(&result)
	result.Provider = generator.Name()
	result.Model = firstNonEmpty(output.ModelID, profile.Model)

	a.logger.Info().
		Str("provider", result.Provider).
		Str("model", result.Model).
		Int("sources", len(sources)).
		Int("insights", len(result.Insights)).
		Int("action_items", len(result.ActionItems)).
		Int("leads", len(result.Leads)).
		Int("total_tokens", output.Usage.TotalTokens).
		Msg("analysis finished")
	return result, nil
}

func (a *Analyzer) stamp(result *domain.AnalysisResult) {
	now := a.now()
	for i := range result.Insights {
		result.Insights[i].ID = uuid.NewString()
		result.Insights[i].CreatedAt = now
	}
	for i := range result.ActionItems {
		result.ActionItems[i].ID = uuid.NewString()
		result.ActionItems[i].CreatedAt = now
	}
	for i := range result.Leads {
		result.Leads[i].ID = uuid.NewString()
		result.Leads[i].Tier = domain.TierUnscored
		result.Leads[i].CreatedAt = now
		result.Leads[i].UpdatedAt = now
	}
}
