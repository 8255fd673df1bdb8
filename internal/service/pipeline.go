package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/analysis"
	"github.com/iago/lead-intel/internal/cache"
	"github.com/iago/lead-intel/internal/discovery"
	"github.com/iago/lead-intel/internal/domain"
	"github.com/iago/lead-intel/internal/extract"
	"github.com/iago/lead-intel/internal/logging"
	"github.com/iago/lead-intel/internal/metrics"
	"github.com/iago/lead-intel/internal/progress"
	"github.com/iago/lead-intel/internal/promotion"
	"github.com/iago/lead-intel/internal/repository"
	"github.com/iago/lead-intel/internal/scoring"
)

// errJobStopped means the job turned terminal outside the pipeline, usually
// through a cancel request.
var errJobStopped = errors.New("job stopped")

type PipelineDependencies struct {
	Store     repository.Store
	Cache     *cache.Layer
	Discovery *discovery.Service
	Extractor *extract.Extractor
	Analyzer  *analysis.Analyzer
	Scoring   *scoring.Service
	Promotion *promotion.Service
	Progress  progress.Broadcaster
	Logger    zerolog.Logger
	// ExtractConcurrency is the scrape chunk size; zero uses the extractor default.
	ExtractConcurrency int
}

// Pipeline executes research jobs stage by stage: query cache, discovery,
// extraction, analysis and, for lead jobs, scoring and promotion.
type Pipeline struct {
	deps PipelineDependencies
	now  func() time.Time
}

func NewPipeline(deps PipelineDependencies) *Pipeline {
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	return &Pipeline{deps: deps, now: func() time.Time { return time.Now().UTC() }}
}

// Handle runs one queue message. Pipeline failures are recorded on the job
// and do not surface as errors; only infrastructure failures do.
func (p *Pipeline) Handle(ctx context.Context, message domain.QueueMessage) error {
	job, err := p.deps.Store.GetJob(ctx, message.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", message.JobID, err)
	}
	if job.Status.Terminal() {
		p.deps.Logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("skipping terminal job")
		return nil
	}

	job.Attempts++
	logger := p.deps.Logger.With().Str("job_id", job.ID).Str("kind", string(message.Kind)).Logger()
	defer logging.TraceDuration(logger, "job")()

	var runErr error
	switch message.Kind {
	case domain.MessageKindRetryAnalysis:
		runErr = p.retryAnalysis(ctx, job, message)
	default:
		runErr = p.run(ctx, job, message)
	}
	if runErr == nil {
		return nil
	}
	return p.fail(ctx, job, runErr, logger)
}

func (p *Pipeline) run(ctx context.Context, job *domain.ResearchJob, message domain.QueueMessage) error {
	if hit := p.deps.Cache.LookupQueryResult(ctx, job.PromptHash, job.Type); hit != nil && hit.ID != job.ID {
		job.CachedFromJobID = hit.ResultJobID()
		progress.Emit(p.deps.Progress, job.ID, job.Status, "Reusing results of an identical request completed at %s", formatTime(hit.CompletedAt))
		return p.complete(ctx, job)
	}

	if err := p.advance(ctx, job, domain.JobStatusDiscovering, "Searching the web for sources"); err != nil {
		return err
	}
	searchProvider := firstNonEmpty(message.SearchProvider, job.SearchProvider)
	urls, err := p.deps.Discovery.Discover(ctx, job.Prompt, searchProvider)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return domain.Transient(domain.StageDiscovery, errors.New("search returned no usable sources"))
	}
	progress.Emit(p.deps.Progress, job.ID, job.Status, "Found %d candidate sources", len(urls))

	if err := p.advance(ctx, job, domain.JobStatusScraping, fmt.Sprintf("Reading %d sources", len(urls))); err != nil {
		return err
	}
	sources, err := p.collectSources(ctx, job, urls)
	if err != nil {
		return err
	}

	return p.analyzeAndComplete(ctx, job, sources, message)
}

func (p *Pipeline) retryAnalysis(ctx context.Context, job *domain.ResearchJob, message domain.QueueMessage) error {
	sources, err := p.deps.Store.ListJobSources(ctx, job.ID)
	if err != nil {
		return domain.Transient(domain.StageAnalysis, fmt.Errorf("list sources: %w", err))
	}
	if len(sources) == 0 {
		return domain.Permanent(domain.StageAnalysis, errors.New("job has no persisted sources"))
	}
	progress.Emit(p.deps.Progress, job.ID, job.Status, "Retrying analysis with %d saved sources", len(sources))
	return p.analyzeAndComplete(ctx, job, sources, message)
}

// collectSources reuses fresh cached pages, extracts the rest and links the
// result to the job in discovery order.
func (p *Pipeline) collectSources(ctx context.Context, job *domain.ResearchJob, urls []string) ([]domain.Source, error) {
	defer logging.TraceDuration(p.deps.Logger, "scraping")()
	cached := p.deps.Cache.LookupURLBatch(ctx, urls)
	missing := make([]string, 0, len(urls))
	for _, url := range urls {
		if _, ok := cached[url]; !ok {
			missing = append(missing, url)
		}
	}

	fresh := map[string]domain.Source{}
	if len(missing) > 0 {
		batch, err := p.deps.Extractor.ExtractBatch(ctx, missing, p.deps.ExtractConcurrency)
		if err != nil {
			if ctx.Err() != nil {
				return nil, domain.Transient(domain.StageScraping, ctx.Err())
			}
			return nil, domain.Transient(domain.StageScraping, err)
		}
		now := p.now()
		newSources := make([]domain.Source, 0, len(batch.Pages))
		for _, page := range batch.Pages {
			source := domain.Source{
				ID:        uuid.NewString(),
				URL:       page.URL,
				Title:     page.Title,
				Content:   page.Content,
				Excerpt:   page.Excerpt,
				Strategy:  page.Strategy,
				ScrapedAt: now,
			}
			newSources = append(newSources, source)
			fresh[source.URL] = source
		}
		if err := p.deps.Store.SaveSources(ctx, newSources); err != nil {
			return nil, domain.Transient(domain.StageScraping, fmt.Errorf("save sources: %w", err))
		}
	}

	sources := make([]domain.Source, 0, len(urls))
	ids := make([]string, 0, len(urls))
	for _, url := range urls {
		source, ok := cached[url]
		if !ok {
			source, ok = fresh[url]
		}
		if !ok {
			continue
		}
		sources = append(sources, source)
		ids = append(ids, source.ID)
	}
	if len(sources) == 0 {
		return nil, domain.Transient(domain.StageScraping, errors.New("no source could be extracted"))
	}
	if err := p.deps.Store.AttachSources(ctx, job.ID, ids); err != nil {
		return nil, domain.Transient(domain.StageScraping, fmt.Errorf("attach sources: %w", err))
	}

	progress.Emit(p.deps.Progress, job.ID, job.Status,
		"Collected %d of %d sources (%d from cache)", len(sources), len(urls), len(cached))
	return sources, nil
}

func (p *Pipeline) analyzeAndComplete(ctx context.Context, job *domain.ResearchJob, sources []domain.Source, message domain.QueueMessage) error {
	provider := firstNonEmpty(message.AnalysisProvider, job.AnalysisProvider)
	model := firstNonEmpty(message.AnalysisModel, job.AnalysisModel)
	if err := p.advance(ctx, job, domain.JobStatusAnalyzing, fmt.Sprintf("Analyzing %d sources", len(sources))); err != nil {
		return err
	}

	result, err := p.deps.Analyzer.Analyze(ctx, analysis.Request{
		Prompt:   job.Prompt,
		JobType:  job.Type,
		Sources:  sources,
		Provider: provider,
		Model:    model,
	})
	if err != nil {
		return err
	}
	job.AnalysisProvider = result.Provider
	job.AnalysisModel = result.Model

	for i := range result.Insights {
		result.Insights[i].JobID = job.ID
	}
	for i := range result.ActionItems {
		result.ActionItems[i].JobID = job.ID
	}
	if err := p.deps.Store.ReplaceResults(ctx, job.ID, result.Insights, result.ActionItems); err != nil {
		return domain.Transient(domain.StageAnalysis, fmt.Errorf("save results: %w", err))
	}
	progress.Emit(p.deps.Progress, job.ID, job.Status,
		"Produced %d insights and %d action items", len(result.Insights), len(result.ActionItems))

	if job.Type.IncludesLeads() && len(result.Leads) > 0 {
		if err := p.processLeads(ctx, job, result.Leads); err != nil {
			return err
		}
	}
	return p.complete(ctx, job)
}

// processLeads stores the extracted leads as a new group, then scores and
// promotes them.
func (p *Pipeline) processLeads(ctx context.Context, job *domain.ResearchJob, leads []domain.Lead) error {
	if err := p.checkpoint(ctx, job); err != nil {
		return err
	}
	group := domain.LeadGroup{ID: uuid.NewString(), JobID: job.ID, UserID: job.UserID, CreatedAt: p.now()}
	for i := range leads {
		leads[i].GroupID = group.ID
		leads[i].UserID = job.UserID
		leads[i].Signals = scoring.ExtractSignals(leads[i].Notes)
	}
	if err := p.deps.Store.CreateLeadGroup(ctx, group, leads); err != nil {
		return domain.Transient(domain.StageScoring, fmt.Errorf("save leads: %w", err))
	}

	counts, err := p.deps.Scoring.ScoreBatch(ctx, group.ID, job.UserID, false)
	if err != nil {
		return domain.Transient(domain.StageScoring, err)
	}
	progress.Emit(p.deps.Progress, job.ID, job.Status,
		"Scored %d leads: %d hot, %d warm, %d cold, %d discarded", counts.Scored, counts.Hot, counts.Warm, counts.Cold, counts.Discard)

	if err := p.checkpoint(ctx, job); err != nil {
		return err
	}
	promoted, err := p.deps.Promotion.PromoteBatch(ctx, group.ID, job.UserID)
	if err != nil {
		return domain.Transient(domain.StagePromotion, err)
	}
	if promoted.Promoted > 0 {
		progress.Emit(p.deps.Progress, job.ID, job.Status,
			"Added %d leads to the sales pipeline (%d hot, %d warm)", promoted.Promoted, promoted.Hot, promoted.Warm)
	}
	return nil
}

// advance persists a status transition unless the job was stopped meanwhile.
func (p *Pipeline) advance(ctx context.Context, job *domain.ResearchJob, status domain.JobStatus, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job.Status = status
	job.UpdatedAt = p.now()
	if err := p.deps.Store.AdvanceJob(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobTerminal) {
			return errJobStopped
		}
		return domain.Transient(stageOf(status), fmt.Errorf("update job: %w", err))
	}
	progress.Emit(p.deps.Progress, job.ID, status, "%s", message)
	return nil
}

// checkpoint stops the run when the stored job turned terminal.
func (p *Pipeline) checkpoint(ctx context.Context, job *domain.ResearchJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, err := p.deps.Store.GetJob(ctx, job.ID)
	if err != nil {
		return nil
	}
	if stored.Status.Terminal() {
		return errJobStopped
	}
	return nil
}

func (p *Pipeline) complete(ctx context.Context, job *domain.ResearchJob) error {
	now := p.now()
	job.Status = domain.JobStatusCompleted
	job.ErrorMessage = ""
	job.Retryable = false
	job.FailedStage = ""
	job.UpdatedAt = now
	job.CompletedAt = &now
	if err := p.deps.Store.AdvanceJob(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobTerminal) {
			return errJobStopped
		}
		return domain.Transient(domain.StageAnalysis, fmt.Errorf("complete job: %w", err))
	}
	metrics.IncJob(string(domain.JobStatusCompleted))
	progress.Emit(p.deps.Progress, job.ID, domain.JobStatusCompleted, "Research completed")
	return nil
}

func (p *Pipeline) fail(ctx context.Context, job *domain.ResearchJob, runErr error, logger zerolog.Logger) error {
	if errors.Is(runErr, errJobStopped) {
		logger.Info().Msg("job stopped before completion")
		return nil
	}

	pe := domain.AsPipelineError(stageOf(job.Status), runErr)
	now := p.now()
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = runErr.Error()
	job.Retryable = pe.Retryable()
	job.FailedStage = pe.Stage
	job.UpdatedAt = now
	job.CompletedAt = &now

	// the run context may be cancelled on shutdown; the failure is still recorded
	writeCtx := context.WithoutCancel(ctx)
	if err := p.deps.Store.AdvanceJob(writeCtx, job); err != nil {
		if errors.Is(err, repository.ErrJobTerminal) {
			return nil
		}
		return fmt.Errorf("mark job failed: %w", err)
	}
	metrics.IncJob(string(domain.JobStatusFailed))
	logger.Warn().
		Err(runErr).
		Str("stage", string(pe.Stage)).
		Bool("retryable", pe.Retryable()).
		Msg("research job failed")
	progress.Emit(p.deps.Progress, job.ID, domain.JobStatusFailed, "Failed during %s: %s", pe.Stage, runErr.Error())
	return nil
}

func stageOf(status domain.JobStatus) domain.Stage {
	switch status {
	case domain.JobStatusDiscovering:
		return domain.StageDiscovery
	case domain.JobStatusScraping:
		return domain.StageScraping
	case domain.JobStatusAnalyzing:
		return domain.StageAnalysis
	default:
		return domain.StageCache
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "an earlier time"
	}
	return t.UTC().Format(time.RFC3339)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
