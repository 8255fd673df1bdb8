package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/cache"
	"github.com/iago/lead-intel/internal/domain"
	"github.com/iago/lead-intel/internal/metrics"
	"github.com/iago/lead-intel/internal/progress"
	"github.com/iago/lead-intel/internal/queue"
	"github.com/iago/lead-intel/internal/repository"
	"github.com/iago/lead-intel/internal/tasks"
)

const (
	MaxPromptLength = 4000
	maxUserIDLength = 128
	cancelledReason = "cancelled by user"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when the job state does not allow the operation.
	ErrConflict  = errors.New("operation not allowed in current job state")
	ErrForbidden = errors.New("resource belongs to another user")
)

// taskNamespace scopes deterministic external task ids.
var taskNamespace = uuid.MustParse("6f1d3a52-8c1e-4e0b-9a57-3b8f0c2d7e41")

type SubmitRequest struct {
	UserID           string
	Prompt           string
	JobType          domain.JobType
	SearchProvider   string
	AnalysisProvider string
	AnalysisModel    string
}

// LeadGroupReport is a lead group with its leads.
type LeadGroupReport struct {
	Group domain.LeadGroup
	Leads []domain.Lead
}

// JobReport is everything a status read returns for a job. For jobs served
// from the query cache, results come from the job they were copied from.
type JobReport struct {
	Job         *domain.ResearchJob
	Sources     []domain.Source
	Insights    []domain.Insight
	ActionItems []domain.ActionItem
	LeadGroups  []LeadGroupReport
}

type ConvertResult struct {
	ExternalTaskID string `json:"external_task_id"`
	Created        bool   `json:"created"`
}

// ResearchService owns the user-facing job operations. Execution happens in
// Pipeline, driven by queue messages.
type ResearchService struct {
	store    repository.Store
	producer queue.Producer
	tasks    tasks.Publisher
	progress progress.Broadcaster
	logger   zerolog.Logger
	now      func() time.Time
}

func NewResearchService(
	store repository.Store,
	producer queue.Producer,
	taskPublisher tasks.Publisher,
	broadcaster progress.Broadcaster,
	logger zerolog.Logger,
) *ResearchService {
	if broadcaster == nil {
		broadcaster = progress.Nop{}
	}
	return &ResearchService{
		store:    store,
		producer: producer,
		tasks:    taskPublisher,
		progress: broadcaster,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ResearchService) Submit(ctx context.Context, request SubmitRequest) (*domain.ResearchJob, error) {
	userID := strings.TrimSpace(request.UserID)
	prompt := strings.TrimSpace(request.Prompt)
	if userID == "" || len(userID) > maxUserIDLength {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if prompt == "" || cache.NormalizePrompt(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return nil, fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidInput, MaxPromptLength)
	}
	jobType := request.JobType
	if jobType == "" {
		jobType = domain.JobTypeResearch
	}
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: unknown job_type %q", ErrInvalidInput, jobType)
	}

	now := s.now()
	job := &domain.ResearchJob{
		ID:               uuid.NewString(),
		UserID:           userID,
		Type:             jobType,
		Prompt:           prompt,
		PromptHash:       cache.ComputeQueryKey(userID, prompt),
		Status:           domain.JobStatusPending,
		SearchProvider:   strings.ToLower(strings.TrimSpace(request.SearchProvider)),
		AnalysisProvider: strings.ToLower(strings.TrimSpace(request.AnalysisProvider)),
		AnalysisModel:    strings.TrimSpace(request.AnalysisModel),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.IncJob(string(domain.JobStatusPending))

	if err := s.enqueue(ctx, job, domain.MessageKindRun); err != nil {
		return nil, err
	}
	progress.Emit(s.progress, job.ID, domain.JobStatusPending, "Research job queued")
	return job, nil
}

func (s *ResearchService) Status(ctx context.Context, jobID string) (*JobReport, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	report := &JobReport{Job: job}
	if job.Status != domain.JobStatusCompleted && job.Status != domain.JobStatusFailed {
		return report, nil
	}

	resultID := job.ResultJobID()
	if report.Sources, err = s.store.ListJobSources(ctx, resultID); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if report.Insights, err = s.store.ListInsights(ctx, resultID); err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	if report.ActionItems, err = s.store.ListActionItems(ctx, resultID); err != nil {
		return nil, fmt.Errorf("list action items: %w", err)
	}
	groups, err := s.store.ListLeadGroupsByJob(ctx, resultID)
	if err != nil {
		return nil, fmt.Errorf("list lead groups: %w", err)
	}
	for _, group := range groups {
		leads, err := s.store.ListLeads(ctx, group.ID)
		if err != nil {
			return nil, fmt.Errorf("list leads: %w", err)
		}
		report.LeadGroups = append(report.LeadGroups, LeadGroupReport{Group: group, Leads: leads})
	}
	return report, nil
}

// RetryAnalysis re-runs only the analysis stage of a finished job from its
// persisted sources, optionally with another provider and model.
func (s *ResearchService) RetryAnalysis(ctx context.Context, jobID, provider, model string) (*domain.ResearchJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() || job.CachedFromJobID != "" || job.ErrorMessage == cancelledReason {
		return nil, fmt.Errorf("%w: analysis can only be retried on a finished job", ErrConflict)
	}
	sources, err := s.store.ListJobSources(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: job has no persisted sources", ErrConflict)
	}

	if provider = strings.ToLower(strings.TrimSpace(provider)); provider != "" {
		job.AnalysisProvider = provider
		job.AnalysisModel = strings.TrimSpace(model)
	} else if model = strings.TrimSpace(model); model != "" {
		job.AnalysisModel = model
	}
	return s.requeue(ctx, job, domain.MessageKindRetryAnalysis)
}

// Retry re-runs a failed job from discovery, optionally with another search
// provider.
func (s *ResearchService) Retry(ctx context.Context, jobID, searchProvider string) (*domain.ResearchJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusFailed {
		return nil, fmt.Errorf("%w: only failed jobs can be retried", ErrConflict)
	}
	if searchProvider = strings.ToLower(strings.TrimSpace(searchProvider)); searchProvider != "" {
		job.SearchProvider = searchProvider
	}
	return s.requeue(ctx, job, domain.MessageKindRun)
}

// Cancel marks a running job FAILED. The pipeline notices at its next stage
// boundary. Cancelling an already failed job is a no-op.
func (s *ResearchService) Cancel(ctx context.Context, jobID string) (*domain.ResearchJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case domain.JobStatusFailed:
		return job, nil
	case domain.JobStatusCompleted:
		return nil, fmt.Errorf("%w: job already completed", ErrConflict)
	}

	now := s.now()
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = cancelledReason
	job.Retryable = false
	job.UpdatedAt = now
	job.CompletedAt = &now
	if err := s.store.AdvanceJob(ctx, job); err != nil {
		if errors.Is(err, repository.ErrJobTerminal) {
			return s.store.GetJob(ctx, jobID)
		}
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	metrics.IncJob(string(domain.JobStatusFailed))
	progress.Emit(s.progress, job.ID, domain.JobStatusFailed, "Job cancelled")
	return job, nil
}

// ConvertActionItem turns an action item into an external task once. Later
// calls return the stored task id with Created=false.
func (s *ResearchService) ConvertActionItem(ctx context.Context, itemID, userID string) (ConvertResult, error) {
	item, err := s.store.GetActionItem(ctx, itemID)
	if err != nil {
		return ConvertResult{}, err
	}
	job, err := s.store.GetJob(ctx, item.JobID)
	if err != nil {
		return ConvertResult{}, fmt.Errorf("get job: %w", err)
	}
	if userID != "" && job.UserID != userID {
		return ConvertResult{}, ErrForbidden
	}
	if item.ExternalTaskID != "" {
		return ConvertResult{ExternalTaskID: item.ExternalTaskID}, nil
	}

	externalID := uuid.NewSHA1(taskNamespace, []byte(item.ID)).String()
	if _, err := s.tasks.CreateTask(ctx, tasks.TaskRequest{
		ExternalID:   externalID,
		ActionItemID: item.ID,
		JobID:        item.JobID,
		UserID:       job.UserID,
		Title:        item.Description,
		Priority:     item.Priority,
		Effort:       item.Effort,
		RequestedAt:  s.now(),
	}); err != nil {
		return ConvertResult{}, fmt.Errorf("create external task: %w", err)
	}

	stored, err := s.store.SetActionItemTask(ctx, item.ID, externalID)
	if err != nil {
		return ConvertResult{}, fmt.Errorf("record external task: %w", err)
	}
	return ConvertResult{ExternalTaskID: stored, Created: stored == externalID}, nil
}

func (s *ResearchService) SaveTargetProfile(ctx context.Context, profile domain.TargetProfile) (domain.TargetProfile, error) {
	profile.UserID = strings.TrimSpace(profile.UserID)
	if profile.UserID == "" {
		return profile, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	profile.Industries = cleanList(profile.Industries)
	profile.PainPoints = cleanList(profile.PainPoints)
	profile.CompanySize = strings.TrimSpace(profile.CompanySize)
	profile.UpdatedAt = s.now()
	if err := s.store.SaveTargetProfile(ctx, profile); err != nil {
		return profile, fmt.Errorf("save target profile: %w", err)
	}
	return profile, nil
}

func (s *ResearchService) requeue(ctx context.Context, job *domain.ResearchJob, kind domain.MessageKind) (*domain.ResearchJob, error) {
	job.Status = domain.JobStatusPending
	job.ErrorMessage = ""
	job.Retryable = false
	job.FailedStage = ""
	job.CompletedAt = nil
	job.UpdatedAt = s.now()
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("reset job: %w", err)
	}
	if err := s.enqueue(ctx, job, kind); err != nil {
		return nil, err
	}
	progress.Emit(s.progress, job.ID, domain.JobStatusPending, "Retry queued")
	return job, nil
}

func (s *ResearchService) enqueue(ctx context.Context, job *domain.ResearchJob, kind domain.MessageKind) error {
	message := domain.QueueMessage{
		JobID:            job.ID,
		Kind:             kind,
		UserID:           job.UserID,
		SearchProvider:   job.SearchProvider,
		AnalysisProvider: job.AnalysisProvider,
		AnalysisModel:    job.AnalysisModel,
		Attempt:          0,
		RequestedAt:      s.now(),
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		now := s.now()
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = err.Error()
		job.Retryable = true
		job.UpdatedAt = now
		job.CompletedAt = &now
		_ = s.store.UpdateJob(ctx, job)
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, value := range values {
		value = strings.Join(strings.Fields(value), " ")
		key := strings.ToLower(value)
		if value == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}
	return out
}
