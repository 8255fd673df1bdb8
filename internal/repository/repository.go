package repository

import (
	"context"
	"errors"
	"time"

	"github.com/iago/lead-intel/internal/domain"
)

var (
	ErrNotFound = errors.New("resource not found")
	// ErrJobTerminal is returned by AdvanceJob when the stored job already
	// reached COMPLETED or FAILED.
	ErrJobTerminal = errors.New("job already terminal")
)

// JobsRepository persists research jobs.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.ResearchJob) error
	// UpdateJob overwrites the stored job unconditionally.
	UpdateJob(ctx context.Context, job *domain.ResearchJob) error
	// AdvanceJob overwrites the stored job only while it is not terminal.
	AdvanceJob(ctx context.Context, job *domain.ResearchJob) error
	GetJob(ctx context.Context, jobID string) (*domain.ResearchJob, error)
	// LatestCompletedByHash returns the most recently completed job of the
	// given type and prompt hash completed at or after since.
	LatestCompletedByHash(ctx context.Context, promptHash string, jobType domain.JobType, since time.Time) (*domain.ResearchJob, error)
}

// SourcesRepository stores scraped pages and their job associations.
type SourcesRepository interface {
	SaveSources(ctx context.Context, sources []domain.Source) error
	// RecentSources returns, per URL, the most recently scraped non-empty
	// source scraped at or after since.
	RecentSources(ctx context.Context, urls []string, since time.Time) (map[string]domain.Source, error)
	AttachSources(ctx context.Context, jobID string, sourceIDs []string) error
	ListJobSources(ctx context.Context, jobID string) ([]domain.Source, error)
}

// ResultsRepository stores analysis output per job.
type ResultsRepository interface {
	// ReplaceResults swaps the insights and action items of a job in one step.
	ReplaceResults(ctx context.Context, jobID string, insights []domain.Insight, items []domain.ActionItem) error
	ListInsights(ctx context.Context, jobID string) ([]domain.Insight, error)
	ListActionItems(ctx context.Context, jobID string) ([]domain.ActionItem, error)
	GetActionItem(ctx context.Context, itemID string) (*domain.ActionItem, error)
	// SetActionItemTask records the external task id if none is set yet and
	// returns the id that is stored after the call.
	SetActionItemTask(ctx context.Context, itemID, externalTaskID string) (string, error)
}

// LeadsRepository stores lead groups, leads and targeting profiles.
type LeadsRepository interface {
	CreateLeadGroup(ctx context.Context, group domain.LeadGroup, leads []domain.Lead) error
	GetLeadGroup(ctx context.Context, groupID string) (*domain.LeadGroup, error)
	ListLeadGroupsByJob(ctx context.Context, jobID string) ([]domain.LeadGroup, error)
	ListLeads(ctx context.Context, groupID string) ([]domain.Lead, error)
	GetLead(ctx context.Context, leadID string) (*domain.Lead, error)
	UpdateLeadScore(ctx context.Context, leadID string, score int, tier domain.Tier) error

	GetTargetProfile(ctx context.Context, userID string) (*domain.TargetProfile, error)
	SaveTargetProfile(ctx context.Context, profile domain.TargetProfile) error
}

// CRMRepository stores sales pipelines and promoted CRM leads.
type CRMRepository interface {
	GetDefaultPipeline(ctx context.Context, userID string) (*domain.SalesPipeline, error)
	// EnsureDefaultPipeline stores candidate as the user's default pipeline
	// unless one exists, and returns the stored default.
	EnsureDefaultPipeline(ctx context.Context, candidate domain.SalesPipeline) (*domain.SalesPipeline, error)
	// PromoteLead creates record and marks the lead as promoted in one step.
	// When the lead was promoted earlier, the existing CRM id is returned with
	// created=false and record is discarded.
	PromoteLead(ctx context.Context, leadID string, record domain.CRMLead) (crmID string, created bool, err error)
	GetCRMLead(ctx context.Context, crmID string) (*domain.CRMLead, error)
}

// Store groups every repository the pipeline needs.
type Store interface {
	JobsRepository
	SourcesRepository
	ResultsRepository
	LeadsRepository
	CRMRepository
}
