package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iago/lead-intel/internal/domain"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps all pipeline state in memory for local development and tests.
type MemoryStore struct {
	mu sync.RWMutex

	jobs        map[string]*domain.ResearchJob
	sources     map[string]domain.Source
	jobSources  map[string][]string
	insights    map[string][]domain.Insight
	actionItems map[string]*domain.ActionItem
	jobItems    map[string][]string

	groups     map[string]domain.LeadGroup
	leads      map[string]*domain.Lead
	groupLeads map[string][]string
	profiles   map[string]domain.TargetProfile
	pipelines  map[string]*domain.SalesPipeline
	crmLeads   map[string]domain.CRMLead
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]*domain.ResearchJob),
		sources:     make(map[string]domain.Source),
		jobSources:  make(map[string][]string),
		insights:    make(map[string][]domain.Insight),
		actionItems: make(map[string]*domain.ActionItem),
		jobItems:    make(map[string][]string),
		groups:      make(map[string]domain.LeadGroup),
		leads:       make(map[string]*domain.Lead),
		groupLeads:  make(map[string][]string),
		profiles:    make(map[string]domain.TargetProfile),
		pipelines:   make(map[string]*domain.SalesPipeline),
		crmLeads:    make(map[string]domain.CRMLead),
		now:         time.Now,
	}
}

func (s *MemoryStore) CreateJob(_ context.Context, job *domain.ResearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, job *domain.ResearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) AdvanceJob(_ context.Context, job *domain.ResearchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status.Terminal() {
		return ErrJobTerminal
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*domain.ResearchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) LatestCompletedByHash(_ context.Context, promptHash string, jobType domain.JobType, since time.Time) (*domain.ResearchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.ResearchJob
	for _, job := range s.jobs {
		if job.PromptHash != promptHash || job.Type != jobType || job.Status != domain.JobStatusCompleted || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(since) {
			continue
		}
		if latest == nil || job.CompletedAt.After(*latest.CompletedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

func (s *MemoryStore) SaveSources(_ context.Context, sources []domain.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, source := range sources {
		s.sources[source.ID] = source
	}
	return nil
}

func (s *MemoryStore) RecentSources(_ context.Context, urls []string, since time.Time) (map[string]domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		wanted[url] = struct{}{}
	}

	out := make(map[string]domain.Source)
	for _, source := range s.sources {
		if _, ok := wanted[source.URL]; !ok {
			continue
		}
		if source.Content == "" || source.ScrapedAt.Before(since) {
			continue
		}
		if prev, ok := out[source.URL]; ok && !source.ScrapedAt.After(prev.ScrapedAt) {
			continue
		}
		out[source.URL] = source
	}
	return out, nil
}

func (s *MemoryStore) AttachSources(_ context.Context, jobID string, sourceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(s.jobSources[jobID]))
	for _, id := range s.jobSources[jobID] {
		seen[id] = struct{}{}
	}
	for _, id := range sourceIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		s.jobSources[jobID] = append(s.jobSources[jobID], id)
	}
	return nil
}

func (s *MemoryStore) ListJobSources(_ context.Context, jobID string) ([]domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.jobSources[jobID]
	out := make([]domain.Source, 0, len(ids))
	for _, id := range ids {
		if source, ok := s.sources[id]; ok {
			out = append(out, source)
		}
	}
	return out, nil
}

func (s *MemoryStore) ReplaceResults(_ context.Context, jobID string, insights []domain.Insight, items []domain.ActionItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.jobItems[jobID] {
		delete(s.actionItems, id)
	}
	s.insights[jobID] = append([]domain.Insight(nil), insights...)

	ids := make([]string, 0, len(items))
	for i := range items {
		item := items[i]
		s.actionItems[item.ID] = &item
		ids = append(ids, item.ID)
	}
	s.jobItems[jobID] = ids
	return nil
}

func (s *MemoryStore) ListInsights(_ context.Context, jobID string) ([]domain.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.Insight(nil), s.insights[jobID]...), nil
}

func (s *MemoryStore) ListActionItems(_ context.Context, jobID string) ([]domain.ActionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ActionItem, 0, len(s.jobItems[jobID]))
	for _, id := range s.jobItems[jobID] {
		if item, ok := s.actionItems[id]; ok {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetActionItem(_ context.Context, itemID string) (*domain.ActionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.actionItems[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryStore) SetActionItemTask(_ context.Context, itemID, externalTaskID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.actionItems[itemID]
	if !ok {
		return "", ErrNotFound
	}
	if item.ExternalTaskID == "" {
		item.ExternalTaskID = externalTaskID
	}
	return item.ExternalTaskID, nil
}

func (s *MemoryStore) CreateLeadGroup(_ context.Context, group domain.LeadGroup, leads []domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups[group.ID] = group
	ids := make([]string, 0, len(leads))
	for i := range leads {
		lead := leads[i].Clone()
		lead.GroupID = group.ID
		s.leads[lead.ID] = lead
		ids = append(ids, lead.ID)
	}
	s.groupLeads[group.ID] = ids
	return nil
}

func (s *MemoryStore) GetLeadGroup(_ context.Context, groupID string) (*domain.LeadGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	return &group, nil
}

func (s *MemoryStore) ListLeadGroupsByJob(_ context.Context, jobID string) ([]domain.LeadGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LeadGroup
	for _, group := range s.groups {
		if group.JobID == jobID {
			out = append(out, group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListLeads(_ context.Context, groupID string) ([]domain.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.groupLeads[groupID]
	out := make([]domain.Lead, 0, len(ids))
	for _, id := range ids {
		if lead, ok := s.leads[id]; ok {
			out = append(out, *lead.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) GetLead(_ context.Context, leadID string) (*domain.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lead, ok := s.leads[leadID]
	if !ok {
		return nil, ErrNotFound
	}
	return lead.Clone(), nil
}

func (s *MemoryStore) UpdateLeadScore(_ context.Context, leadID string, score int, tier domain.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[leadID]
	if !ok {
		return ErrNotFound
	}
	lead.Score = score
	lead.Tier = tier
	lead.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) GetTargetProfile(_ context.Context, userID string) (*domain.TargetProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	profile.Industries = append([]string(nil), profile.Industries...)
	profile.PainPoints = append([]string(nil), profile.PainPoints...)
	return &profile, nil
}

func (s *MemoryStore) SaveTargetProfile(_ context.Context, profile domain.TargetProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile.Industries = append([]string(nil), profile.Industries...)
	profile.PainPoints = append([]string(nil), profile.PainPoints...)
	s.profiles[profile.UserID] = profile
	return nil
}

func (s *MemoryStore) GetDefaultPipeline(_ context.Context, userID string) (*domain.SalesPipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pipeline, ok := s.pipelines[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePipeline(pipeline), nil
}

func (s *MemoryStore) EnsureDefaultPipeline(_ context.Context, candidate domain.SalesPipeline) (*domain.SalesPipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pipelines[candidate.UserID]; ok {
		return clonePipeline(existing), nil
	}
	stored := clonePipeline(&candidate)
	stored.IsDefault = true
	s.pipelines[candidate.UserID] = stored
	return clonePipeline(stored), nil
}

func (s *MemoryStore) PromoteLead(_ context.Context, leadID string, record domain.CRMLead) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[leadID]
	if !ok {
		return "", false, ErrNotFound
	}
	if lead.PromotedToCRMID != "" {
		return lead.PromotedToCRMID, false, nil
	}
	s.crmLeads[record.ID] = record
	lead.PromotedToCRMID = record.ID
	lead.UpdatedAt = s.now().UTC()
	return record.ID, true, nil
}

func (s *MemoryStore) GetCRMLead(_ context.Context, crmID string) (*domain.CRMLead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.crmLeads[crmID]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

// CountCRMLeads reports how many CRM records exist for a user.
func (s *MemoryStore) CountCRMLeads(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, record := range s.crmLeads {
		if record.UserID == userID {
			count++
		}
	}
	return count
}

func clonePipeline(p *domain.SalesPipeline) *domain.SalesPipeline {
	cp := *p
	cp.Stages = append([]domain.PipelineStage(nil), p.Stages...)
	return &cp
}
