package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/domain"
	"github.com/iago/lead-intel/internal/metrics"
	"github.com/iago/lead-intel/internal/repository"
)

var ErrLeadOwnership = errors.New("lead belongs to another user")

const defaultPipelineName = "Sales Pipeline"

type stageTemplate struct {
	name        string
	probability float64
	closed      bool
	won         bool
}

var defaultStages = []stageTemplate{
	{name: "Discovery", probability: 0.1},
	{name: "Qualification", probability: 0.25},
	{name: "Proposal", probability: 0.5},
	{name: "Negotiation", probability: 0.75},
	{name: "Closed Won", probability: 1.0, closed: true, won: true},
	{name: "Closed Lost", probability: 0, closed: true},
}

// Result describes the outcome of promoting one lead.
type Result struct {
	Promoted bool        `json:"promoted"`
	Tier     domain.Tier `json:"tier"`
	CRMID    string      `json:"crm_id,omitempty"`
}

type BatchResult struct {
	Promoted int `json:"promoted"`
	Skipped  int `json:"skipped"`
	Hot      int `json:"hot"`
	Warm     int `json:"warm"`
}

type Service struct {
	leads  repository.LeadsRepository
	crm    repository.CRMRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(leads repository.LeadsRepository, crm repository.CRMRepository, logger zerolog.Logger) *Service {
	return &Service{
		leads:  leads,
		crm:    crm,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Promote moves a HOT or WARM lead into the user's default sales pipeline.
// Other tiers and leads promoted earlier are a no-op; for the latter the
// original CRM id is returned.
func (s *Service) Promote(ctx context.Context, leadID, userID string) (Result, error) {
	lead, err := s.leads.GetLead(ctx, leadID)
	if err != nil {
		return Result{}, fmt.Errorf("get lead: %w", err)
	}
	if lead.UserID != userID {
		return Result{}, ErrLeadOwnership
	}
	return s.promote(ctx, lead)
}

// PromoteBatch promotes every eligible lead of a group, one at a time, so the
// first promotion creates the default pipeline and the rest reuse it.
func (s *Service) PromoteBatch(ctx context.Context, groupID, userID string) (BatchResult, error) {
	var out BatchResult

	group, err := s.leads.GetLeadGroup(ctx, groupID)
	if err != nil {
		return out, fmt.Errorf("get lead group: %w", err)
	}
	if group.UserID != userID {
		return out, ErrLeadOwnership
	}
	leads, err := s.leads.ListLeads(ctx, groupID)
	if err != nil {
		return out, fmt.Errorf("list leads: %w", err)
	}

	for i := range leads {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		result, err := s.promote(ctx, &leads[i])
		if err != nil {
			return out, err
		}
		if !result.Promoted {
			out.Skipped++
			continue
		}
		out.Promoted++
		switch result.Tier {
		case domain.TierHot:
			out.Hot++
		case domain.TierWarm:
			out.Warm++
		}
	}

	s.logger.Info().
		Str("group_id", groupID).
		Int("promoted", out.Promoted).
		Int("skipped", out.Skipped).
		Msg("lead group promoted")
	return out, nil
}

func (s *Service) promote(ctx context.Context, lead *domain.Lead) (Result, error) {
	result := Result{Tier: lead.Tier, CRMID: lead.PromotedToCRMID}
	if lead.PromotedToCRMID != "" || !lead.Tier.Promotable() {
		return result, nil
	}

	pipeline, err := s.defaultPipeline(ctx, lead.UserID)
	if err != nil {
		return Result{}, err
	}
	stage, ok := pipeline.EntryStage()
	if !ok {
		return Result{}, fmt.Errorf("pipeline %s has no entry stage", pipeline.ID)
	}

	status := domain.CRMLeadStatusNew
	if lead.Tier == domain.TierHot {
		status = domain.CRMLeadStatusQualified
	}
	record := domain.CRMLead{
		ID:           uuid.NewString(),
		UserID:       lead.UserID,
		SourceLeadID: lead.ID,
		PipelineID:   pipeline.ID,
		StageID:      stage.ID,
		Name:         lead.Name,
		Email:        lead.Email,
		Company:      lead.Company,
		Status:       status,
		Score:        lead.Score,
		Tier:         lead.Tier,
		CreatedAt:    s.now(),
	}

	crmID, created, err := s.crm.PromoteLead(ctx, lead.ID, record)
	if err != nil {
		return Result{}, fmt.Errorf("promote lead %s: %w", lead.ID, err)
	}
	result.CRMID = crmID
	result.Promoted = created
	if created {
		metrics.IncLeadPromoted(string(lead.Tier))
		s.logger.Debug().
			Str("lead_id", lead.ID).
			Str("crm_id", crmID).
			Str("status", string(status)).
			Msg("lead promoted")
	}
	return result, nil
}

func (s *Service) defaultPipeline(ctx context.Context, userID string) (*domain.SalesPipeline, error) {
	pipeline, err := s.crm.GetDefaultPipeline(ctx, userID)
	if err == nil {
		return pipeline, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get default pipeline: %w", err)
	}
	pipeline, err = s.crm.EnsureDefaultPipeline(ctx, NewDefaultPipeline(userID, s.now()))
	if err != nil {
		return nil, fmt.Errorf("create default pipeline: %w", err)
	}
	return pipeline, nil
}

// NewDefaultPipeline builds the canonical six-stage funnel for a user.
func NewDefaultPipeline(userID string, now time.Time) domain.SalesPipeline {
	pipeline := domain.SalesPipeline{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      defaultPipelineName,
		IsDefault: true,
		CreatedAt: now,
	}
	for i, tmpl := range defaultStages {
		pipeline.Stages = append(pipeline.Stages, domain.PipelineStage{
			ID:               uuid.NewString(),
			PipelineID:       pipeline.ID,
			Name:             tmpl.name,
			Order:            i + 1,
			CloseProbability: tmpl.probability,
			Closed:           tmpl.closed,
			Won:              tmpl.won,
		})
	}
	return pipeline
}
