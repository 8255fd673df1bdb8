package scoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iago/lead-intel/internal/domain"
	"github.com/iago/lead-intel/internal/metrics"
	"github.com/iago/lead-intel/internal/repository"
)

// ErrGroupOwnership is returned when a lead group belongs to another user.
var ErrGroupOwnership = errors.New("lead group belongs to another user")

type Service struct {
	leads  repository.LeadsRepository
	logger zerolog.Logger
}

func NewService(leads repository.LeadsRepository, logger zerolog.Logger) *Service {
	return &Service{leads: leads, logger: logger}
}

// ScoreBatch scores the unscored leads of a group, or every lead when
// rescore is set, and returns counts of the tiers assigned in this call.
func (s *Service) ScoreBatch(ctx context.Context, groupID, userID string, rescore bool) (domain.TierCounts, error) {
	var counts domain.TierCounts

	group, err := s.leads.GetLeadGroup(ctx, groupID)
	if err != nil {
		return counts, fmt.Errorf("get lead group: %w", err)
	}
	if group.UserID != userID {
		return counts, ErrGroupOwnership
	}

	profile, err := s.leads.GetTargetProfile(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		profile = nil
	} else if err != nil {
		return counts, fmt.Errorf("get target profile: %w", err)
	}

	leads, err := s.leads.ListLeads(ctx, groupID)
	if err != nil {
		return counts, fmt.Errorf("list leads: %w", err)
	}

	for _, lead := range leads {
		if !rescore && lead.Tier != domain.TierUnscored && lead.Tier != "" {
			continue
		}
		score, tier, breakdown := Score(lead, profile)
		if err := s.leads.UpdateLeadScore(ctx, lead.ID, score, tier); err != nil {
			return counts, fmt.Errorf("update lead %s: %w", lead.ID, err)
		}
		counts.Add(tier)
		metrics.IncLeadScored(string(tier))
		s.logger.Debug().
			Str("lead_id", lead.ID).
			Int("score", score).
			Str("tier", string(tier)).
			Interface("breakdown", breakdown).
			Msg("lead scored")
	}

	s.logger.Info().
		Str("group_id", groupID).
		Int("scored", counts.Scored).
		Int("hot", counts.Hot).
		Int("warm", counts.Warm).
		Msg("lead group scored")
	return counts, nil
}
