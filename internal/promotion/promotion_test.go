package promotion

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/lead-intel/internal/domain"
	"github.com/iago/lead-intel/internal/repository"
)

func seed(t *testing.T, store *repository.MemoryStore, leads ...domain.Lead) {
	t.Helper()
	for i := range leads {
		leads[i].UserID = "u1"
	}
	require.NoError(t, store.CreateLeadGroup(context.Background(),
		domain.LeadGroup{ID: "g1", JobID: "j1", UserID: "u1"}, leads))
}

func TestPromoteHotLeadOnce(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seed(t, store, domain.Lead{ID: "hot", Name: "Ana", Company: "Acme", Score: 90, Tier: domain.TierHot})
	service := NewService(store, store, zerolog.Nop())

	first, err := service.Promote(ctx, "hot", "u1")
	require.NoError(t, err)
	assert.True(t, first.Promoted)
	require.NotEmpty(t, first.CRMID)

	second, err := service.Promote(ctx, "hot", "u1")
	require.NoError(t, err)
	assert.False(t, second.Promoted)
	assert.Equal(t, first.CRMID, second.CRMID)
	assert.Equal(t, 1, store.CountCRMLeads("u1"))

	record, err := store.GetCRMLead(ctx, first.CRMID)
	require.NoError(t, err)
	assert.Equal(t, domain.CRMLeadStatusQualified, record.Status)

	pipeline, err := store.GetDefaultPipeline(ctx, "u1")
	require.NoError(t, err)
	entry, ok := pipeline.EntryStage()
	require.True(t, ok)
	assert.Equal(t, "Discovery", entry.Name)
	assert.Equal(t, entry.ID, record.StageID)
}

func TestPromoteSkipsIneligibleTiers(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seed(t, store,
		domain.Lead{ID: "cold", Tier: domain.TierCold},
		domain.Lead{ID: "discard", Tier: domain.TierDiscard},
		domain.Lead{ID: "unscored", Tier: domain.TierUnscored},
	)
	service := NewService(store, store, zerolog.Nop())

	for _, id := range []string{"cold", "discard", "unscored"} {
		result, err := service.Promote(ctx, id, "u1")
		require.NoError(t, err)
		assert.False(t, result.Promoted, id)
		assert.Empty(t, result.CRMID, id)
	}
	_, err := store.GetDefaultPipeline(ctx, "u1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPromoteRejectsOtherUser(t *testing.T) {
	store := repository.NewMemoryStore()
	seed(t, store, domain.Lead{ID: "hot", Tier: domain.TierHot})

	_, err := NewService(store, store, zerolog.Nop()).Promote(context.Background(), "hot", "u2")
	assert.ErrorIs(t, err, ErrLeadOwnership)
}

func TestPromoteBatchCreatesOnePipeline(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seed(t, store,
		domain.Lead{ID: "h1", Tier: domain.TierHot},
		domain.Lead{ID: "w1", Tier: domain.TierWarm},
		domain.Lead{ID: "w2", Tier: domain.TierWarm},
		domain.Lead{ID: "c1", Tier: domain.TierCold},
	)
	service := NewService(store, store, zerolog.Nop())

	result, err := service.PromoteBatch(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Promoted: 3, Skipped: 1, Hot: 1, Warm: 2}, result)

	pipeline, err := store.GetDefaultPipeline(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pipeline.Stages, 6)
	assert.Equal(t, 0.75, pipeline.Stages[3].CloseProbability)
	assert.True(t, pipeline.Stages[4].Won)
	assert.True(t, pipeline.Stages[5].Closed)
	assert.False(t, pipeline.Stages[5].Won)

	for _, id := range []string{"h1", "w1", "w2"} {
		lead, err := store.GetLead(ctx, id)
		require.NoError(t, err)
		record, err := store.GetCRMLead(ctx, lead.PromotedToCRMID)
		require.NoError(t, err)
		assert.Equal(t, pipeline.ID, record.PipelineID)
	}
	w1, _ := store.GetLead(ctx, "w1")
	record, _ := store.GetCRMLead(ctx, w1.PromotedToCRMID)
	assert.Equal(t, domain.CRMLeadStatusNew, record.Status)

	again, err := service.PromoteBatch(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Skipped: 4}, again)
	assert.Equal(t, 3, store.CountCRMLeads("u1"))
}

func TestConcurrentPromoteCreatesSingleRecord(t *testing.T) {
	store := repository.NewMemoryStore()
	seed(t, store, domain.Lead{ID: "hot", Tier: domain.TierHot})
	service := NewService(store, store, zerolog.Nop())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Promote(context.Background(), "hot", "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.CountCRMLeads("u1"))
}
