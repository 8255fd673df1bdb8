package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/lead-intel/internal/domain"
)

func TestAdvanceJobRejectsTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job := &domain.ResearchJob{ID: "job-1", Status: domain.JobStatusDiscovering}
	require.NoError(t, store.CreateJob(ctx, job))

	failed := job.Clone()
	failed.Status = domain.JobStatusFailed
	require.NoError(t, store.UpdateJob(ctx, failed))

	next := job.Clone()
	next.Status = domain.JobStatusScraping
	assert.ErrorIs(t, store.AdvanceJob(ctx, next), ErrJobTerminal)

	stored, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
}

func TestLatestCompletedByHashPicksNewest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	older := now.Add(-2 * time.Hour)
	newer := now.Add(-1 * time.Hour)

	require.NoError(t, store.CreateJob(ctx, &domain.ResearchJob{ID: "a", Type: domain.JobTypeResearch, PromptHash: "h", Status: domain.JobStatusCompleted, CompletedAt: &older}))
	require.NoError(t, store.CreateJob(ctx, &domain.ResearchJob{ID: "b", Type: domain.JobTypeResearch, PromptHash: "h", Status: domain.JobStatusCompleted, CompletedAt: &newer}))
	require.NoError(t, store.CreateJob(ctx, &domain.ResearchJob{ID: "c", Type: domain.JobTypeResearch, PromptHash: "h", Status: domain.JobStatusFailed, CompletedAt: &now}))

	job, err := store.LatestCompletedByHash(ctx, "h", domain.JobTypeResearch, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "b", job.ID)

	_, err = store.LatestCompletedByHash(ctx, "h", domain.JobTypeResearch, now.Add(-30*time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestCompletedByHashFiltersByType(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	older := now.Add(-3 * time.Hour)
	newer := now.Add(-1 * time.Hour)

	require.NoError(t, store.CreateJob(ctx, &domain.ResearchJob{ID: "leads", Type: domain.JobTypeLeadGeneration, PromptHash: "h", Status: domain.JobStatusCompleted, CompletedAt: &older}))
	require.NoError(t, store.CreateJob(ctx, &domain.ResearchJob{ID: "research", Type: domain.JobTypeResearch, PromptHash: "h", Status: domain.JobStatusCompleted, CompletedAt: &newer}))

	job, err := store.LatestCompletedByHash(ctx, "h", domain.JobTypeLeadGeneration, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "leads", job.ID)
}

func TestRecentSourcesMostRecentNonEmptyWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.SaveSources(ctx, []domain.Source{
		{ID: "1", URL: "https://a.example", Content: "old", ScrapedAt: now.Add(-48 * time.Hour)},
		{ID: "2", URL: "https://a.example", Content: "new", ScrapedAt: now.Add(-1 * time.Hour)},
		{ID: "3", URL: "https://a.example", Content: "", ScrapedAt: now},
		{ID: "4", URL: "https://b.example", Content: "stale", ScrapedAt: now.Add(-8 * 24 * time.Hour)},
	}))

	found, err := store.RecentSources(ctx, []string{"https://a.example", "https://b.example"}, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "new", found["https://a.example"].Content)
}

func TestSetActionItemTaskKeepsFirstValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.ReplaceResults(ctx, "job", nil, []domain.ActionItem{{ID: "item", JobID: "job"}}))

	first, err := store.SetActionItemTask(ctx, "item", "task-1")
	require.NoError(t, err)
	second, err := store.SetActionItemTask(ctx, "item", "task-2")
	require.NoError(t, err)
	assert.Equal(t, "task-1", first)
	assert.Equal(t, "task-1", second)
}

func TestPromoteLeadConcurrentCallsCreateOneRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateLeadGroup(ctx, domain.LeadGroup{ID: "g"}, []domain.Lead{{ID: "lead", UserID: "u"}}))

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, _, err := store.PromoteLead(ctx, "lead", domain.CRMLead{ID: string(rune('a' + i)), UserID: "u"})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, store.CountCRMLeads("u"))
}
