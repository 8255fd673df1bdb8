package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/lead-intel/internal/domain"
	"github.com/iago/lead-intel/internal/http/handlers"
	"github.com/iago/lead-intel/internal/progress"
	"github.com/iago/lead-intel/internal/promotion"
	"github.com/iago/lead-intel/internal/repository"
	"github.com/iago/lead-intel/internal/scoring"
	"github.com/iago/lead-intel/internal/service"
	"github.com/iago/lead-intel/internal/tasks"
)

const testToken = "router-test-token"

type recordingProducer struct {
	mu       sync.Mutex
	messages []domain.QueueMessage
}

func (p *recordingProducer) Enqueue(_ context.Context, message domain.QueueMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type fixture struct {
	store    *repository.MemoryStore
	producer *recordingProducer
	tasks    *tasks.MemoryPublisher
	hub      *progress.Hub
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithProgress(t, nil)
}

// newFixtureWithProgress lets a test wrap the broadcaster the handlers see.
func newFixtureWithProgress(t *testing.T, wrap func(*fixture) progress.Broadcaster) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	f := &fixture{
		store:    repository.NewMemoryStore(),
		producer: &recordingProducer{},
		tasks:    tasks.NewMemoryPublisher(),
		hub:      progress.NewHub(progress.DefaultBuffer, progress.DefaultSubscriberBuffer),
	}
	t.Cleanup(f.hub.Close)

	var broadcaster progress.Broadcaster = f.hub
	if wrap != nil {
		broadcaster = wrap(f)
	}

	research := service.NewResearchService(f.store, f.producer, f.tasks, f.hub, logger)
	api := handlers.NewAPI(
		research,
		scoring.NewService(f.store, logger),
		promotion.NewService(f.store, f.store, logger),
		broadcaster,
		logger,
	)
	f.handler = NewRouter(RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      testToken,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, nil)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+testToken)
	for i := 0; i+1 < len(headers); i += 2 {
		request.Header.Set(headers[i], headers[i+1])
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f *fixture) seedCompletedJob(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.store.CreateJob(ctx, &domain.ResearchJob{
		ID:          "job-done",
		UserID:      "user-1",
		Type:        domain.JobTypeLeadGeneration,
		Prompt:      "fintech leads",
		Status:      domain.JobStatusCompleted,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &now,
	}))
	require.NoError(t, f.store.ReplaceResults(ctx, "job-done",
		[]domain.Insight{{ID: "insight-1", JobID: "job-done", Title: "Reconciliation pain", Category: "market", Confidence: 0.7}},
		[]domain.ActionItem{{ID: "item-1", JobID: "job-done", Description: "Call finance leads", Priority: domain.PriorityHigh, Effort: 2}},
	))
	require.NoError(t, f.store.CreateLeadGroup(ctx,
		domain.LeadGroup{ID: "group-1", JobID: "job-done", UserID: "user-1", CreatedAt: now},
		[]domain.Lead{
			{ID: "lead-1", UserID: "user-1", Name: "Ana", Email: "ana@payco.io", Company: "PayCo", Industry: "Fintech", Tier: domain.TierUnscored},
			{ID: "lead-2", UserID: "user-1", Name: "Bo", Email: "bo@gmail.com", Company: "Shop", Tier: domain.TierUnscored},
		},
	))
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		recorder := httptest.NewRecorder()
		f.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, recorder.Code, path)
	}
}

func TestV1RoutesRequireToken(t *testing.T) {
	f := newFixture(t)

	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/research/job-done", nil))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestSubmitResearchQueuesJob(t *testing.T) {
	f := newFixture(t)

	recorder := f.do(t, http.MethodPost, "/v1/research", `{"user_id":"user-1","prompt":"Find fintech CFOs","job_type":"lead_generation"}`)
	require.Equal(t, http.StatusAccepted, recorder.Code, recorder.Body.String())

	body := decodeBody(t, recorder)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "lead_generation", body["job_type"])
	assert.Equal(t, "/v1/research/"+jobID, body["status_url"])
	assert.Equal(t, 1, f.producer.count())

	status := f.do(t, http.MethodGet, "/v1/research/"+jobID, "")
	require.Equal(t, http.StatusOK, status.Code)
	assert.Equal(t, float64(0), decodeBody(t, status)["source_count"])
}

func TestSubmitResearchValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing prompt", body: `{"user_id":"user-1","prompt":"   "}`},
		{name: "missing user", body: `{"prompt":"fintech"}`},
		{name: "unknown job type", body: `{"user_id":"user-1","prompt":"fintech","job_type":"crawl"}`},
		{name: "unknown field", body: `{"user_id":"user-1","prompt":"fintech","depth":3}`},
		{name: "prompt too long", body: `{"user_id":"user-1","prompt":"` + strings.Repeat("a", service.MaxPromptLength+1) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := f.do(t, http.MethodPost, "/v1/research", tt.body)
			assert.Equal(t, http.StatusBadRequest, recorder.Code, recorder.Body.String())
		})
	}
	assert.Zero(t, f.producer.count())
}

func TestSubmitResearchIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	const key = "submit-key-0123456789"
	payload := `{"user_id":"user-1","prompt":"Find fintech CFOs"}`

	first := f.do(t, http.MethodPost, "/v1/research", payload, "Idempotency-Key", key)
	require.Equal(t, http.StatusAccepted, first.Code)
	second := f.do(t, http.MethodPost, "/v1/research", payload, "Idempotency-Key", key)
	require.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, decodeBody(t, first)["job_id"], decodeBody(t, second)["job_id"])
	assert.Equal(t, 1, f.producer.count())

	conflict := f.do(t, http.MethodPost, "/v1/research", `{"user_id":"user-1","prompt":"Other"}`, "Idempotency-Key", key)
	assert.Equal(t, http.StatusConflict, conflict.Code)

	short := f.do(t, http.MethodPost, "/v1/research", payload, "Idempotency-Key", "short")
	assert.Equal(t, http.StatusBadRequest, short.Code)
}

func TestJobStatusIncludesResults(t *testing.T) {
	f := newFixture(t)
	f.seedCompletedJob(t)

	recorder := f.do(t, http.MethodGet, "/v1/research/job-done", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Len(t, body["insights"], 1)
	assert.Len(t, body["action_items"], 1)
	groups, _ := body["lead_groups"].([]any)
	require.Len(t, groups, 1)
	leads := groups[0].(map[string]any)["leads"].([]any)
	assert.Len(t, leads, 2)

	missing := f.do(t, http.MethodGet, "/v1/research/nope", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestCancelCompletedJobConflicts(t *testing.T) {
	f := newFixture(t)
	f.seedCompletedJob(t)

	recorder := f.do(t, http.MethodPost, "/v1/research/job-done/cancel", "")
	assert.Equal(t, http.StatusConflict, recorder.Code)

	retry := f.do(t, http.MethodPost, "/v1/research/job-done/retry", "")
	assert.Equal(t, http.StatusConflict, retry.Code)
}

func TestConvertActionItemIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedCompletedJob(t)

	first := f.do(t, http.MethodPost, "/v1/action-items/item-1/convert", `{"user_id":"user-1"}`)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := f.do(t, http.MethodPost, "/v1/action-items/item-1/convert", `{"user_id":"user-1"}`)
	require.Equal(t, http.StatusOK, second.Code)

	firstID := decodeBody(t, first)["external_task_id"]
	assert.NotEmpty(t, firstID)
	assert.Equal(t, firstID, decodeBody(t, second)["external_task_id"])
	assert.Len(t, f.tasks.Requests(), 1)

	foreign := f.do(t, http.MethodPost, "/v1/action-items/item-1/convert", `{"user_id":"user-2"}`)
	assert.Equal(t, http.StatusForbidden, foreign.Code)
}

func TestScoreAndPromoteLeadGroup(t *testing.T) {
	f := newFixture(t)
	f.seedCompletedJob(t)

	profile := f.do(t, http.MethodPut, "/v1/users/user-1/target-profile",
		`{"industries":["Fintech"],"company_size":"10-100","pain_points":["manual reconciliation"]}`)
	require.Equal(t, http.StatusOK, profile.Code, profile.Body.String())

	scored := f.do(t, http.MethodPost, "/v1/lead-groups/group-1/score", `{"user_id":"user-1"}`)
	require.Equal(t, http.StatusOK, scored.Code, scored.Body.String())
	assert.Equal(t, float64(2), decodeBody(t, scored)["scored"])

	promoted := f.do(t, http.MethodPost, "/v1/lead-groups/group-1/promote", `{"user_id":"user-1"}`)
	require.Equal(t, http.StatusOK, promoted.Code, promoted.Body.String())
	body := decodeBody(t, promoted)
	assert.Equal(t, float64(2), body["promoted"].(float64)+body["skipped"].(float64))

	foreign := f.do(t, http.MethodPost, "/v1/lead-groups/group-1/score", `{"user_id":"user-2"}`)
	assert.Equal(t, http.StatusForbidden, foreign.Code)

	missingUser := f.do(t, http.MethodPost, "/v1/leads/lead-1/promote", `{}`)
	assert.Equal(t, http.StatusBadRequest, missingUser.Code)

	single := f.do(t, http.MethodPost, "/v1/leads/lead-1/promote", `{"user_id":"user-1"}`)
	assert.Equal(t, http.StatusOK, single.Code)
}

func dialEvents(t *testing.T, server *httptest.Server, jobID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/research/" + jobID + "/events?access_token=" + testToken
	conn, response, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestJobEventsStreamsUntilTerminal(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	require.NoError(t, f.store.CreateJob(context.Background(), &domain.ResearchJob{
		ID: "job-live", UserID: "user-1", Type: domain.JobTypeResearch, Prompt: "p",
		Status: domain.JobStatusDiscovering, CreatedAt: now, UpdatedAt: now,
	}))
	server := httptest.NewServer(f.handler)
	defer server.Close()

	conn := dialEvents(t, server, "job-live")

	var event domain.ProgressEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, domain.JobStatusDiscovering, event.Status)

	progress.Emit(f.hub, "job-other", domain.JobStatusScraping, "not for this job")
	progress.Emit(f.hub, "job-live", domain.JobStatusScraping, "Collected %d of %d sources", 2, 3)
	progress.Emit(f.hub, "job-live", domain.JobStatusCompleted, "Done")

	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "Collected 2 of 3 sources", event.Message)
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, domain.JobStatusCompleted, event.Status)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestJobEventsForFinishedJobClosesAfterStatus(t *testing.T) {
	f := newFixture(t)
	f.seedCompletedJob(t)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	conn := dialEvents(t, server, "job-done")

	var event domain.ProgressEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, domain.JobStatusCompleted, event.Status)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

// finishOnSubscribe completes the job the moment a subscriber joins, without
// publishing anything, like a pipeline finishing just before the socket opens.
type finishOnSubscribe struct {
	progress.Broadcaster
	t     *testing.T
	store *repository.MemoryStore
}

func (b finishOnSubscribe) Subscribe(jobID string) *progress.Subscription {
	subscription := b.Broadcaster.Subscribe(jobID)
	job, err := b.store.GetJob(context.Background(), jobID)
	if err == nil {
		job.Status = domain.JobStatusCompleted
		require.NoError(b.t, b.store.UpdateJob(context.Background(), job))
	}
	return subscription
}

func TestJobEventsReadsStatusAfterSubscribing(t *testing.T) {
	f := newFixtureWithProgress(t, func(f *fixture) progress.Broadcaster {
		return finishOnSubscribe{Broadcaster: f.hub, t: t, store: f.store}
	})
	now := time.Now().UTC()
	require.NoError(t, f.store.CreateJob(context.Background(), &domain.ResearchJob{
		ID: "job-racing", UserID: "user-1", Type: domain.JobTypeResearch, Prompt: "p",
		Status: domain.JobStatusAnalyzing, CreatedAt: now, UpdatedAt: now,
	}))
	server := httptest.NewServer(f.handler)
	defer server.Close()

	conn := dialEvents(t, server, "job-racing")

	var event domain.ProgressEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, domain.JobStatusCompleted, event.Status)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}
