package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/lead-intel/internal/ai"
	"github.com/iago/lead-intel/internal/domain"
)

type fakeGenerator struct {
	name      string
	available bool
	text      string
	err       error
	requests  []ai.GenerateRequest
}

func (f *fakeGenerator) Name() string    { return f.name }
func (f *fakeGenerator) Available() bool { return f.available }

func (f *fakeGenerator) Generate(_ context.Context, request ai.GenerateRequest) (ai.GenerateResult, error) {
	f.requests = append(f.requests, request)
	if f.err != nil {
		return ai.GenerateResult{}, f.err
	}
	return ai.GenerateResult{Text: f.text, ModelID: request.Model}, nil
}

const validOutput = "```json\n" + `{
	"insights": [
		{"title": "Demand is rising", "category": "Market", "body": "Mid-market teams are  adopting CRMs.", "confidence": 1.7},
		{"title": "", "category": "noise", "body": "dropped", "confidence": 0.5}
	],
	"action_items": [
		{"description": "Interview five customers", "priority": "high", "effort": 9},
		{"description": "Draft positioning", "priority": "urgent", "effort": 0}
	],
	"leads": [
		{"name": "Ana Silva", "email": "ANA@acme.io", "company": "Acme", "industry": "SaaS", "company_size": "11-50", "pain_points": ["manual reporting", " "], "notes": "uses Salesforce"},
		{"name": "", "company": "", "email": "x@y.z"},
		{"name": "Bo", "email": "not-an-email", "company": "Beta"}
	]
}` + "\n```"

func sources() []domain.Source {
	return []domain.Source{
		{URL: "https://a.example", Title: "A", Content: "Alpha content about CRM adoption."},
		{URL: "https://b.example", Title: "", Content: "Beta content."},
		{URL: "https://c.example", Title: "Empty", Content: "   "},
	}
}

func newAnalyzer(generators ...ai.TextGenerator) *Analyzer {
	registry := ai.NewRegistry(generators[0].Name())
	for _, generator := range generators {
		registry.Register(generator, ai.ModelProfile{Model: generator.Name() + "-default"})
	}
	return NewAnalyzer(registry, Config{}, zerolog.Nop())
}

func TestParseOutputClampsAndDrops(t *testing.T) {
	result, err := parseOutput(validOutput, true)
	require.NoError(t, err)

	require.Len(t, result.Insights, 1)
	assert.Equal(t, 1.0, result.Insights[0].Confidence)
	assert.Equal(t, "market", result.Insights[0].Category)
	assert.Equal(t, "Mid-market teams are adopting CRMs.", result.Insights[0].Body)

	require.Len(t, result.ActionItems, 2)
	assert.Equal(t, domain.PriorityHigh, result.ActionItems[0].Priority)
	assert.Equal(t, 5, result.ActionItems[0].Effort)
	assert.Equal(t, domain.PriorityMedium, result.ActionItems[1].Priority)
	assert.Equal(t, 1, result.ActionItems[1].Effort)

	require.Len(t, result.Leads, 2)
	assert.Equal(t, "ana@acme.io", result.Leads[0].Email)
	assert.Equal(t, []string{"manual reporting"}, result.Leads[0].PainPoints)
	assert.Empty(t, result.Leads[1].Email)
}

func TestParseOutputToleratesLooseNumbers(t *testing.T) {
	result, err := parseOutput(`{
		"insights": [
			{"title": "Quoted", "body": "b", "confidence": "0.8"},
			{"title": "Garbled", "body": "b", "confidence": true}
		],
		"action_items": [
			{"description": "Fractional", "effort": 2.5},
			{"description": "Quoted", "effort": " 4 "},
			{"description": "Missing", "effort": null}
		]
	}`, false)
	require.NoError(t, err)

	require.Len(t, result.Insights, 2)
	assert.Equal(t, 0.8, result.Insights[0].Confidence)
	assert.Equal(t, 0.0, result.Insights[1].Confidence)

	require.Len(t, result.ActionItems, 3)
	assert.Equal(t, 3, result.ActionItems[0].Effort)
	assert.Equal(t, 4, result.ActionItems[1].Effort)
	assert.Equal(t, 1, result.ActionItems[2].Effort)
}

func TestParseOutputRejectsEmptyAndInvalid(t *testing.T) {
	_, err := parseOutput(`{"insights": [], "action_items": []}`, false)
	assert.ErrorIs(t, err, ErrEmptyAnalysis)

	_, err = parseOutput("I could not find anything useful.", false)
	assert.Error(t, err)
}

func TestParseOutputFindsEmbeddedObject(t *testing.T) {
	result, err := parseOutput(`Here you go: {"action_items":[{"description":"Call Acme","priority":"LOW","effort":2}]} Thanks`, false)
	require.NoError(t, err)
	require.Len(t, result.ActionItems, 1)
	assert.Equal(t, domain.PriorityLow, result.ActionItems[0].Priority)
}

func TestAnalyzeBuildsPromptAndStampsResults(t *testing.T) {
	generator := &fakeGenerator{name: "openrouter", available: true, text: validOutput}
	analyzer := newAnalyzer(generator)

	result, err := analyzer.Analyze(context.Background(), Request{
		Prompt:  "CRM adoption in mid-market",
		JobType: domain.JobTypeLeadGeneration,
		Sources: sources(),
	})
	require.NoError(t, err)

	require.Len(t, generator.requests, 1)
	request := generator.requests[0]
	assert.True(t, request.JSONOutput)
	assert.Equal(t, "openrouter-default", request.Model)
	assert.Contains(t, request.Input, "CRM adoption in mid-market")
	assert.Contains(t, request.Input, "[1] A")
	assert.Contains(t, request.Input, "[2] https://b.example")
	assert.NotContains(t, request.Input, "[3]")
	assert.Contains(t, request.Instructions, `"leads"`)

	assert.Equal(t, "openrouter", result.Provider)
	for _, insight := range result.Insights {
		assert.NotEmpty(t, insight.ID)
	}
	for _, lead := range result.Leads {
		assert.Equal(t, domain.TierUnscored, lead.Tier)
	}
}

func TestAnalyzeResearchJobOmitsLeads(t *testing.T) {
	generator := &fakeGenerator{name: "openrouter", available: true, text: validOutput}
	result, err := newAnalyzer(generator).Analyze(context.Background(), Request{
		Prompt:  "p",
		JobType: domain.JobTypeResearch,
		Sources: sources(),
	})
	require.NoError(t, err)
	assert.Empty(t, result.Leads)
	assert.NotContains(t, generator.requests[0].Instructions, `"leads"`)
}

func TestAnalyzeUsesRequestedProviderAndModel(t *testing.T) {
	primary := &fakeGenerator{name: "openrouter", available: true, text: validOutput}
	other := &fakeGenerator{name: "gemini", available: true, text: validOutput}
	analyzer := newAnalyzer(primary, other)

	result, err := analyzer.Analyze(context.Background(), Request{
		Prompt:   "p",
		JobType:  domain.JobTypeResearch,
		Sources:  sources(),
		Provider: "gemini",
		Model:    "gemini-2.5-pro",
	})
	require.NoError(t, err)
	assert.Empty(t, primary.requests)
	require.Len(t, other.requests, 1)
	assert.Equal(t, "gemini-2.5-pro", other.requests[0].Model)
	assert.Equal(t, "gemini-2.5-pro", result.Model)
}

func TestAnalyzeClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		generator *fakeGenerator
		provider  string
		sources   []domain.Source
		retryable bool
	}{
		{"missing credentials", &fakeGenerator{name: "openrouter"}, "", sources(), false},
		{"unknown provider", &fakeGenerator{name: "openrouter", available: true}, "nope", sources(), false},
		{"rejected credentials", &fakeGenerator{name: "openrouter", available: true, err: &ai.ProviderError{Provider: "openrouter", StatusCode: 401}}, "", sources(), false},
		{"forbidden key", &fakeGenerator{name: "openrouter", available: true, err: &ai.ProviderError{Provider: "openrouter", StatusCode: 403}}, "", sources(), false},
		{"rate limited", &fakeGenerator{name: "openrouter", available: true, err: &ai.ProviderError{Provider: "openrouter", StatusCode: 429}}, "", sources(), true},
		{"malformed output", &fakeGenerator{name: "openrouter", available: true, text: "sorry"}, "", sources(), true},
		{"no content", &fakeGenerator{name: "openrouter", available: true, text: validOutput}, "", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newAnalyzer(tc.generator).Analyze(context.Background(), Request{
				Prompt:   "p",
				JobType:  domain.JobTypeResearch,
				Sources:  tc.sources,
				Provider: tc.provider,
			})
			var pe *domain.PipelineError
			require.True(t, errors.As(err, &pe), "expected pipeline error, got %v", err)
			assert.Equal(t, tc.retryable, pe.Retryable())
			assert.Equal(t, domain.StageAnalysis, pe.Stage)
		})
	}
}

func TestTemplatesPreferOverrideDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, inputTemplate), []byte("custom {{.Prompt}}"), 0o600))

	tmpl := newTemplates(dir)
	input, err := tmpl.render(inputTemplate, promptData{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "custom x", input)

	instructions, err := tmpl.render(instructionsTemplate, promptData{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(instructions, "You are a market research analyst"))
}

func TestAggregateSourcesRespectsBudget(t *testing.T) {
	long := strings.Repeat("word ", 100)
	packed := aggregateSources([]domain.Source{
		{URL: "1", Content: long},
		{URL: "2", Content: long},
		{URL: "3", Content: long},
	}, 300, 500)

	require.GreaterOrEqual(t, len(packed), 2)
	assert.LessOrEqual(t, len(packed[0].Content), 300)
	used := 0
	for _, source := range packed {
		used += len(source.Content)
	}
	assert.LessOrEqual(t, used, 500)
}
