package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/lead-intel/internal/domain"
)

func TestFilterBlocked(t *testing.T) {
	in := []string{
		"https://m.facebook.com/acme",
		"https://www.linkedin.com/company/acme",
		"https://example.com/article",
		"not a url",
		"ftp://files.example.com/a",
		"https://example.com/article",
		"https://blog.acme.io/post",
		"https://notfacebook.com/page",
	}

	got := FilterBlocked(in, DefaultBlocklist)
	assert.Equal(t, []string{
		"https://example.com/article",
		"https://blog.acme.io/post",
		"https://notfacebook.com/page",
	}, got)
}

func TestBraveProviderSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/web/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "crm tools", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[{"url":"https://a.example","title":"A"},{"url":"","title":"skip"},{"url":"https://b.example","title":"B"}]}}`))
	}))
	defer server.Close()

	provider := NewBraveProvider("secret", server.URL, 0)
	results, err := provider.Search(context.Background(), "crm tools", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://a.example", results[0].URL)
	assert.Equal(t, "B", results[1].Title)
}

func TestBraveProviderRequiresKey(t *testing.T) {
	_, err := NewBraveProvider("", "http://unused", 0).Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestDuckDuckGoProviderParsesResults(t *testing.T) {
	target := "https://example.com/report"
	page := fmt.Sprintf(`<html><body>
		<div class="result"><a class="result__a" href="//duckduckgo.com/l/?uddg=%s&rut=abc">Report</a></div>
		<div class="result"><a class="result__a" href="https://direct.example/page">Direct</a></div>
		<div class="result"><a class="result__a" href="https://third.example">Third</a></div>
	</body></html>`, url.QueryEscape(target))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "market research", r.PostForm.Get("q"))
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	results, err := NewDuckDuckGoProvider(server.URL, 0).Search(context.Background(), "market research", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, target, results[0].URL)
	assert.Equal(t, "https://direct.example/page", results[1].URL)
}

type stubProvider struct {
	name    string
	results []Result
	err     error
}

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) Search(context.Context, string, int) ([]Result, error) {
	return s.results, s.err
}

func TestServiceDiscoverFiltersAndLimits(t *testing.T) {
	registry := NewRegistry("stub")
	registry.Register(stubProvider{name: "stub", results: []Result{
		{URL: "https://facebook.com/x"},
		{URL: "https://one.example"},
		{URL: "https://two.example"},
		{URL: "https://three.example"},
	}})

	urls, err := NewService(registry, 2, zerolog.Nop()).Discover(context.Background(), "prompt", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://one.example", "https://two.example"}, urls)
}

func TestServiceDiscoverClassifiesErrors(t *testing.T) {
	registry := NewRegistry("down")
	registry.Register(stubProvider{name: "down", err: errors.New("503")})
	registry.Register(stubProvider{name: "nokey", err: ErrMissingCredentials})
	service := NewService(registry, 5, zerolog.Nop())

	_, err := service.Discover(context.Background(), "prompt", "down")
	var pe *domain.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Retryable())

	_, err = service.Discover(context.Background(), "prompt", "nokey")
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Retryable())

	_, err = service.Discover(context.Background(), "prompt", "missing")
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Retryable())
}
