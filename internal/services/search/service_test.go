package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/interfaces"
)

// stubAdapter is a scripted chain member.
type stubAdapter struct {
	name      string
	available bool
	results   []interfaces.SearchResult
	err       error
	calls     int
}

func (a *stubAdapter) Name() string    { return a.name }
func (a *stubAdapter) Available() bool { return a.available }

func (a *stubAdapter) Search(ctx context.Context, query string) ([]interfaces.SearchResult, error) {
	a.calls++
	return a.results, a.err
}

func someResults(n int) []interfaces.SearchResult {
	out := make([]interfaces.SearchResult, n)
	for i := range out {
		out[i] = interfaces.SearchResult{
			Title: fmt.Sprintf("Result %d", i+1),
			URL:   fmt.Sprintf("https://example.com/%d", i+1),
		}
	}
	return out
}

func TestSearchFirstNonEmptyWins(t *testing.T) {
	empty := &stubAdapter{name: "searxng", available: true}
	full := &stubAdapter{name: "workflow", available: true, results: someResults(2)}
	svc := NewServiceWithAdapters(arbor.NewLogger(), empty, full)

	results, err := svc.Search(context.Background(), "query", "")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, empty.calls)
	assert.Equal(t, 1, full.calls)
}

func TestSearchHintPromotesAdapter(t *testing.T) {
	first := &stubAdapter{name: "searxng", available: true, results: someResults(1)}
	hinted := &stubAdapter{name: "workflow", available: true, results: someResults(1)}
	svc := NewServiceWithAdapters(arbor.NewLogger(), first, hinted)

	_, err := svc.Search(context.Background(), "query", "workflow")
	require.NoError(t, err)
	assert.Equal(t, 1, hinted.calls)
	assert.Zero(t, first.calls)
}

func TestSearchFailoverOnAdapterError(t *testing.T) {
	broken := &stubAdapter{name: "searxng", available: true, err: fmt.Errorf("upstream 502")}
	working := &stubAdapter{name: "workflow", available: true, results: someResults(1)}
	svc := NewServiceWithAdapters(arbor.NewLogger(), broken, working)

	results, err := svc.Search(context.Background(), "query", "")
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// Each adapter call lands in its own counter, failures included.
	stats := svc.(*Service).Stats()
	assert.EqualValues(t, 1, stats["searxng"].Calls)
	assert.EqualValues(t, 1, stats["searxng"].Errors)
	assert.EqualValues(t, 1, stats["workflow"].Calls)
	assert.EqualValues(t, 0, stats["workflow"].Errors)
}

func TestSearchAllAdaptersFail(t *testing.T) {
	a := &stubAdapter{name: "searxng", available: true, err: fmt.Errorf("down")}
	b := &stubAdapter{name: "workflow", available: true, err: fmt.Errorf("also down")}
	svc := NewServiceWithAdapters(arbor.NewLogger(), a, b)

	_, err := svc.Search(context.Background(), "query", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all search adapters failed")
}

func TestSearchSkipsUnavailableAdapters(t *testing.T) {
	unconfigured := &stubAdapter{name: "searxng"}
	svc := NewServiceWithAdapters(arbor.NewLogger(), unconfigured)

	_, err := svc.Search(context.Background(), "query", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no search adapters configured")
	assert.Zero(t, unconfigured.calls)
}

func TestSearchAllEmptyIsNotAnError(t *testing.T) {
	a := &stubAdapter{name: "searxng", available: true}
	b := &stubAdapter{name: "workflow", available: true}
	svc := NewServiceWithAdapters(arbor.NewLogger(), a, b)

	results, err := svc.Search(context.Background(), "query", "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearxngAdapterParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a question", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"title": "First", "url": "https://example.com/1", "content": "snippet one"},
				{"title": "No URL dropped", "url": "", "content": "ignored"},
			},
		})
	}))
	defer srv.Close()

	adapter := NewSearxngAdapter(srv.URL, srv.Client(), arbor.NewLogger())
	results, err := adapter.Search(context.Background(), "a question")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "First", results[0].Title)
	assert.Equal(t, "snippet one", results[0].Snippet)
}
