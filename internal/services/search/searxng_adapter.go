package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/interfaces"
)

// SearxngAdapter queries a SearXNG instance's JSON API
type SearxngAdapter struct {
	baseURL string
	client  *http.Client
	logger  arbor.ILogger
}

// NewSearxngAdapter creates a SearXNG search adapter
func NewSearxngAdapter(baseURL string, client *http.Client, logger arbor.ILogger) *SearxngAdapter {
	return &SearxngAdapter{
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

// Name returns the tool name used in planner hints
func (a *SearxngAdapter) Name() string {
	return "searxng"
}

// Available reports whether the adapter is configured
func (a *SearxngAdapter) Available() bool {
	return a.baseURL != ""
}

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (a *SearxngAdapter) Search(ctx context.Context, query string) ([]interfaces.SearchResult, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", a.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build searxng request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng returned status %d", resp.StatusCode)
	}

	var parsed searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode searxng response: %w", err)
	}

	results := make([]interfaces.SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, interfaces.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
		})
	}

	a.logger.Debug().
		Str("query", query).
		Int("results", len(results)).
		Msg("SearXNG search completed")
	return results, nil
}
