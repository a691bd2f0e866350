package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/interfaces"
)

// WorkflowAdapter calls an external search workflow endpoint that accepts a
// JSON query and returns a result list.
type WorkflowAdapter struct {
	endpoint string
	client   *http.Client
	logger   arbor.ILogger
}

// NewWorkflowAdapter creates a workflow search adapter
func NewWorkflowAdapter(endpoint string, client *http.Client, logger arbor.ILogger) *WorkflowAdapter {
	return &WorkflowAdapter{
		endpoint: endpoint,
		client:   client,
		logger:   logger,
	}
}

// Name returns the tool name used in planner hints
func (a *WorkflowAdapter) Name() string {
	return "workflow"
}

// Available reports whether the adapter is configured
func (a *WorkflowAdapter) Available() bool {
	return a.endpoint != ""
}

type workflowSearchRequest struct {
	Query string `json:"query"`
}

type workflowSearchResponse struct {
	Results []interfaces.SearchResult `json:"results"`
}

func (a *WorkflowAdapter) Search(ctx context.Context, query string) ([]interfaces.SearchResult, error) {
	body, err := json.Marshal(workflowSearchRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workflow search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("workflow search returned status %d", resp.StatusCode)
	}

	var parsed workflowSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode workflow response: %w", err)
	}

	results := make([]interfaces.SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, r)
	}

	a.logger.Debug().
		Str("query", query).
		Int("results", len(results)).
		Msg("Workflow search completed")
	return results, nil
}
