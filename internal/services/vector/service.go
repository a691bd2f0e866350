package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
)

// Service is a REST adapter for a Qdrant-compatible vector store. All
// operations are best-effort from the caller's perspective: an unreachable
// store degrades planner context, never job execution.
type Service struct {
	baseURL    string
	collection string
	client     *http.Client
	logger     arbor.ILogger
}

// NewService creates the vector store adapter. Returns nil when no vector
// store URL is configured; callers treat a nil service as disabled.
func NewService(cfg *common.Config, logger arbor.ILogger) interfaces.VectorService {
	if cfg.Vector.URL == "" {
		logger.Info().Msg("Vector store not configured, warm context disabled")
		return nil
	}

	return &Service{
		baseURL:    cfg.Vector.URL,
		collection: cfg.Vector.Collection,
		client:     &http.Client{Timeout: cfg.ToolTimeout()},
		logger:     logger,
	}
}

func (s *Service) EnsureCollection(ctx context.Context, dimension int) error {
	payload := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dimension,
			"distance": "Cosine",
		},
	}

	status, body, err := s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), payload)
	if err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}
	// 409 means the collection already exists.
	if status != http.StatusOK && status != http.StatusConflict {
		return fmt.Errorf("ensure collection returned status %d: %s", status, body)
	}

	s.logger.Debug().
		Str("collection", s.collection).
		Int("dimension", dimension).
		Msg("Vector collection ready")
	return nil
}

func (s *Service) Upsert(ctx context.Context, id string, vector []float32, payload map[string]interface{}) error {
	body := map[string]interface{}{
		"points": []map[string]interface{}{
			{
				"id":      id,
				"vector":  vector,
				"payload": payload,
			},
		},
	}

	status, respBody, err := s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points", s.collection), body)
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("upsert returned status %d: %s", status, respBody)
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		ID      interface{}            `json:"id"`
		Score   float32                `json:"score"`
		Payload map[string]interface{} `json:"payload"`
	} `json:"result"`
}

func (s *Service) Search(ctx context.Context, req interfaces.VectorSearchRequest) ([]interfaces.VectorHit, error) {
	body := map[string]interface{}{
		"vector":       req.Vector,
		"limit":        req.Limit,
		"with_payload": true,
	}
	if len(req.Filter) > 0 {
		must := make([]map[string]interface{}, 0, len(req.Filter))
		for field, value := range req.Filter {
			must = append(must, map[string]interface{}{
				"key":   field,
				"match": map[string]interface{}{"value": value},
			})
		}
		body["filter"] = map[string]interface{}{"must": must}
	}

	status, respBody, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", s.collection), body)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("vector search returned status %d: %s", status, respBody)
	}

	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]interfaces.VectorHit, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		hits = append(hits, interfaces.VectorHit{
			ID:      fmt.Sprintf("%v", r.ID),
			Score:   r.Score,
			Payload: r.Payload,
		})
	}
	return hits, nil
}

func (s *Service) do(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
