package interfaces

import (
	"context"
	"time"
)

// SearchResult is one hit from a search tool
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchService fronts the external search endpoints. The hint names the
// preferred tool; adapters behind the chain are tried in priority order and
// the first non-empty result set wins.
type SearchService interface {
	Search(ctx context.Context, query string, hint string) ([]SearchResult, error)
}

// FetchedPage is the readable content of one fetched URL
type FetchedPage struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// FetchService fronts the fetch workflow with a direct HTTP fallback that
// strips script/style blocks and collapses whitespace.
type FetchService interface {
	Fetch(ctx context.Context, url string) (*FetchedPage, error)
}

// VectorHit is one nearest-neighbor match
type VectorHit struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// VectorSearchRequest parameterizes a nearest-neighbor query
type VectorSearchRequest struct {
	Vector []float32
	Limit  int
	// Filter matches payload fields exactly (e.g. {"role": "cross_job_summary"}).
	Filter map[string]interface{}
}

// VectorService is the vector store collaborator. Unavailability degrades
// planner quality but must never fail a job.
type VectorService interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]interface{}) error
	Search(ctx context.Context, req VectorSearchRequest) ([]VectorHit, error)
}

// ArtifactService is the blob sink for raw fetched documents and rendered
// report files. Keys are stable: raw/{jobID}/{stepOrder}-{i}.json and
// reports/{jobID}/report.{md,html,pdf,docx}.
type ArtifactService interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	GetSigned(ctx context.Context, key string, ttl time.Duration) (string, error)
}
