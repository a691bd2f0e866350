package search

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
)

// Adapter is one search backend in the chain
type Adapter interface {
	Name() string
	Available() bool
	Search(ctx context.Context, query string) ([]interfaces.SearchResult, error)
}

// Service chains search adapters. The planner's tool hint promotes an
// adapter to the front of the chain; the first adapter returning a
// non-empty result set wins. A step only fails when every adapter fails.
type Service struct {
	adapters []Adapter
	stats    *common.ToolStats
	logger   arbor.ILogger
}

// NewService creates the search service with the configured adapters
func NewService(cfg *common.Config, logger arbor.ILogger) interfaces.SearchService {
	client := &http.Client{Timeout: cfg.ToolTimeout()}

	return &Service{
		adapters: []Adapter{
			NewSearxngAdapter(cfg.Tools.SearxngURL, client, logger),
			NewWorkflowAdapter(cfg.Tools.SearchWorkflowURL, client, logger),
		},
		stats:  common.NewToolStats(),
		logger: logger,
	}
}

// NewServiceWithAdapters builds a service over an explicit adapter chain
func NewServiceWithAdapters(logger arbor.ILogger, adapters ...Adapter) interfaces.SearchService {
	return &Service{adapters: adapters, stats: common.NewToolStats(), logger: logger}
}

// Stats returns per-adapter call, error, and latency counters.
func (s *Service) Stats() map[string]common.ToolStat {
	return s.stats.Snapshot()
}

func (s *Service) Search(ctx context.Context, query string, hint string) ([]interfaces.SearchResult, error) {
	chain := s.ordered(hint)

	var lastErr error
	tried := 0
	for _, adapter := range chain {
		if !adapter.Available() {
			continue
		}
		tried++

		start := time.Now()
		results, err := adapter.Search(ctx, query)
		s.stats.Record(adapter.Name(), time.Since(start), err)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("adapter", adapter.Name()).
				Str("query", query).
				Msg("Search adapter failed, trying next")
			lastErr = err
			continue
		}
		if len(results) > 0 {
			return results, nil
		}
	}

	if tried == 0 {
		return nil, fmt.Errorf("no search adapters configured")
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all search adapters failed: %w", lastErr)
	}
	// Every adapter answered but found nothing.
	return nil, nil
}

// ordered returns the adapter chain with the hinted adapter first.
func (s *Service) ordered(hint string) []Adapter {
	if hint == "" {
		return s.adapters
	}

	chain := make([]Adapter, 0, len(s.adapters))
	for _, a := range s.adapters {
		if a.Name() == hint {
			chain = append(chain, a)
		}
	}
	for _, a := range s.adapters {
		if a.Name() != hint {
			chain = append(chain, a)
		}
	}
	return chain
}
