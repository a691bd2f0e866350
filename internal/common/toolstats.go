package common

import (
	"sync"
	"time"
)

// ToolStat is a snapshot of one adapter's counters.
type ToolStat struct {
	Calls        int64
	Errors       int64
	TotalLatency time.Duration
}

// ToolStats accumulates per-adapter call, error, and latency counters.
// Safe for concurrent use; a nil receiver records nothing.
type ToolStats struct {
	mu    sync.Mutex
	stats map[string]*ToolStat
}

// NewToolStats creates an empty counter set.
func NewToolStats() *ToolStats {
	return &ToolStats{stats: make(map[string]*ToolStat)}
}

// Record adds one call outcome for the named adapter.
func (s *ToolStats) Record(name string, latency time.Duration, err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[name]
	if !ok {
		st = &ToolStat{}
		s.stats[name] = st
	}
	st.Calls++
	st.TotalLatency += latency
	if err != nil {
		st.Errors++
	}
}

// Snapshot returns a copy of the current counters keyed by adapter name.
func (s *ToolStats) Snapshot() map[string]ToolStat {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ToolStat, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}
