package common

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolStatsRecordAndSnapshot(t *testing.T) {
	stats := NewToolStats()
	stats.Record("searxng", 20*time.Millisecond, nil)
	stats.Record("searxng", 30*time.Millisecond, fmt.Errorf("upstream 502"))
	stats.Record("workflow", 10*time.Millisecond, nil)

	snap := stats.Snapshot()
	require.Len(t, snap, 2)
	assert.EqualValues(t, 2, snap["searxng"].Calls)
	assert.EqualValues(t, 1, snap["searxng"].Errors)
	assert.Equal(t, 50*time.Millisecond, snap["searxng"].TotalLatency)
	assert.EqualValues(t, 0, snap["workflow"].Errors)
}

func TestToolStatsNilReceiver(t *testing.T) {
	var stats *ToolStats
	stats.Record("searxng", time.Millisecond, nil)
	assert.Nil(t, stats.Snapshot())
}
