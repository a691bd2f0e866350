package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
	badgerstore "github.com/ternarybob/perquire/internal/storage/badger"
)

func newTestDeps(t *testing.T) (*common.Config, interfaces.StorageManager) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.Rescue.StartSeconds = 1
	cfg.Rescue.HeartbeatSeconds = 2
	cfg.Rescue.GraceSeconds = 1

	storage, err := badgerstore.NewManager(arbor.NewLogger(), &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	return cfg, storage
}

func saveRunningJob(t *testing.T, storage interfaces.StorageManager, id string, started, heartbeat time.Time) {
	t.Helper()
	job := &models.ResearchJob{
		ID:            id,
		Question:      "q",
		Status:        models.JobStatusRunning,
		StartedAt:     &started,
		LastHeartbeat: &heartbeat,
	}
	require.NoError(t, storage.Jobs().SaveJob(context.Background(), job))
}

func TestSweeperRescuesStalledStart(t *testing.T) {
	cfg, storage := newTestDeps(t)
	ctx := context.Background()
	sweeper := NewSweeper(cfg, storage, arbor.NewLogger())

	// Running for longer than the start threshold with no steps persisted.
	old := time.Now().Add(-10 * time.Second)
	saveRunningJob(t, storage, "job_stalled", old, old)

	assert.Equal(t, 1, sweeper.Sweep(ctx))

	job, err := storage.Jobs().GetJob(ctx, "job_stalled")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Nil(t, job.StartedAt)
}

func TestSweeperRescuesStaleHeartbeat(t *testing.T) {
	cfg, storage := newTestDeps(t)
	ctx := context.Background()
	sweeper := NewSweeper(cfg, storage, arbor.NewLogger())

	old := time.Now().Add(-10 * time.Second)
	saveRunningJob(t, storage, "job_stale", old, old)
	require.NoError(t, storage.Steps().SaveStep(ctx, &models.ResearchStep{
		ID: "step_1", JobID: "job_stale", Title: "t", Status: models.StepStatusRunning, StepOrder: 1,
	}))

	assert.Equal(t, 1, sweeper.Sweep(ctx))

	job, err := storage.Jobs().GetJob(ctx, "job_stale")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)

	// The interrupted step went back to pending for the resumed run.
	steps, err := storage.Steps().ListSteps(ctx, "job_stale")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusPending, steps[0].Status)
}

func TestSweeperLeavesHealthyJobsAlone(t *testing.T) {
	cfg, storage := newTestDeps(t)
	ctx := context.Background()
	sweeper := NewSweeper(cfg, storage, arbor.NewLogger())

	now := time.Now()
	saveRunningJob(t, storage, "job_fresh", now, now)

	assert.Zero(t, sweeper.Sweep(ctx))

	job, err := storage.Jobs().GetJob(ctx, "job_fresh")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
}

func TestSweeperUsesDurationBudgetWhenTighter(t *testing.T) {
	cfg, storage := newTestDeps(t)
	cfg.Rescue.HeartbeatSeconds = 3600
	ctx := context.Background()
	sweeper := NewSweeper(cfg, storage, arbor.NewLogger())

	// A fresh heartbeat does not save a job that blew through its own
	// duration budget plus grace.
	started := time.Now().Add(-10 * time.Second)
	heartbeat := started
	job := &models.ResearchJob{
		ID:            "job_over_budget",
		Question:      "q",
		Status:        models.JobStatusRunning,
		StartedAt:     &started,
		LastHeartbeat: &heartbeat,
		Options:       models.JobOptions{MaxDurationSeconds: 5},
	}
	require.NoError(t, storage.Jobs().SaveJob(ctx, job))
	require.NoError(t, storage.Steps().SaveStep(ctx, &models.ResearchStep{
		ID: "step_b", JobID: job.ID, Title: "t", Status: models.StepStatusPending, StepOrder: 1,
	}))

	assert.Equal(t, 1, sweeper.Sweep(ctx))
}

// countingRunner records which jobs it was handed.
type countingRunner struct {
	mu   sync.Mutex
	ids  []string
	done chan struct{}
}

func (c *countingRunner) Run(ctx context.Context, jobID string) {
	c.mu.Lock()
	c.ids = append(c.ids, jobID)
	c.mu.Unlock()
	if c.done != nil {
		<-c.done
	}
}

func (c *countingRunner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func TestRunnerClaimsUpToMaxConcurrent(t *testing.T) {
	cfg, storage := newTestDeps(t)
	cfg.Engine.MaxConcurrent = 2
	ctx := context.Background()

	for _, id := range []string{"job_a", "job_b", "job_c"} {
		require.NoError(t, storage.Jobs().SaveJob(ctx, &models.ResearchJob{
			ID: id, Question: "q", Status: models.JobStatusQueued,
		}))
	}

	exec := &countingRunner{done: make(chan struct{})}
	runner := NewRunner(cfg, storage, NewSweeper(cfg, storage, arbor.NewLogger()), exec, arbor.NewLogger())

	runner.Tick()

	// Two slots filled, the third job stays queued until a slot frees.
	require.Eventually(t, func() bool { return exec.count() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, runner.InFlight())

	runner.Tick()
	assert.Equal(t, 2, exec.count())

	close(exec.done)
	require.Eventually(t, func() bool { return runner.InFlight() == 0 }, time.Second, 10*time.Millisecond)

	runner.Tick()
	require.Eventually(t, func() bool { return exec.count() == 3 }, time.Second, 10*time.Millisecond)
}

func TestRunnerTickWithEmptyQueue(t *testing.T) {
	cfg, storage := newTestDeps(t)
	exec := &countingRunner{}
	runner := NewRunner(cfg, storage, NewSweeper(cfg, storage, arbor.NewLogger()), exec, arbor.NewLogger())

	runner.Tick()
	assert.Zero(t, exec.count())
	assert.Zero(t, runner.InFlight())
}
