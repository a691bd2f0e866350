package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	tmpDir := t.TempDir()

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	db := &BadgerDB{store: store}
	return newManagerWithDB(db, arbor.NewLogger())
}

func newQueuedJob(id, question string) *models.ResearchJob {
	now := time.Now()
	return &models.ResearchJob{
		ID:        id,
		Question:  question,
		Status:    models.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestClaimNextQueued(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Oldest first.
	older := newQueuedJob("job_a", "first question")
	older.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, m.Jobs().SaveJob(ctx, older))
	require.NoError(t, m.Jobs().SaveJob(ctx, newQueuedJob("job_b", "second question")))

	claimed, err := m.Jobs().ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "job_a", claimed.ID)
	assert.Equal(t, models.JobStatusRunning, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)
	assert.NotNil(t, claimed.LastHeartbeat)

	second, err := m.Jobs().ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "job_b", second.ID)

	// Empty queue.
	third, err := m.Jobs().ClaimNextQueued(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestClaimNextQueuedConcurrent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Jobs().SaveJob(ctx, newQueuedJob("job_only", "solo")))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []string
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := m.Jobs().ClaimNextQueued(ctx)
			if err != nil || job == nil {
				return
			}
			mu.Lock()
			claimed = append(claimed, job.ID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Exactly one goroutine wins the claim.
	assert.Len(t, claimed, 1)
}

func TestRequeueClearsStartAndRefreshesHeartbeat(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Jobs().SaveJob(ctx, newQueuedJob("job_r", "requeue me")))
	claimed, err := m.Jobs().ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	staleBeat := *claimed.LastHeartbeat

	require.NoError(t, m.Jobs().RequeueJob(ctx, "job_r", "missing heartbeat"))

	job, err := m.Jobs().GetJob(ctx, "job_r")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Nil(t, job.StartedAt)
	require.NotNil(t, job.LastHeartbeat)
	assert.False(t, job.LastHeartbeat.Before(staleBeat))

	// The job can be claimed again.
	reclaimed, err := m.Jobs().ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, "job_r", reclaimed.ID)
}

func TestResumeClearsCompletion(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Jobs().SaveJob(ctx, newQueuedJob("job_c", "finish then resume")))
	assets := &models.ReportAssets{GeneratedAt: time.Now()}
	require.NoError(t, m.Jobs().CompleteJob(ctx, "job_c", "# Report", assets))

	job, err := m.Jobs().GetJob(ctx, "job_c")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "# Report", job.FinalReport)
	assert.NotNil(t, job.CompletedAt)

	require.NoError(t, m.Jobs().ResumeJob(ctx, "job_c"))

	job, err = m.Jobs().GetJob(ctx, "job_c")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Empty(t, job.FinalReport)
	assert.Nil(t, job.ReportAssets)
	assert.Nil(t, job.CompletedAt)
	assert.Nil(t, job.StartedAt)
}

func TestStepOrderAndReset(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for i := 3; i >= 1; i-- {
		step := &models.ResearchStep{
			ID:        fmt.Sprintf("step_%d", i),
			JobID:     "job_s",
			Title:     fmt.Sprintf("Step %d", i),
			Status:    models.StepStatusPending,
			StepOrder: i,
		}
		require.NoError(t, m.Steps().SaveStep(ctx, step))
	}

	steps, err := m.Steps().ListSteps(ctx, "job_s")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, step := range steps {
		assert.Equal(t, i+1, step.StepOrder)
	}

	require.NoError(t, m.Steps().UpdateStepStatus(ctx, "step_2", models.StepStatusRunning, nil))
	reset, err := m.Steps().ResetRunningSteps(ctx, "job_s")
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	step, err := m.Steps().GetStep(ctx, "step_2")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusPending, step.Status)
}

func TestNoteSequenceIsCreationOrder(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		note := &models.ResearchNote{
			ID:         fmt.Sprintf("note_%d", i),
			JobID:      "job_n",
			Role:       models.NoteRolePageSummary,
			Importance: 3,
			Content:    fmt.Sprintf("finding %d", i),
		}
		require.NoError(t, m.Notes().SaveNote(ctx, note))
	}

	notes, err := m.Notes().ListNotes(ctx, "job_n")
	require.NoError(t, err)
	require.Len(t, notes, 5)
	for i, note := range notes {
		assert.Equal(t, int64(i+1), note.Seq)
		assert.Equal(t, fmt.Sprintf("note_%d", i), note.ID)
	}
}

func TestLedgerDedupAndDenseNumbering(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	src1 := models.CitationSource{URL: "https://example.com/a", Title: "A"}
	src2 := models.CitationSource{URL: "https://example.com/b", Title: "B"}

	n1, err := m.Ledger().AssignCitation(ctx, "job_l", src1)
	require.NoError(t, err)
	assert.Equal(t, 1, n1)

	n2, err := m.Ledger().AssignCitation(ctx, "job_l", src2)
	require.NoError(t, err)
	assert.Equal(t, 2, n2)

	// Re-citing the same source returns its existing number.
	again, err := m.Ledger().AssignCitation(ctx, "job_l", src1)
	require.NoError(t, err)
	assert.Equal(t, 1, again)

	// Numbers restart per job.
	other, err := m.Ledger().AssignCitation(ctx, "job_other", src2)
	require.NoError(t, err)
	assert.Equal(t, 1, other)

	entries, err := m.Ledger().ListEntries(ctx, "job_l")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].CitationNumber)
	assert.Equal(t, 2, entries[1].CitationNumber)
}

func TestLedgerConcurrentAssignStaysDense(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := models.CitationSource{URL: fmt.Sprintf("https://example.com/%d", i%5)}
			_, err := m.Ledger().AssignCitation(ctx, "job_race", src)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := m.Ledger().ListEntries(ctx, "job_race")
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, entry := range entries {
		assert.Equal(t, i+1, entry.CitationNumber)
	}
}

func TestSectionDraftUpsert(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	draft := &models.SectionDraft{
		JobID:      "job_d",
		SectionKey: models.SectionAnalysis,
		Status:     models.SectionStatusCompleted,
		Content:    "analysis text",
		Tokens:     120,
	}
	require.NoError(t, m.Sections().SaveDraft(ctx, draft))

	// Second save with the same key replaces, not duplicates.
	draft.Content = "revised analysis"
	require.NoError(t, m.Sections().SaveDraft(ctx, draft))

	got, err := m.Sections().GetDraft(ctx, "job_d", models.SectionAnalysis)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "revised analysis", got.Content)

	drafts, err := m.Sections().ListDrafts(ctx, "job_d")
	require.NoError(t, err)
	assert.Len(t, drafts, 1)

	missing, err := m.Sections().GetDraft(ctx, "job_d", models.SectionBackground)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteJobCascades(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Jobs().SaveJob(ctx, newQueuedJob("job_x", "delete me")))
	require.NoError(t, m.Steps().SaveStep(ctx, &models.ResearchStep{ID: "step_x", JobID: "job_x", StepOrder: 1, Status: models.StepStatusPending}))
	require.NoError(t, m.Notes().SaveNote(ctx, &models.ResearchNote{ID: "note_x", JobID: "job_x", Role: models.NoteRolePageSummary, Content: "x"}))
	_, err := m.Ledger().AssignCitation(ctx, "job_x", models.CitationSource{URL: "https://example.com/x"})
	require.NoError(t, err)
	require.NoError(t, m.Sections().SaveDraft(ctx, &models.SectionDraft{JobID: "job_x", SectionKey: models.SectionBackground, Status: models.SectionStatusCompleted}))

	require.NoError(t, m.Jobs().DeleteJob(ctx, "job_x"))

	_, err = m.Jobs().GetJob(ctx, "job_x")
	assert.Error(t, err)

	steps, err := m.Steps().ListSteps(ctx, "job_x")
	require.NoError(t, err)
	assert.Empty(t, steps)

	notes, err := m.Notes().ListNotes(ctx, "job_x")
	require.NoError(t, err)
	assert.Empty(t, notes)

	count, err := m.Ledger().CountEntries(ctx, "job_x")
	require.NoError(t, err)
	assert.Zero(t, count)
}
