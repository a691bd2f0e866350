package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/artifacts"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
	"github.com/ternarybob/perquire/internal/services/archive"
	"github.com/ternarybob/perquire/internal/services/render"
	badgerstore "github.com/ternarybob/perquire/internal/storage/badger"
)

// scriptedLLM answers by prompt role: plan, expand, summarize, synthesize,
// critic.
type scriptedLLM struct {
	planResponse    string
	expandResponses []string
	noteResponse    string
	synthResponse   string
	criticResponse  string
	planCalls       int
	expandCalls     int
	synthCalls      int
}

func (f *scriptedLLM) Chat(ctx context.Context, messages []interfaces.Message, opts interfaces.ChatOptions) (string, error) {
	system := messages[0].Content
	switch {
	case strings.Contains(system, "reviewing progress"):
		f.expandCalls++
		if len(f.expandResponses) > 0 {
			response := f.expandResponses[0]
			f.expandResponses = f.expandResponses[1:]
			return response, nil
		}
		return "[]", nil
	case strings.Contains(system, "research planner"):
		f.planCalls++
		return f.planResponse, nil
	case strings.Contains(system, "extracting findings"):
		return f.noteResponse, nil
	case strings.Contains(system, "research critic"):
		return f.criticResponse, nil
	default:
		f.synthCalls++
		return f.synthResponse, nil
	}
}

func (f *scriptedLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

func (f *scriptedLLM) HealthCheck(ctx context.Context) error { return nil }

type scriptedSearch struct {
	results  []interfaces.SearchResult
	calls    int
	onSearch func(call int)
}

func (f *scriptedSearch) Search(ctx context.Context, query, hint string) ([]interfaces.SearchResult, error) {
	f.calls++
	if f.onSearch != nil {
		f.onSearch(f.calls)
	}
	return f.results, nil
}

type scriptedFetch struct{}

func (f *scriptedFetch) Fetch(ctx context.Context, url string) (*interfaces.FetchedPage, error) {
	return &interfaces.FetchedPage{
		URL:     url,
		Title:   "Page " + url,
		Content: "Relevant content from " + url,
	}, nil
}

type testHarness struct {
	executor *Executor
	storage  interfaces.StorageManager
	llm      *scriptedLLM
	search   *scriptedSearch
	cfg      *common.Config
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.Storage.Artifacts.Path = t.TempDir()
	cfg.Features.LongformEnabled = false

	logger := arbor.NewLogger()

	storage, err := badgerstore.NewManager(logger, &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	store, err := artifacts.NewStore(cfg, logger)
	require.NoError(t, err)

	llm := &scriptedLLM{
		planResponse: `[{"title":"Survey sources","objective":"Find overview material","tool_hint":"searxng","theme":"overview"},` +
			`{"title":"Verify details","objective":"Confirm specific claims","tool_hint":"searxng","theme":"verification"}]`,
		noteResponse: `{"page_notes":[{"content":"A central finding.","importance":5},` +
			`{"content":"A supporting detail.","importance":3}],"step_summary":"Step established the central finding."}`,
		synthResponse:  "# Findings\n\nThe central finding holds [1].",
		criticResponse: `{"limitations":["Evidence drawn from a narrow source set."]}`,
	}
	search := &scriptedSearch{results: []interfaces.SearchResult{
		{Title: "Result A", URL: "https://example.com/a", Snippet: "Snippet for A"},
		{Title: "Result B", URL: "https://example.com/b", Snippet: "Snippet for B"},
	}}

	executor := NewExecutor(cfg, storage, llm, search, &scriptedFetch{},
		store, archive.NewService(cfg, nil, nil, logger), render.NewService(logger), logger)

	return &testHarness{
		executor: executor,
		storage:  storage,
		llm:      llm,
		search:   search,
		cfg:      cfg,
	}
}

func clarifiedMetadata() map[string]string {
	meta := make(map[string]string)
	for _, key := range models.ClarificationKeys {
		meta[key] = "any"
	}
	return meta
}

func (h *testHarness) submitAndClaim(t *testing.T, question string, meta map[string]string) *models.ResearchJob {
	t.Helper()
	ctx := context.Background()

	job := &models.ResearchJob{
		ID:       common.NewJobID(),
		Question: question,
		Metadata: meta,
		Status:   models.JobStatusQueued,
	}
	require.NoError(t, h.storage.Jobs().SaveJob(ctx, job))

	claimed, err := h.storage.Jobs().ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func TestExecutorCompletesJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := h.submitAndClaim(t, "What drives adoption?", clarifiedMetadata())
	h.executor.Run(ctx, job.ID)

	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.NotNil(t, final.CompletedAt)

	// The report carries linkified citations, references, and the critic's
	// caveats.
	assert.Contains(t, final.FinalReport, "[1](#ref-1)")
	assert.Contains(t, final.FinalReport, "## References")
	assert.Contains(t, final.FinalReport, "## Limitations & Critic Notes")
	assert.Contains(t, final.FinalReport, "narrow source set")

	require.NotNil(t, final.ReportAssets)
	assert.Len(t, final.ReportAssets.Assets, 4)
	for _, asset := range final.ReportAssets.Assets {
		assert.NotEmpty(t, asset.SHA256)
		assert.NotZero(t, asset.SizeBytes)
	}

	// Both planned steps executed.
	steps, err := h.storage.Steps().ListSteps(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	for _, step := range steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status)
	}

	// The ledger numbered the two distinct sources densely.
	entries, err := h.storage.Ledger().ListEntries(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].CitationNumber)
	assert.Equal(t, 2, entries[1].CitationNumber)

	// Sources keep the search result snippets for attribution.
	sources, err := h.storage.Notes().ListSources(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, sources)
	for _, src := range sources {
		assert.Contains(t, src.Snippet, "Snippet for")
	}
}

func TestExecutorHaltsBeforePlanning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := h.submitAndClaim(t, "Pause before planning", clarifiedMetadata())
	require.NoError(t, h.storage.Jobs().UpdateJobStatus(ctx, job.ID, models.JobStatusPaused, ""))

	h.executor.Run(ctx, job.ID)

	// The pause was observed before any planner work.
	assert.Zero(t, h.llm.planCalls)
	steps, err := h.storage.Steps().ListSteps(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaused, final.Status)
}

func TestExecutorDeadlineExpiresRemainingSteps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := h.submitAndClaim(t, "Out of time", clarifiedMetadata())

	// The job started long ago with a one-second budget, so the deadline has
	// already passed when execution reaches the first step.
	started := time.Now().Add(-time.Hour)
	job.StartedAt = &started
	job.Options.MaxDurationSeconds = 1
	require.NoError(t, h.storage.Jobs().SaveJob(ctx, job))

	// A note from before the cutoff keeps synthesis viable.
	require.NoError(t, h.storage.Notes().SaveNote(ctx, &models.ResearchNote{
		ID:         "note_prior",
		JobID:      job.ID,
		Role:       models.NoteRolePageSummary,
		Importance: 4,
		TokenCount: 10,
		Content:    "Finding collected before the cutoff.",
	}))

	h.executor.Run(ctx, job.ID)

	// Steps the budget cut off are partial, never left pending.
	steps, err := h.storage.Steps().ListSteps(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	for _, step := range steps {
		assert.Equal(t, models.StepStatusPartial, step.Status)
		require.NotNil(t, step.Result)
		assert.Equal(t, "time budget exhausted", step.Result.Reason)
	}
	assert.Zero(t, h.search.calls)

	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
}

func TestExecutorCriticNoteWithoutLimitations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.llm.criticResponse = `{"issues":["Sourcing leans on one publisher."],"follow_up":[],"limitations":[]}`

	job := h.submitAndClaim(t, "Issues only", clarifiedMetadata())
	h.executor.Run(ctx, job.ID)

	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, final.Status)

	// No limitations means no critic block in the report, but the critique
	// still lands as a durable note.
	assert.NotContains(t, final.FinalReport, "## Limitations & Critic Notes")

	notes, err := h.storage.Notes().ListNotes(ctx, job.ID)
	require.NoError(t, err)
	var critic *models.ResearchNote
	for _, note := range notes {
		if note.Role == models.NoteRoleCriticNote {
			critic = note
		}
	}
	require.NotNil(t, critic)
	assert.Contains(t, critic.Content, "one publisher")
}

func TestExecutorClarificationGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := h.submitAndClaim(t, "Vague question", nil)
	h.executor.Run(ctx, job.ID)

	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusClarificationRequired, final.Status)
	assert.Empty(t, final.FinalReport)
	assert.Zero(t, h.llm.planCalls)
}

func TestExecutorHaltsOnPause(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := h.submitAndClaim(t, "Pause me", clarifiedMetadata())

	// Pause lands during the first step's search; the second step must
	// never start.
	h.search.onSearch = func(call int) {
		if call == 1 {
			require.NoError(t, h.storage.Jobs().UpdateJobStatus(ctx, job.ID, models.JobStatusPaused, ""))
		}
	}

	h.executor.Run(ctx, job.ID)

	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaused, final.Status)
	assert.Empty(t, final.FinalReport)
	assert.Equal(t, 1, h.search.calls)
}

func TestExecutorResumeSkipsFinishedSteps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := h.submitAndClaim(t, "Resume me", clarifiedMetadata())

	// Simulate a prior run that planned both steps and finished the first.
	steps := []*models.ResearchStep{
		{ID: "step_done", JobID: job.ID, Title: "Done already", Objective: "done", ToolHint: "searxng", Status: models.StepStatusCompleted, StepOrder: 1},
		{ID: "step_todo", JobID: job.ID, Title: "Still to do", Objective: "todo", ToolHint: "searxng", Status: models.StepStatusPending, StepOrder: 2},
	}
	for _, s := range steps {
		require.NoError(t, h.storage.Steps().SaveStep(ctx, s))
	}

	h.executor.Run(ctx, job.ID)

	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)

	// The persisted plan was reused and only the pending step searched.
	assert.Zero(t, h.llm.planCalls)
	assert.Equal(t, 1, h.search.calls)
}

func TestExecutorPlanExpansion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.llm.expandResponses = []string{
		`[{"title":"Chase the open question","objective":"Dig into the unresolved detail","tool_hint":"searxng"}]`,
		"[]",
	}

	job := h.submitAndClaim(t, "Expandable question", clarifiedMetadata())
	h.executor.Run(ctx, job.ID)

	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, final.Status)

	// Two planned steps plus one follow-up from the first expansion round.
	steps, err := h.storage.Steps().ListSteps(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, 0, steps[0].Iteration)
	assert.Equal(t, 0, steps[1].Iteration)
	assert.Equal(t, 1, steps[2].Iteration)
	assert.Equal(t, models.StepStatusCompleted, steps[2].Status)
	assert.Equal(t, 2, h.llm.expandCalls)
	assert.Equal(t, 3, h.search.calls)
}

func TestExecutorFallbackPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.llm.planResponse = "Sorry, I cannot help with that."

	job := h.submitAndClaim(t, "Fallback question", clarifiedMetadata())
	h.executor.Run(ctx, job.ID)

	steps, err := h.storage.Steps().ListSteps(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "Perform initial web research", steps[0].Title)
	assert.Equal(t, "searxng", steps[0].ToolHint)

	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
}

func TestExecutorPartialStepOnNoResults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.search.results = nil

	job := h.submitAndClaim(t, "Unfindable question", clarifiedMetadata())
	h.executor.Run(ctx, job.ID)

	steps, err := h.storage.Steps().ListSteps(ctx, job.ID)
	require.NoError(t, err)
	for _, step := range steps {
		assert.Equal(t, models.StepStatusPartial, step.Status)
		require.NotNil(t, step.Result)
		assert.Equal(t, "no search results", step.Result.Reason)
	}

	// With no notes at all, synthesis cannot run and the job errors.
	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, final.Status)
	assert.Contains(t, final.Error, "no research notes")
}

func TestExecutorLongformSections(t *testing.T) {
	h := newHarness(t)
	h.cfg.Features.LongformEnabled = true
	ctx := context.Background()

	h.llm.synthResponse = "Drafted section content with evidence [1]."

	job := h.submitAndClaim(t, "Longform question", clarifiedMetadata())
	h.executor.Run(ctx, job.ID)

	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, final.Status)

	// One draft per fixed section, all persisted.
	drafts, err := h.storage.Sections().ListDrafts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, drafts, len(models.SectionOrder))
	for i, draft := range drafts {
		assert.Equal(t, models.SectionOrder[i], draft.SectionKey)
		assert.Equal(t, models.SectionStatusCompleted, draft.Status)
		assert.NotZero(t, draft.Tokens)
	}

	for _, key := range models.SectionOrder {
		assert.Contains(t, final.FinalReport, fmt.Sprintf("## %s", models.SectionTitle[key]))
	}
	assert.Equal(t, len(models.SectionOrder), h.llm.synthCalls)
}

func TestExecutorLongformReusesDrafts(t *testing.T) {
	h := newHarness(t)
	h.cfg.Features.LongformEnabled = true
	ctx := context.Background()

	job := h.submitAndClaim(t, "Reuse drafts", clarifiedMetadata())

	// A prior run already drafted the executive summary.
	require.NoError(t, h.storage.Sections().SaveDraft(ctx, &models.SectionDraft{
		JobID:      job.ID,
		SectionKey: models.SectionExecutiveSummary,
		Status:     models.SectionStatusCompleted,
		Content:    "## Executive Summary\n\nAlready written.",
		Tokens:     10,
	}))

	h.executor.Run(ctx, job.ID)

	final, err := h.storage.Jobs().GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Contains(t, final.FinalReport, "Already written.")
	// Only the three missing sections were drafted.
	assert.Equal(t, len(models.SectionOrder)-1, h.llm.synthCalls)
}
