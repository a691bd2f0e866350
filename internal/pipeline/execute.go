package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/perquire/internal/artifacts"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
)

// fetchedPageRef is one fetched page headed into the summarizer prompt
type fetchedPageRef struct {
	URL     string
	Title   string
	Snippet string // Search result snippet, kept for source attribution
	Content string
	RawURL  string // Artifact URL of the stored raw document
}

// executePhase runs every pending step in order. Steps already terminal are
// skipped, which makes a resumed run pick up exactly where the last one
// stopped. Past the deadline, remaining steps turn partial so synthesis
// only ever starts with every step terminal.
func (e *Executor) executePhase(ctx context.Context, job *models.ResearchJob, steps []*models.ResearchStep, deadline time.Time) error {
	for i, step := range steps {
		if step.Status.IsTerminal() {
			e.logger.Debug().
				Str("job_id", job.ID).
				Int("step", step.StepOrder).
				Str("status", string(step.Status)).
				Msg("Step already finished, skipping")
			continue
		}

		if err := e.checkControl(ctx, job.ID); err != nil {
			return err
		}

		if time.Now().After(deadline) {
			e.logger.Warn().
				Str("job_id", job.ID).
				Int("step", step.StepOrder).
				Msg("Duration budget exhausted, expiring remaining steps")
			return e.expireRemainingSteps(ctx, job, steps[i:])
		}

		if err := e.executeStep(ctx, job, step); err != nil {
			return err
		}
	}
	return nil
}

// expireRemainingSteps marks steps the duration budget cut off as partial,
// so no step stays pending on a completed job.
func (e *Executor) expireRemainingSteps(ctx context.Context, job *models.ResearchJob, remaining []*models.ResearchStep) error {
	for _, step := range remaining {
		if step.Status.IsTerminal() {
			continue
		}
		if err := e.finishStep(ctx, job, step, models.StepStatusPartial, 0, "time budget exhausted"); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) executeStep(ctx context.Context, job *models.ResearchJob, step *models.ResearchStep) error {
	e.logger.Info().
		Str("job_id", job.ID).
		Int("step", step.StepOrder).
		Str("title", step.Title).
		Msg("Executing step")

	if err := e.storage.Steps().UpdateStepStatus(ctx, step.ID, models.StepStatusRunning, nil); err != nil {
		return fmt.Errorf("failed to mark step running: %w", err)
	}
	e.heartbeat(ctx, job.ID)

	query := fmt.Sprintf("%s :: %s", job.Question, step.Objective)
	results, err := e.search.Search(ctx, query, step.ToolHint)
	if err != nil {
		// A search outage is a partial step, not a dead job.
		e.logger.Warn().Err(err).Str("job_id", job.ID).Int("step", step.StepOrder).Msg("Search failed for step")
		return e.finishStep(ctx, job, step, models.StepStatusPartial, 0, "search failed: "+err.Error())
	}
	if len(results) == 0 {
		return e.finishStep(ctx, job, step, models.StepStatusPartial, 0, "no search results")
	}

	pages := e.fetchTopResults(ctx, job, step, results)
	if len(pages) == 0 {
		return e.finishStep(ctx, job, step, models.StepStatusPartial, 0, "no pages fetched")
	}

	noteCount, err := e.summarizeAndRecord(ctx, job, step, pages)
	if err != nil {
		return err
	}

	status := models.StepStatusCompleted
	reason := ""
	if noteCount == 0 {
		status = models.StepStatusPartial
		reason = "no findings extracted"
	}
	return e.finishStep(ctx, job, step, status, len(pages), reason)
}

func (e *Executor) finishStep(ctx context.Context, job *models.ResearchJob, step *models.ResearchStep, status models.StepStatus, sources int, reason string) error {
	result := &models.StepResult{SourceCount: sources, Reason: reason}
	if err := e.storage.Steps().UpdateStepStatus(ctx, step.ID, status, result); err != nil {
		return fmt.Errorf("failed to finish step: %w", err)
	}
	e.heartbeat(ctx, job.ID)

	e.logger.Info().
		Str("job_id", job.ID).
		Int("step", step.StepOrder).
		Str("status", string(status)).
		Int("sources", sources).
		Msg("Step finished")
	return nil
}

// fetchTopResults fetches the leading search hits, persisting each raw
// document before its content is used. Individual fetch failures just
// narrow the evidence for the step.
func (e *Executor) fetchTopResults(ctx context.Context, job *models.ResearchJob, step *models.ResearchStep, results []interfaces.SearchResult) []fetchedPageRef {
	limit := e.cfg.Tools.MaxFetchPerStep
	if limit <= 0 {
		limit = 3
	}
	if len(results) < limit {
		limit = len(results)
	}

	var pages []fetchedPageRef
	for i := 0; i < limit; i++ {
		result := results[i]

		page, err := e.fetch.Fetch(ctx, result.URL)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("url", result.URL).
				Msg("Fetch failed, skipping result")
			continue
		}
		if page.Title == "" {
			page.Title = result.Title
		}

		rawURL := e.storeRawPage(ctx, job, step, i, page)
		pages = append(pages, fetchedPageRef{
			URL:     page.URL,
			Title:   page.Title,
			Snippet: result.Snippet,
			Content: common.ClampToTokens(page.Content, e.pageTokenCap()),
			RawURL:  rawURL,
		})
	}
	return pages
}

// pageTokenCap bounds each page's share of the summarizer prompt.
func (e *Executor) pageTokenCap() int {
	tokens := e.cfg.Engine.MaxContext / 8
	if tokens <= 0 {
		tokens = 4000
	}
	return tokens
}

func (e *Executor) storeRawPage(ctx context.Context, job *models.ResearchJob, step *models.ResearchStep, index int, page *interfaces.FetchedPage) string {
	raw, err := json.Marshal(page)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", page.URL).Msg("Failed to marshal raw page")
		return ""
	}

	key := artifacts.RawPageKey(job.ID, step.StepOrder, index)
	url, err := e.artifacts.Put(ctx, key, raw, "application/json")
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("Failed to store raw page")
		return ""
	}
	e.heartbeat(ctx, job.ID)
	return url
}

// summarizeAndRecord turns fetched pages into durable notes, sources, and
// ledger entries. Returns the number of notes written.
func (e *Executor) summarizeAndRecord(ctx context.Context, job *models.ResearchJob, step *models.ResearchStep, pages []fetchedPageRef) (int, error) {
	response, err := e.llm.Chat(ctx, []interfaces.Message{
		{Role: "system", Content: summarizerSystemPrompt},
		{Role: "user", Content: buildSummarizerPrompt(job.Question, step.Objective, pages)},
	}, interfaces.ChatOptions{})
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Int("step", step.StepOrder).Msg("Summarizer call failed")
		return 0, nil
	}

	extracted, stepSummary := parseNotesResponse(response)

	count := 0
	for i, finding := range extracted {
		// Findings map to pages positionally when counts line up; otherwise
		// everything attributes to the first page.
		page := pages[0]
		if len(extracted) == len(pages) {
			page = pages[i]
		}

		note := &models.ResearchNote{
			ID:         common.NewNoteID(),
			JobID:      job.ID,
			StepID:     step.ID,
			Role:       models.NoteRolePageSummary,
			Importance: finding.Importance,
			TokenCount: common.EstimateTokens(finding.Content),
			Content:    finding.Content,
			SourceURL:  page.URL,
		}
		if err := e.storage.Notes().SaveNote(ctx, note); err != nil {
			return count, fmt.Errorf("failed to save note: %w", err)
		}
		if err := e.archive.IndexNote(ctx, note); err != nil {
			e.logger.Warn().Err(err).Str("note_id", note.ID).Msg("Archive index failed")
		}

		source := &models.PageSource{
			ID:            common.NewSourceID(),
			NoteID:        note.ID,
			JobID:         job.ID,
			URL:           page.URL,
			Title:         page.Title,
			Snippet:       page.Snippet,
			RawStorageURL: page.RawURL,
		}
		if err := e.storage.Notes().SaveSource(ctx, source); err != nil {
			return count, fmt.Errorf("failed to save source: %w", err)
		}

		if _, err := e.storage.Ledger().AssignCitation(ctx, job.ID, models.CitationSource{
			URL:           page.URL,
			Title:         page.Title,
			RawStorageURL: page.RawURL,
		}); err != nil {
			return count, fmt.Errorf("failed to assign citation: %w", err)
		}

		e.heartbeat(ctx, job.ID)
		count++
	}

	if stepSummary != "" {
		summaryNote := &models.ResearchNote{
			ID:         common.NewNoteID(),
			JobID:      job.ID,
			StepID:     step.ID,
			Role:       models.NoteRoleStepSummary,
			Importance: models.ImportanceMax,
			TokenCount: common.EstimateTokens(stepSummary),
			Content:    stepSummary,
		}
		if err := e.storage.Notes().SaveNote(ctx, summaryNote); err != nil {
			return count, fmt.Errorf("failed to save step summary: %w", err)
		}
		e.heartbeat(ctx, job.ID)
		count++

		// Cross-job archive is best effort.
		if err := e.archive.IndexNote(ctx, summaryNote); err != nil {
			e.logger.Warn().Err(err).Str("note_id", summaryNote.ID).Msg("Archive index failed")
		}
	}

	return count, nil
}
