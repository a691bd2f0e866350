package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
)

// synthesizePhase turns the job's notes into the report body. The longform
// path drafts fixed sections one at a time and persists each draft, so a
// rescued job resumes at the first unwritten section; the classic path is a
// single synthesis call.
func (e *Executor) synthesizePhase(ctx context.Context, job *models.ResearchJob) (string, error) {
	notes, err := e.storage.Notes().ListNotes(ctx, job.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load notes: %w", err)
	}
	if len(notes) == 0 {
		return "", fmt.Errorf("no research notes collected; nothing to synthesize")
	}

	packed, err := e.packWithCitations(ctx, job.ID, notes)
	if err != nil {
		return "", err
	}

	var body string
	if e.cfg.Features.LongformEnabled {
		body, err = e.synthesizeLongform(ctx, job, packed)
	} else {
		body, err = e.synthesizeClassic(ctx, job, packed)
	}
	if err != nil {
		return "", err
	}

	critique := e.criticPass(ctx, job, body)
	if len(critique.Limitations) > 0 {
		var b strings.Builder
		b.WriteString(body)
		b.WriteString("\n\n## Limitations & Critic Notes\n\n")
		for _, l := range critique.Limitations {
			fmt.Fprintf(&b, "- %s\n", l)
		}
		body = b.String()
	}

	// Any critic finding, limitation or not, survives as a durable note. A
	// resumed run that re-synthesizes must not duplicate the note.
	if !critique.Empty() && !hasNoteWithRole(notes, models.NoteRoleCriticNote) {
		content := critique.render()
		criticNote := &models.ResearchNote{
			ID:         common.NewNoteID(),
			JobID:      job.ID,
			Role:       models.NoteRoleCriticNote,
			Importance: models.ImportanceDefault,
			TokenCount: common.EstimateTokens(content),
			Content:    content,
		}
		if err := e.storage.Notes().SaveNote(ctx, criticNote); err != nil {
			return "", fmt.Errorf("failed to save critic note: %w", err)
		}
		e.heartbeat(ctx, job.ID)
	}

	return body, nil
}

func hasNoteWithRole(notes []*models.ResearchNote, role models.NoteRole) bool {
	for _, note := range notes {
		if note.Role == role {
			return true
		}
	}
	return false
}

// packWithCitations selects notes under the synthesis budget and decorates
// each with the citation numbers of its source.
func (e *Executor) packWithCitations(ctx context.Context, jobID string, notes []*models.ResearchNote) ([]packedNote, error) {
	selected := PackNotes(notes, e.cfg.SynthesisBudget(), e.cfg.Engine.MaxNotesForSynth)
	if len(selected) == 0 {
		return nil, fmt.Errorf("no notes fit the synthesis budget")
	}

	entries, err := e.storage.Ledger().ListEntries(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load citation ledger: %w", err)
	}
	numberByURL := make(map[string]int, len(entries))
	for _, entry := range entries {
		if entry.URL != "" {
			numberByURL[entry.URL] = entry.CitationNumber
		}
	}

	packed := make([]packedNote, 0, len(selected))
	for _, note := range selected {
		p := packedNote{Note: note}
		if n, ok := numberByURL[note.SourceURL]; ok {
			p.Citations = []int{n}
		}
		packed = append(packed, p)
	}
	return packed, nil
}

func (e *Executor) synthesizeClassic(ctx context.Context, job *models.ResearchJob, packed []packedNote) (string, error) {
	response, err := e.llm.Chat(ctx, []interfaces.Message{
		{Role: "system", Content: synthesisSystemPrompt},
		{Role: "user", Content: buildSynthesisPrompt(job.Question, packed)},
	}, interfaces.ChatOptions{MaxTokens: e.cfg.Engine.MaxLLMTokens})
	if err != nil {
		return "", fmt.Errorf("synthesis failed: %w", err)
	}
	if strings.TrimSpace(response) == "" {
		return "", fmt.Errorf("synthesis produced empty report")
	}
	return response, nil
}

func (e *Executor) synthesizeLongform(ctx context.Context, job *models.ResearchJob, packed []packedNote) (string, error) {
	var sections []string
	var previousSummaries strings.Builder

	for _, key := range models.SectionOrder {
		if err := e.checkControl(ctx, job.ID); err != nil {
			return "", err
		}

		// Completed drafts survive rescue; only missing sections are drafted.
		draft, err := e.storage.Sections().GetDraft(ctx, job.ID, key)
		if err != nil {
			return "", fmt.Errorf("failed to load section draft: %w", err)
		}
		if draft == nil || draft.Status != models.SectionStatusCompleted {
			draft, err = e.draftSection(ctx, job, key, selectSectionNotes(packed, key), previousSummaries.String())
			if err != nil {
				return "", err
			}
		} else {
			e.logger.Debug().
				Str("job_id", job.ID).
				Str("section", string(key)).
				Msg("Reusing completed section draft")
		}

		sections = append(sections, draft.Content)
		fmt.Fprintf(&previousSummaries, "### %s\n%s\n\n", models.SectionTitle[key], firstSentences(draft.Content, 2))
	}

	return strings.Join(sections, "\n\n"), nil
}

// selectSectionNotes narrows packed notes to the section's role allow-list,
// bounded at the section cap. Packed notes arrive sorted by (importance
// desc, token_count desc), so the cap keeps the strongest. A section whose
// allow-list matches nothing falls back to the full packed set.
func selectSectionNotes(packed []packedNote, key models.SectionKey) []packedNote {
	allowed := make(map[models.NoteRole]bool)
	for _, role := range models.SectionNoteRoles[key] {
		allowed[role] = true
	}

	limit := models.SectionNoteCap[key]
	var selected []packedNote
	for _, p := range packed {
		if !allowed[p.Note.Role] {
			continue
		}
		selected = append(selected, p)
		if limit > 0 && len(selected) >= limit {
			break
		}
	}
	if len(selected) == 0 {
		return packed
	}
	return selected
}

func (e *Executor) draftSection(ctx context.Context, job *models.ResearchJob, key models.SectionKey, packed []packedNote, previous string) (*models.SectionDraft, error) {
	response, err := e.llm.Chat(ctx, []interfaces.Message{
		{Role: "system", Content: synthesisSystemPrompt},
		{Role: "user", Content: buildSectionPrompt(job.Question, key, packed, previous)},
	}, interfaces.ChatOptions{MaxTokens: e.cfg.Engine.MaxLLMTokens})
	if err != nil {
		return nil, fmt.Errorf("section %s synthesis failed: %w", key, err)
	}
	content := strings.TrimSpace(response)
	if content == "" {
		return nil, fmt.Errorf("section %s synthesis produced empty content", key)
	}
	if !strings.HasPrefix(content, "#") {
		content = fmt.Sprintf("## %s\n\n%s", models.SectionTitle[key], content)
	}

	draft := &models.SectionDraft{
		JobID:       job.ID,
		SectionKey:  key,
		Status:      models.SectionStatusCompleted,
		Tokens:      common.EstimateTokens(content),
		Content:     content,
		CitationMap: citationMap(content, packed),
	}
	if err := e.storage.Sections().SaveDraft(ctx, draft); err != nil {
		return nil, fmt.Errorf("failed to save section draft: %w", err)
	}
	e.heartbeat(ctx, job.ID)

	e.logger.Info().
		Str("job_id", job.ID).
		Str("section", string(key)).
		Int("tokens", draft.Tokens).
		Msg("Section drafted")
	return draft, nil
}

// citationMap records which packed notes' citation numbers actually appear
// in a section's text.
func citationMap(content string, packed []packedNote) []models.SectionCitation {
	var cited []models.SectionCitation
	for _, p := range packed {
		var used []int
		for _, n := range p.Citations {
			if strings.Contains(content, fmt.Sprintf("[%d]", n)) {
				used = append(used, n)
			}
		}
		if len(used) > 0 {
			cited = append(cited, models.SectionCitation{
				NoteID:          p.Note.ID,
				CitationNumbers: used,
			})
		}
	}
	return cited
}

// criticPass reviews the draft for issues, follow-ups, and limitations.
// Critic failures are swallowed; the report ships without a critic block.
func (e *Executor) criticPass(ctx context.Context, job *models.ResearchJob, report string) criticReport {
	response, err := e.llm.Chat(ctx, []interfaces.Message{
		{Role: "system", Content: criticSystemPrompt},
		{Role: "user", Content: buildCriticPrompt(job.Question, report)},
	}, interfaces.ChatOptions{})
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Critic pass failed, skipping review")
		return criticReport{}
	}
	return parseCriticResponse(response)
}

// firstSentences returns up to n leading sentences of text, used as a
// bridging summary between drafted sections.
func firstSentences(text string, n int) string {
	// Strip the heading line.
	if idx := strings.Index(text, "\n"); idx >= 0 && strings.HasPrefix(text, "#") {
		text = text[idx+1:]
	}
	text = strings.TrimSpace(text)

	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count >= n {
				return text[:i+1]
			}
		}
	}
	return text
}
