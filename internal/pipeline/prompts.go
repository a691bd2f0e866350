package pipeline

import (
	"fmt"
	"strings"

	"github.com/ternarybob/perquire/internal/models"
	"github.com/ternarybob/perquire/internal/services/archive"
)

const plannerSystemPrompt = `You are a research planner. Given a research question, produce a short ordered plan of investigative web-research steps.
Respond with a JSON array only, no prose. Each element: {"title": string, "objective": string, "tool_hint": "searxng"|"workflow", "theme": string}.
Keep the plan focused; do not pad with redundant steps.`

func buildPlannerPrompt(job *models.ResearchJob, maxSteps int, warm []archive.WarmNote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", job.Question)

	if len(job.Metadata) > 0 {
		b.WriteString("\nClarifications provided by the requester:\n")
		for _, key := range models.ClarificationKeys {
			if v, ok := job.Metadata[key]; ok && v != "" {
				fmt.Fprintf(&b, "- %s: %s\n", key, v)
			}
		}
	}

	if len(warm) > 0 {
		b.WriteString("\nFindings from earlier related research (context only, do not cite):\n")
		for _, note := range warm {
			fmt.Fprintf(&b, "- %s\n", note.Content)
		}
	}

	fmt.Fprintf(&b, "\nProduce at most %d steps as a JSON array.\n", maxSteps)
	return b.String()
}

const expansionSystemPrompt = `You are a research planner reviewing progress mid-investigation. Given what the completed steps established, propose follow-up web-research steps ONLY for genuine coverage gaps.
Respond with a JSON array only, no prose. Each element: {"title": string, "objective": string, "tool_hint": "searxng"|"workflow", "theme": string}.
If coverage is sufficient, respond with an empty array [].`

func buildExpansionPrompt(job *models.ResearchJob, summaries []*models.ResearchNote, remaining int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nWhat the completed steps established:\n", job.Question)
	for _, note := range summaries {
		fmt.Fprintf(&b, "- %s\n", note.Content)
	}
	fmt.Fprintf(&b, "\nPropose at most %d follow-up steps as a JSON array, or [] if coverage is sufficient.\n", remaining)
	return b.String()
}

const summarizerSystemPrompt = `You are a research analyst extracting findings from web pages.
Respond with JSON only: {"page_notes": [{"content": string, "importance": 1-5}], "step_summary": string}.
Each page note is one self-contained finding. Importance 5 means directly answers the research question, 1 means background color. The step summary condenses what this step established.`

func buildSummarizerPrompt(question, objective string, pages []fetchedPageRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\nStep objective: %s\n\n", question, objective)
	for i, page := range pages {
		fmt.Fprintf(&b, "--- Page %d: %s (%s) ---\n%s\n\n", i+1, page.Title, page.URL, page.Content)
	}
	b.WriteString("Extract the findings as JSON.")
	return b.String()
}

const synthesisSystemPrompt = `You are a research writer producing a final report in markdown.
Cite evidence inline with bracketed citation numbers like [1] or [2], using ONLY the numbers given with each finding. Never invent citation numbers.
Structure the report with markdown headings. Do not include a references section; it is appended separately.`

func buildSynthesisPrompt(question string, packed []packedNote) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nFindings (cite with the given numbers):\n\n", question)
	for _, note := range packed {
		b.WriteString(formatPackedNote(note))
	}
	b.WriteString("Write the full report now.")
	return b.String()
}

func buildSectionPrompt(question string, key models.SectionKey, packed []packedNote, previous string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", question)
	fmt.Fprintf(&b, "Write ONLY the %q section of the report. Start with the heading \"## %s\".\n",
		models.SectionTitle[key], models.SectionTitle[key])

	switch key {
	case models.SectionExecutiveSummary:
		b.WriteString("Summarize the whole investigation in a few tight paragraphs.\n")
	case models.SectionBackground:
		b.WriteString("Explain the context a reader needs before the analysis.\n")
	case models.SectionAnalysis:
		b.WriteString("Work through the evidence in detail.\n")
	case models.SectionRecommendations:
		b.WriteString("Give concrete, prioritized recommendations grounded in the analysis.\n")
	}

	if previous != "" {
		fmt.Fprintf(&b, "\nSections already written (do not repeat their content):\n%s\n", previous)
	}

	b.WriteString("\nFindings (cite with the given numbers):\n\n")
	for _, note := range packed {
		b.WriteString(formatPackedNote(note))
	}
	return b.String()
}

const criticSystemPrompt = `You are a research critic reviewing a draft report for gaps, weak sourcing, and overclaiming.
Respond with JSON only: {"issues": [string], "follow_up": [string], "limitations": [string]}.
Issues are flaws in the draft itself, follow ups are research leads left unanswered, limitations are caveats the reader must know. One sentence each. Return empty arrays where the report is sound.`

func buildCriticPrompt(question, report string) string {
	return fmt.Sprintf("Research question: %s\n\nDraft report:\n\n%s\n\nGive your review as JSON.", question, report)
}

// packedNote pairs a note with the citation numbers its sources carry.
type packedNote struct {
	Note      *models.ResearchNote
	Citations []int
}

func formatPackedNote(note packedNote) string {
	if len(note.Citations) == 0 {
		return fmt.Sprintf("- %s\n\n", note.Note.Content)
	}
	refs := make([]string, len(note.Citations))
	for i, n := range note.Citations {
		refs[i] = fmt.Sprintf("[%d]", n)
	}
	return fmt.Sprintf("- %s (sources: %s)\n\n", note.Note.Content, strings.Join(refs, " "))
}
