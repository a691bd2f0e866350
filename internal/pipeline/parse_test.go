package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanResponse(t *testing.T) {
	response := "Here is the plan:\n```json\n" +
		`[{"title":"Survey landscape","objective":"Find overview sources","tool_hint":"searxng","theme":"overview"},` +
		`{"title":"Dig into specifics","objective":"Find primary data","tool_hint":"workflow","theme":"data"}]` +
		"\n```"

	steps := parsePlanResponse(response, 6)
	require.Len(t, steps, 2)
	assert.Equal(t, "Survey landscape", steps[0].Title)
	assert.Equal(t, "workflow", steps[1].ToolHint)
}

func TestParsePlanResponseFallsBack(t *testing.T) {
	for _, response := range []string{
		"I could not produce a plan.",
		"",
		`[{"title":""}]`,
		"[not json at all]",
	} {
		steps := parsePlanResponse(response, 6)
		require.Len(t, steps, 1, "response %q", response)
		assert.Equal(t, "Perform initial web research", steps[0].Title)
		assert.Equal(t, "searxng", steps[0].ToolHint)
	}
}

func TestParsePlanResponseTruncatesToMax(t *testing.T) {
	response := `[{"title":"a"},{"title":"b"},{"title":"c"},{"title":"d"}]`
	steps := parsePlanResponse(response, 2)
	assert.Len(t, steps, 2)
}

func TestParsePlanResponseDefaultsObjectiveAndHint(t *testing.T) {
	steps := parsePlanResponse(`[{"title":"Only a title"}]`, 6)
	require.Len(t, steps, 1)
	assert.Equal(t, "Only a title", steps[0].Objective)
	assert.Equal(t, "searxng", steps[0].ToolHint)
}

func TestParseNotesResponse(t *testing.T) {
	response := `{"page_notes":[{"content":"Key finding one","importance":5},{"content":"Minor detail","importance":9}],"step_summary":"Established the core facts."}`

	notes, summary := parseNotesResponse(response)
	require.Len(t, notes, 2)
	assert.Equal(t, "Key finding one", notes[0].Content)
	assert.Equal(t, 5, notes[0].Importance)
	// Out-of-range importance clamps.
	assert.Equal(t, 5, notes[1].Importance)
	assert.Equal(t, "Established the core facts.", summary)
}

func TestParseNotesResponseHeuristicFallback(t *testing.T) {
	response := "The first paragraph of findings.\n\nA second distinct finding."

	notes, summary := parseNotesResponse(response)
	require.Len(t, notes, 2)
	assert.Equal(t, "The first paragraph of findings.", notes[0].Content)
	assert.Equal(t, 3, notes[0].Importance)
	assert.Empty(t, summary)
}

func TestParseCriticResponse(t *testing.T) {
	critique := parseCriticResponse(`{"issues":["Overclaims in the second section."],` +
		`"follow_up":["Check the 2025 filings."],` +
		`"limitations":["Only two independent sources.","No data after 2024."]}`)
	require.Len(t, critique.Limitations, 2)
	assert.Equal(t, "Only two independent sources.", critique.Limitations[0])
	assert.Equal(t, []string{"Overclaims in the second section."}, critique.Issues)
	assert.Equal(t, []string{"Check the 2025 filings."}, critique.FollowUp)
	assert.False(t, critique.Empty())

	assert.True(t, parseCriticResponse("no structured output").Empty())
	assert.True(t, parseCriticResponse(`{"issues":[],"follow_up":[],"limitations":[]}`).Empty())

	// Issues alone still make a non-empty critique.
	onlyIssues := parseCriticResponse(`{"issues":["Weak sourcing throughout."]}`)
	assert.False(t, onlyIssues.Empty())
	assert.Empty(t, onlyIssues.Limitations)
}

func TestCriticReportRender(t *testing.T) {
	critique := criticReport{
		Issues:      []string{"Weak sourcing."},
		Limitations: []string{"No primary data."},
	}
	rendered := critique.render()
	assert.Contains(t, rendered, "Issues:\n- Weak sourcing.")
	assert.Contains(t, rendered, "Limitations:\n- No primary data.")
	assert.NotContains(t, rendered, "Follow-ups")
}
