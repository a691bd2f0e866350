package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/ternarybob/perquire/internal/models"
)

// plannedStep is the planner's JSON element
type plannedStep struct {
	Title     string `json:"title"`
	Objective string `json:"objective"`
	ToolHint  string `json:"tool_hint"`
	Theme     string `json:"theme"`
}

// parsePlannedSteps extracts well-formed step elements from an LLM
// response. Returns nil for non-JSON or empty output.
func parsePlannedSteps(response string) []plannedStep {
	var steps []plannedStep
	if raw := extractJSON(response, '[', ']'); raw != "" {
		if err := json.Unmarshal([]byte(raw), &steps); err != nil {
			steps = nil
		}
	}

	// Drop malformed elements.
	valid := steps[:0]
	for _, s := range steps {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		if s.Objective == "" {
			s.Objective = s.Title
		}
		if s.ToolHint == "" {
			s.ToolHint = "searxng"
		}
		valid = append(valid, s)
	}
	return valid
}

// parsePlanResponse parses the initial plan. Non-JSON or empty responses
// fall back to a single generic research step, so planning never hard-fails
// on model output.
func parsePlanResponse(response string, maxSteps int) []plannedStep {
	steps := parsePlannedSteps(response)
	if len(steps) == 0 {
		return []plannedStep{fallbackStep()}
	}
	if len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	return steps
}

// parseExpansionResponse parses a follow-up planning round. Unlike the
// initial plan there is no fallback: garbage or an empty list ends the
// expansion.
func parseExpansionResponse(response string, remaining int) []plannedStep {
	steps := parsePlannedSteps(response)
	if len(steps) > remaining {
		steps = steps[:remaining]
	}
	return steps
}

func fallbackStep() plannedStep {
	return plannedStep{
		Title:     "Perform initial web research",
		Objective: "Search the web for sources that address the research question and collect key findings",
		ToolHint:  "searxng",
	}
}

// summarizerResponse is the page summarizer's JSON shape
type summarizerResponse struct {
	PageNotes []struct {
		Content    string `json:"content"`
		Importance int    `json:"importance"`
	} `json:"page_notes"`
	StepSummary string `json:"step_summary"`
}

// extractedNote is one parsed finding
type extractedNote struct {
	Content    string
	Importance int
}

// parseNotesResponse extracts page notes and the step summary from an LLM
// response. Non-JSON output degrades to one note per paragraph at default
// importance.
func parseNotesResponse(response string) ([]extractedNote, string) {
	if raw := extractJSON(response, '{', '}'); raw != "" {
		var parsed summarizerResponse
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil && len(parsed.PageNotes) > 0 {
			notes := make([]extractedNote, 0, len(parsed.PageNotes))
			for _, n := range parsed.PageNotes {
				if strings.TrimSpace(n.Content) == "" {
					continue
				}
				notes = append(notes, extractedNote{
					Content:    strings.TrimSpace(n.Content),
					Importance: models.ClampImportance(n.Importance),
				})
			}
			if len(notes) > 0 {
				return notes, strings.TrimSpace(parsed.StepSummary)
			}
		}
	}

	// Heuristic fallback: each non-empty paragraph becomes a note.
	var notes []extractedNote
	for _, para := range strings.Split(response, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		notes = append(notes, extractedNote{
			Content:    para,
			Importance: models.ImportanceDefault,
		})
	}
	return notes, ""
}

// criticReport is the critic's parsed JSON output. All three lists are
// advisory; only limitations surface in the report body.
type criticReport struct {
	Issues      []string `json:"issues"`
	FollowUp    []string `json:"follow_up"`
	Limitations []string `json:"limitations"`
}

func (r criticReport) Empty() bool {
	return len(r.Issues) == 0 && len(r.FollowUp) == 0 && len(r.Limitations) == 0
}

// render flattens the critique into one durable note body.
func (r criticReport) render() string {
	var b strings.Builder
	writeCriticList(&b, "Issues", r.Issues)
	writeCriticList(&b, "Follow-ups", r.FollowUp)
	writeCriticList(&b, "Limitations", r.Limitations)
	return strings.TrimSpace(b.String())
}

func writeCriticList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(heading + ":\n")
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
}

// parseCriticResponse extracts the critic's review from its response.
// Non-JSON output yields an empty report; the critic is advisory.
func parseCriticResponse(response string) criticReport {
	raw := extractJSON(response, '{', '}')
	if raw == "" {
		return criticReport{}
	}

	var parsed criticReport
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return criticReport{}
	}

	parsed.Issues = cleanCriticList(parsed.Issues)
	parsed.FollowUp = cleanCriticList(parsed.FollowUp)
	parsed.Limitations = cleanCriticList(parsed.Limitations)
	return parsed
}

func cleanCriticList(items []string) []string {
	cleaned := items[:0]
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			cleaned = append(cleaned, strings.TrimSpace(item))
		}
	}
	return cleaned
}

// extractJSON returns the outermost open..close span in the text, tolerating
// prose or code fences around the JSON payload.
func extractJSON(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
