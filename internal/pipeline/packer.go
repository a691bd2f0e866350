package pipeline

import (
	"sort"

	"github.com/ternarybob/perquire/internal/models"
)

// PackNotes selects notes for a synthesis prompt under a token budget.
// Candidates are ordered by importance, then token count, both descending;
// a note that would overflow the budget is skipped and packing continues
// with smaller notes. At most maxNotes are selected.
func PackNotes(notes []*models.ResearchNote, budget, maxNotes int) []*models.ResearchNote {
	if budget <= 0 || maxNotes <= 0 || len(notes) == 0 {
		return nil
	}

	candidates := make([]*models.ResearchNote, len(notes))
	copy(candidates, notes)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Importance != candidates[j].Importance {
			return candidates[i].Importance > candidates[j].Importance
		}
		return candidates[i].TokenCount > candidates[j].TokenCount
	})

	var packed []*models.ResearchNote
	remaining := budget
	for _, note := range candidates {
		if len(packed) >= maxNotes {
			break
		}
		if note.TokenCount > remaining {
			continue
		}
		packed = append(packed, note)
		remaining -= note.TokenCount
	}

	return packed
}
