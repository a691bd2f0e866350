package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/perquire/internal/artifacts"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/models"
)

// finalizePhase links citations, appends the references section, renders
// the published formats, and completes the job in one last durable write.
func (e *Executor) finalizePhase(ctx context.Context, job *models.ResearchJob, body string) error {
	entries, err := e.storage.Ledger().ListEntries(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load citation ledger: %w", err)
	}

	// An empty ledger falls back to the job's sources in creation order, so
	// the report always carries its evidence.
	if len(entries) == 0 {
		entries, err = e.ledgerFromSources(ctx, job.ID)
		if err != nil {
			return err
		}
	}

	report := LinkifyCitations(body, len(entries))
	report += BuildReferences(entries)

	outputs, err := e.renderer.RenderAll(report, job.Question)
	if err != nil {
		return fmt.Errorf("report rendering failed: %w", err)
	}

	assets := &models.ReportAssets{GeneratedAt: time.Now()}
	for _, out := range outputs {
		key := artifacts.ReportKey(job.ID, out.Format)
		url, err := e.artifacts.Put(ctx, key, out.Data, out.ContentType)
		if err != nil {
			return fmt.Errorf("failed to store %s report: %w", out.Format, err)
		}
		e.heartbeat(ctx, job.ID)

		sum := sha256.Sum256(out.Data)
		assets.Assets = append(assets.Assets, models.ReportAsset{
			Format:      out.Format,
			URL:         url,
			SHA256:      hex.EncodeToString(sum[:]),
			SizeBytes:   len(out.Data),
			ContentType: out.ContentType,
		})
	}

	if err := e.storage.Jobs().CompleteJob(ctx, job.ID, report, assets); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	e.recordCrossJobSummary(ctx, job, report)
	return nil
}

// recordCrossJobSummary leaves a durable digest of the finished job and
// indexes it so future related jobs can warm-start their planning. Best
// effort: the job is already completed. A resumed run that re-finalizes
// must not duplicate the digest.
func (e *Executor) recordCrossJobSummary(ctx context.Context, job *models.ResearchJob, report string) {
	existing, err := e.storage.Notes().ListNotes(ctx, job.ID)
	if err == nil && hasNoteWithRole(existing, models.NoteRoleCrossJobSummary) {
		return
	}

	digest, err := json.Marshal(map[string]string{
		"question": job.Question,
		"summary":  firstSentences(report, 3),
	})
	if err != nil {
		return
	}

	note := &models.ResearchNote{
		ID:         common.NewNoteID(),
		JobID:      job.ID,
		Role:       models.NoteRoleCrossJobSummary,
		Importance: 4,
		TokenCount: common.EstimateTokens(string(digest)),
		Content:    string(digest),
	}
	if err := e.storage.Notes().SaveNote(ctx, note); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to save cross-job summary")
		return
	}
	if err := e.archive.IndexNote(ctx, note); err != nil {
		e.logger.Warn().Err(err).Str("note_id", note.ID).Msg("Archive index failed")
	}
}

// ledgerFromSources synthesizes citation entries from the job's page
// sources, numbered by creation order with URL dedup.
func (e *Executor) ledgerFromSources(ctx context.Context, jobID string) ([]*models.CitationEntry, error) {
	sources, err := e.storage.Notes().ListSources(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}

	seen := make(map[string]bool)
	var entries []*models.CitationEntry
	for _, src := range sources {
		if src.URL == "" || seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		entries = append(entries, &models.CitationEntry{
			JobID:          jobID,
			CitationNumber: len(entries) + 1,
			Title:          src.Title,
			URL:            src.URL,
			AccessedAt:     src.CreatedAt,
		})
	}
	return entries, nil
}

// The first alternative matches markers that are already links, which pass
// through unchanged; linkification is idempotent.
var citationRefRegex = regexp.MustCompile(`\[(\d+)\]\(#ref-\d+\)|\[(\d+)\]`)

// LinkifyCitations rewrites bare [n] citation markers as anchors into the
// references section. Markers above the ledger size and markers that are
// already links are left untouched.
func LinkifyCitations(body string, ledgerSize int) string {
	return citationRefRegex.ReplaceAllStringFunc(body, func(match string) string {
		if strings.Contains(match, "(") {
			return match
		}
		num := 0
		for _, d := range match[1 : len(match)-1] {
			num = num*10 + int(d-'0')
		}
		if num < 1 || num > ledgerSize {
			return match
		}
		return fmt.Sprintf("[%d](#ref-%d)", num, num)
	})
}

// BuildReferences renders the ledger as the report's references section.
func BuildReferences(entries []*models.CitationEntry) string {
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n## References\n\n")
	for _, entry := range entries {
		title := entry.Title
		if title == "" {
			title = entry.URL
		}
		fmt.Fprintf(&b, "%d. <a id=\"ref-%d\"></a> [%s](%s) (accessed %s)\n",
			entry.CitationNumber, entry.CitationNumber,
			title, entry.URL, entry.AccessedAt.Format("2006-01-02"))
	}
	return b.String()
}
