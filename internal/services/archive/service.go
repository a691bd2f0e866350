package archive

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"github.com/ternarybob/perquire/internal/models"
)

// Embedder turns text into a vector; satisfied by the embeddings service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// WarmNote is an archived finding from an earlier job, surfaced as planner
// context for a new question.
type WarmNote struct {
	JobID      string
	Content    string
	Importance int
	Score      float32
}

// Service maintains the cross-job note archive in the vector store. Every
// operation degrades to a no-op when the vector store is disabled or
// unreachable; archive quality never gates job execution.
type Service struct {
	vector    interfaces.VectorService
	embedder  Embedder
	limit     int
	minImport int
	dimension int
	logger    arbor.ILogger
}

// NewService creates the archive service. A nil vector service disables it.
func NewService(cfg *common.Config, vector interfaces.VectorService, embedder Embedder, logger arbor.ILogger) *Service {
	return &Service{
		vector:    vector,
		embedder:  embedder,
		limit:     cfg.Engine.WarmNotesLimit,
		minImport: cfg.Engine.WarmImportanceMin,
		dimension: cfg.Vector.Dimension,
		logger:    logger,
	}
}

// Enabled reports whether the archive has a vector store behind it
func (s *Service) Enabled() bool {
	return s != nil && s.vector != nil && s.embedder != nil
}

// Init ensures the backing collection exists.
func (s *Service) Init(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	return s.vector.EnsureCollection(ctx, s.dimension)
}

// IndexNote embeds a note and stores it under its own role. Warm retrieval
// only surfaces cross-job summaries; other roles support future semantic
// search over a job's evidence.
func (s *Service) IndexNote(ctx context.Context, note *models.ResearchNote) error {
	if !s.Enabled() {
		return nil
	}
	if note.Content == "" {
		return fmt.Errorf("cannot index empty note")
	}

	vector, err := s.embedder.Embed(ctx, note.Content)
	if err != nil {
		return fmt.Errorf("failed to embed note %s: %w", note.ID, err)
	}

	payload := map[string]interface{}{
		"job_id":     note.JobID,
		"role":       string(note.Role),
		"content":    note.Content,
		"importance": note.Importance,
	}
	if err := s.vector.Upsert(ctx, note.ID, vector, payload); err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", note.ID, err)
	}

	s.logger.Debug().
		Str("note_id", note.ID).
		Str("job_id", note.JobID).
		Msg("Note indexed in archive")
	return nil
}

// WarmNotes returns the archive's best matches for a question, filtered by
// minimum importance. Errors are logged and swallowed; the caller gets an
// empty slice.
func (s *Service) WarmNotes(ctx context.Context, question string) []WarmNote {
	if !s.Enabled() || question == "" {
		return nil
	}

	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Warm context embed failed, planning cold")
		return nil
	}

	hits, err := s.vector.Search(ctx, interfaces.VectorSearchRequest{
		Vector: vector,
		Limit:  s.limit,
		Filter: map[string]interface{}{"role": string(models.NoteRoleCrossJobSummary)},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Warm context search failed, planning cold")
		return nil
	}

	notes := make([]WarmNote, 0, len(hits))
	for _, hit := range hits {
		importance := payloadInt(hit.Payload, "importance")
		if importance < s.minImport {
			continue
		}
		content, _ := hit.Payload["content"].(string)
		if content == "" {
			continue
		}
		jobID, _ := hit.Payload["job_id"].(string)
		notes = append(notes, WarmNote{
			JobID:      jobID,
			Content:    content,
			Importance: importance,
			Score:      hit.Score,
		})
	}

	s.logger.Debug().
		Int("hits", len(hits)).
		Int("kept", len(notes)).
		Msg("Warm context retrieved")
	return notes
}

func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
