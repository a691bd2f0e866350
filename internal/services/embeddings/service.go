package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
)

// maxShrinkAttempts bounds the token-overflow retry loop. Each retry shrinks
// the text by a further 10% before re-embedding.
const maxShrinkAttempts = 4

// Service wraps the LLM provider's embedding endpoint with pre-clamping and
// overflow retries. Provider token counting differs from the local estimate,
// so a clamped text can still be rejected; shrinking and retrying converges.
type Service struct {
	llm    interfaces.LLMService
	logger arbor.ILogger
}

// NewService creates the embeddings service
func NewService(llm interfaces.LLMService, logger arbor.ILogger) *Service {
	return &Service{
		llm:    llm,
		logger: logger,
	}
}

// Embed clamps text to the embedding token ceiling and generates a vector,
// shrinking and retrying when the provider still rejects the length.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	clamped := common.ClampForEmbedding(text)
	if strings.TrimSpace(clamped) == "" {
		return nil, fmt.Errorf("text is empty after clamping")
	}

	var lastErr error
	for attempt := 0; attempt < maxShrinkAttempts; attempt++ {
		vector, err := s.llm.Embed(ctx, clamped)
		if err == nil {
			return vector, nil
		}
		lastErr = err

		if !isTokenOverflowError(err) {
			return nil, err
		}

		shrunk := shrinkByTenth(clamped)
		s.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("old_length", len(clamped)).
			Int("new_length", len(shrunk)).
			Msg("Embedding rejected for length, shrinking and retrying")
		clamped = shrunk
	}

	return nil, fmt.Errorf("embedding failed after %d shrink attempts: %w", maxShrinkAttempts, lastErr)
}

// isTokenOverflowError matches provider rejections caused by input length.
func isTokenOverflowError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "413") ||
		strings.Contains(msg, "token") ||
		strings.Contains(msg, "too long") ||
		strings.Contains(msg, "payload")
}

// shrinkByTenth drops the last 10% of the text at a word boundary.
func shrinkByTenth(text string) string {
	words := strings.Fields(text)
	if len(words) <= 1 {
		return text
	}
	keep := len(words) * 9 / 10
	if keep < 1 {
		keep = 1
	}
	return strings.Join(words[:keep], " ")
}
