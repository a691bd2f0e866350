package common

import (
	"strings"
)

// TokensPerWord is the approximation factor used for all token accounting.
// Sizing is a soft target; every consumer keeps a safety margin.
const TokensPerWord = 1.3

// EmbeddingTokenCeiling is the approximate token limit of the embedding
// endpoint. Text is pre-clamped to 80% of this before the first attempt.
const EmbeddingTokenCeiling = 512

// TruncationMarker is appended when text was clamped to fit a token ceiling.
const TruncationMarker = " …"

// EstimateTokens returns an approximate token count for text using the
// word-count heuristic.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	return int(float64(words) * TokensPerWord)
}

// ClampToTokens shrinks text until its estimated token count fits the limit,
// dropping 10% of the words per pass. Cutting on word boundaries keeps the
// result valid UTF-8. A trailing marker flags the truncation.
func ClampToTokens(text string, limit int) string {
	if limit <= 0 || EstimateTokens(text) <= limit {
		return text
	}

	words := strings.Fields(text)
	keep := len(words)
	for keep > 1 && int(float64(keep)*TokensPerWord) > limit {
		next := keep * 9 / 10
		if next >= keep {
			next = keep - 1
		}
		keep = next
	}
	return strings.Join(words[:keep], " ") + TruncationMarker
}

// ClampForEmbedding clamps text to the embedding ceiling with a 20% safety
// margin.
func ClampForEmbedding(text string) string {
	return ClampToTokens(text, EmbeddingTokenCeiling*8/10)
}
