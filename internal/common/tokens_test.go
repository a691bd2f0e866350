package common

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("word"))
	assert.Equal(t, 13, EstimateTokens(strings.Repeat("word ", 10)))
}

func TestClampToTokensUnderLimitUntouched(t *testing.T) {
	text := "short enough already"
	assert.Equal(t, text, ClampToTokens(text, 100))
	assert.Equal(t, text, ClampToTokens(text, 0))
}

func TestClampToTokensShrinksAndMarks(t *testing.T) {
	text := strings.Repeat("lengthy content keeps going ", 100)

	clamped := ClampToTokens(text, 50)
	require.True(t, strings.HasSuffix(clamped, TruncationMarker))
	assert.Less(t, len(clamped), len(text))
	assert.LessOrEqual(t, EstimateTokens(strings.TrimSuffix(clamped, TruncationMarker)), 50)
}

func TestClampToTokensKeepsValidUTF8(t *testing.T) {
	// Multi-byte words must never be split mid-rune by the shrink loop.
	text := strings.Repeat("調査résultats информация ", 200)

	clamped := ClampToTokens(text, 40)
	require.True(t, strings.HasSuffix(clamped, TruncationMarker))
	assert.True(t, utf8.ValidString(clamped))
}

func TestClampForEmbedding(t *testing.T) {
	text := strings.Repeat("embedding payload text ", 200)

	clamped := ClampForEmbedding(text)
	assert.LessOrEqual(t, EstimateTokens(strings.TrimSuffix(clamped, TruncationMarker)), EmbeddingTokenCeiling*8/10)
}
