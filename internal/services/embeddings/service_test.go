package embeddings

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
)

type fakeLLM struct {
	rejectUntil int // Reject with a token error until this many calls
	calls       int
	lastText    string
}

func (f *fakeLLM) Chat(ctx context.Context, messages []interfaces.Message, opts interfaces.ChatOptions) (string, error) {
	return "", nil
}

func (f *fakeLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	f.lastText = text
	if f.calls <= f.rejectUntil {
		return nil, fmt.Errorf("request rejected: input must be less than 512 tokens")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeLLM) HealthCheck(ctx context.Context) error { return nil }

func TestEmbedClampsBeforeCalling(t *testing.T) {
	llm := &fakeLLM{}
	svc := NewService(llm, arbor.NewLogger())

	long := strings.Repeat("word ", 2000)
	_, err := svc.Embed(context.Background(), long)
	require.NoError(t, err)

	// Text reaching the provider is already under the embedding ceiling.
	assert.LessOrEqual(t, common.EstimateTokens(llm.lastText), common.EmbeddingTokenCeiling)
}

func TestEmbedShrinksOnOverflow(t *testing.T) {
	llm := &fakeLLM{rejectUntil: 2}
	svc := NewService(llm, arbor.NewLogger())

	vector, err := svc.Embed(context.Background(), strings.Repeat("data ", 500))
	require.NoError(t, err)
	assert.Len(t, vector, 3)
	assert.Equal(t, 3, llm.calls)
}

func TestEmbedGivesUpAfterMaxAttempts(t *testing.T) {
	llm := &fakeLLM{rejectUntil: 100}
	svc := NewService(llm, arbor.NewLogger())

	_, err := svc.Embed(context.Background(), "short text")
	require.Error(t, err)
	assert.Equal(t, maxShrinkAttempts, llm.calls)
}

func TestEmbedPassesThroughOtherErrors(t *testing.T) {
	llm := &errLLM{}
	svc := NewService(llm, arbor.NewLogger())

	_, err := svc.Embed(context.Background(), "some text")
	require.Error(t, err)
	assert.Equal(t, 1, llm.calls)
}

type errLLM struct{ calls int }

func (e *errLLM) Chat(ctx context.Context, messages []interfaces.Message, opts interfaces.ChatOptions) (string, error) {
	return "", nil
}

func (e *errLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return nil, fmt.Errorf("connection refused")
}

func (e *errLLM) HealthCheck(ctx context.Context) error { return nil }
