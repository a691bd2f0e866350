package llm

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
)

// NewLLMService creates the LLM service for the configured default provider.
func NewLLMService(cfg *common.Config, logger arbor.ILogger) (interfaces.LLMService, error) {
	provider := cfg.LLM.DefaultProvider
	if provider == "" {
		provider = common.LLMProviderGemini
	}

	logger.Info().Str("provider", string(provider)).Msg("Initializing LLM service")

	switch provider {
	case common.LLMProviderGemini:
		return NewGeminiService(cfg, logger)
	case common.LLMProviderClaude:
		return NewClaudeService(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider '%s': must be 'gemini' or 'claude'", provider)
	}
}
