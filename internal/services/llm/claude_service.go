package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"golang.org/x/time/rate"
)

// ClaudeService implements the LLMService interface using the Anthropic
// Claude API. Embeddings are not available on this provider.
type ClaudeService struct {
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	client    *anthropic.Client
	timeout   time.Duration
	limiter   *rate.Limiter
	retry     *RetryConfig
	maxTokens int
}

// convertMessagesToClaude converts []interfaces.Message to Claude
// MessageParam format, extracting system messages for the System parameter.
func convertMessagesToClaude(messages []interfaces.Message) ([]anthropic.MessageParam, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("messages cannot be empty")
	}

	hasUserMessage := false
	for _, msg := range messages {
		if msg.Role == "user" {
			hasUserMessage = true
			break
		}
	}
	if !hasUserMessage {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}

	claudeMessages := make([]anthropic.MessageParam, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}

		switch msg.Role {
		case "assistant":
			claudeMessages = append(claudeMessages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		default:
			claudeMessages = append(claudeMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	return claudeMessages, systemText, nil
}

// NewClaudeService creates a new Claude LLM service instance.
func NewClaudeService(cfg *common.Config, logger arbor.ILogger) (*ClaudeService, error) {
	claudeConfig := &cfg.Claude

	if claudeConfig.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required for Claude service (set via ANTHROPIC_API_KEY or claude.api_key in config)")
	}

	if claudeConfig.Model == "" {
		claudeConfig.Model = "claude-haiku-3-5-20241022"
	}

	timeout, err := time.ParseDuration(claudeConfig.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", claudeConfig.Timeout, err)
	}

	rateInterval, err := time.ParseDuration(claudeConfig.RateLimit)
	if err != nil || rateInterval <= 0 {
		rateInterval = time.Second
	}

	maxTokens := claudeConfig.MaxTokens
	if maxTokens <= 0 {
		maxTokens = cfg.Engine.MaxLLMTokens
	}

	client := anthropic.NewClient(
		option.WithAPIKey(claudeConfig.APIKey),
	)

	service := &ClaudeService{
		config:    claudeConfig,
		logger:    logger,
		client:    &client,
		timeout:   timeout,
		limiter:   rate.NewLimiter(rate.Every(rateInterval), 1),
		retry:     NewDefaultRetryConfig(),
		maxTokens: maxTokens,
	}

	logger.Debug().
		Str("model", claudeConfig.Model).
		Dur("timeout", timeout).
		Float32("temperature", claudeConfig.Temperature).
		Int("max_tokens", maxTokens).
		Msg("Claude LLM service initialized")

	return service, nil
}

// Chat generates a completion response based on the conversation history.
func (s *ClaudeService) Chat(ctx context.Context, messages []interfaces.Message, opts interfaces.ChatOptions) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("messages cannot be empty for chat completion")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	s.logger.Debug().
		Int("message_count", len(messages)).
		Msg("Starting Claude chat completion")

	var response string
	var err error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if err = s.limiter.Wait(timeoutCtx); err != nil {
			return "", fmt.Errorf("rate limiter wait failed: %w", err)
		}

		response, err = s.generateCompletion(timeoutCtx, messages, opts)
		if err == nil {
			break
		}
		if !IsRateLimitError(err) || attempt == s.retry.MaxRetries {
			s.logger.Error().
				Err(err).
				Int("message_count", len(messages)).
				Msg("Claude chat completion failed")
			return "", fmt.Errorf("chat completion failed: %w", err)
		}

		backoff := s.retry.CalculateBackoff(attempt, ExtractRetryDelay(err))
		s.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Claude rate limited, backing off")

		select {
		case <-timeoutCtx.Done():
			return "", fmt.Errorf("chat completion cancelled during backoff: %w", timeoutCtx.Err())
		case <-time.After(backoff):
		}
	}

	s.logger.Debug().
		Int("message_count", len(messages)).
		Int("response_length", len(response)).
		Dur("duration", time.Since(startTime)).
		Msg("Claude chat completion completed")

	return response, nil
}

// Embed is not supported by the Anthropic API.
func (s *ClaudeService) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings are not supported by the Claude provider; use the gemini provider for embedding support")
}

// HealthCheck verifies the Claude service is operational.
func (s *ClaudeService) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("Claude client is not initialized")
	}

	healthCheckCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := s.generateCompletion(healthCheckCtx, []interfaces.Message{
		{Role: "user", Content: "ping"},
	}, interfaces.ChatOptions{MaxTokens: 16})
	if err != nil {
		return fmt.Errorf("Claude health check failed: %w", err)
	}
	if len(strings.TrimSpace(response)) == 0 {
		return fmt.Errorf("Claude probe returned empty response")
	}

	s.logger.Debug().Str("model", s.config.Model).Msg("Claude LLM service health check passed")
	return nil
}

func (s *ClaudeService) generateCompletion(ctx context.Context, messages []interfaces.Message, opts interfaces.ChatOptions) (string, error) {
	claudeMessages, systemText, err := convertMessagesToClaude(messages)
	if err != nil {
		return "", fmt.Errorf("failed to convert messages to Claude format: %w", err)
	}

	maxTokens := s.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	model := s.config.Model
	if opts.Model != "" {
		model = opts.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  claudeMessages,
	}

	temperature := s.config.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(float64(temperature))
	}

	if systemText != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemText},
		}
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}

	return response.String(), nil
}
