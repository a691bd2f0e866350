package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiService implements the LLMService interface using the Google genai
// SDK. It provides embedding and chat completions using Gemini models.
type GeminiService struct {
	config    *common.GeminiConfig
	dimension int
	logger    arbor.ILogger
	client    *genai.Client
	timeout   time.Duration
	limiter   *rate.Limiter
	retry     *RetryConfig
	maxTokens int
}

// convertMessagesToGemini converts []interfaces.Message to Gemini Content
// format, extracting system messages for use with SystemInstruction.
func convertMessagesToGemini(messages []interfaces.Message) ([]*genai.Content, string, error) {
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

	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}

		var geminiRole string
		switch msg.Role {
		case "assistant":
			geminiRole = genai.RoleModel
		default:
			geminiRole = genai.RoleUser
		}

		contents = append(contents, &genai.Content{
			Role:  geminiRole,
			Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
		})
	}

	return contents, systemText, nil
}

// NewGeminiService creates a new Gemini LLM service instance.
func NewGeminiService(cfg *common.Config, logger arbor.ILogger) (*GeminiService, error) {
	geminiConfig := &cfg.Gemini

	if geminiConfig.APIKey == "" {
		return nil, fmt.Errorf("Google API key is required for Gemini service (set via GEMINI_API_KEY or gemini.api_key in config)")
	}

	if geminiConfig.Model == "" {
		geminiConfig.Model = "gemini-3-flash-preview"
	}

	timeout, err := time.ParseDuration(geminiConfig.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", geminiConfig.Timeout, err)
	}

	rateInterval, err := time.ParseDuration(geminiConfig.RateLimit)
	if err != nil || rateInterval <= 0 {
		rateInterval = 4 * time.Second
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  geminiConfig.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	service := &GeminiService{
		config:    geminiConfig,
		dimension: cfg.Vector.Dimension,
		logger:    logger,
		client:    client,
		timeout:   timeout,
		limiter:   rate.NewLimiter(rate.Every(rateInterval), 1),
		retry:     NewDefaultRetryConfig(),
		maxTokens: cfg.Engine.MaxLLMTokens,
	}

	logger.Debug().
		Str("model", geminiConfig.Model).
		Dur("timeout", timeout).
		Float32("temperature", geminiConfig.Temperature).
		Msg("Gemini LLM service initialized")

	return service, nil
}

// Chat generates a completion response based on the conversation history.
// Rate-limit errors are retried with exponential backoff, honoring any
// API-suggested delay.
func (s *GeminiService) Chat(ctx context.Context, messages []interfaces.Message, opts interfaces.ChatOptions) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("messages cannot be empty for chat completion")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	s.logger.Debug().
		Int("message_count", len(messages)).
		Msg("Starting Gemini chat completion")

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
				Msg("Gemini chat completion failed")
			return "", fmt.Errorf("chat completion failed: %w", err)
		}

		backoff := s.retry.CalculateBackoff(attempt, ExtractRetryDelay(err))
		s.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Gemini rate limited, backing off")

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
		Msg("Gemini chat completion completed")

	return response, nil
}

// Embed generates an embedding vector for the given text.
func (s *GeminiService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty for embedding")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(timeoutCtx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	outputDim := int32(s.dimension)
	embeddingConfig := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	result, err := s.client.Models.EmbedContent(timeoutCtx, "gemini-embedding-001",
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, embeddingConfig)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	var embedding []float32
	if result != nil && len(result.Embeddings) > 0 {
		embedding = result.Embeddings[0].Values
	}
	if embedding == nil {
		return nil, fmt.Errorf("no embedding returned from API")
	}
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimension, len(embedding))
	}

	return embedding, nil
}

// HealthCheck verifies the Gemini service is operational.
func (s *GeminiService) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("genai client is not initialized")
	}

	healthCheckCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := s.generateCompletion(healthCheckCtx, []interfaces.Message{
		{Role: "user", Content: "ping"},
	}, interfaces.ChatOptions{MaxTokens: 16})
	if err != nil {
		return fmt.Errorf("Gemini health check failed: %w", err)
	}
	if len(strings.TrimSpace(response)) == 0 {
		return fmt.Errorf("Gemini probe returned empty response")
	}

	s.logger.Debug().Str("model", s.config.Model).Msg("Gemini LLM service health check passed")
	return nil
}

func (s *GeminiService) generateCompletion(ctx context.Context, messages []interfaces.Message, opts interfaces.ChatOptions) (string, error) {
	geminiContents, systemText, err := convertMessagesToGemini(messages)
	if err != nil {
		return "", fmt.Errorf("failed to convert messages to Gemini format: %w", err)
	}

	temperature := s.config.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	maxTokens := s.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	model := s.config.Model
	if opts.Model != "" {
		model = opts.Model
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}

	resp, err := s.client.Models.GenerateContent(ctx, model, geminiContents, config)
	if err != nil {
		return "", fmt.Errorf("chat generation failed: %w", err)
	}

	// Iterate candidates until non-empty text is found.
	var response strings.Builder
	if resp != nil && len(resp.Candidates) > 0 {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from chat model")
	}

	return response.String(), nil
}
