package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	jsonrepair "github.com/kaptinlin/jsonrepair"
	"github.com/sashabaranov/go-openai"

	"github.com/soundprediction/kgindex/pkg/config"
	"github.com/soundprediction/kgindex/pkg/types"
)

// OpenAIExtractor implements Extractor against any OpenAI-compatible chat
// completion endpoint.
type OpenAIExtractor struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

// NewOpenAIExtractor creates an extraction client from LLM configuration.
func NewOpenAIExtractor(cfg config.LLMConfig, logger *slog.Logger) *OpenAIExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIExtractor{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}
}

// Extract implements Extractor. Model output is decoded leniently: fenced
// code blocks are stripped and malformed JSON is run through jsonrepair
// before giving up.
func (e *OpenAIExtractor) Extract(ctx context.Context, text string) (*types.Extraction, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, ErrEmptyResponse
	}

	extraction, err := decodeExtraction(content)
	if err != nil {
		e.logger.Warn("failed to decode extraction output",
			"model", e.model,
			"error", err,
			"content_length", len(content))
		return nil, err
	}
	return extraction, nil
}

// decodeExtraction parses model output into an Extraction, stripping code
// fences and repairing malformed JSON when necessary.
func decodeExtraction(content string) (*types.Extraction, error) {
	content = stripCodeFences(content)

	var extraction types.Extraction
	if err := json.Unmarshal([]byte(content), &extraction); err == nil {
		return &extraction, nil
	}

	repaired, err := jsonrepair.JSONRepair(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := json.Unmarshal([]byte(repaired), &extraction); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &extraction, nil
}

// stripCodeFences removes a surrounding markdown code fence if present.
func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
