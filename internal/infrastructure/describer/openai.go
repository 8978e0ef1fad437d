package describer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// ErrEmptyResponse модель не вернула ни одного варианта
var ErrEmptyResponse = errors.New("describer: empty completion")

const systemPrompt = "You write short descriptions of 3D models for a 3D asset generator. " +
	"Answer with one or two sentences in English, no markdown."

// ChatDescriber описывает модель через OpenAI-совместимый chat API (DeepSeek по умолчанию)
type ChatDescriber struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewChatDescriber создаёт описатель; baseURL пустой означает api.openai.com
func NewChatDescriber(apiKey, baseURL, model string, logger *zap.Logger) *ChatDescriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatDescriber{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.With(zap.String("component", "describer")),
	}
}

// Describe отправляет промпт анализа и возвращает ответ модели
func (d *ChatDescriber) Describe(ctx context.Context, analysis *entity.ShapeAnalysis) (*entity.AiDescription, error) {
	if analysis == nil {
		return nil, fmt.Errorf("describer: analysis is required")
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(analysis)},
		},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("describer: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	d.logger.Debug("description generated",
		zap.String("model", resp.Model),
		zap.Int("tokens", resp.Usage.TotalTokens),
	)
	return &entity.AiDescription{Text: text, Model: resp.Model}, nil
}

func userPrompt(a *entity.ShapeAnalysis) string {
	return fmt.Sprintf(
		"Describe this object for 3D generation. Analysis: %s Width %dpx, height %dpx, %d edges.",
		a.GeneratedPrompt, a.Dimensions.Width, a.Dimensions.Height, a.Complexity.EdgeCount,
	)
}

var _ port.PromptDescriber = (*ChatDescriber)(nil)
