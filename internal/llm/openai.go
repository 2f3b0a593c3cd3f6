package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// OpenAI completes prompts against any OpenAI-compatible chat endpoint
type OpenAI struct {
	model *openai.ChatModel
}

// OpenAIConfig configures the OpenAI backend. An empty BaseURL targets the
// public API.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

func NewOpenAI(ctx context.Context, cfg OpenAIConfig) (*OpenAI, error) {
	maxTokens := cfg.MaxTokens
	modelConfig := &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	}
	if maxTokens > 0 {
		modelConfig.MaxTokens = &maxTokens
	}

	cm, err := openai.NewChatModel(ctx, modelConfig)
	if err != nil {
		return nil, fmt.Errorf("creating chat model: %w", err)
	}
	return &OpenAI{model: cm}, nil
}

func (o *OpenAI) Name() string { return "openai" }

// Complete sends the prompt as a single user message
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	opts := []model.Option{model.WithTemperature(float32(req.Temperature))}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	msg, err := o.model.Generate(ctx, []*schema.Message{schema.UserMessage(req.Prompt)}, opts...)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if msg == nil {
		return "", fmt.Errorf("openai generate: no message returned")
	}
	return msg.Content, nil
}
