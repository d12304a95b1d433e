package verifier

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// DefaultModel is the vision model used when none is configured.
const DefaultModel = "gpt-4o"

const (
	answerMaxTokens   = 50
	answerTemperature = 0.1
)

// VisionClient identifies the product in a JPEG crop.
type VisionClient interface {
	Identify(ctx context.Context, jpeg []byte, prompt string) (string, error)
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	llm   *openai.LLM
	model string
}

// NewOpenAIClient creates a client. baseURL may be empty for the public API.
func NewOpenAIClient(apiKey, model, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai API key required")
	}
	if model == "" {
		model = DefaultModel
	}
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return &OpenAIClient{llm: llm, model: model}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Identify implements VisionClient.
func (c *OpenAIClient) Identify(ctx context.Context, jpeg []byte, prompt string) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
	messages := []llms.MessageContent{
		{
			Role: schema.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextContent{Text: prompt},
				llms.ImageURLContent{URL: dataURL},
			},
		},
	}
	resp, err := c.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(answerMaxTokens),
		llms.WithTemperature(answerTemperature),
	)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("empty response from vision model")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
