package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/storyforge/api/internal/config"
)

// ChatClient is the structured-generation surface the pipeline consumes.
// Every call asks for a JSON object response; callers parse the returned
// string into their own schema.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
	CompleteVision(ctx context.Context, system, user, imageURL string) (string, error)
	IsConfigured() bool
}

// OpenAIClient implements ChatClient against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	visionModel string
	configured  bool
}

// NewOpenAIClient creates a chat client from config.
func NewOpenAIClient(cfg *config.OpenAIConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = cfg.Model
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		visionModel: visionModel,
		configured:  cfg.APIKey != "",
	}
}

// Complete sends a JSON-mode chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.7,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", classifyProviderError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}

// CompleteVision sends a JSON-mode chat completion with an attached image.
// imageURL may be an https URL or a data URL.
func (c *OpenAIClient) CompleteVision(ctx context.Context, system, user, imageURL string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: user},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", classifyProviderError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}

// IsConfigured returns true if the client has an API key.
func (c *OpenAIClient) IsConfigured() bool {
	return c.configured
}

// ErrContentPolicy marks a provider-side safety rejection. These are never
// retried; the pipeline maps them onto its own terminal safety error.
var ErrContentPolicy = errors.New("content policy violation")

// classifyProviderError wraps provider safety rejections in ErrContentPolicy
// so call sites can distinguish them from transient failures.
func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && strings.Contains(code, "content_policy") {
			return fmt.Errorf("%w: %s", ErrContentPolicy, apiErr.Message)
		}
		if strings.Contains(strings.ToLower(apiErr.Message), "safety system") {
			return fmt.Errorf("%w: %s", ErrContentPolicy, apiErr.Message)
		}
	}
	return err
}
