package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// GeminiOpenAIBaseURL is Gemini's OpenAI-compatible endpoint.
const GeminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// ErrAttachmentsUnsupported is returned by text-only generators.
var ErrAttachmentsUnsupported = errors.New("summarizer: generator does not accept attachments")

// OpenAIGenerator generates text through a chat-completions endpoint.
type OpenAIGenerator struct {
	client      *openai.Client
	Temperature float32
}

// OpenAIOption configures an OpenAIGenerator.
type OpenAIOption func(*openai.ClientConfig)

// WithBaseURL points the client at another OpenAI-compatible server.
func WithBaseURL(u string) OpenAIOption {
	return func(c *openai.ClientConfig) { c.BaseURL = u }
}

// WithHTTPClient routes requests through hc.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openai.ClientConfig) { c.HTTPClient = hc }
}

// NewOpenAIGenerator creates a generator for apiKey, defaulting to Gemini's
// OpenAI-compatible base URL.
func NewOpenAIGenerator(apiKey string, opts ...OpenAIOption) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = GeminiOpenAIBaseURL
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), Temperature: 0.3}
}

// Generate sends req.Prompt as a single user message.
func (g *OpenAIGenerator) Generate(ctx context.Context, model string, req Request) (string, error) {
	if len(req.Files) > 0 {
		return "", ErrAttachmentsUnsupported
	}
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: g.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion %s: %w", model, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("chat completion %s: empty response", model)
	}
	return resp.Choices[0].Message.Content, nil
}
