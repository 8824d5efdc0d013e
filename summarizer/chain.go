package summarizer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	httpclient "ytdigest/http"
)

// DefaultModels is the fallback order, primary first.
var DefaultModels = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash-lite",
	"gemini-flash-latest",
	"gemini-1.5-flash",
}

// File is an uploaded attachment referenced by URI.
type File struct {
	Name     string
	URI      string
	MIMEType string
}

// Request is one prompt with optional attachments.
type Request struct {
	Prompt string
	Files  []File
}

// Generator sends a request to a single model.
type Generator interface {
	Generate(ctx context.Context, model string, req Request) (string, error)
}

// Chain tries models in order. A quota or rate-limit error moves on to the
// next model; any other error ends the chain.
type Chain struct {
	gen    Generator
	models []string
	logger *slog.Logger
}

// NewChain creates a chain over gen. With no models, DefaultModels is used.
func NewChain(gen Generator, models ...string) *Chain {
	if len(models) == 0 {
		models = DefaultModels
	}
	return &Chain{
		gen:    gen,
		models: append([]string(nil), models...),
		logger: slog.Default().With(slog.String("component", "summarizer")),
	}
}

// Models returns the configured order.
func (c *Chain) Models() []string {
	return append([]string(nil), c.models...)
}

// Generate returns the first successful answer, or Failed with the last error.
func (c *Chain) Generate(ctx context.Context, req Request) Result {
	var lastErr error
	for i, model := range c.models {
		text, err := c.gen.Generate(ctx, model, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("summarizer: fallback model answered", slog.String("model", model))
			}
			return Ok(strings.TrimSpace(text), model)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if !IsQuotaError(err) {
			c.logger.Warn("summarizer: model failed", slog.String("model", model), slog.Any("err", err))
			break
		}
		c.logger.Warn("summarizer: model quota exhausted, trying next",
			slog.String("model", model), slog.Any("err", err))
	}
	return Failed(lastErr.Error())
}

var quotaMarkers = []string{"quota", "resource_exhausted", "rate limit", "429"}

// IsQuotaError reports whether err means the model is out of quota or rate limited.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	if httpclient.StatusCode(err) == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
