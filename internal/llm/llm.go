package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Provider identifiers reported on results. ProviderFallback marks a result
// synthesized locally because the real provider was unavailable.
const (
	ProviderAnthropic = "anthropic"
	ProviderFallback  = "fallback"
)

// Request is a single generation request.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Result holds generated content and the provider that produced it.
type Result struct {
	Content  string
	Provider string
}

// Client is the LLM provider contract consumed by the pipeline stages.
type Client interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// AnthropicClient implements Client against the Anthropic API.
type AnthropicClient struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAnthropicClient creates an LLM client with the given API key and model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// Generate sends the request to the Anthropic API and returns the text
// content of the response.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (*Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return &Result{Content: text, Provider: ProviderAnthropic}, nil
}

// FallbackClient stands in when no provider is configured. It reports
// ProviderFallback so callers substitute their deterministic degraded
// behavior instead of treating the response as model output.
type FallbackClient struct{}

func (FallbackClient) Generate(_ context.Context, _ Request) (*Result, error) {
	return &Result{Provider: ProviderFallback}, nil
}

// StripFences removes markdown code fencing around a response, if present.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// ParseJSON strips markdown fencing and unmarshals the response into v.
func ParseJSON(text string, v any) error {
	cleaned := StripFences(text)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, cleaned)
	}
	return nil
}
