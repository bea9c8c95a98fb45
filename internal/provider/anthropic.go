package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic ChatProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider implements ChatProvider against Claude's Messages API.
type AnthropicProvider struct {
	base
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider builds an Anthropic ChatProvider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-3-5-sonnet-20241022"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		base:         newBase("anthropic", cfg.MaxRetries, cfg.RetryDelay),
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params := p.buildParams(model, req)

	var resp ChatResponse
	err := p.retry(ctx, func() error {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return err
		}
		resp = toChatResponse(msg)
		return nil
	})
	if err != nil {
		return ChatResponse{}, NewError("anthropic", model, err)
	}
	return resp, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	params := p.buildParams(model, req)

	out := make(chan ChatChunk)
	go func() {
		defer close(out)
		stream := p.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Text != "" {
					out <- ChatChunk{ContentDelta: delta.Text}
				}
			case "message_stop":
				out <- ChatChunk{Done: true, FinishReason: "stop"}
				return
			case "error":
				out <- ChatChunk{Done: true, FinishReason: "error"}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- ChatChunk{Done: true, FinishReason: "error"}
		}
	}()
	return out, nil
}

func (p *AnthropicProvider) buildParams(model string, req ChatRequest) anthropic.MessageNewParams {
	var system string
	var msgs []anthropic.MessageParam
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		content := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
		if m.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(content...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(content...))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func toChatResponse(msg *anthropic.Message) ChatResponse {
	var content strings.Builder
	var calls []ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.AsText().Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			calls = append(calls, ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: string(toolUse.Input),
			})
		}
	}
	return ChatResponse{
		Content:      content.String(),
		ToolCalls:    calls,
		FinishReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}
