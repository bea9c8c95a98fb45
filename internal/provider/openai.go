package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIProvider implements ChatProvider, ImageProvider, and SpeechProvider
// against the OpenAI API.
type OpenAIProvider struct {
	base
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider builds an OpenAI-backed provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		base:         newBase("openai", cfg.MaxRetries, cfg.RetryDelay),
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := p.buildRequest(model, req)

	var resp ChatResponse
	err := p.retry(ctx, func() error {
		out, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return err
		}
		resp = toChatCompletionResponse(out)
		return nil
	})
	if err != nil {
		return ChatResponse{}, NewError("openai", model, err)
	}
	return resp, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := p.buildRequest(model, req)
	chatReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, NewError("openai", model, err)
	}

	out := make(chan ChatChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		toolCalls := map[int]*ToolCall{}
		for {
			resp, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					out <- ChatChunk{Done: true, FinishReason: "stop", ToolCalls: flattenToolCalls(toolCalls)}
					return
				}
				out <- ChatChunk{Done: true, FinishReason: "error"}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				out <- ChatChunk{ContentDelta: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				if toolCalls[idx] == nil {
					toolCalls[idx] = &ToolCall{}
				}
				if tc.ID != "" {
					toolCalls[idx].ID = tc.ID
				}
				if tc.Function.Name != "" {
					toolCalls[idx].Name = tc.Function.Name
				}
				toolCalls[idx].Arguments += tc.Function.Arguments
			}
			if resp.Choices[0].FinishReason != "" {
				out <- ChatChunk{Done: true, FinishReason: string(resp.Choices[0].FinishReason), ToolCalls: flattenToolCalls(toolCalls)}
				return
			}
		}
	}()
	return out, nil
}

func (p *OpenAIProvider) buildRequest(model string, req ChatRequest) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	for _, m := range req.Messages {
		oaiMsg := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		if m.Role == "tool" {
			oaiMsg.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages = append(messages, oaiMsg)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return chatReq
}

func toChatCompletionResponse(out openai.ChatCompletionResponse) ChatResponse {
	if len(out.Choices) == 0 {
		return ChatResponse{Usage: Usage{InputTokens: out.Usage.PromptTokens, OutputTokens: out.Usage.CompletionTokens}}
	}
	choice := out.Choices[0]
	var calls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    calls,
		FinishReason: string(choice.FinishReason),
		Usage:        Usage{InputTokens: out.Usage.PromptTokens, OutputTokens: out.Usage.CompletionTokens},
	}
}

func flattenToolCalls(m map[int]*ToolCall) []ToolCall {
	if len(m) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(m))
	for _, tc := range m {
		if tc.ID != "" && tc.Name != "" {
			out = append(out, *tc)
		}
	}
	return out
}

// GenerateImage implements ImageProvider via DALL·E.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, req ImageRequest) (ImageResponse, error) {
	model := req.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	n := req.N
	if n <= 0 {
		n = 1
	}
	size := req.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}

	var resp openai.ImageResponse
	err := p.retry(ctx, func() error {
		out, err := p.client.CreateImage(ctx, openai.ImageRequest{
			Model:  model,
			Prompt: req.Prompt,
			N:      n,
			Size:   size,
		})
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	if err != nil {
		return ImageResponse{}, NewError("openai", model, err)
	}

	images := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.URL != "" {
			images = append(images, d.URL)
		} else if d.B64JSON != "" {
			images = append(images, d.B64JSON)
		}
	}
	return ImageResponse{Images: images}, nil
}

// Synthesize implements SpeechProvider's text-to-speech path via the TTS API.
func (p *OpenAIProvider) Synthesize(ctx context.Context, req SpeechRequest) (SpeechResponse, error) {
	model := req.Model
	if model == "" {
		model = string(openai.TTSModel1)
	}
	voice := openai.SpeechVoice(req.Voice)
	if voice == "" {
		voice = openai.VoiceAlloy
	}

	var audio []byte
	err := p.retry(ctx, func() error {
		rc, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model: openai.SpeechModel(model),
			Input: req.Text,
			Voice: voice,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		buf, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		audio = buf
		return nil
	})
	if err != nil {
		return SpeechResponse{}, NewError("openai", model, err)
	}
	return SpeechResponse{Audio: audio}, nil
}

// Transcribe implements SpeechProvider's speech-to-text path via Whisper.
func (p *OpenAIProvider) Transcribe(ctx context.Context, req SpeechRequest) (SpeechResponse, error) {
	model := req.Model
	if model == "" {
		model = openai.Whisper1
	}

	var buf bytes.Buffer
	if req.Audio != nil {
		if _, err := io.Copy(&buf, req.Audio); err != nil {
			return SpeechResponse{}, NewError("openai", model, err)
		}
	}

	var transcript string
	err := p.retry(ctx, func() error {
		out, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:  model,
			Reader: bytes.NewReader(buf.Bytes()),
		})
		if err != nil {
			return err
		}
		transcript = out.Text
		return nil
	})
	if err != nil {
		return SpeechResponse{}, NewError("openai", model, err)
	}
	return SpeechResponse{Transcript: transcript}, nil
}

// Embed implements EmbeddingProvider via OpenAI's embeddings endpoint.
func (p *OpenAIProvider) Embed(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	var resp openai.EmbeddingResponse
	err := p.retry(ctx, func() error {
		out, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: req.Texts,
			Model: openai.EmbeddingModel(model),
		})
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	if err != nil {
		return EmbeddingResponse{}, NewError("openai", model, err)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return EmbeddingResponse{Vectors: vectors}, nil
}

var _ ChatProvider = (*OpenAIProvider)(nil)
var _ ImageProvider = (*OpenAIProvider)(nil)
var _ SpeechProvider = (*OpenAIProvider)(nil)
var _ EmbeddingProvider = (*OpenAIProvider)(nil)
