package provider

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GoogleConfig configures the Google (Gemini) provider.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// GoogleProvider implements ChatProvider (and thin Image/Video stubs
// reflecting Gemini's multimodal surface) against the Gemini API.
type GoogleProvider struct {
	base
	client       *genai.Client
	defaultModel string
}

// NewGoogleProvider builds a Gemini-backed provider.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}

	return &GoogleProvider{
		base:         newBase("google", cfg.MaxRetries, cfg.RetryDelay),
		client:       client,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	contents := p.buildContents(req)
	config := p.buildConfig(req)

	var resp ChatResponse
	err := p.retry(ctx, func() error {
		out, err := p.client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			return err
		}
		resp = toChatResponseFromGenai(out)
		return nil
	})
	if err != nil {
		return ChatResponse{}, NewError("google", model, err)
	}
	return resp, nil
}

func (p *GoogleProvider) Stream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	contents := p.buildContents(req)
	config := p.buildConfig(req)

	out := make(chan ChatChunk)
	go func() {
		defer close(out)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				out <- ChatChunk{Done: true, FinishReason: "error"}
				return
			}
			chunk := toChatResponseFromGenai(resp)
			if chunk.Content != "" || len(chunk.ToolCalls) > 0 {
				out <- ChatChunk{ContentDelta: chunk.Content, ToolCalls: chunk.ToolCalls}
			}
		}
		out <- ChatChunk{Done: true, FinishReason: "stop"}
	}()
	return out, nil
}

func (p *GoogleProvider) buildContents(req ChatRequest) []*genai.Content {
	var contents []*genai.Content
	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents
}

func (p *GoogleProvider) buildConfig(req ChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	for _, m := range req.Messages {
		if m.Role == "system" {
			config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			break
		}
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	return config
}

func toChatResponseFromGenai(resp *genai.GenerateContentResponse) ChatResponse {
	var out ChatResponse
	if resp == nil || len(resp.Candidates) == 0 {
		return out
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return out
	}
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				Name: part.FunctionCall.Name,
			})
		}
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out
}

// GenerateImage implements ImageProvider via Gemini's image-generation
// models (Imagen), reflecting Gemini's multimodal surface.
func (p *GoogleProvider) GenerateImage(ctx context.Context, req ImageRequest) (ImageResponse, error) {
	model := req.Model
	if model == "" {
		model = "imagen-3.0-generate-001"
	}
	n := req.N
	if n <= 0 {
		n = 1
	}

	var images []string
	err := p.retry(ctx, func() error {
		resp, err := p.client.Models.GenerateImages(ctx, model, req.Prompt, &genai.GenerateImagesConfig{
			NumberOfImages: int32(n),
		})
		if err != nil {
			return err
		}
		for _, img := range resp.GeneratedImages {
			if img.Image != nil && len(img.Image.ImageBytes) > 0 {
				images = append(images, string(img.Image.ImageBytes))
			}
		}
		return nil
	})
	if err != nil {
		return ImageResponse{}, NewError("google", model, err)
	}
	return ImageResponse{Images: images}, nil
}

// GenerateVideo is a stub reflecting Gemini's Veo video-generation surface;
// wiring the long-running operation-polling flow is left to the caller.
func (p *GoogleProvider) GenerateVideo(ctx context.Context, req VideoRequest) (VideoResponse, error) {
	return VideoResponse{}, fmt.Errorf("google: video generation is not supported synchronously; use the async research/tool-orchestration surface")
}

var _ ChatProvider = (*GoogleProvider)(nil)
var _ ImageProvider = (*GoogleProvider)(nil)
var _ VideoProvider = (*GoogleProvider)(nil)
