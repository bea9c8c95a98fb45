// Package provider implements the per-capability provider abstraction: one
// Go interface per capability, a registry keyed by provider name, and the
// resolution/fallback/metrics-tracking rules that wrap every call.
package provider

import (
	"context"
	"fmt"
	"io"

	"github.com/chatforge/core/internal/telemetry"
)

// Message is one turn in a chat request, in the core's own shape — provider
// adapters translate to/from each upstream's wire format.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Images     []string   `json:"images,omitempty"` // data URIs or URLs
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON
}

// ToolSpec describes a callable tool offered to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ChatRequest is the capability-agnostic shape every ChatProvider accepts.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// Usage is token accounting, when the upstream reports it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatResponse is a complete, non-streamed chat completion.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// ChatChunk is one streamed delta.
type ChatChunk struct {
	ContentDelta string
	ToolCalls    []ToolCall
	FinishReason string
	Done         bool
}

// ChatProvider serves chat completions, streamed or not.
type ChatProvider interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Stream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error)
}

// ImageRequest describes an image-generation call.
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
	N      int
}

// ImageResponse is a set of generated images, as URLs or base64 data URIs.
type ImageResponse struct {
	Images []string
}

// ImageProvider generates images from a text prompt.
type ImageProvider interface {
	Name() string
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResponse, error)
}

// SpeechRequest describes a text-to-speech or speech-to-text call; exactly
// one of Text or Audio is set.
type SpeechRequest struct {
	Model string
	Text  string
	Audio io.Reader
	Voice string
}

// SpeechResponse carries either synthesized audio bytes or a transcript.
type SpeechResponse struct {
	Audio      []byte
	Transcript string
}

// SpeechProvider handles text-to-speech and speech-to-text.
type SpeechProvider interface {
	Name() string
	Synthesize(ctx context.Context, req SpeechRequest) (SpeechResponse, error)
	Transcribe(ctx context.Context, req SpeechRequest) (SpeechResponse, error)
}

// MusicRequest describes a music-generation call.
type MusicRequest struct {
	Model   string
	Prompt  string
	Seconds int
}

// MusicResponse carries generated audio bytes.
type MusicResponse struct {
	Audio []byte
}

// MusicProvider generates music from a text prompt.
type MusicProvider interface {
	Name() string
	GenerateMusic(ctx context.Context, req MusicRequest) (MusicResponse, error)
}

// VideoRequest describes a video-generation call.
type VideoRequest struct {
	Model   string
	Prompt  string
	Seconds int
}

// VideoResponse carries a reference to the generated video.
type VideoResponse struct {
	VideoURL string
}

// VideoProvider generates video from a text prompt.
type VideoProvider interface {
	Name() string
	GenerateVideo(ctx context.Context, req VideoRequest) (VideoResponse, error)
}

// OCRRequest carries image bytes to extract text from.
type OCRRequest struct {
	Image []byte
}

// OCRResponse is the extracted text.
type OCRResponse struct {
	Text string
}

// OCRProvider extracts text from images.
type OCRProvider interface {
	Name() string
	ExtractText(ctx context.Context, req OCRRequest) (OCRResponse, error)
}

// EmbeddingRequest carries text to embed.
type EmbeddingRequest struct {
	Model string
	Texts []string
}

// EmbeddingResponse carries one vector per input text.
type EmbeddingResponse struct {
	Vectors [][]float32
}

// EmbeddingProvider turns text into vectors.
type EmbeddingProvider interface {
	Name() string
	Embed(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error)
}

// ResearchRequest describes an async deep-research query.
type ResearchRequest struct {
	Query string
}

// ResearchResponse is the research tool's async handle — the full result
// arrives later through the tool-orchestration polling/webhook surface, per
// the research tool's documented async shape.
type ResearchResponse struct {
	JobID string
}

// ResearchProvider runs long-running research queries.
type ResearchProvider interface {
	Name() string
	StartResearch(ctx context.Context, req ResearchRequest) (ResearchResponse, error)
}

// Registry holds every registered provider, grouped by capability and keyed
// by provider name.
type Registry struct {
	defaults struct {
		chat      string
		image     string
		speech    string
		music     string
		video     string
		ocr       string
		embedding string
		research  string
	}

	chat      map[string]ChatProvider
	image     map[string]ImageProvider
	speech    map[string]SpeechProvider
	music     map[string]MusicProvider
	video     map[string]VideoProvider
	ocr       map[string]OCRProvider
	embedding map[string]EmbeddingProvider
	research  map[string]ResearchProvider

	sink telemetry.Sink
}

// NewRegistry builds an empty registry. sink may be nil (metrics become a
// no-op).
func NewRegistry(sink telemetry.Sink) *Registry {
	return &Registry{
		chat:      make(map[string]ChatProvider),
		image:     make(map[string]ImageProvider),
		speech:    make(map[string]SpeechProvider),
		music:     make(map[string]MusicProvider),
		video:     make(map[string]VideoProvider),
		ocr:       make(map[string]OCRProvider),
		embedding: make(map[string]EmbeddingProvider),
		research:  make(map[string]ResearchProvider),
		sink:      sink,
	}
}

func (r *Registry) RegisterChat(p ChatProvider, isDefault bool) {
	r.chat[p.Name()] = p
	if isDefault || r.defaults.chat == "" {
		r.defaults.chat = p.Name()
	}
}

func (r *Registry) RegisterImage(p ImageProvider, isDefault bool) {
	r.image[p.Name()] = p
	if isDefault || r.defaults.image == "" {
		r.defaults.image = p.Name()
	}
}

func (r *Registry) RegisterSpeech(p SpeechProvider, isDefault bool) {
	r.speech[p.Name()] = p
	if isDefault || r.defaults.speech == "" {
		r.defaults.speech = p.Name()
	}
}

func (r *Registry) RegisterMusic(p MusicProvider, isDefault bool) {
	r.music[p.Name()] = p
	if isDefault || r.defaults.music == "" {
		r.defaults.music = p.Name()
	}
}

func (r *Registry) RegisterVideo(p VideoProvider, isDefault bool) {
	r.video[p.Name()] = p
	if isDefault || r.defaults.video == "" {
		r.defaults.video = p.Name()
	}
}

func (r *Registry) RegisterOCR(p OCRProvider, isDefault bool) {
	r.ocr[p.Name()] = p
	if isDefault || r.defaults.ocr == "" {
		r.defaults.ocr = p.Name()
	}
}

func (r *Registry) RegisterEmbedding(p EmbeddingProvider, isDefault bool) {
	r.embedding[p.Name()] = p
	if isDefault || r.defaults.embedding == "" {
		r.defaults.embedding = p.Name()
	}
}

func (r *Registry) RegisterResearch(p ResearchProvider, isDefault bool) {
	r.research[p.Name()] = p
	if isDefault || r.defaults.research == "" {
		r.defaults.research = p.Name()
	}
}

// ResolveOptions is the caller context used to pick a provider name:
// explicit model's provider, else explicit provider, else the registry's
// default.
type ResolveOptions struct {
	ExplicitModel    string
	ExplicitProvider string
	// ModelProvider looks up the provider for an explicit model, e.g. via
	// the catalog's GetModelConfigByModel(model).Provider.
	ModelProvider func(model string) (string, bool)
}

// resolveProviderName implements: explicit model's provider, else explicit
// provider, else def. wasExplicit reports whether either an explicit model
// or an explicit provider was given — a resolution made without either is
// eligible for the once-to-default fallback on failure.
func resolveProviderName(opts ResolveOptions, def string) (name string, wasExplicit bool) {
	if opts.ExplicitModel != "" && opts.ModelProvider != nil {
		if p, ok := opts.ModelProvider(opts.ExplicitModel); ok && p != "" {
			return p, true
		}
	}
	if opts.ExplicitProvider != "" {
		return opts.ExplicitProvider, true
	}
	return def, false
}

// MetricsContext carries the labels trackProviderMetrics attaches to every
// provider call.
type MetricsContext struct {
	TraceID      string
	UserID       string
	CompletionID string
}

// GetChatProvider resolves and returns a ChatProvider by resolveProviderName's rule.
func (r *Registry) GetChatProvider(opts ResolveOptions) (ChatProvider, bool) {
	name, _ := resolveProviderName(opts, r.defaults.chat)
	p, ok := r.chat[name]
	return p, ok
}

// Complete runs a chat completion through the resolved provider, tracking
// metrics and retrying once against the default provider when the call
// failed and neither an explicit model nor explicit provider was supplied.
func (r *Registry) Complete(ctx context.Context, opts ResolveOptions, mc MetricsContext, req ChatRequest) (ChatResponse, error) {
	name, wasExplicit := resolveProviderName(opts, r.defaults.chat)
	p, ok := r.chat[name]
	if !ok {
		return ChatResponse{}, fmt.Errorf("provider: no chat provider registered for %q", name)
	}

	resp, err := r.trackChat(ctx, p, mc, req)
	if err == nil || wasExplicit || name == r.defaults.chat {
		return resp, err
	}

	fallback, ok := r.chat[r.defaults.chat]
	if !ok {
		return resp, err
	}
	return r.trackChat(ctx, fallback, mc, req)
}

func (r *Registry) trackChat(ctx context.Context, p ChatProvider, mc MetricsContext, req ChatRequest) (ChatResponse, error) {
	return telemetry.Track(ctx, r.sink, "provider.chat.complete", mc.TraceID, mc.UserID, mc.CompletionID,
		func(ctx context.Context) (ChatResponse, error) {
			return p.Complete(ctx, req)
		})
}
