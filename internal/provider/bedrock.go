package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockConfig configures the AWS Bedrock ChatProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// BedrockProvider implements ChatProvider against Bedrock's Converse API,
// serving any foundation model hosted on Bedrock (Anthropic, Amazon Titan,
// Meta Llama, ...) through one wire format.
type BedrockProvider struct {
	base
	client       *bedrockruntime.Client
	defaultModel string
}

// NewBedrockProvider builds a Bedrock-backed provider.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	return &BedrockProvider{
		base:         newBase("bedrock", cfg.MaxRetries, cfg.RetryDelay),
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	input := p.buildInput(model, req)

	var resp ChatResponse
	err := p.retry(ctx, func() error {
		out, err := p.client.Converse(ctx, input)
		if err != nil {
			return err
		}
		resp = toChatResponseFromBedrock(out)
		return nil
	})
	if err != nil {
		return ChatResponse{}, NewError("bedrock", model, err)
	}
	return resp, nil
}

func (p *BedrockProvider) Stream(ctx context.Context, req ChatRequest) (<-chan ChatChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(model),
		Messages:        p.buildMessages(req),
		System:          p.buildSystem(req),
		InferenceConfig: p.buildInferenceConfig(req),
	}

	stream, err := p.client.ConverseStream(ctx, streamInput)
	if err != nil {
		return nil, NewError("bedrock", model, err)
	}

	out := make(chan ChatChunk)
	go func() {
		defer close(out)
		eventStream := stream.GetStream()
		defer eventStream.Close()
		for event := range eventStream.Events() {
			switch e := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if text, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
					out <- ChatChunk{ContentDelta: text.Value}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- ChatChunk{Done: true, FinishReason: string(e.Value.StopReason)}
				return
			}
		}
		if err := eventStream.Err(); err != nil {
			out <- ChatChunk{Done: true, FinishReason: "error"}
		}
	}()
	return out, nil
}

func (p *BedrockProvider) buildInput(model string, req ChatRequest) *bedrockruntime.ConverseInput {
	return &bedrockruntime.ConverseInput{
		ModelId:         aws.String(model),
		Messages:        p.buildMessages(req),
		System:          p.buildSystem(req),
		InferenceConfig: p.buildInferenceConfig(req),
	}
}

func (p *BedrockProvider) buildMessages(req ChatRequest) []types.Message {
	var out []types.Message
	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func (p *BedrockProvider) buildSystem(req ChatRequest) []types.SystemContentBlock {
	for _, m := range req.Messages {
		if m.Role == "system" {
			return []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: m.Content}}
		}
	}
	return nil
}

func (p *BedrockProvider) buildInferenceConfig(req ChatRequest) *types.InferenceConfiguration {
	if req.MaxTokens <= 0 && req.Temperature <= 0 {
		return nil
	}
	cfg := &types.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	return cfg
}

func toChatResponseFromBedrock(out *bedrockruntime.ConverseOutput) ChatResponse {
	var resp ChatResponse
	if out.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	resp.FinishReason = string(out.StopReason)
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp
	}
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			resp.Content += text.Value
		}
	}
	return resp
}

var _ ChatProvider = (*BedrockProvider)(nil)
