package catalog

import "github.com/chatforge/core/pkg/chatmodels"

// BuiltinDescriptors returns the hardcoded model set available at process
// start, ahead of any dynamic provider discovery (e.g. Bedrock).
func BuiltinDescriptors() []*chatmodels.ModelDescriptor {
	text := chatmodels.Modalities{
		Input:  []chatmodels.Modality{chatmodels.ModalityText},
		Output: []chatmodels.Modality{chatmodels.ModalityText},
	}
	vision := chatmodels.Modalities{
		Input:  []chatmodels.Modality{chatmodels.ModalityText, chatmodels.ModalityImage, chatmodels.ModalityDocument},
		Output: []chatmodels.Modality{chatmodels.ModalityText},
	}

	return []*chatmodels.ModelDescriptor{
		{
			MatchingModel:         "claude-opus-4",
			Name:                  "Claude Opus 4",
			Provider:              "anthropic",
			Modalities:            vision,
			ContextWindow:         200_000,
			MaxTokens:             8192,
			CostPer1kInputTokens:  0.015,
			CostPer1kOutputTokens: 0.075,
			Strengths:             []string{"reasoning", "coding", "long-context", "agentic"},
			ContextComplexity:     5,
			Reliability:           5,
			Speed:                 2,
			Multimodal:            true,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			SupportsDocuments:     true,
			IsFeatured:            true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "claude-3.5-sonnet",
			Name:                  "Claude 3.5 Sonnet",
			Provider:              "anthropic",
			Modalities:            vision,
			ContextWindow:         200_000,
			MaxTokens:             8192,
			CostPer1kInputTokens:  0.003,
			CostPer1kOutputTokens: 0.015,
			Strengths:             []string{"reasoning", "coding", "balanced"},
			ContextComplexity:     4,
			Reliability:           5,
			Speed:                 3,
			Multimodal:            true,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			SupportsDocuments:     true,
			IsFeatured:            true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "claude-3.5-haiku",
			Name:                  "Claude 3.5 Haiku",
			Provider:              "anthropic",
			Modalities:            text,
			ContextWindow:         200_000,
			MaxTokens:             8192,
			CostPer1kInputTokens:  0.0008,
			CostPer1kOutputTokens: 0.004,
			Strengths:             []string{"speed", "low-cost"},
			ContextComplexity:     2,
			Reliability:           4,
			Speed:                 5,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "gpt-4o",
			Name:                  "GPT-4o",
			Provider:              "openai",
			Modalities:            vision,
			ContextWindow:         128_000,
			MaxTokens:             16384,
			CostPer1kInputTokens:  0.0025,
			CostPer1kOutputTokens: 0.01,
			Strengths:             []string{"reasoning", "multimodal", "balanced"},
			ContextComplexity:     4,
			Reliability:           5,
			Speed:                 3,
			Multimodal:            true,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			SupportsDocuments:     true,
			IsFeatured:            true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "gpt-4o-mini",
			Name:                  "GPT-4o Mini",
			Provider:              "openai",
			Modalities:            vision,
			ContextWindow:         128_000,
			MaxTokens:             16384,
			CostPer1kInputTokens:  0.00015,
			CostPer1kOutputTokens: 0.0006,
			Strengths:             []string{"speed", "low-cost"},
			ContextComplexity:     2,
			Reliability:           4,
			Speed:                 5,
			Multimodal:            true,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "o1",
			Name:                  "o1",
			Provider:              "openai",
			Modalities:            text,
			ContextWindow:         200_000,
			MaxTokens:             100_000,
			CostPer1kInputTokens:  0.015,
			CostPer1kOutputTokens: 0.06,
			Strengths:             []string{"reasoning", "math", "science"},
			ContextComplexity:     5,
			Reliability:           5,
			Speed:                 1,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "o3-mini",
			Name:                  "o3-mini",
			Provider:              "openai",
			Modalities:            text,
			ContextWindow:         200_000,
			MaxTokens:             100_000,
			CostPer1kInputTokens:  0.0011,
			CostPer1kOutputTokens: 0.0044,
			Strengths:             []string{"reasoning", "coding"},
			ContextComplexity:     4,
			Reliability:           4,
			Speed:                 3,
			SupportsToolCalls:     true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "gemini-2.0-flash",
			Name:                  "Gemini 2.0 Flash",
			Provider:              "google",
			Modalities:            vision,
			ContextWindow:         1_000_000,
			MaxTokens:             8192,
			CostPer1kInputTokens:  0,
			CostPer1kOutputTokens: 0,
			Strengths:             []string{"speed", "long-context", "low-cost"},
			ContextComplexity:     3,
			Reliability:           4,
			Speed:                 5,
			Multimodal:            true,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			SupportsDocuments:     true,
			SupportsSearchGrounding: true,
			IsFree:                true,
			IsFeatured:            true,
			IncludedInRouter:      true,
		},
		{
			MatchingModel:         "gemini-1.5-pro",
			Name:                  "Gemini 1.5 Pro",
			Provider:              "google",
			Modalities:            vision,
			ContextWindow:         2_000_000,
			MaxTokens:             8192,
			CostPer1kInputTokens:  0.00125,
			CostPer1kOutputTokens: 0.005,
			Strengths:             []string{"long-context", "multimodal"},
			ContextComplexity:     4,
			Reliability:           4,
			Speed:                 2,
			Multimodal:            true,
			SupportsToolCalls:     true,
			SupportsStreaming:     true,
			SupportsDocuments:     true,
			SupportsSearchGrounding: true,
			IncludedInRouter:      true,
		},
	}
}
