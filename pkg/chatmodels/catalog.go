package chatmodels

// Modality describes an input or output medium a model can handle.
type Modality string

const (
	ModalityText     Modality = "text"
	ModalityImage    Modality = "image"
	ModalityAudio    Modality = "audio"
	ModalityVideo    Modality = "video"
	ModalityDocument Modality = "document"
)

// Modalities groups a model's accepted input and produced output media.
type Modalities struct {
	Input  []Modality `json:"input"`
	Output []Modality `json:"output"`
}

// ModelDescriptor is a static entry in the model catalog. The catalog is
// built once at process start and is read-only thereafter.
type ModelDescriptor struct {
	MatchingModel            string     `json:"matching_model"`
	Name                     string     `json:"name"`
	Provider                 string     `json:"provider"`
	Modalities               Modalities `json:"modalities"`
	ContextWindow            int        `json:"context_window"`
	MaxTokens                int        `json:"max_tokens"`
	CostPer1kInputTokens     float64    `json:"cost_per_1k_input_tokens"`
	CostPer1kOutputTokens    float64    `json:"cost_per_1k_output_tokens"`
	Strengths                []string   `json:"strengths"`
	ContextComplexity        int        `json:"context_complexity"` // 1..5
	Reliability              int        `json:"reliability"`        // 1..5
	Speed                     int        `json:"speed"`              // 1..5
	Multimodal                bool       `json:"multimodal"`
	SupportsToolCalls         bool       `json:"supports_tool_calls"`
	SupportsStreaming         bool       `json:"supports_streaming"`
	SupportsDocuments         bool       `json:"supports_documents"`
	SupportsSearchGrounding   bool       `json:"supports_search_grounding"`
	SupportsCodeExecution     bool       `json:"supports_code_execution"`
	IsFree                    bool       `json:"is_free"`
	IsFeatured                bool       `json:"is_featured"`
	IncludedInRouter          bool       `json:"included_in_router"`
	IsBeta                    bool       `json:"is_beta"`
}

// HasStrength reports whether the model lists capability c among its
// strengths.
func (m *ModelDescriptor) HasStrength(c string) bool {
	if m == nil {
		return false
	}
	for _, s := range m.Strengths {
		if s == c {
			return true
		}
	}
	return false
}

// CombinedCost is the sum of per-1k input and output token prices, used as
// a router tie-break.
func (m *ModelDescriptor) CombinedCost() float64 {
	if m == nil {
		return 0
	}
	return m.CostPer1kInputTokens + m.CostPer1kOutputTokens
}

// ProviderSettings records one user's opt-in and credential state for a
// single provider.
type ProviderSettings struct {
	ProviderID      string `json:"provider_id"`
	Enabled         bool   `json:"enabled"`
	HasCredentials  bool   `json:"has_credentials"`
}

// PromptRequirements is the output of the prompt analyser: a structured
// description of what a model needs to support to serve a given prompt.
type PromptRequirements struct {
	ExpectedComplexity        int      `json:"expected_complexity"` // 1..5
	RequiredCapabilities      []string `json:"required_capabilities"`
	CriticalCapabilities      []string `json:"critical_capabilities"`
	EstimatedInputTokens      int      `json:"estimated_input_tokens"`
	EstimatedOutputTokens     int      `json:"estimated_output_tokens"`
	NeedsFunctions            bool     `json:"needs_functions"`
	HasImages                 bool     `json:"has_images"`
	HasDocuments               bool     `json:"has_documents"`
	BenefitsFromMultipleModels bool    `json:"benefits_from_multiple_models"`
	ModelComparisonReason      string  `json:"model_comparison_reason,omitempty"`
	BudgetConstraint           *float64 `json:"budget_constraint,omitempty"`
}
