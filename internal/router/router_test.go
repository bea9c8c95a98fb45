package router

import (
	"testing"

	"github.com/chatforge/core/pkg/chatmodels"
)

func model(matching, provider string, complexity, reliability, speed int, costIn, costOut float64, multimodal, includedInRouter bool, strengths ...string) *chatmodels.ModelDescriptor {
	return &chatmodels.ModelDescriptor{
		MatchingModel:         matching,
		Provider:              provider,
		ContextComplexity:     complexity,
		Reliability:           reliability,
		Speed:                 speed,
		CostPer1kInputTokens:  costIn,
		CostPer1kOutputTokens: costOut,
		Multimodal:            multimodal,
		IncludedInRouter:      includedInRouter,
		Strengths:             strengths,
	}
}

func TestScoreZeroWhenNoRequiredCapabilities(t *testing.T) {
	r := New(Config{})
	m := model("a", "anthropic", 3, 4, 2, 0.01, 0.02, false, true, "coding")
	req := &chatmodels.PromptRequirements{ExpectedComplexity: 3}
	if got := r.Score(m, req); got != 0 {
		t.Errorf("expected 0 score with no required capabilities, got %v", got)
	}
}

func TestScoreNegativeInfinityWhenCriticalCapabilityMissing(t *testing.T) {
	r := New(Config{})
	m := model("a", "anthropic", 3, 4, 2, 0.01, 0.02, false, true, "coding")
	req := &chatmodels.PromptRequirements{
		ExpectedComplexity:   3,
		RequiredCapabilities: []string{"coding"},
		CriticalCapabilities: []string{"math"},
	}
	got := r.Score(m, req)
	if got > -1e300 {
		t.Errorf("expected -Inf score when critical capability missing, got %v", got)
	}
}

func TestScoreZeroWhenBudgetExceeded(t *testing.T) {
	r := New(Config{})
	m := model("a", "anthropic", 3, 4, 2, 10, 10, false, true, "coding")
	budget := 0.01
	req := &chatmodels.PromptRequirements{
		ExpectedComplexity:    3,
		RequiredCapabilities:  []string{"coding"},
		EstimatedInputTokens:  1000,
		EstimatedOutputTokens: 1000,
		BudgetConstraint:      &budget,
	}
	if got := r.Score(m, req); got != 0 {
		t.Errorf("expected 0 score when estimated cost exceeds budget, got %v", got)
	}
}

func TestScoreRewardsMultimodalWhenPromptHasImages(t *testing.T) {
	r := New(Config{})
	req := &chatmodels.PromptRequirements{
		ExpectedComplexity:  3,
		RequiredCapabilities: []string{"coding"},
		HasImages:            true,
	}
	multimodalModel := model("mm", "google", 3, 4, 3, 0.01, 0.02, true, true, "coding")
	plainModel := model("plain", "openai", 3, 4, 3, 0.01, 0.02, false, true, "coding")

	mmScore := r.Score(multimodalModel, req)
	plainScore := r.Score(plainModel, req)
	if mmScore <= plainScore {
		t.Errorf("expected multimodal model to outscore a non-multimodal one: mm=%v plain=%v", mmScore, plainScore)
	}
}

func TestSelectModelReturnsDefaultWhenNoneQualify(t *testing.T) {
	def := model("default-model", "anthropic", 3, 3, 3, 0, 0, false, true)
	r := New(Config{DefaultModel: def})
	req := &chatmodels.PromptRequirements{} // no required capabilities -> every score is 0
	m := model("a", "anthropic", 3, 4, 2, 0.01, 0.02, false, true, "coding")

	got := r.SelectModel([]*chatmodels.ModelDescriptor{m}, req)
	if got != def {
		t.Errorf("expected default model, got %+v", got)
	}
}

func TestSelectModelTieBreaksByIncludedInRouterThenCostThenName(t *testing.T) {
	r := New(Config{})
	req := &chatmodels.PromptRequirements{
		ExpectedComplexity:  3,
		RequiredCapabilities: []string{"coding"},
	}
	// Identical scoring inputs except IncludedInRouter/cost/name, so every
	// term in the formula ties and only the tie-break order decides.
	a := model("zzz", "anthropic", 3, 3, 3, 0.05, 0.05, false, false, "coding")
	b := model("aaa", "openai", 3, 3, 3, 0.05, 0.05, false, true, "coding")

	got := r.SelectModel([]*chatmodels.ModelDescriptor{a, b}, req)
	if got != b {
		t.Errorf("expected model %q (includedInRouter) to win the tie, got %q", b.MatchingModel, got.MatchingModel)
	}
}

func TestSelectMultipleModelsReturnsOnlyTopWhenNotComplexEnough(t *testing.T) {
	r := New(Config{})
	req := &chatmodels.PromptRequirements{
		ExpectedComplexity:  2, // below the complexity threshold of 3
		RequiredCapabilities: []string{"reasoning"},
	}
	a := model("a", "anthropic", 2, 4, 2, 0.01, 0.02, false, true, "reasoning")
	b := model("b", "openai", 2, 4, 2, 0.01, 0.02, false, true, "reasoning")

	got := r.SelectMultipleModels([]*chatmodels.ModelDescriptor{a, b}, req)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 model, got %d", len(got))
	}
}

func TestSelectMultipleModelsReturnsComparisonSetForComplexReasoningPrompt(t *testing.T) {
	r := New(Config{})
	req := &chatmodels.PromptRequirements{
		ExpectedComplexity:  4,
		RequiredCapabilities: []string{"reasoning"},
	}
	// other and sameProvider score 1 point lower than top (fewer reliability
	// points) — close enough to qualify for comparison, but only other's
	// provider differs from top's.
	top := model("top", "anthropic", 4, 5, 2, 0.01, 0.02, false, true, "reasoning")
	other := model("other", "openai", 4, 4, 2, 0.01, 0.02, false, true, "reasoning")
	sameProvider := model("same-provider", "anthropic", 4, 4, 2, 0.01, 0.02, false, true, "reasoning")

	got := r.SelectMultipleModels([]*chatmodels.ModelDescriptor{top, other, sameProvider}, req)
	if len(got) != 2 {
		t.Fatalf("expected 2 models in the comparison set, got %d: %+v", len(got), got)
	}
	if got[0] != top {
		t.Errorf("expected top model first, got %q", got[0].MatchingModel)
	}
	if got[1].Provider == top.Provider {
		t.Errorf("expected the second model to come from a different provider than the top, got %q", got[1].Provider)
	}
}

func TestSelectMultipleModelsExcludesSecondModelBeyondThreshold(t *testing.T) {
	r := New(Config{})
	req := &chatmodels.PromptRequirements{
		ExpectedComplexity:  4,
		RequiredCapabilities: []string{"reasoning"},
	}
	top := model("top", "anthropic", 4, 5, 2, 0.01, 0.02, false, true, "reasoning")
	// Far lower reliability/complexity match pushes this well below the
	// comparison threshold despite matching the required capability.
	farBehind := model("far-behind", "openai", 1, 1, 5, 0.01, 0.02, false, false, "reasoning")

	got := r.SelectMultipleModels([]*chatmodels.ModelDescriptor{top, farBehind}, req)
	if len(got) != 1 {
		t.Fatalf("expected the far-behind model to be excluded, got %d models", len(got))
	}
}
