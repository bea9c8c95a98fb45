// Package router scores the catalog's accessible models against a prompt's
// requirements and selects one (or, when the prompt benefits from it, a
// short comparison set).
package router

import (
	"log/slog"
	"math"
	"sort"

	"github.com/chatforge/core/pkg/chatmodels"
)

// Weights are the scoring formula's per-term multipliers.
type Weights struct {
	Complexity  float64
	Budget      float64
	CostEff     float64
	Reliability float64
	Speed       float64
	Multimodal  float64
	Capability  float64
}

// DefaultWeights matches the documented default weighting.
var DefaultWeights = Weights{
	Complexity:  2,
	Budget:      3,
	CostEff:     2,
	Reliability: 1,
	Speed:       1,
	Multimodal:  5,
	Capability:  4,
}

const (
	// MaxComparisonModels bounds selectMultipleModels' result size.
	MaxComparisonModels = 2
	// ComparisonScoreThreshold is how far below the top score a second
	// model may be while still qualifying for the comparison set.
	ComparisonScoreThreshold = 3.0
)

// comparisonCapabilities are the capability tags that make a complex prompt
// eligible for a multi-model comparison.
var comparisonCapabilities = map[string]bool{
	"general_knowledge": true,
	"creative":          true,
	"reasoning":          true,
}

// Config configures a Router.
type Config struct {
	Weights      Weights
	DefaultModel *chatmodels.ModelDescriptor
	Logger       *slog.Logger
}

// Router scores and selects models against a prompt's requirements.
type Router struct {
	weights      Weights
	defaultModel *chatmodels.ModelDescriptor
	logger       *slog.Logger
}

// New builds a Router. A zero-value Weights falls back to DefaultWeights.
func New(cfg Config) *Router {
	weights := cfg.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{weights: weights, defaultModel: cfg.DefaultModel, logger: logger}
}

// Score computes the routing score for a single model against a prompt's
// requirements.
func (router *Router) Score(m *chatmodels.ModelDescriptor, r *chatmodels.PromptRequirements) float64 {
	if m == nil || r == nil {
		return 0
	}
	if len(r.RequiredCapabilities) == 0 {
		return 0
	}
	for _, critical := range r.CriticalCapabilities {
		if !m.HasStrength(critical) {
			return math.Inf(-1)
		}
	}

	estimatedCost := estimateCost(r, m)
	if r.BudgetConstraint != nil && estimatedCost > *r.BudgetConstraint {
		return 0
	}

	w := router.weights
	score := w.Complexity * math.Max(0, 5-math.Abs(float64(r.ExpectedComplexity-m.ContextComplexity)))

	if r.BudgetConstraint != nil && *r.BudgetConstraint > 0 {
		score += w.Budget * math.Max(0, 1-estimatedCost/(*r.BudgetConstraint))
	}

	score += w.CostEff * (1 / (1 + 10*(m.CostPer1kInputTokens+m.CostPer1kOutputTokens)))
	score += w.Reliability * float64(m.Reliability)
	score += w.Speed * float64(6-m.Speed)

	if r.HasImages && m.Multimodal {
		score += w.Multimodal
	}

	score += w.Capability * capabilityOverlapRatio(r.RequiredCapabilities, m.Strengths)

	return score
}

func estimateCost(r *chatmodels.PromptRequirements, m *chatmodels.ModelDescriptor) float64 {
	inputCost := float64(r.EstimatedInputTokens) / 1000 * m.CostPer1kInputTokens
	outputCost := float64(r.EstimatedOutputTokens) / 1000 * m.CostPer1kOutputTokens
	return inputCost + outputCost
}

func capabilityOverlapRatio(required, strengths []string) float64 {
	if len(required) == 0 {
		return 0
	}
	strengthSet := make(map[string]bool, len(strengths))
	for _, s := range strengths {
		strengthSet[s] = true
	}
	matches := 0
	for _, req := range required {
		if strengthSet[req] {
			matches++
		}
	}
	return float64(matches) / float64(len(required))
}

// SelectModel implements selectModel: the highest-scoring candidate with
// score > 0, tie-broken by includedInRouter, then lower combined cost, then
// alphabetical model name; the configured default if none qualify. Any
// panic in scoring is recovered and logged, surfacing the default model
// instead — routing must never fail the request.
func (router *Router) SelectModel(candidates []*chatmodels.ModelDescriptor, r *chatmodels.PromptRequirements) (selected *chatmodels.ModelDescriptor) {
	defer func() {
		if rec := recover(); rec != nil {
			router.logger.Error("router: panic during model selection, falling back to default", "panic", rec)
			selected = router.defaultModel
		}
	}()

	ranked := router.rank(candidates, r)
	if len(ranked) == 0 || ranked[0].score <= 0 {
		return router.defaultModel
	}
	return ranked[0].model
}

// SelectMultipleModels implements selectMultipleModels: the top model alone
// unless the prompt is complex enough and benefits from comparison, in
// which case up to MaxComparisonModels models are returned, preferring a
// second model from a different provider within ComparisonScoreThreshold of
// the top score.
func (router *Router) SelectMultipleModels(candidates []*chatmodels.ModelDescriptor, r *chatmodels.PromptRequirements) (selected []*chatmodels.ModelDescriptor) {
	defer func() {
		if rec := recover(); rec != nil {
			router.logger.Error("router: panic during multi-model selection, falling back to default", "panic", rec)
			if router.defaultModel != nil {
				selected = []*chatmodels.ModelDescriptor{router.defaultModel}
			}
		}
	}()

	ranked := router.rank(candidates, r)
	if len(ranked) == 0 || ranked[0].score <= 0 {
		if router.defaultModel != nil {
			return []*chatmodels.ModelDescriptor{router.defaultModel}
		}
		return nil
	}

	top := ranked[0]
	result := []*chatmodels.ModelDescriptor{top.model}

	if !benefitsFromComparison(r) {
		return result
	}

	for _, candidate := range ranked[1:] {
		if len(result) >= MaxComparisonModels {
			break
		}
		if candidate.model.Provider == top.model.Provider {
			continue
		}
		if top.score-candidate.score > ComparisonScoreThreshold {
			continue
		}
		result = append(result, candidate.model)
	}
	return result
}

func benefitsFromComparison(r *chatmodels.PromptRequirements) bool {
	if r == nil || r.ExpectedComplexity < 3 {
		return false
	}
	for _, c := range r.RequiredCapabilities {
		if comparisonCapabilities[c] {
			return true
		}
	}
	return false
}

type scored struct {
	model *chatmodels.ModelDescriptor
	score float64
}

// rank scores every candidate and sorts descending by the documented
// tie-break order: score, then includedInRouter, then lower combined cost,
// then alphabetical model name.
func (router *Router) rank(candidates []*chatmodels.ModelDescriptor, r *chatmodels.PromptRequirements) []scored {
	ranked := make([]scored, 0, len(candidates))
	for _, m := range candidates {
		if m == nil {
			continue
		}
		s := router.Score(m, r)
		if math.IsInf(s, -1) {
			continue
		}
		ranked = append(ranked, scored{model: m, score: s})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.model.IncludedInRouter != b.model.IncludedInRouter {
			return a.model.IncludedInRouter
		}
		if a.model.CombinedCost() != b.model.CombinedCost() {
			return a.model.CombinedCost() < b.model.CombinedCost()
		}
		return a.model.MatchingModel < b.model.MatchingModel
	})
	return ranked
}
