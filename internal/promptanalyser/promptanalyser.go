// Package promptanalyser turns a raw prompt and its attachments into a
// PromptRequirements description the router can score models against.
package promptanalyser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/chatforge/core/internal/provider"
	"github.com/chatforge/core/pkg/chatmodels"
)

// ErrInvalidAIAnalysis is returned when the auxiliary model's classification
// is missing a required capability list after tolerant JSON parsing.
var ErrInvalidAIAnalysis = errors.New("promptanalyser: invalid AI analysis: missing capability lists")

// Config configures the analyser's keyword pass and auxiliary-model call.
type Config struct {
	// Lexicon maps a capability tag to the keywords that suggest it.
	// Defaults to DefaultLexicon when nil.
	Lexicon map[string][]string
	// AvailableCapabilities is enumerated in the auxiliary model's system
	// prompt so its output is bounded to known values.
	AvailableCapabilities []string
	// AvailableTools is enumerated alongside AvailableCapabilities.
	AvailableTools []string
	// AuxProvider/AuxModel select which provider and model classify the
	// prompt; empty values fall back to the registry's default chat provider.
	AuxProvider string
	AuxModel    string
}

// Analyzer implements analyzePrompt against a provider registry.
type Analyzer struct {
	cfg      Config
	registry *provider.Registry
}

// New builds an Analyzer. A nil/empty cfg.Lexicon defaults to DefaultLexicon.
func New(cfg Config, registry *provider.Registry) *Analyzer {
	if cfg.Lexicon == nil {
		cfg.Lexicon = DefaultLexicon
	}
	return &Analyzer{cfg: cfg, registry: registry}
}

// classification is the auxiliary model's raw JSON response shape.
type classification struct {
	ExpectedComplexity         int      `json:"expectedComplexity"`
	RequiredCapabilities       []string `json:"requiredCapabilities"`
	CriticalCapabilities       []string `json:"criticalCapabilities"`
	EstimatedInputTokens       int      `json:"estimatedInputTokens"`
	EstimatedOutputTokens      int      `json:"estimatedOutputTokens"`
	NeedsFunctions             bool     `json:"needsFunctions"`
	BenefitsFromMultipleModels bool     `json:"benefitsFromMultipleModels"`
	ModelComparisonReason      string   `json:"modelComparisonReason"`
}

// AnalyzePrompt classifies a prompt's capability, context, and cost
// requirements from its text, attachments, and budget.
func (a *Analyzer) AnalyzePrompt(ctx context.Context, prompt string, attachments []chatmodels.Attachment, budget *float64, userID string) (*chatmodels.PromptRequirements, error) {
	req := &chatmodels.PromptRequirements{}

	// Step 1: attachment-derived flags.
	for _, att := range attachments {
		switch att.Type {
		case "image":
			req.HasImages = true
		case "document":
			req.HasDocuments = true
		}
	}

	// Step 2: keyword-category pass, with a unicode-normalized fallback.
	keywordHits := a.keywordCategories(prompt)

	// Step 3: auxiliary-model JSON classification.
	raw, err := a.classify(ctx, prompt, keywordHits, userID)
	if err != nil {
		return nil, fmt.Errorf("promptanalyser: classify: %w", err)
	}

	// Step 4: tolerant JSON parsing.
	cls, hasRequired, hasCritical, err := parseClassification(raw)
	if err != nil {
		return nil, fmt.Errorf("promptanalyser: parse classification: %w", err)
	}

	// Step 5: normalize/clamp; fail if either capability list key is absent
	// from the model's response (an empty array is a valid "none needed").
	if !hasRequired || !hasCritical {
		return nil, ErrInvalidAIAnalysis
	}
	if len(cls.RequiredCapabilities) == 0 {
		cls.RequiredCapabilities = keywordHits
	}

	req.ExpectedComplexity = clamp(cls.ExpectedComplexity, 1, 5)
	req.RequiredCapabilities = cls.RequiredCapabilities
	req.CriticalCapabilities = cls.CriticalCapabilities
	req.EstimatedInputTokens = clampMin(cls.EstimatedInputTokens, 0)
	req.EstimatedOutputTokens = clampMin(cls.EstimatedOutputTokens, 0)
	req.NeedsFunctions = cls.NeedsFunctions
	req.BenefitsFromMultipleModels = cls.BenefitsFromMultipleModels
	req.ModelComparisonReason = cls.ModelComparisonReason

	// Step 6: attach the caller's budget constraint verbatim.
	req.BudgetConstraint = budget

	return req, nil
}

// keywordCategories matches prompt against the configured lexicon; on zero
// hits it falls back to unicode-NFKC-normalized naive token matching, which
// catches accented/width-variant keyword forms the literal pass misses.
func (a *Analyzer) keywordCategories(prompt string) []string {
	lower := strings.ToLower(prompt)
	hits := matchLexicon(lower, a.cfg.Lexicon)
	if len(hits) > 0 {
		return hits
	}

	normalized := norm.NFKC.String(lower)
	tokens := strings.Fields(normalized)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[strings.Trim(t, ".,!?;:\"'()")] = true
	}
	var fallback []string
	for category, keywords := range a.cfg.Lexicon {
		for _, kw := range keywords {
			if tokenSet[kw] {
				fallback = append(fallback, category)
				break
			}
		}
	}
	return fallback
}

func matchLexicon(lower string, lexicon map[string][]string) []string {
	var hits []string
	for category, keywords := range lexicon {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hits = append(hits, category)
				break
			}
		}
	}
	return hits
}

// classify asks the auxiliary model for a bounded JSON classification and
// returns its raw text content.
func (a *Analyzer) classify(ctx context.Context, prompt string, keywordHits []string, userID string) (string, error) {
	system := a.systemPrompt(keywordHits)
	resp, err := a.registry.Complete(ctx,
		provider.ResolveOptions{ExplicitModel: a.cfg.AuxModel, ExplicitProvider: a.cfg.AuxProvider},
		provider.MetricsContext{UserID: userID},
		provider.ChatRequest{
			Model: a.cfg.AuxModel,
			Messages: []provider.Message{
				{Role: "system", Content: system},
				{Role: "user", Content: prompt},
			},
		},
	)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (a *Analyzer) systemPrompt(keywordHits []string) string {
	var b strings.Builder
	b.WriteString("You classify a user prompt's model requirements. Respond with a single JSON object with fields: ")
	b.WriteString("expectedComplexity (1-5), requiredCapabilities (array), criticalCapabilities (array), ")
	b.WriteString("estimatedInputTokens, estimatedOutputTokens, needsFunctions, benefitsFromMultipleModels, modelComparisonReason. ")
	if len(a.cfg.AvailableCapabilities) > 0 {
		b.WriteString("Available capabilities: " + strings.Join(a.cfg.AvailableCapabilities, ", ") + ". ")
	}
	if len(a.cfg.AvailableTools) > 0 {
		b.WriteString("Available tools: " + strings.Join(a.cfg.AvailableTools, ", ") + ". ")
	}
	if len(keywordHits) > 0 {
		b.WriteString("A keyword pass already flagged: " + strings.Join(keywordHits, ", ") + ".")
	}
	return b.String()
}

// parseClassification tolerantly parses the auxiliary model's response:
// strip ```-fences, try direct unmarshal, then fall back to extracting the
// first balanced {...} substring. It also reports whether the
// requiredCapabilities/criticalCapabilities keys were present at all, since
// an absent key and an explicit empty array mean different things.
func parseClassification(raw string) (cls *classification, hasRequired, hasCritical bool, err error) {
	text := stripFences(raw)

	obj, ok := decodeObject(text)
	if !ok {
		balanced, found := extractBalancedObject(text)
		if !found {
			return nil, false, false, fmt.Errorf("no JSON object found in response")
		}
		obj, ok = decodeObject(balanced)
		if !ok {
			return nil, false, false, fmt.Errorf("unmarshal balanced object failed")
		}
		text = balanced
	}

	var c classification
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return nil, false, false, fmt.Errorf("unmarshal classification: %w", err)
	}

	_, hasRequired = obj["requiredCapabilities"]
	_, hasCritical = obj["criticalCapabilities"]
	return &c, hasRequired, hasCritical, nil
}

func decodeObject(text string) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx != -1 && !strings.HasPrefix(s, "{") {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampMin(v, lo int) int {
	if v < lo {
		return lo
	}
	return v
}
