// Package orchestrator implements the chat-completion pipeline: validate,
// prepare, usage-check, augment, invoke, guardrails, tool-loop, persist,
// return. It is the seam where the router, provider registry, RAG service,
// tool registry, and team-delegation coordinator are wired together into a
// single request/response cycle.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatforge/core/internal/audit"
	"github.com/chatforge/core/internal/cache"
	"github.com/chatforge/core/internal/cacheshim"
	"github.com/chatforge/core/internal/catalog"
	"github.com/chatforge/core/internal/conversation"
	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/internal/delegation"
	"github.com/chatforge/core/internal/promptanalyser"
	"github.com/chatforge/core/internal/provider"
	"github.com/chatforge/core/internal/rag"
	"github.com/chatforge/core/internal/ratelimit"
	"github.com/chatforge/core/internal/repository"
	"github.com/chatforge/core/internal/router"
	"github.com/chatforge/core/internal/telemetry"
	"github.com/chatforge/core/internal/toolregistry"
	"github.com/chatforge/core/internal/usage"
	"github.com/chatforge/core/pkg/chatmodels"
)

// defaultMaxToolRounds bounds step 7's tool loop.
const defaultMaxToolRounds = 8

// ChatRequest is the orchestrator's entry point shape for a single chat
// completion turn.
type ChatRequest struct {
	CompletionID       string
	Model              string
	ExplicitProvider   string
	Messages           []*chatmodels.Message
	RequestedTools     []string
	User               *chatmodels.User
	Env                string
	AppURL             string
	CurrentAgentID     string
	DelegationStack    []string
	MaxDelegationDepth int
	BudgetConstraint   *float64
	ConversationID     string
}

// ChatResponseBody is the inner `response` object of a chat completion
// response.
type ChatResponseBody struct {
	Content           string             `json:"content"`
	ToolCalls         []chatmodels.ToolCall `json:"tool_calls,omitempty"`
	Usage             *chatmodels.Usage  `json:"usage,omitempty"`
	LogID             string             `json:"log_id,omitempty"`
	SystemFingerprint string             `json:"system_fingerprint,omitempty"`
}

// ChatResponse is the full chat completion response returned to the caller.
type ChatResponse struct {
	Response      ChatResponseBody        `json:"response"`
	ToolResponses []chatmodels.ToolResult `json:"toolResponses,omitempty"`
	SelectedModel string                  `json:"selectedModel"`
	CompletionID  string                  `json:"completion_id"`
}

// Config wires every component the orchestrator coordinates.
type Config struct {
	Conversations *conversation.Manager
	Catalog       *catalog.Catalog
	Router        *router.Router
	Providers     *provider.Registry
	Analyser      *promptanalyser.Analyzer
	RAG           *rag.Service
	Tools         *toolregistry.Registry
	Delegation    *delegation.Coordinator
	Store         repository.Store
	Cache         cacheshim.Store
	Logger        *telemetry.Logger
	Metrics       telemetry.Sink
	Audit         *audit.Logger
	Usage         *usage.Tracker
	RequestDedupe *cache.DedupeCache
	RateLimit     *ratelimit.Limiter

	AlwaysEnabledProviders map[string]bool
	Guardrail              GuardrailConfig
	MaxToolRounds          int
	DefaultModel           string
}

// Orchestrator runs a chat completion turn: validate, prepare, usage-check,
// augment, invoke, guardrails, tool-loop, persist, return.
type Orchestrator struct {
	cfg Config
}

// New builds an Orchestrator. Providers/Conversations/Tools are required;
// the rest degrade gracefully when nil (no RAG augmentation, no routing
// beyond the explicit model, no delegation tool).
func New(cfg Config) *Orchestrator {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopSink{}
	}
	return &Orchestrator{cfg: cfg}
}

// Run executes one chat completion turn end to end.
func (o *Orchestrator) Run(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	// 1. Validate.
	if err := validate(req); err != nil {
		return nil, err
	}
	if o.cfg.RequestDedupe != nil && req.CompletionID != "" && o.cfg.RequestDedupe.Check(req.CompletionID) {
		return nil, corekind.New(corekind.Invariant, fmt.Sprintf("orchestrator: duplicate completion id %q", req.CompletionID))
	}
	if o.cfg.RateLimit != nil && !o.cfg.RateLimit.Allow(userIDString(req.User)) {
		return nil, corekind.New(corekind.QuotaExceeded, "orchestrator: request rate limit exceeded")
	}
	ctx = WithDelegationContext(ctx, req.CurrentAgentID, req.DelegationStack)

	// 2. Prepare.
	lastUser := lastUserMessage(req.Messages)
	var budget *float64
	if req.BudgetConstraint != nil {
		budget = req.BudgetConstraint
	}

	var requirements *chatmodels.PromptRequirements
	if o.cfg.Analyser != nil {
		var err error
		requirements, err = o.cfg.Analyser.AnalyzePrompt(ctx, lastUser.Content, lastUser.Attachments, budget, userIDString(req.User))
		if err != nil {
			// Degrades to the unaugmented, unrouted path rather than
			// failing the request.
			requirements = &chatmodels.PromptRequirements{}
		}
	} else {
		requirements = &chatmodels.PromptRequirements{}
	}

	selectedModel := o.resolveModel(ctx, req, requirements)

	// 3. Usage check.
	if o.cfg.Conversations != nil {
		if err := o.cfg.Conversations.CheckUsageLimits(ctx, req.User, selectedModel, ""); err != nil {
			return nil, err
		}
	}

	// 4. Augment.
	augmented := lastUser.Content
	if o.cfg.RAG != nil && lastUser.Content != "" {
		augmented = o.cfg.RAG.AugmentPrompt(ctx, lastUser.Content, rag.AugmentOptions{}, userIDString(req.User), nil)
	}

	messages := substituteFinalMessage(req.Messages, lastUser, augmented)
	toolSpecs := o.toolSpecs(req.RequestedTools)

	completionID := req.CompletionID
	if completionID == "" {
		completionID = uuid.NewString()
	}

	var produced []*chatmodels.Message
	var toolResponses []chatmodels.ToolResult
	var finalContent string
	var finalToolCalls []chatmodels.ToolCall
	var usage *chatmodels.Usage

	for round := 0; round <= o.cfg.MaxToolRounds; round++ {
		// 5. Invoke.
		resp, err := o.invoke(ctx, selectedModel, req, completionID, messages, toolSpecs)
		if err != nil {
			return nil, err
		}

		// 6. Guardrails.
		safe, ok := o.cfg.Guardrail.check(resp.Content)
		if !ok {
			o.cfg.Metrics.Record(ctx, telemetry.Metric{
				TraceID: telemetry.GetTraceID(ctx), Timestamp: time.Now(),
				Type: telemetry.MetricGuardrail, Name: "guardrail.violation", Value: 1,
				Status: telemetry.StatusInfo, UserID: userIDString(req.User), CompletionID: completionID,
			})
			resp.Content = safe
			resp.ToolCalls = nil
		}

		assistantMsg := &chatmodels.Message{
			ID:             uuid.NewString(),
			ConversationID: req.ConversationID,
			Role:           chatmodels.RoleAssistant,
			Content:        resp.Content,
			Model:          selectedModel,
			Timestamp:      time.Now(),
		}
		messages = append(messages, assistantMsg)
		produced = append(produced, assistantMsg)
		finalContent = resp.Content
		finalToolCalls = toChatToolCalls(resp.ToolCalls)
		if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
			usage = &chatmodels.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
		}

		// 7. Tool loop.
		if len(resp.ToolCalls) == 0 {
			break
		}
		roundResults, roundPending := o.runToolCalls(ctx, req, completionID, resp.ToolCalls)
		for i, tc := range resp.ToolCalls {
			result := roundResults[i]
			toolResponses = append(toolResponses, result)
			toolMsg := &chatmodels.Message{
				ID:              uuid.NewString(),
				ConversationID:  req.ConversationID,
				ParentMessageID: assistantMsg.ID,
				Role:            chatmodels.RoleTool,
				Content:         result.Content,
				Name:            tc.Name,
				Data:            result.Data,
				Timestamp:       time.Now(),
			}
			messages = append(messages, toolMsg)
			produced = append(produced, toolMsg)
		}
		if roundPending {
			break
		}
	}

	// 8. Persist.
	if o.cfg.Conversations != nil && req.ConversationID != "" {
		for _, m := range produced {
			if _, err := o.cfg.Conversations.Add(ctx, req.User, req.ConversationID, m); err != nil {
				return nil, err
			}
		}
		o.cfg.Conversations.IncrementUsageByModel(ctx, req.User, selectedModel)
	}
	if o.cfg.Usage != nil && usage != nil {
		o.recordUsage(completionID, selectedModel, req.User, usage)
	}

	// 9. Return.
	return &ChatResponse{
		Response: ChatResponseBody{
			Content:   finalContent,
			ToolCalls: finalToolCalls,
			Usage:     usage,
			LogID:     completionID,
		},
		ToolResponses: toolResponses,
		SelectedModel: selectedModel,
		CompletionID:  completionID,
	}, nil
}

func validate(req ChatRequest) error {
	if len(req.Messages) == 0 {
		return corekind.New(corekind.Validation, "orchestrator: messages must not be empty")
	}
	hasUser := false
	for _, m := range req.Messages {
		if m == nil {
			return corekind.New(corekind.Validation, "orchestrator: nil message")
		}
		if !chatmodels.AllowedRoles[m.Role] {
			return corekind.New(corekind.Validation, fmt.Sprintf("orchestrator: disallowed role %q", m.Role))
		}
		if m.Role == chatmodels.RoleUser {
			hasUser = true
		}
		for _, a := range m.Attachments {
			if a.Type != "image" && a.Type != "document" {
				return corekind.New(corekind.Validation, fmt.Sprintf("orchestrator: disallowed attachment type %q", a.Type))
			}
		}
	}
	if !hasUser {
		return corekind.New(corekind.Validation, "orchestrator: at least one user message is required")
	}
	return nil
}

func lastUserMessage(messages []*chatmodels.Message) *chatmodels.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chatmodels.RoleUser {
			return messages[i]
		}
	}
	return messages[len(messages)-1]
}

func substituteFinalMessage(messages []*chatmodels.Message, lastUser *chatmodels.Message, augmentedContent string) []*chatmodels.Message {
	if augmentedContent == lastUser.Content {
		return messages
	}
	out := make([]*chatmodels.Message, len(messages))
	copy(out, messages)
	for i, m := range out {
		if m == lastUser {
			clone := *m
			clone.Content = augmentedContent
			out[i] = &clone
			break
		}
	}
	return out
}

// resolveModel picks the model for this turn: the explicit model if given,
// else the router's pick among the models the user may access.
func (o *Orchestrator) resolveModel(ctx context.Context, req ChatRequest, requirements *chatmodels.PromptRequirements) string {
	if req.Model != "" {
		return req.Model
	}
	if o.cfg.Router == nil || o.cfg.Catalog == nil {
		return o.cfg.DefaultModel
	}

	all := o.cfg.Catalog.GetIncludedInRouterModels()
	var userID uint64
	if req.User != nil {
		userID = req.User.ID
	}
	accessible := catalog.FilterModelsForUserAccess(ctx, o.cfg.Cache, o.cfg.Store, all, o.cfg.AlwaysEnabledProviders, userID)
	selected := o.cfg.Router.SelectModel(accessible, requirements)
	if selected == nil {
		return o.cfg.DefaultModel
	}
	return selected.MatchingModel
}

func (o *Orchestrator) invoke(ctx context.Context, model string, req ChatRequest, completionID string, messages []*chatmodels.Message, tools []provider.ToolSpec) (provider.ChatResponse, error) {
	if o.cfg.Providers == nil {
		return provider.ChatResponse{}, corekind.New(corekind.Invariant, "orchestrator: no provider registry configured")
	}
	pm := make([]provider.Message, 0, len(messages))
	for _, m := range messages {
		pm = append(pm, provider.Message{Role: string(m.Role), Content: m.Content})
	}
	opts := provider.ResolveOptions{
		ExplicitModel:    model,
		ExplicitProvider: req.ExplicitProvider,
		ModelProvider: func(m string) (string, bool) {
			if o.cfg.Catalog == nil {
				return "", false
			}
			d, err := o.cfg.Catalog.GetModelConfigByModel(ctx, o.cfg.Cache, m)
			if err != nil || d == nil {
				return "", false
			}
			return d.Provider, true
		},
	}
	mc := provider.MetricsContext{TraceID: telemetry.GetTraceID(ctx), UserID: userIDString(req.User), CompletionID: completionID}
	return o.cfg.Providers.Complete(ctx, opts, mc, provider.ChatRequest{Model: model, Messages: pm, Tools: tools})
}

func (o *Orchestrator) toolSpecs(names []string) []provider.ToolSpec {
	if o.cfg.Tools == nil {
		return nil
	}
	if len(names) == 0 {
		var specs []provider.ToolSpec
		for _, d := range o.cfg.Tools.Descriptors() {
			if d.IsDefault {
				specs = append(specs, descriptorToSpec(d))
			}
		}
		return specs
	}
	var specs []provider.ToolSpec
	for _, name := range names {
		if d, ok := o.cfg.Tools.Get(name); ok {
			specs = append(specs, descriptorToSpec(d))
		}
	}
	return specs
}

func descriptorToSpec(d toolregistry.Descriptor) provider.ToolSpec {
	var params map[string]any
	_ = json.Unmarshal(d.Parameters, &params)
	return provider.ToolSpec{Name: d.Name, Description: d.Description, Parameters: params}
}

func (o *Orchestrator) runToolCalls(ctx context.Context, req ChatRequest, completionID string, calls []provider.ToolCall) ([]chatmodels.ToolResult, bool) {
	results := make([]chatmodels.ToolResult, len(calls))
	pending := false
	userID := userIDString(req.User)
	for i, call := range calls {
		if o.cfg.Tools == nil {
			results[i] = chatmodels.ToolResult{Status: chatmodels.ToolStatusError, Name: call.Name, Content: "no tool registry configured"}
			continue
		}

		if o.cfg.Audit != nil {
			o.cfg.Audit.LogToolInvocation(ctx, userID, call.Name, call.ID, json.RawMessage(call.Arguments))
		}
		start := time.Now()
		result, err := o.cfg.Tools.Dispatch(ctx, call.Name, toolregistry.Request{
			CompletionID: completionID,
			Model:        req.Model,
			Args:         json.RawMessage(call.Arguments),
			User:         req.User,
			AppURL:       req.AppURL,
		})
		duration := time.Since(start)
		if err != nil {
			results[i] = chatmodels.ToolResult{Status: chatmodels.ToolStatusError, Name: call.Name, Content: err.Error()}
			if o.cfg.Audit != nil {
				switch {
				case corekind.Is(err, corekind.Forbidden), corekind.Is(err, corekind.PremiumRequired), corekind.Is(err, corekind.QuotaExceeded):
					o.cfg.Audit.LogToolDenied(ctx, userID, call.Name, call.ID, err.Error())
				default:
					o.cfg.Audit.LogToolCompletion(ctx, userID, call.Name, call.ID, false, err.Error(), duration)
				}
			}
			continue
		}
		results[i] = result
		if o.cfg.Audit != nil {
			o.cfg.Audit.LogToolCompletion(ctx, userID, call.Name, call.ID, result.Status != chatmodels.ToolStatusError, result.Content, duration)
		}
		if result.HumanInTheLoop != nil && result.HumanInTheLoop.Status == "pending" {
			pending = true
		}
	}
	return results, pending
}

func toChatToolCalls(calls []provider.ToolCall) []chatmodels.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]chatmodels.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, chatmodels.ToolCall{ID: c.ID, Name: c.Name, Input: json.RawMessage(c.Arguments)})
	}
	return out
}

func userIDString(u *chatmodels.User) string {
	if u == nil {
		return ""
	}
	return fmt.Sprintf("%d", u.ID)
}

// recordUsage converts a completion's token usage into a cost-estimated
// usage.Record and hands it to the tracker. The model's provider and
// per-token pricing come from the catalog when available; an unknown model
// still gets recorded, just without a cost estimate.
func (o *Orchestrator) recordUsage(completionID, model string, user *chatmodels.User, u *chatmodels.Usage) {
	rec := usage.Record{
		ID:        completionID,
		Model:     model,
		UserID:    userIDString(user),
		Usage:     usage.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens},
		Timestamp: time.Now(),
	}
	if o.cfg.Catalog != nil {
		if desc, ok := o.cfg.Catalog.GetModelConfigByMatchingModel(model); ok {
			rec.Provider = desc.Provider
			cost := usage.Cost{Input: desc.CostPer1kInputTokens * 1000, Output: desc.CostPer1kOutputTokens * 1000}
			rec.Cost = cost.Estimate(&rec.Usage)
		}
	}
	o.cfg.Usage.Record(rec)
}
