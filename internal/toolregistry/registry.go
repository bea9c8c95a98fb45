// Package toolregistry implements the tool registry and dispatcher: a flat
// name-to-descriptor map, premium/usage gating, and MCP-prefixed routing to
// a connected MCP server.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/pkg/chatmodels"
)

// Request carries the caller context a tool function receives alongside its
// arguments.
type Request struct {
	CompletionID string
	Model        string
	Args         json.RawMessage
	User         *chatmodels.User
	AppURL       string
}

// Handler is a tool's type-erased implementation.
type Handler func(ctx context.Context, req Request) (chatmodels.ToolResult, error)

// Descriptor is a registered tool's metadata plus its handler.
type Descriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema
	Type        string          // normal|premium
	CostPerCall float64
	IsDefault   bool
	Strict      bool
	Handler     Handler
}

// UsageChecker is the conversation manager's view from the dispatcher: a
// pre-flight quota check plus best-effort accounting, mirroring
// internal/conversation.Manager's CheckUsageLimits/IncrementFunctionUsage.
type UsageChecker interface {
	CheckUsageLimits(ctx context.Context, user *chatmodels.User, model, toolType string) error
	IncrementFunctionUsage(ctx context.Context, user *chatmodels.User, toolType string, isPro bool, costPerCall float64)
}

// MCPDispatcher resolves and invokes a tool hosted by a connected MCP
// server. ToolNames lists every tool known for a given short agent id
// prefix, used to resolve an ambiguous substring match.
type MCPDispatcher interface {
	ToolNames(shortAgentID string) ([]string, bool)
	CallTool(ctx context.Context, shortAgentID, toolName string, arguments map[string]any) (chatmodels.ToolResult, error)
}

// Registry is the flat name -> Descriptor tool registry and dispatcher.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor

	usage UsageChecker
	mcp   MCPDispatcher
}

// Config configures a Registry. Usage/MCP are both optional: a nil Usage
// skips premium/quota gating in Dispatch's step 3/4 rather than failing
// closed, and a nil MCP makes any `mcp_`-prefixed name resolve to NotFound.
type Config struct {
	Usage UsageChecker
	MCP   MCPDispatcher
}

// New builds an empty Registry.
func New(cfg Config) *Registry {
	return &Registry{tools: make(map[string]Descriptor), usage: cfg.Usage, mcp: cfg.MCP}
}

// Register adds or replaces a tool descriptor.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[d.Name] = d
}

// Get returns a tool descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Descriptors returns every registered tool, for enumerating native tool
// schemas to a provider.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}

const mcpPrefix = "mcp_"

// Dispatch resolves a tool by name, checks its required scopes and rate
// limit, runs its handler with a bounded timeout, and records the outcome.
func (r *Registry) Dispatch(ctx context.Context, name string, req Request) (chatmodels.ToolResult, error) {
	if strings.HasPrefix(name, mcpPrefix) {
		return r.dispatchMCP(ctx, name, req)
	}

	d, ok := r.Get(name)
	if !ok {
		return chatmodels.ToolResult{}, corekind.New(corekind.NotFound, fmt.Sprintf("toolregistry: tool %q not found", name))
	}

	if d.Type == "premium" && !req.User.IsPro() {
		return chatmodels.ToolResult{}, corekind.New(corekind.PremiumRequired, fmt.Sprintf("toolregistry: tool %q requires a pro plan", name))
	}

	if r.usage != nil {
		if err := r.usage.CheckUsageLimits(ctx, req.User, req.Model, d.Type); err != nil {
			return chatmodels.ToolResult{}, err
		}
	}

	result, err := d.Handler(ctx, req)
	if err != nil {
		return chatmodels.ToolResult{}, err
	}

	if r.usage != nil {
		r.usage.IncrementFunctionUsage(ctx, req.User, d.Type, req.User.IsPro(), d.CostPerCall)
	}

	return result, nil
}

// dispatchMCP parses `mcp_{shortAgentId}_{toolName}`, routes to the MCP
// client registered for that agent id prefix, and resolves an ambiguous
// tool-name suffix by unique substring match within that server's tools.
func (r *Registry) dispatchMCP(ctx context.Context, name string, req Request) (chatmodels.ToolResult, error) {
	if r.mcp == nil {
		return chatmodels.ToolResult{}, corekind.New(corekind.NotFound, fmt.Sprintf("toolregistry: no MCP dispatcher configured for %q", name))
	}

	rest := strings.TrimPrefix(name, mcpPrefix)
	parts := strings.SplitN(rest, "_", 2)
	if len(parts) != 2 {
		return chatmodels.ToolResult{}, corekind.New(corekind.Validation, fmt.Sprintf("toolregistry: malformed MCP tool name %q", name))
	}
	shortAgentID, toolSuffix := parts[0], parts[1]

	names, ok := r.mcp.ToolNames(shortAgentID)
	if !ok {
		return chatmodels.ToolResult{}, corekind.New(corekind.NotFound, fmt.Sprintf("toolregistry: no MCP server for agent id %q", shortAgentID))
	}

	toolName, err := resolveMCPToolName(names, toolSuffix)
	if err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.NotFound, fmt.Sprintf("toolregistry: resolve MCP tool %q", name), err)
	}

	var args map[string]any
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "toolregistry: unmarshal MCP tool arguments", err)
		}
	}
	return r.mcp.CallTool(ctx, shortAgentID, toolName, args)
}

// resolveMCPToolName finds toolSuffix among names: an exact match wins
// outright; otherwise the unique substring match is used; two or more
// substring matches is ambiguous.
func resolveMCPToolName(names []string, toolSuffix string) (string, error) {
	for _, n := range names {
		if n == toolSuffix {
			return n, nil
		}
	}
	var matches []string
	for _, n := range names {
		if strings.Contains(n, toolSuffix) {
			matches = append(matches, n)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no tool matching %q", toolSuffix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ambiguous tool name %q matches %v", toolSuffix, matches)
	}
}
