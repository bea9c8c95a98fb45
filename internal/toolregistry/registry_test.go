package toolregistry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/pkg/chatmodels"
)

func echoHandler(content string) Handler {
	return func(ctx context.Context, req Request) (chatmodels.ToolResult, error) {
		return chatmodels.ToolResult{Status: chatmodels.ToolStatusSuccess, Content: content}, nil
	}
}

func TestDispatchNotFoundForUnknownTool(t *testing.T) {
	r := New(Config{})
	_, err := r.Dispatch(context.Background(), "does_not_exist", Request{})
	if !corekind.Is(err, corekind.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestDispatchRejectsNonProCallerForPremiumTool(t *testing.T) {
	r := New(Config{})
	r.Register(Descriptor{Name: "premium_tool", Type: "premium", Handler: echoHandler("done")})

	_, err := r.Dispatch(context.Background(), "premium_tool", Request{User: &chatmodels.User{ID: 1, Plan: chatmodels.PlanFree}})
	if !corekind.Is(err, corekind.PremiumRequired) {
		t.Errorf("expected PremiumRequired, got %v", err)
	}
}

func TestDispatchAllowsProCallerForPremiumTool(t *testing.T) {
	r := New(Config{})
	r.Register(Descriptor{Name: "premium_tool", Type: "premium", Handler: echoHandler("done")})

	result, err := r.Dispatch(context.Background(), "premium_tool", Request{User: &chatmodels.User{ID: 1, Plan: chatmodels.PlanPro}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "done" {
		t.Errorf("got %+v", result)
	}
}

type fakeUsage struct {
	checkErr      error
	incrementedAs []string
}

func (f *fakeUsage) CheckUsageLimits(ctx context.Context, user *chatmodels.User, model, toolType string) error {
	return f.checkErr
}
func (f *fakeUsage) IncrementFunctionUsage(ctx context.Context, user *chatmodels.User, toolType string, isPro bool, costPerCall float64) {
	f.incrementedAs = append(f.incrementedAs, toolType)
}

func TestDispatchFailsClosedOnQuotaExceeded(t *testing.T) {
	usage := &fakeUsage{checkErr: errors.New("over quota")}
	r := New(Config{Usage: usage})
	r.Register(Descriptor{Name: "search", Type: "normal", Handler: echoHandler("done")})

	_, err := r.Dispatch(context.Background(), "search", Request{User: &chatmodels.User{ID: 1}})
	if err == nil {
		t.Fatalf("expected quota error")
	}
}

func TestDispatchIncrementsUsageOnSuccess(t *testing.T) {
	usage := &fakeUsage{}
	r := New(Config{Usage: usage})
	r.Register(Descriptor{Name: "search", Type: "normal", CostPerCall: 0.02, Handler: echoHandler("done")})

	if _, err := r.Dispatch(context.Background(), "search", Request{User: &chatmodels.User{ID: 1}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(usage.incrementedAs) != 1 || usage.incrementedAs[0] != "normal" {
		t.Errorf("expected usage incremented once, got %+v", usage.incrementedAs)
	}
}

func TestDispatchDoesNotIncrementUsageOnHandlerError(t *testing.T) {
	usage := &fakeUsage{}
	r := New(Config{Usage: usage})
	r.Register(Descriptor{Name: "fails", Type: "normal", Handler: func(ctx context.Context, req Request) (chatmodels.ToolResult, error) {
		return chatmodels.ToolResult{}, errors.New("boom")
	}})

	if _, err := r.Dispatch(context.Background(), "fails", Request{User: &chatmodels.User{ID: 1}}); err == nil {
		t.Fatalf("expected handler error to propagate")
	}
	if len(usage.incrementedAs) != 0 {
		t.Errorf("expected no usage increment on failure, got %+v", usage.incrementedAs)
	}
}

type fakeMCP struct {
	names map[string][]string
}

func (f *fakeMCP) ToolNames(shortAgentID string) ([]string, bool) {
	names, ok := f.names[shortAgentID]
	return names, ok
}

func (f *fakeMCP) CallTool(ctx context.Context, shortAgentID, toolName string, arguments map[string]any) (chatmodels.ToolResult, error) {
	return chatmodels.ToolResult{Status: chatmodels.ToolStatusSuccess, Name: toolName, Content: "mcp-result"}, nil
}

func TestDispatchRoutesMCPPrefixedToolsByServerPrefix(t *testing.T) {
	mcp := &fakeMCP{names: map[string][]string{"agent1": {"search_web", "read_file"}}}
	r := New(Config{MCP: mcp})

	result, err := r.Dispatch(context.Background(), "mcp_agent1_search_web", Request{Args: json.RawMessage(`{"q":"hi"}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Name != "search_web" {
		t.Errorf("got %+v", result)
	}
}

func TestDispatchResolvesAmbiguousMCPSubstringMatch(t *testing.T) {
	mcp := &fakeMCP{names: map[string][]string{"agent1": {"search_web", "search_docs"}}}
	r := New(Config{MCP: mcp})

	// "search" alone is ambiguous between search_web and search_docs.
	_, err := r.Dispatch(context.Background(), "mcp_agent1_search", Request{})
	if err == nil {
		t.Fatalf("expected ambiguous-match error")
	}

	// "web" uniquely resolves to search_web.
	result, err := r.Dispatch(context.Background(), "mcp_agent1_web", Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Name != "search_web" {
		t.Errorf("got %+v", result)
	}
}

func TestDispatchMCPUnknownAgentIsNotFound(t *testing.T) {
	mcp := &fakeMCP{names: map[string][]string{}}
	r := New(Config{MCP: mcp})

	_, err := r.Dispatch(context.Background(), "mcp_ghost_search", Request{})
	if !corekind.Is(err, corekind.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}
