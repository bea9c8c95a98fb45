package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/chatforge/core/internal/conversation"
	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/internal/delegation"
	"github.com/chatforge/core/internal/objectstore"
	"github.com/chatforge/core/internal/provider"
	"github.com/chatforge/core/internal/repository/memory"
	"github.com/chatforge/core/internal/toolregistry"
	"github.com/chatforge/core/internal/workflow"
	"github.com/chatforge/core/pkg/chatmodels"
)

type scriptedProvider struct {
	name      string
	responses []provider.ChatResponse
	calls     int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(ctx context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	if p.calls >= len(p.responses) {
		return provider.ChatResponse{Content: "no more scripted responses"}, nil
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatChunk, error) {
	return nil, corekind.New(corekind.Invariant, "streaming not used in this test")
}

func newTestOrchestrator(t *testing.T, responses []provider.ChatResponse) (*Orchestrator, *toolregistry.Registry) {
	t.Helper()
	registry := provider.NewRegistry(nil)
	registry.RegisterChat(&scriptedProvider{name: "test", responses: responses}, true)

	store := memory.New()
	convos := conversation.New(conversation.Config{Store: store})
	tools := toolregistry.New(toolregistry.Config{})
	RegisterWorkflowTools(tools, workflow.DefaultSandboxConfig(), objectstore.NewMemoryStore())

	orch := New(Config{
		Conversations: convos,
		Providers:     registry,
		Tools:         tools,
		Store:         store,
		DefaultModel:  "test-model",
	})
	return orch, tools
}

func TestRunRejectsEmptyMessages(t *testing.T) {
	orch, _ := newTestOrchestrator(t, nil)
	_, err := orch.Run(context.Background(), ChatRequest{User: &chatmodels.User{ID: 1}})
	if !corekind.Is(err, corekind.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunRejectsDisallowedRole(t *testing.T) {
	orch, _ := newTestOrchestrator(t, nil)
	_, err := orch.Run(context.Background(), ChatRequest{
		User:     &chatmodels.User{ID: 1},
		Messages: []*chatmodels.Message{{Role: "bogus", Content: "hi"}},
	})
	if !corekind.Is(err, corekind.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunSimpleTurnNoTools(t *testing.T) {
	orch, _ := newTestOrchestrator(t, []provider.ChatResponse{
		{Content: "hello there"},
	})
	resp, err := orch.Run(context.Background(), ChatRequest{
		Model:          "test-model",
		ConversationID: "conv-1",
		User:           &chatmodels.User{ID: 1},
		Messages:       []*chatmodels.Message{{Role: chatmodels.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response.Content != "hello there" {
		t.Fatalf("got %q", resp.Response.Content)
	}
	if resp.SelectedModel != "test-model" {
		t.Fatalf("got selected model %q", resp.SelectedModel)
	}
}

func TestRunPersistsMessages(t *testing.T) {
	orch, _ := newTestOrchestrator(t, []provider.ChatResponse{
		{Content: "persisted reply"},
	})
	user := &chatmodels.User{ID: 7}
	resp, err := orch.Run(context.Background(), ChatRequest{
		Model:          "test-model",
		ConversationID: "conv-42",
		User:           user,
		Messages:       []*chatmodels.Message{{Role: chatmodels.RoleUser, Content: "remember this"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response.Content != "persisted reply" {
		t.Fatalf("got %q", resp.Response.Content)
	}

	msgs, err := orch.cfg.Conversations.Get(context.Background(), user, "conv-42", nil)
	if err != nil {
		t.Fatalf("unexpected error reading back conversation: %v", err)
	}
	var sawAssistant bool
	for _, m := range msgs {
		if m.Role == chatmodels.RoleAssistant && m.Content == "persisted reply" {
			sawAssistant = true
		}
	}
	if !sawAssistant {
		t.Fatalf("expected the assistant reply to be persisted, got %+v", msgs)
	}
}

func TestRunToolLoopRunsToolAndReinvokes(t *testing.T) {
	toolCallArgs, _ := json.Marshal(map[string]string{})
	orch, tools := newTestOrchestrator(t, []provider.ChatResponse{
		{
			Content: "",
			ToolCalls: []provider.ToolCall{
				{ID: "call-1", Name: "echo", Arguments: string(toolCallArgs)},
			},
		},
		{Content: "final answer after tool"},
	})
	tools.Register(toolregistry.Descriptor{
		Name: "echo",
		Handler: func(ctx context.Context, req toolregistry.Request) (chatmodels.ToolResult, error) {
			return chatmodels.ToolResult{Status: chatmodels.ToolStatusSuccess, Name: "echo", Content: "echoed"}, nil
		},
	})

	resp, err := orch.Run(context.Background(), ChatRequest{
		Model:          "test-model",
		ConversationID: "conv-tool",
		User:           &chatmodels.User{ID: 1},
		Messages:       []*chatmodels.Message{{Role: chatmodels.RoleUser, Content: "use the tool"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response.Content != "final answer after tool" {
		t.Fatalf("got %q", resp.Response.Content)
	}
	if len(resp.ToolResponses) != 1 || resp.ToolResponses[0].Content != "echoed" {
		t.Fatalf("expected one echoed tool response, got %+v", resp.ToolResponses)
	}
}

func TestRunGuardrailRejectsDenylistedContent(t *testing.T) {
	orch, _ := newTestOrchestrator(t, []provider.ChatResponse{
		{Content: "here is the forbidden secret phrase"},
	})
	orch.cfg.Guardrail = GuardrailConfig{Enabled: true, Denylist: []string{"forbidden secret phrase"}}

	resp, err := orch.Run(context.Background(), ChatRequest{
		Model:          "test-model",
		ConversationID: "conv-guard",
		User:           &chatmodels.User{ID: 1},
		Messages:       []*chatmodels.Message{{Role: chatmodels.RoleUser, Content: "tell me"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response.Content == "here is the forbidden secret phrase" {
		t.Fatalf("expected the guardrail fallback, got the raw content")
	}
}

type fakeAgentDirectory struct {
	agent *chatmodels.Agent
}

func (d fakeAgentDirectory) GetAgent(ctx context.Context, id string) (*chatmodels.Agent, error) {
	if d.agent != nil && d.agent.ID == id {
		return d.agent, nil
	}
	return nil, corekind.New(corekind.NotFound, "no such agent")
}

func (d fakeAgentDirectory) GetAgentByRole(ctx context.Context, ownerUserID uint64, role string) (*chatmodels.Agent, error) {
	if d.agent != nil && d.agent.Role == role && d.agent.OwnerUserID == ownerUserID {
		return d.agent, nil
	}
	return nil, corekind.New(corekind.NotFound, "no such agent")
}

func TestRunDelegatesToTeamMember(t *testing.T) {
	delegateArgsJSON, _ := json.Marshal(delegateArgs{AgentID: "helper", TaskDescription: "do the sub-task"})
	orch, tools := newTestOrchestrator(t, []provider.ChatResponse{
		{
			Content: "",
			ToolCalls: []provider.ToolCall{
				{ID: "call-1", Name: "delegate_to_team_member", Arguments: string(delegateArgsJSON)},
			},
		},
		{Content: "sub-task done"},     // the nested turn run against the delegate agent
		{Content: "delegation complete"}, // the outer turn's re-invocation after the tool result
	})

	user := &chatmodels.User{ID: 1}
	helper := &chatmodels.Agent{ID: "helper", OwnerUserID: 1, Name: "Helper", Model: "test-model"}
	orch.cfg.Delegation = delegation.New(delegation.Config{Agents: fakeAgentDirectory{agent: helper}, Invoker: orch})
	orch.RegisterDelegationTools(tools)

	resp, err := orch.Run(context.Background(), ChatRequest{
		Model:          "test-model",
		ConversationID: "conv-delegate",
		User:           user,
		CurrentAgentID: "lead",
		Messages:       []*chatmodels.Message{{Role: chatmodels.RoleUser, Content: "please delegate"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response.Content != "delegation complete" {
		t.Fatalf("got %q", resp.Response.Content)
	}
	if len(resp.ToolResponses) != 1 || resp.ToolResponses[0].Status != chatmodels.ToolStatusSuccess {
		t.Fatalf("expected a successful delegation tool response, got %+v", resp.ToolResponses)
	}
	if resp.ToolResponses[0].Content != "sub-task done" {
		t.Fatalf("expected the nested turn's answer to be returned as the tool result, got %q", resp.ToolResponses[0].Content)
	}
}
