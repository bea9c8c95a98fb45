package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/internal/delegation"
	"github.com/chatforge/core/internal/objectstore"
	"github.com/chatforge/core/internal/toolregistry"
	"github.com/chatforge/core/internal/workflow"
	"github.com/chatforge/core/pkg/chatmodels"
)

// registryDispatcher adapts a *toolregistry.Registry to workflow.Dispatcher,
// so workflow tools (compose_functions, if_then_else, parallel_execute, …)
// can recursively invoke any other registered tool, including each other.
type registryDispatcher struct {
	tools *toolregistry.Registry
}

func (d registryDispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage, req workflow.Request) (chatmodels.ToolResult, error) {
	return d.tools.Dispatch(ctx, name, toolregistry.Request{
		CompletionID: req.CompletionID,
		Model:        req.Model,
		Args:         args,
		User:         req.User,
		AppURL:       req.AppURL,
	})
}

func workflowHandler(tools *toolregistry.Registry, fn func(context.Context, workflow.Dispatcher, workflow.Request, json.RawMessage) (chatmodels.ToolResult, error)) toolregistry.Handler {
	dispatcher := registryDispatcher{tools: tools}
	return func(ctx context.Context, req toolregistry.Request) (chatmodels.ToolResult, error) {
		return fn(ctx, dispatcher, workflow.Request{CompletionID: req.CompletionID, Model: req.Model, User: req.User, AppURL: req.AppURL}, req.Args)
	}
}

func noArgsHandler(fn func(json.RawMessage) (chatmodels.ToolResult, error)) toolregistry.Handler {
	return func(ctx context.Context, req toolregistry.Request) (chatmodels.ToolResult, error) {
		return fn(req.Args)
	}
}

// RegisterWorkflowTools registers compose_functions, if_then_else,
// parallel_execute, retry_with_backoff, fallback, request_approval,
// ask_user, call_api, browser_fetch, and execute_code on tools.
func RegisterWorkflowTools(tools *toolregistry.Registry, sandboxConfig workflow.SandboxConfig, artifacts objectstore.Store) {
	tools.Register(toolregistry.Descriptor{
		Name:        "compose_functions",
		Description: "Run an ordered sequence of tool calls, piping each step's output into later steps via $var references.",
		Parameters:  toolregistry.SchemaFor(&workflow.ComposeFunctionsArgs{}),
		Handler:     workflowHandler(tools, workflow.ComposeFunctions),
	})
	tools.Register(toolregistry.Descriptor{
		Name:        "if_then_else",
		Description: "Evaluate a condition tool, then run one of two branches.",
		Parameters:  toolregistry.SchemaFor(&workflow.IfThenElseArgs{}),
		Handler:     workflowHandler(tools, workflow.IfThenElse),
	})
	tools.Register(toolregistry.Descriptor{
		Name:        "parallel_execute",
		Description: "Run up to 8 independent tool calls concurrently.",
		Parameters:  toolregistry.SchemaFor(&workflow.ParallelExecuteArgs{}),
		Handler:     workflowHandler(tools, workflow.ParallelExecute),
	})
	tools.Register(toolregistry.Descriptor{
		Name:        "retry_with_backoff",
		Description: "Retry a tool call with exponential backoff on transient failure.",
		Parameters:  toolregistry.SchemaFor(&workflow.RetryWithBackoffArgs{}),
		Handler:     workflowHandler(tools, workflow.RetryWithBackoff),
	})
	tools.Register(toolregistry.Descriptor{
		Name:        "fallback",
		Description: "Run a primary tool call, falling back to a secondary call on failure.",
		Parameters:  toolregistry.SchemaFor(&workflow.FallbackArgs{}),
		Handler:     workflowHandler(tools, workflow.Fallback),
	})
	tools.Register(toolregistry.Descriptor{
		Name:        "request_approval",
		Description: "Ask the user to approve an action without blocking the turn.",
		Parameters:  toolregistry.SchemaFor(&workflow.RequestApprovalArgs{}),
		Handler:     noArgsHandler(workflow.RequestApproval),
	})
	tools.Register(toolregistry.Descriptor{
		Name:        "ask_user",
		Description: "Ask the user a clarifying question without blocking the turn.",
		Parameters:  toolregistry.SchemaFor(&workflow.RequestApprovalArgs{}),
		Handler:     noArgsHandler(workflow.AskUser),
	})
	tools.Register(toolregistry.Descriptor{
		Name:        "call_api",
		Description: "Make a single SSRF-guarded outbound REST or GraphQL call.",
		Parameters:  toolregistry.SchemaFor(&workflow.CallAPIArgs{}),
		Handler: func(ctx context.Context, req toolregistry.Request) (chatmodels.ToolResult, error) {
			return workflow.CallAPI(ctx, req.Args)
		},
	})
	tools.Register(toolregistry.Descriptor{
		Name:        "browser_fetch",
		Description: "Load a page in a headless, disposable Chrome instance and return its rendered text, optionally with a screenshot.",
		Parameters:  toolregistry.SchemaFor(&workflow.BrowserFetchArgs{}),
		Handler: func(ctx context.Context, req toolregistry.Request) (chatmodels.ToolResult, error) {
			return workflow.BrowserFetch(artifacts)(ctx, req.Args)
		},
	})
	tools.Register(toolregistry.Descriptor{
		Name:        "execute_code",
		Description: "Run one code snippet to completion inside a fresh, single-use microVM.",
		Type:        "premium",
		Parameters:  toolregistry.SchemaFor(&workflow.ExecuteCodeArgs{}),
		Handler: func(ctx context.Context, req toolregistry.Request) (chatmodels.ToolResult, error) {
			return workflow.ExecuteCode(sandboxConfig)(ctx, req.Args)
		},
	})
}

// delegateArgs is delegate_to_team_member's argument shape.
type delegateArgs struct {
	AgentID         string                `json:"agent_id"`
	TaskDescription string                `json:"task_description"`
	ContextMessages []*chatmodels.Message `json:"context_messages,omitempty"`
}

// delegateByRoleArgs is delegate_to_team_member_by_role's argument shape.
type delegateByRoleArgs struct {
	Role            string                `json:"role"`
	TaskDescription string                `json:"task_description"`
	ContextMessages []*chatmodels.Message `json:"context_messages,omitempty"`
}

// delegationContextKey carries the in-flight turn's current agent id and
// delegation stack through to the delegate_to_team_member handlers. Request
// state travels via context here, not via a closure captured at
// registration time, since Descriptor.Handler is registered once and
// shared across every concurrent request.
type delegationContextKey struct{}

type delegationContext struct {
	currentAgentID string
	stack          []string
}

// WithDelegationContext attaches the in-flight turn's current agent id and
// delegation stack to ctx, for delegate_to_team_member/…_by_role to read.
func WithDelegationContext(ctx context.Context, currentAgentID string, stack []string) context.Context {
	return context.WithValue(ctx, delegationContextKey{}, delegationContext{currentAgentID: currentAgentID, stack: stack})
}

func delegationContextFromContext(ctx context.Context) delegationContext {
	dc, _ := ctx.Value(delegationContextKey{}).(delegationContext)
	return dc
}

// RegisterDelegationTools registers delegate_to_team_member and
// delegate_to_team_member_by_role on tools. Both read the in-flight agent
// id and delegation stack from the request context (see
// WithDelegationContext), which Run attaches before every tool dispatch.
func (o *Orchestrator) RegisterDelegationTools(tools *toolregistry.Registry) {
	if o.cfg.Delegation == nil {
		return
	}
	tools.Register(toolregistry.Descriptor{
		Name:        "delegate_to_team_member",
		Description: "Delegate a sub-task to another of your agents by id, as a bounded nested chat turn.",
		Handler: func(ctx context.Context, req toolregistry.Request) (chatmodels.ToolResult, error) {
			var args delegateArgs
			if err := json.Unmarshal(req.Args, &args); err != nil {
				return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "orchestrator: unmarshal delegate_to_team_member args", err)
			}
			dc := delegationContextFromContext(ctx)
			content, err := o.cfg.Delegation.DelegateToTeamMember(ctx, req.User, dc.currentAgentID, args.AgentID, args.TaskDescription, args.ContextMessages, dc.stack)
			if err != nil {
				if o.cfg.Audit != nil {
					o.cfg.Audit.LogDelegationDenied(ctx, userIDString(req.User), dc.currentAgentID, args.AgentID, err.Error())
				}
				return chatmodels.ToolResult{Status: chatmodels.ToolStatusError, Name: "delegate_to_team_member", Content: err.Error()}, nil
			}
			if o.cfg.Audit != nil {
				o.cfg.Audit.LogDelegationHandoff(ctx, userIDString(req.User), dc.currentAgentID, args.AgentID, len(dc.stack)+1)
			}
			return chatmodels.ToolResult{Status: chatmodels.ToolStatusSuccess, Name: "delegate_to_team_member", Content: content}, nil
		},
	})
	tools.Register(toolregistry.Descriptor{
		Name:        "delegate_to_team_member_by_role",
		Description: "Delegate a sub-task to one of your agents, chosen by role, as a bounded nested chat turn.",
		Handler: func(ctx context.Context, req toolregistry.Request) (chatmodels.ToolResult, error) {
			var args delegateByRoleArgs
			if err := json.Unmarshal(req.Args, &args); err != nil {
				return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "orchestrator: unmarshal delegate_to_team_member_by_role args", err)
			}
			dc := delegationContextFromContext(ctx)
			content, err := o.cfg.Delegation.DelegateToTeamMemberByRole(ctx, req.User, dc.currentAgentID, args.Role, args.TaskDescription, args.ContextMessages, dc.stack)
			if err != nil {
				if o.cfg.Audit != nil {
					o.cfg.Audit.LogDelegationDenied(ctx, userIDString(req.User), dc.currentAgentID, "role:"+args.Role, err.Error())
				}
				return chatmodels.ToolResult{Status: chatmodels.ToolStatusError, Name: "delegate_to_team_member_by_role", Content: err.Error()}, nil
			}
			if o.cfg.Audit != nil {
				o.cfg.Audit.LogDelegationHandoff(ctx, userIDString(req.User), dc.currentAgentID, "role:"+args.Role, len(dc.stack)+1)
			}
			return chatmodels.ToolResult{Status: chatmodels.ToolStatusSuccess, Name: "delegate_to_team_member_by_role", Content: content}, nil
		},
	})
}

// Invoke implements delegation.ChatInvoker by running the nested task as an
// ordinary, unpersisted chat turn against the target agent.
func (o *Orchestrator) Invoke(ctx context.Context, agent *chatmodels.Agent, user *chatmodels.User, task string, contextMessages []*chatmodels.Message, delegationStack []string) ([]*chatmodels.Message, error) {
	messages := make([]*chatmodels.Message, 0, len(contextMessages)+1)
	messages = append(messages, contextMessages...)
	messages = append(messages, &chatmodels.Message{Role: chatmodels.RoleUser, Content: task})

	resp, err := o.Run(ctx, ChatRequest{
		Model:              agent.Model,
		Messages:           messages,
		User:               user,
		CurrentAgentID:     agent.ID,
		DelegationStack:    delegationStack,
		MaxDelegationDepth: len(delegationStack),
	})
	if err != nil {
		return nil, err
	}
	return []*chatmodels.Message{{Role: chatmodels.RoleAssistant, Content: resp.Response.Content}}, nil
}

var _ delegation.ChatInvoker = (*Orchestrator)(nil)
