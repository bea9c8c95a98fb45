// Package delegation implements bounded agent-to-agent delegation:
// delegate_to_team_member/…_by_role, with cycle detection, a fixed
// delegation depth, and a fixed-window per-user rate limit.
package delegation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/pkg/chatmodels"
)

const (
	defaultMaxDelegationDepth      = 3
	defaultRateLimitWindow         = 60 * time.Second
	defaultMaxDelegationsPerWindow = 10
)

// AgentDirectory resolves agents by id or by role, scoped to their owner.
type AgentDirectory interface {
	GetAgent(ctx context.Context, id string) (*chatmodels.Agent, error)
	GetAgentByRole(ctx context.Context, ownerUserID uint64, role string) (*chatmodels.Agent, error)
}

// ChatInvoker runs a nested chat turn against an agent, as an ordinary user
// turn, returning the resulting assistant messages. Implemented by the
// orchestrator; kept as an interface here to avoid a dependency cycle
// between the orchestrator (which dispatches delegate_to_team_member) and
// this package (which needs to invoke the orchestrator for the nested
// turn).
type ChatInvoker interface {
	Invoke(ctx context.Context, agent *chatmodels.Agent, user *chatmodels.User, task string, contextMessages []*chatmodels.Message, delegationStack []string) ([]*chatmodels.Message, error)
}

// Config configures a Coordinator.
type Config struct {
	Agents  AgentDirectory
	Invoker ChatInvoker

	// MaxDelegationDepth bounds delegationStack's size; defaults to 3.
	MaxDelegationDepth int
	// RateLimitWindow is the fixed window over which delegations are
	// counted; defaults to 60s.
	RateLimitWindow time.Duration
	// MaxDelegationsPerWindow is the per-user delegation count allowed in
	// RateLimitWindow; defaults to 10.
	MaxDelegationsPerWindow int
}

// Coordinator runs bounded agent-to-agent delegation: ownership checks,
// cycle and depth detection, and a per-user rate limit.
type Coordinator struct {
	agents  AgentDirectory
	invoker ChatInvoker

	maxDepth     int
	window       time.Duration
	maxPerWindow int

	mu      sync.Mutex
	history map[uint64][]time.Time
}

// New builds a Coordinator.
func New(cfg Config) *Coordinator {
	depth := cfg.MaxDelegationDepth
	if depth <= 0 {
		depth = defaultMaxDelegationDepth
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	maxPerWindow := cfg.MaxDelegationsPerWindow
	if maxPerWindow <= 0 {
		maxPerWindow = defaultMaxDelegationsPerWindow
	}
	return &Coordinator{
		agents:       cfg.Agents,
		invoker:      cfg.Invoker,
		maxDepth:     depth,
		window:       window,
		maxPerWindow: maxPerWindow,
		history:      make(map[uint64][]time.Time),
	}
}

// DelegateToTeamMember implements delegate_to_team_member(agent_id,
// task_description, context_messages?).
func (c *Coordinator) DelegateToTeamMember(ctx context.Context, user *chatmodels.User, currentAgentID, targetAgentID, taskDescription string, contextMessages []*chatmodels.Message, delegationStack []string) (string, error) {
	if currentAgentID == "" {
		return "", corekind.New(corekind.Validation, "delegation: no current agent in flight")
	}
	target, err := c.agents.GetAgent(ctx, targetAgentID)
	if err != nil {
		return "", corekind.Wrap(corekind.NotFound, "delegation: target agent not found", err)
	}
	return c.delegate(ctx, user, target, taskDescription, contextMessages, delegationStack)
}

// DelegateToTeamMemberByRole implements delegate_to_team_member_by_role.
func (c *Coordinator) DelegateToTeamMemberByRole(ctx context.Context, user *chatmodels.User, currentAgentID, role, taskDescription string, contextMessages []*chatmodels.Message, delegationStack []string) (string, error) {
	if currentAgentID == "" {
		return "", corekind.New(corekind.Validation, "delegation: no current agent in flight")
	}
	if user == nil {
		return "", corekind.New(corekind.Forbidden, "delegation: a user principal is required")
	}
	target, err := c.agents.GetAgentByRole(ctx, user.ID, role)
	if err != nil {
		return "", corekind.Wrap(corekind.NotFound, fmt.Sprintf("delegation: no agent with role %q", role), err)
	}
	return c.delegate(ctx, user, target, taskDescription, contextMessages, delegationStack)
}

func (c *Coordinator) delegate(ctx context.Context, user *chatmodels.User, target *chatmodels.Agent, taskDescription string, contextMessages []*chatmodels.Message, delegationStack []string) (string, error) {
	if user == nil {
		return "", corekind.New(corekind.Forbidden, "delegation: a user principal is required")
	}
	if !target.OwnedBy(user) {
		return "", corekind.New(corekind.Forbidden, "delegation: target agent is not owned by the caller")
	}
	if containsID(delegationStack, target.ID) {
		return "", corekind.New(corekind.Validation, fmt.Sprintf("delegation: cycle detected, agent %q is already in the delegation stack", target.ID))
	}
	if len(delegationStack) >= c.maxDepth {
		return "", corekind.New(corekind.Validation, fmt.Sprintf("delegation: max delegation depth %d reached", c.maxDepth))
	}
	if !c.allow(user.ID) {
		return "", corekind.New(corekind.QuotaExceeded, fmt.Sprintf("delegation: more than %d delegations in the last %s", c.maxPerWindow, c.window))
	}

	nestedStack := append(append([]string{}, delegationStack...), target.ID)
	messages, err := c.invoker.Invoke(ctx, target, user, taskDescription, contextMessages, nestedStack)
	if err != nil {
		return "", corekind.Wrap(corekind.Invariant, "delegation: nested chat turn failed", err)
	}

	var b strings.Builder
	for _, m := range messages {
		if m.Role != chatmodels.RoleAssistant {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return b.String(), nil
}

func containsID(stack []string, id string) bool {
	for _, s := range stack {
		if s == id {
			return true
		}
	}
	return false
}

// allow records one delegation for userID and reports whether it is within
// the fixed-window rate limit, evicting entries older than the window.
func (c *Coordinator) allow(userID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-c.window)
	kept := c.history[userID][:0]
	for _, t := range c.history[userID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= c.maxPerWindow {
		c.history[userID] = kept
		return false
	}
	c.history[userID] = append(kept, now)
	return true
}
