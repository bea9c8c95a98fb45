package delegation

import (
	"context"
	"testing"
	"time"

	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/pkg/chatmodels"
)

type fakeDirectory struct {
	byID   map[string]*chatmodels.Agent
	byRole map[string]*chatmodels.Agent // key: ownerUserID.role
}

func (d *fakeDirectory) GetAgent(ctx context.Context, id string) (*chatmodels.Agent, error) {
	a, ok := d.byID[id]
	if !ok {
		return nil, corekind.New(corekind.NotFound, "no such agent")
	}
	return a, nil
}

func (d *fakeDirectory) GetAgentByRole(ctx context.Context, ownerUserID uint64, role string) (*chatmodels.Agent, error) {
	for _, a := range d.byID {
		if a.OwnerUserID == ownerUserID && a.Role == role {
			return a, nil
		}
	}
	return nil, corekind.New(corekind.NotFound, "no such agent")
}

type fakeInvoker struct {
	reply          string
	lastStack      []string
	lastContextLen int
	err            error
}

func (f *fakeInvoker) Invoke(ctx context.Context, agent *chatmodels.Agent, user *chatmodels.User, task string, contextMessages []*chatmodels.Message, delegationStack []string) ([]*chatmodels.Message, error) {
	f.lastStack = delegationStack
	f.lastContextLen = len(contextMessages)
	if f.err != nil {
		return nil, f.err
	}
	return []*chatmodels.Message{
		{Role: chatmodels.RoleAssistant, Content: f.reply},
	}, nil
}

func newFixture(reply string) (*Coordinator, *fakeDirectory, *fakeInvoker) {
	user := &chatmodels.User{ID: 1}
	dir := &fakeDirectory{byID: map[string]*chatmodels.Agent{
		"researcher": {ID: "researcher", OwnerUserID: user.ID, Name: "Researcher", Role: "researcher"},
		"reviewer":   {ID: "reviewer", OwnerUserID: user.ID, Name: "Reviewer", Role: "reviewer"},
		"other-user": {ID: "other-user", OwnerUserID: 2, Name: "Not yours"},
	}}
	inv := &fakeInvoker{reply: reply}
	c := New(Config{Agents: dir, Invoker: inv})
	return c, dir, inv
}

func TestDelegateToTeamMemberSucceeds(t *testing.T) {
	c, _, inv := newFixture("done")
	user := &chatmodels.User{ID: 1}

	out, err := c.DelegateToTeamMember(context.Background(), user, "lead", "researcher", "find X", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "done" {
		t.Fatalf("got %q", out)
	}
	if len(inv.lastStack) != 1 || inv.lastStack[0] != "researcher" {
		t.Fatalf("expected nested stack to contain target agent, got %v", inv.lastStack)
	}
}

func TestDelegateToTeamMemberByRoleSucceeds(t *testing.T) {
	c, _, _ := newFixture("reviewed")
	user := &chatmodels.User{ID: 1}

	out, err := c.DelegateToTeamMemberByRole(context.Background(), user, "lead", "reviewer", "review X", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "reviewed" {
		t.Fatalf("got %q", out)
	}
}

func TestDelegateRequiresCurrentAgent(t *testing.T) {
	c, _, _ := newFixture("done")
	user := &chatmodels.User{ID: 1}

	_, err := c.DelegateToTeamMember(context.Background(), user, "", "researcher", "find X", nil, nil)
	if !corekind.Is(err, corekind.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDelegateRefusesUnownedAgent(t *testing.T) {
	c, _, _ := newFixture("done")
	user := &chatmodels.User{ID: 1}

	_, err := c.DelegateToTeamMember(context.Background(), user, "lead", "other-user", "find X", nil, nil)
	if !corekind.Is(err, corekind.Forbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestDelegateRefusesCycle(t *testing.T) {
	c, _, _ := newFixture("done")
	user := &chatmodels.User{ID: 1}

	_, err := c.DelegateToTeamMember(context.Background(), user, "lead", "researcher", "find X", nil, []string{"reviewer", "researcher"})
	if !corekind.Is(err, corekind.Validation) {
		t.Fatalf("expected validation (cycle) error, got %v", err)
	}
}

func TestDelegateRefusesAtMaxDepth(t *testing.T) {
	c, _, _ := newFixture("done")
	user := &chatmodels.User{ID: 1}

	_, err := c.DelegateToTeamMember(context.Background(), user, "lead", "researcher", "find X", nil, []string{"a", "b", "c"})
	if !corekind.Is(err, corekind.Validation) {
		t.Fatalf("expected validation (depth) error, got %v", err)
	}
}

func TestDelegateRefusesOverRateLimit(t *testing.T) {
	dir := &fakeDirectory{byID: map[string]*chatmodels.Agent{
		"researcher": {ID: "researcher", OwnerUserID: 1, Name: "Researcher", Role: "researcher"},
	}}
	inv := &fakeInvoker{reply: "done"}
	c := New(Config{Agents: dir, Invoker: inv, MaxDelegationsPerWindow: 2})
	user := &chatmodels.User{ID: 1}

	for i := 0; i < 2; i++ {
		if _, err := c.DelegateToTeamMember(context.Background(), user, "lead", "researcher", "task", nil, nil); err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
	}
	_, err := c.DelegateToTeamMember(context.Background(), user, "lead", "researcher", "task", nil, nil)
	if !corekind.Is(err, corekind.QuotaExceeded) {
		t.Fatalf("expected quota_exceeded error, got %v", err)
	}
}

func TestDelegateRateLimitIsPerUser(t *testing.T) {
	dir := &fakeDirectory{byID: map[string]*chatmodels.Agent{
		"researcher-1": {ID: "researcher-1", OwnerUserID: 1, Name: "R1"},
		"researcher-2": {ID: "researcher-2", OwnerUserID: 2, Name: "R2"},
	}}
	inv := &fakeInvoker{reply: "done"}
	c := New(Config{Agents: dir, Invoker: inv, MaxDelegationsPerWindow: 1})

	if _, err := c.DelegateToTeamMember(context.Background(), &chatmodels.User{ID: 1}, "lead", "researcher-1", "task", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.DelegateToTeamMember(context.Background(), &chatmodels.User{ID: 2}, "lead", "researcher-2", "task", nil, nil); err != nil {
		t.Fatalf("user 2's delegation should not be limited by user 1's count: %v", err)
	}
}

func TestDelegateRateLimitWindowExpires(t *testing.T) {
	dir := &fakeDirectory{byID: map[string]*chatmodels.Agent{
		"researcher": {ID: "researcher", OwnerUserID: 1, Name: "Researcher"},
	}}
	inv := &fakeInvoker{reply: "done"}
	c := New(Config{Agents: dir, Invoker: inv, MaxDelegationsPerWindow: 1, RateLimitWindow: 10 * time.Millisecond})
	user := &chatmodels.User{ID: 1}

	if _, err := c.DelegateToTeamMember(context.Background(), user, "lead", "researcher", "task", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.DelegateToTeamMember(context.Background(), user, "lead", "researcher", "task", nil, nil); err != nil {
		t.Fatalf("expected the window to have reset, got %v", err)
	}
}

func TestDelegateConcatenatesOnlyAssistantMessages(t *testing.T) {
	dir := &fakeDirectory{byID: map[string]*chatmodels.Agent{
		"researcher": {ID: "researcher", OwnerUserID: 1, Name: "Researcher"},
	}}
	inv := &multiMessageInvoker{}
	c := New(Config{Agents: dir, Invoker: inv})
	user := &chatmodels.User{ID: 1}

	out, err := c.DelegateToTeamMember(context.Background(), user, "lead", "researcher", "task", []*chatmodels.Message{
		{Role: chatmodels.RoleUser, Content: "context line"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "first\nsecond" {
		t.Fatalf("got %q", out)
	}
	if inv.gotContextLen != 1 {
		t.Fatalf("expected context messages to be forwarded, got %d", inv.gotContextLen)
	}
}

type multiMessageInvoker struct {
	gotContextLen int
}

func (m *multiMessageInvoker) Invoke(ctx context.Context, agent *chatmodels.Agent, user *chatmodels.User, task string, contextMessages []*chatmodels.Message, delegationStack []string) ([]*chatmodels.Message, error) {
	m.gotContextLen = len(contextMessages)
	return []*chatmodels.Message{
		{Role: chatmodels.RoleUser, Content: "echoed task"},
		{Role: chatmodels.RoleAssistant, Content: "first"},
		{Role: chatmodels.RoleTool, Content: "tool noise"},
		{Role: chatmodels.RoleAssistant, Content: "second"},
	}, nil
}

func TestDelegateWrapsInvokerError(t *testing.T) {
	dir := &fakeDirectory{byID: map[string]*chatmodels.Agent{
		"researcher": {ID: "researcher", OwnerUserID: 1, Name: "Researcher"},
	}}
	inv := &fakeInvoker{err: corekind.New(corekind.UpstreamTransient, "boom")}
	c := New(Config{Agents: dir, Invoker: inv})
	user := &chatmodels.User{ID: 1}

	_, err := c.DelegateToTeamMember(context.Background(), user, "lead", "researcher", "task", nil, nil)
	if !corekind.Is(err, corekind.Invariant) {
		t.Fatalf("expected the nested failure to be wrapped as invariant, got %v", err)
	}
}

func TestDelegateByRoleRequiresUser(t *testing.T) {
	c, _, _ := newFixture("done")

	_, err := c.DelegateToTeamMemberByRole(context.Background(), nil, "lead", "researcher", "task", nil, nil)
	if !corekind.Is(err, corekind.Forbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}
