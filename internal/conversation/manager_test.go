package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/internal/repository/memory"
	"github.com/chatforge/core/pkg/chatmodels"
)

func newTestManager() *Manager {
	return New(Config{Store: memory.New(), StoreEnabled: true})
}

func TestAddCreatesConversationOnFirstUse(t *testing.T) {
	m := newTestManager()
	user := &chatmodels.User{ID: 1}

	conv, err := m.Add(context.Background(), user, "c1", &chatmodels.Message{Role: chatmodels.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.Title != "New Conversation" || conv.OwnerUserID != 1 {
		t.Errorf("got %+v", conv)
	}
	if conv.MessageCount != 1 || conv.LastMessageID == "" {
		t.Errorf("expected rollup fields updated, got %+v", conv)
	}
}

func TestAddRejectsNonOwner(t *testing.T) {
	m := newTestManager()
	owner := &chatmodels.User{ID: 1}
	other := &chatmodels.User{ID: 2}

	if _, err := m.Add(context.Background(), owner, "c1", &chatmodels.Message{Content: "hi"}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	_, err := m.Add(context.Background(), other, "c1", &chatmodels.Message{Content: "hijack"})
	if !corekind.Is(err, corekind.Forbidden) {
		t.Errorf("expected Forbidden, got %v", err)
	}
}

func TestAddRequiresUserPrincipal(t *testing.T) {
	m := newTestManager()
	_, err := m.Add(context.Background(), nil, "c1", &chatmodels.Message{Content: "hi"})
	if !corekind.Is(err, corekind.Forbidden) {
		t.Errorf("expected Forbidden for nil user, got %v", err)
	}
}

func TestGetReturnsInlineMessageWhenStoreDisabled(t *testing.T) {
	m := New(Config{Store: memory.New(), StoreEnabled: false})
	inline := &chatmodels.Message{ID: "m1", Content: "ephemeral"}

	got, err := m.Get(context.Background(), &chatmodels.User{ID: 1}, "unused", inline)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != inline {
		t.Errorf("expected inline message passthrough, got %+v", got)
	}
}

func TestGetRejectsNonOwner(t *testing.T) {
	m := newTestManager()
	owner := &chatmodels.User{ID: 1}
	other := &chatmodels.User{ID: 2}
	if _, err := m.Add(context.Background(), owner, "c1", &chatmodels.Message{Content: "hi"}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, err := m.Get(context.Background(), other, "c1", nil)
	if !corekind.Is(err, corekind.Forbidden) {
		t.Errorf("expected Forbidden, got %v", err)
	}
}

func TestUpdateConversationMapsArchivedField(t *testing.T) {
	m := newTestManager()
	user := &chatmodels.User{ID: 1}
	if _, err := m.Add(context.Background(), user, "c1", &chatmodels.Message{Content: "hi"}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	archived := true
	title := "Renamed"
	conv, err := m.UpdateConversation(context.Background(), user, "c1", &title, &archived)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !conv.IsArchived || conv.Title != "Renamed" {
		t.Errorf("got %+v", conv)
	}
}

type fakeSigner struct {
	token string
	err   error
}

func (f fakeSigner) Sign(conversationID string) (string, error) { return f.token, f.err }

func TestShareConversationMintsOnceAndPersists(t *testing.T) {
	m := newTestManager()
	user := &chatmodels.User{ID: 1}
	if _, err := m.Add(context.Background(), user, "c1", &chatmodels.Message{Content: "hi"}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	signer := fakeSigner{token: "share-token-1"}
	got, err := m.ShareConversation(context.Background(), user, "c1", signer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "share-token-1" {
		t.Errorf("got %q", got)
	}

	// Calling again must not re-mint.
	got2, err := m.ShareConversation(context.Background(), user, "c1", fakeSigner{token: "different-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got2 != "share-token-1" {
		t.Errorf("expected existing share id to persist, got %q", got2)
	}
}

type fakeLimiter struct {
	checkErr      error
	modelCalls    []string
	functionCalls []string
}

func (f *fakeLimiter) CheckLimits(ctx context.Context, user *chatmodels.User, model, toolType string) error {
	return f.checkErr
}
func (f *fakeLimiter) IncrementModelUsage(ctx context.Context, user *chatmodels.User, model string) error {
	f.modelCalls = append(f.modelCalls, model)
	return nil
}
func (f *fakeLimiter) IncrementFunctionUsage(ctx context.Context, user *chatmodels.User, toolType string, isPro bool, costPerCall float64) error {
	f.functionCalls = append(f.functionCalls, toolType)
	return nil
}

func TestCheckUsageLimitsNoOpsWithoutUser(t *testing.T) {
	limiter := &fakeLimiter{checkErr: errors.New("would fail")}
	m := New(Config{Store: memory.New(), Limiter: limiter})
	if err := m.CheckUsageLimits(context.Background(), nil, "gpt", "search"); err != nil {
		t.Errorf("expected no-op without a user, got %v", err)
	}
}

func TestCheckUsageLimitsSurfacesQuotaExceeded(t *testing.T) {
	limiter := &fakeLimiter{checkErr: errors.New("over quota")}
	m := New(Config{Store: memory.New(), Limiter: limiter})
	err := m.CheckUsageLimits(context.Background(), &chatmodels.User{ID: 1}, "gpt", "search")
	if !corekind.Is(err, corekind.QuotaExceeded) {
		t.Errorf("expected QuotaExceeded, got %v", err)
	}
}

func TestIncrementUsageMethodsNeverPanicWithoutLimiter(t *testing.T) {
	m := newTestManager()
	user := &chatmodels.User{ID: 1}
	m.IncrementUsageByModel(context.Background(), user, "gpt")
	m.IncrementFunctionUsage(context.Background(), user, "search", false, 0.01)
}

func TestIncrementUsageMethodsDelegateToLimiter(t *testing.T) {
	limiter := &fakeLimiter{}
	m := New(Config{Store: memory.New(), Limiter: limiter})
	user := &chatmodels.User{ID: 1}
	m.IncrementUsageByModel(context.Background(), user, "gpt-4")
	m.IncrementFunctionUsage(context.Background(), user, "search", true, 0.02)

	if len(limiter.modelCalls) != 1 || limiter.modelCalls[0] != "gpt-4" {
		t.Errorf("expected model usage recorded, got %+v", limiter.modelCalls)
	}
	if len(limiter.functionCalls) != 1 || limiter.functionCalls[0] != "search" {
		t.Errorf("expected function usage recorded, got %+v", limiter.functionCalls)
	}
}

func TestShareTokenSignerRoundTrip(t *testing.T) {
	signer := NewShareTokenSigner("test-secret")
	token, err := signer.Sign("conv-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotID, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != "conv-123" {
		t.Errorf("got %q", gotID)
	}
}

func TestShareTokenSignerRejectsWrongSecret(t *testing.T) {
	token, err := NewShareTokenSigner("secret-a").Sign("conv-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewShareTokenSigner("secret-b").Verify(token); !errors.Is(err, ErrInvalidShareToken) {
		t.Errorf("expected ErrInvalidShareToken, got %v", err)
	}
}
