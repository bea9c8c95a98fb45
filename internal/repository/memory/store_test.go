package memory

import (
	"context"
	"testing"
	"time"

	"github.com/chatforge/core/internal/repository"
	"github.com/chatforge/core/pkg/chatmodels"
)

func TestCreateAndGetConversation(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := &chatmodels.Conversation{ID: "c1", OwnerUserID: 1, Title: "hi", CreatedAt: time.Now()}

	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.OwnerUserID != 1 {
		t.Errorf("OwnerUserID = %d, want 1", got.OwnerUserID)
	}
}

func TestCreateConversationDuplicateIsConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := &chatmodels.Conversation{ID: "c1", OwnerUserID: 1}
	s.CreateConversation(ctx, c)

	err := s.CreateConversation(ctx, c)
	if repository.KindOf(err) != repository.Conflict {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	s := New()
	_, err := s.GetConversation(context.Background(), "missing")
	if repository.KindOf(err) != repository.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestAppendMessageUpdatesConversationCount(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.CreateConversation(ctx, &chatmodels.Conversation{ID: "c1", OwnerUserID: 1})

	for i := 0; i < 3; i++ {
		if err := s.AppendMessage(ctx, &chatmodels.Message{ID: "m", ConversationID: "c1", Role: chatmodels.RoleUser}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	got, _ := s.GetConversation(ctx, "c1")
	if got.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", got.MessageCount)
	}
	msgs, err := s.ListMessages(ctx, "c1", 10, 0)
	if err != nil || len(msgs) != 3 {
		t.Fatalf("ListMessages = (%v, %v), want 3 messages", msgs, err)
	}
}

func TestAppendMessageRejectsUnknownConversation(t *testing.T) {
	s := New()
	err := s.AppendMessage(context.Background(), &chatmodels.Message{ID: "m", ConversationID: "does-not-exist"})
	if repository.KindOf(err) != repository.Validation {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestListConversationsOnlyReturnsOwnedRows(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.CreateConversation(ctx, &chatmodels.Conversation{ID: "a", OwnerUserID: 1, CreatedAt: time.Now()})
	s.CreateConversation(ctx, &chatmodels.Conversation{ID: "b", OwnerUserID: 2, CreatedAt: time.Now()})

	rows, total, err := s.ListConversations(ctx, 1, 10, 0)
	if err != nil || total != 1 || len(rows) != 1 || rows[0].ID != "a" {
		t.Fatalf("ListConversations = (%v, %d, %v), want 1 row owned by user 1", rows, total, err)
	}
}

func TestGetConversationByShareIDOnlyForPublicConversations(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.CreateConversation(ctx, &chatmodels.Conversation{ID: "a", OwnerUserID: 1, IsPublic: true, ShareID: "share-1"})

	got, err := s.GetConversationByShareID(ctx, "share-1")
	if err != nil || got.ID != "a" {
		t.Fatalf("GetConversationByShareID = (%v, %v), want conversation a", got, err)
	}
	if _, err := s.GetConversationByShareID(ctx, "missing"); repository.KindOf(err) != repository.NotFound {
		t.Fatalf("expected NotFound for unknown share id, got %v", err)
	}
}

func TestConsumeMagicLinkNonceIsSingleUse(t *testing.T) {
	s := New()
	ctx := context.Background()
	n := &repository.MagicLinkNonce{Token: "tok", UserID: 1, ExpiresAt: time.Now().Add(time.Hour)}
	s.CreateMagicLinkNonce(ctx, n)

	if _, err := s.ConsumeMagicLinkNonce(ctx, "tok"); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if _, err := s.ConsumeMagicLinkNonce(ctx, "tok"); repository.KindOf(err) != repository.Conflict {
		t.Fatalf("expected Conflict on second consume, got %v", err)
	}
}

func TestProviderKeyRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	k := &repository.ProviderKey{UserID: 7, Provider: "anthropic", Credentials: "sk-x"}
	if err := s.PutProviderKey(ctx, k); err != nil {
		t.Fatalf("PutProviderKey: %v", err)
	}
	got, err := s.GetProviderKey(ctx, 7, "anthropic")
	if err != nil || got.Credentials != "sk-x" {
		t.Fatalf("GetProviderKey = (%+v, %v)", got, err)
	}
	// A different user's key for the same provider must not collide.
	if _, err := s.GetProviderKey(ctx, 8, "anthropic"); repository.KindOf(err) != repository.NotFound {
		t.Fatalf("expected NotFound for a different user, got %v", err)
	}
}
