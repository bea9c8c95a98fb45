// Package conversation implements the conversation manager: adding and
// reading messages, ownership-checked mutation, share-link minting, and
// best-effort usage accounting.
package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/internal/repository"
	"github.com/chatforge/core/pkg/chatmodels"
)

// UsageLimiter is the usage manager's view from the conversation manager:
// a pre-flight quota check plus best-effort post-hoc accounting.
type UsageLimiter interface {
	// CheckLimits returns a corekind.QuotaExceeded error when user has
	// exhausted their monthly allowance for model/toolType.
	CheckLimits(ctx context.Context, user *chatmodels.User, model, toolType string) error
	// IncrementModelUsage records one completion against model's usage.
	IncrementModelUsage(ctx context.Context, user *chatmodels.User, model string) error
	// IncrementFunctionUsage records one tool invocation's cost.
	IncrementFunctionUsage(ctx context.Context, user *chatmodels.User, toolType string, isPro bool, costPerCall float64) error
}

// Config configures a Manager.
type Config struct {
	Store repository.Store
	// Limiter is optional; a nil Limiter makes CheckUsageLimits a no-op and
	// the increment methods no-ops as well.
	Limiter UsageLimiter
	Logger  *slog.Logger
	// StoreEnabled controls Get's inline-message shortcut. When false, Get
	// returns a caller-supplied inline message without touching the store,
	// matching a stateless/ephemeral conversation mode.
	StoreEnabled bool
}

// Manager owns conversation CRUD, ownership checks, and usage-limit
// enforcement.
type Manager struct {
	store        repository.Store
	limiter      UsageLimiter
	logger       *slog.Logger
	storeEnabled bool
}

// New builds a Manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: cfg.Store, limiter: cfg.Limiter, logger: logger, storeEnabled: cfg.StoreEnabled}
}

// Add implements add(conversationId, message): creates the conversation on
// first use, else enforces ownership, then appends the message and bumps
// the conversation's rollup fields.
func (m *Manager) Add(ctx context.Context, user *chatmodels.User, conversationID string, message *chatmodels.Message) (*chatmodels.Conversation, error) {
	if user == nil {
		return nil, corekind.New(corekind.Forbidden, "conversation: a user principal is required")
	}

	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		if repository.KindOf(err) != repository.NotFound {
			return nil, corekind.Wrap(corekind.Invariant, "conversation: get conversation", err)
		}
		conv = &chatmodels.Conversation{
			ID:          conversationID,
			OwnerUserID: user.ID,
			Title:       "New Conversation",
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		if err := m.store.CreateConversation(ctx, conv); err != nil {
			return nil, corekind.Wrap(corekind.Invariant, "conversation: create conversation", err)
		}
	} else if !conv.OwnedBy(user) {
		return nil, corekind.New(corekind.Forbidden, "conversation: not the owner")
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	message.ConversationID = conv.ID
	now := time.Now()
	message.Timestamp = now
	message.CreatedAt = now
	message.UpdatedAt = now

	if err := m.store.AppendMessage(ctx, message); err != nil {
		return nil, corekind.Wrap(corekind.Invariant, "conversation: append message", err)
	}

	conv.LastMessageID = message.ID
	conv.MessageCount++
	conv.LastMessageAt = &now
	conv.UpdatedAt = now
	if err := m.store.UpdateConversation(ctx, conv); err != nil {
		return nil, corekind.Wrap(corekind.Invariant, "conversation: update rollup fields", err)
	}

	return conv, nil
}

// Get implements get(conversationId, optionalInlineMessage?).
func (m *Manager) Get(ctx context.Context, user *chatmodels.User, conversationID string, inlineMessage *chatmodels.Message) ([]*chatmodels.Message, error) {
	if !m.storeEnabled && inlineMessage != nil {
		return []*chatmodels.Message{inlineMessage}, nil
	}

	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		if repository.KindOf(err) == repository.NotFound {
			return nil, corekind.New(corekind.NotFound, "conversation: not found")
		}
		return nil, corekind.Wrap(corekind.Invariant, "conversation: get conversation", err)
	}
	if user == nil || !conv.OwnedBy(user) {
		return nil, corekind.New(corekind.Forbidden, "conversation: not the owner")
	}

	msgs, err := m.store.ListMessages(ctx, conversationID, 0, 0)
	if err != nil {
		return nil, corekind.Wrap(corekind.Invariant, "conversation: list messages", err)
	}
	return msgs, nil
}

// UpdateConversation implements updateConversation(id, {title?, archived?}).
func (m *Manager) UpdateConversation(ctx context.Context, user *chatmodels.User, id string, title *string, archived *bool) (*chatmodels.Conversation, error) {
	conv, err := m.requireOwner(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if title != nil {
		conv.Title = *title
	}
	if archived != nil {
		conv.IsArchived = *archived
	}
	conv.UpdatedAt = time.Now()
	if err := m.store.UpdateConversation(ctx, conv); err != nil {
		return nil, corekind.Wrap(corekind.Invariant, "conversation: update conversation", err)
	}
	return conv, nil
}

// shareSigner mints share ids; injected rather than embedded in Manager so
// the signing secret can be rotated independently of the manager's
// lifetime. *ShareTokenSigner satisfies it.
type shareSigner interface {
	Sign(conversationID string) (string, error)
}

// ShareConversation implements shareConversation(id): owner-only, mints a
// share id on first use and persists is_public.
func (m *Manager) ShareConversation(ctx context.Context, user *chatmodels.User, id string, signer shareSigner) (string, error) {
	conv, err := m.requireOwner(ctx, user, id)
	if err != nil {
		return "", err
	}
	if conv.ShareID != "" {
		return conv.ShareID, nil
	}
	shareID, err := signer.Sign(conv.ID)
	if err != nil {
		return "", corekind.Wrap(corekind.Invariant, "conversation: mint share id", err)
	}
	conv.ShareID = shareID
	conv.IsPublic = true
	conv.UpdatedAt = time.Now()
	if err := m.store.UpdateConversation(ctx, conv); err != nil {
		return "", corekind.Wrap(corekind.Invariant, "conversation: persist share id", err)
	}
	return shareID, nil
}

func (m *Manager) requireOwner(ctx context.Context, user *chatmodels.User, id string) (*chatmodels.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, id)
	if err != nil {
		if repository.KindOf(err) == repository.NotFound {
			return nil, corekind.New(corekind.NotFound, "conversation: not found")
		}
		return nil, corekind.Wrap(corekind.Invariant, "conversation: get conversation", err)
	}
	if user == nil || !conv.OwnedBy(user) {
		return nil, corekind.New(corekind.Forbidden, "conversation: not the owner")
	}
	return conv, nil
}

// CheckUsageLimits implements checkUsageLimits(toolType?): silently no-ops
// if no user or no limiter is configured.
func (m *Manager) CheckUsageLimits(ctx context.Context, user *chatmodels.User, model, toolType string) error {
	if user == nil || m.limiter == nil {
		return nil
	}
	if err := m.limiter.CheckLimits(ctx, user, model, toolType); err != nil {
		return corekind.Wrap(corekind.QuotaExceeded, "conversation: usage limit exceeded", err)
	}
	return nil
}

// IncrementUsageByModel implements incrementUsageByModel(model): best
// effort, failures are logged and never raised.
func (m *Manager) IncrementUsageByModel(ctx context.Context, user *chatmodels.User, model string) {
	if user == nil || m.limiter == nil {
		return
	}
	if err := m.limiter.IncrementModelUsage(ctx, user, model); err != nil {
		m.logger.Warn("conversation: failed to record model usage", "model", model, "error", err)
	}
}

// IncrementFunctionUsage implements incrementFunctionUsage(type, isPro,
// costPerCall): best effort, failures are logged and never raised.
func (m *Manager) IncrementFunctionUsage(ctx context.Context, user *chatmodels.User, toolType string, isPro bool, costPerCall float64) {
	if user == nil || m.limiter == nil {
		return
	}
	if err := m.limiter.IncrementFunctionUsage(ctx, user, toolType, isPro, costPerCall); err != nil {
		m.logger.Warn("conversation: failed to record function usage", "tool_type", toolType, "error", err)
	}
}
