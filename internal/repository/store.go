// Package repository defines the core's persistence capability interface:
// one method per operation on users, sessions, user settings, provider
// keys, conversations, messages, embeddings, api keys, magic-link nonces,
// and passkeys. Every method is total — it either succeeds with the stated
// result or fails with a *repository.Error of kind NotFound, Conflict,
// Validation, or Backend.
package repository

import (
	"context"
	"time"

	"github.com/chatforge/core/pkg/chatmodels"
)

// UserSettings holds a user's per-provider enablement and feature toggles.
type UserSettings struct {
	UserID          uint64          `json:"user_id"`
	EnabledProviders map[string]bool `json:"enabled_providers"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ProviderKey is a user-supplied credential for a given provider.
type ProviderKey struct {
	UserID      uint64    `json:"user_id"`
	Provider    string    `json:"provider"`
	Credentials string    `json:"credentials"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is a server-side authentication session.
type Session struct {
	ID        string    `json:"id"`
	UserID    uint64    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// APIKey is a long-lived caller credential scoped to a user.
type APIKey struct {
	ID        string    `json:"id"`
	UserID    uint64    `json:"user_id"`
	HashedKey string    `json:"hashed_key"`
	CreatedAt time.Time `json:"created_at"`
	RevokedAt time.Time `json:"revoked_at,omitempty"`
}

// MagicLinkNonce is a single-use token for passwordless login.
type MagicLinkNonce struct {
	Token     string    `json:"token"`
	UserID    uint64    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// Passkey is a registered WebAuthn credential.
type Passkey struct {
	ID        string    `json:"id"`
	UserID    uint64    `json:"user_id"`
	PublicKey []byte    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

// EmbeddingRow is a persisted vector-store reference — the store records
// which namespace/doc a vector belongs to; the vector itself lives in the
// vector index (internal/rag), not here.
type EmbeddingRow struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	DocID     string    `json:"doc_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the repository's capability interface.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *chatmodels.User) error
	GetUser(ctx context.Context, id uint64) (*chatmodels.User, error)
	GetUserByEmail(ctx context.Context, email string) (*chatmodels.User, error)
	UpdateUser(ctx context.Context, u *chatmodels.User) error

	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// User settings
	GetUserSettings(ctx context.Context, userID uint64) (*UserSettings, error)
	PutUserSettings(ctx context.Context, s *UserSettings) error

	// Provider keys
	GetProviderKey(ctx context.Context, userID uint64, provider string) (*ProviderKey, error)
	PutProviderKey(ctx context.Context, k *ProviderKey) error
	DeleteProviderKey(ctx context.Context, userID uint64, provider string) error

	// Conversations
	CreateConversation(ctx context.Context, c *chatmodels.Conversation) error
	GetConversation(ctx context.Context, id string) (*chatmodels.Conversation, error)
	GetConversationByShareID(ctx context.Context, shareID string) (*chatmodels.Conversation, error)
	ListConversations(ctx context.Context, userID uint64, limit, offset int) ([]*chatmodels.Conversation, int, error)
	UpdateConversation(ctx context.Context, c *chatmodels.Conversation) error
	DeleteConversation(ctx context.Context, id string) error

	// Messages
	AppendMessage(ctx context.Context, m *chatmodels.Message) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*chatmodels.Message, error)

	// Embeddings (index metadata only)
	PutEmbeddingRow(ctx context.Context, e *EmbeddingRow) error
	DeleteEmbeddingRow(ctx context.Context, id string) error
	ListEmbeddingRows(ctx context.Context, namespace string) ([]*EmbeddingRow, error)

	// API keys
	CreateAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKeyByHash(ctx context.Context, hashedKey string) (*APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error

	// Magic-link nonces
	CreateMagicLinkNonce(ctx context.Context, n *MagicLinkNonce) error
	ConsumeMagicLinkNonce(ctx context.Context, token string) (*MagicLinkNonce, error)

	// Passkeys
	CreatePasskey(ctx context.Context, p *Passkey) error
	ListPasskeys(ctx context.Context, userID uint64) ([]*Passkey, error)

	Close() error
}
