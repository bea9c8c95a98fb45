// Package memory is an in-memory repository.Store used by unit tests
// across the core and by any deployment without a configured database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chatforge/core/internal/repository"
	"github.com/chatforge/core/pkg/chatmodels"
)

// Store is a mutex-guarded, map-backed repository.Store.
type Store struct {
	mu sync.RWMutex

	users       map[uint64]*chatmodels.User
	usersByMail map[string]uint64
	sessions    map[string]*repository.Session
	settings    map[uint64]*repository.UserSettings
	providerKey map[string]*repository.ProviderKey // userID:provider
	convos      map[string]*chatmodels.Conversation
	convosByShare map[string]string
	messages    map[string][]*chatmodels.Message
	embeddings  map[string]*repository.EmbeddingRow
	apiKeys     map[string]*repository.APIKey // keyed by hashed key
	apiKeysByID map[string]*repository.APIKey
	nonces      map[string]*repository.MagicLinkNonce
	passkeys    map[uint64][]*repository.Passkey
}

// New builds an empty in-memory store.
func New() *Store {
	return &Store{
		users:         make(map[uint64]*chatmodels.User),
		usersByMail:   make(map[string]uint64),
		sessions:      make(map[string]*repository.Session),
		settings:      make(map[uint64]*repository.UserSettings),
		providerKey:   make(map[string]*repository.ProviderKey),
		convos:        make(map[string]*chatmodels.Conversation),
		convosByShare: make(map[string]string),
		messages:      make(map[string][]*chatmodels.Message),
		embeddings:    make(map[string]*repository.EmbeddingRow),
		apiKeys:       make(map[string]*repository.APIKey),
		apiKeysByID:   make(map[string]*repository.APIKey),
		nonces:        make(map[string]*repository.MagicLinkNonce),
		passkeys:      make(map[uint64][]*repository.Passkey),
	}
}

func (s *Store) Close() error { return nil }

func providerKeyKey(userID uint64, provider string) string {
	return fmt.Sprintf("%s:%d", provider, userID)
}

// --- Users ---

func (s *Store) CreateUser(_ context.Context, u *chatmodels.User) error {
	if u == nil || u.ID == 0 {
		return &repository.Error{Kind: repository.Validation, Message: "user id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return &repository.Error{Kind: repository.Conflict, Message: "user already exists"}
	}
	cp := *u
	s.users[u.ID] = &cp
	if u.Email != "" {
		s.usersByMail[u.Email] = u.ID
	}
	return nil
}

func (s *Store) GetUser(_ context.Context, id uint64) (*chatmodels.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "user not found"}
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*chatmodels.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByMail[email]
	if !ok {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "user not found"}
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) UpdateUser(_ context.Context, u *chatmodels.User) error {
	if u == nil || u.ID == 0 {
		return &repository.Error{Kind: repository.Validation, Message: "user id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return &repository.Error{Kind: repository.NotFound, Message: "user not found"}
	}
	cp := *u
	s.users[u.ID] = &cp
	if u.Email != "" {
		s.usersByMail[u.Email] = u.ID
	}
	return nil
}

// --- Sessions ---

func (s *Store) CreateSession(_ context.Context, sess *repository.Session) error {
	if sess == nil || sess.ID == "" {
		return &repository.Error{Kind: repository.Validation, Message: "session id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*repository.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "session not found"}
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// --- User settings ---

func (s *Store) GetUserSettings(_ context.Context, userID uint64) (*repository.UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.settings[userID]
	if !ok {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "settings not found"}
	}
	cp := *set
	return &cp, nil
}

func (s *Store) PutUserSettings(_ context.Context, set *repository.UserSettings) error {
	if set == nil || set.UserID == 0 {
		return &repository.Error{Kind: repository.Validation, Message: "user id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *set
	s.settings[set.UserID] = &cp
	return nil
}

// --- Provider keys ---

func (s *Store) GetProviderKey(_ context.Context, userID uint64, provider string) (*repository.ProviderKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.providerKey[providerKeyKey(userID, provider)]
	if !ok {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "provider key not found"}
	}
	cp := *k
	return &cp, nil
}

func (s *Store) PutProviderKey(_ context.Context, k *repository.ProviderKey) error {
	if k == nil || k.UserID == 0 || k.Provider == "" {
		return &repository.Error{Kind: repository.Validation, Message: "user id and provider are required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.providerKey[providerKeyKey(k.UserID, k.Provider)] = &cp
	return nil
}

func (s *Store) DeleteProviderKey(_ context.Context, userID uint64, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.providerKey, providerKeyKey(userID, provider))
	return nil
}

// --- Conversations ---

func (s *Store) CreateConversation(_ context.Context, c *chatmodels.Conversation) error {
	if c == nil || c.ID == "" {
		return &repository.Error{Kind: repository.Validation, Message: "conversation id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convos[c.ID]; ok {
		return &repository.Error{Kind: repository.Conflict, Message: "conversation already exists"}
	}
	cp := *c
	s.convos[c.ID] = &cp
	if c.IsPublic && c.ShareID != "" {
		s.convosByShare[c.ShareID] = c.ID
	}
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*chatmodels.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convos[id]
	if !ok {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "conversation not found"}
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetConversationByShareID(_ context.Context, shareID string) (*chatmodels.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.convosByShare[shareID]
	if !ok {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "shared conversation not found"}
	}
	cp := *s.convos[id]
	return &cp, nil
}

func (s *Store) ListConversations(_ context.Context, userID uint64, limit, offset int) ([]*chatmodels.Conversation, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var owned []*chatmodels.Conversation
	for _, c := range s.convos {
		if c.OwnerUserID == userID {
			cp := *c
			owned = append(owned, &cp)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })
	total := len(owned)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return owned[offset:end], total, nil
}

func (s *Store) UpdateConversation(_ context.Context, c *chatmodels.Conversation) error {
	if c == nil || c.ID == "" {
		return &repository.Error{Kind: repository.Validation, Message: "conversation id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convos[c.ID]; !ok {
		return &repository.Error{Kind: repository.NotFound, Message: "conversation not found"}
	}
	cp := *c
	s.convos[c.ID] = &cp
	if c.IsPublic && c.ShareID != "" {
		s.convosByShare[c.ShareID] = c.ID
	}
	return nil
}

func (s *Store) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convos[id]
	if !ok {
		return &repository.Error{Kind: repository.NotFound, Message: "conversation not found"}
	}
	delete(s.convos, id)
	delete(s.messages, id)
	if c.ShareID != "" {
		delete(s.convosByShare, c.ShareID)
	}
	return nil
}

// --- Messages ---

func (s *Store) AppendMessage(_ context.Context, m *chatmodels.Message) error {
	if m == nil || m.ConversationID == "" {
		return &repository.Error{Kind: repository.Validation, Message: "conversation id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	convo, ok := s.convos[m.ConversationID]
	if !ok {
		return &repository.Error{Kind: repository.Validation, Message: "conversation does not exist"}
	}
	cp := *m
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &cp)
	convo.MessageCount++
	convo.LastMessageID = m.ID
	return nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string, limit, offset int) ([]*chatmodels.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	out := make([]*chatmodels.Message, 0, end-offset)
	for _, m := range all[offset:end] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// --- Embeddings ---

func (s *Store) PutEmbeddingRow(_ context.Context, e *repository.EmbeddingRow) error {
	if e == nil || e.ID == "" {
		return &repository.Error{Kind: repository.Validation, Message: "embedding id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.embeddings[e.ID] = &cp
	return nil
}

func (s *Store) DeleteEmbeddingRow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.embeddings, id)
	return nil
}

func (s *Store) ListEmbeddingRows(_ context.Context, namespace string) ([]*repository.EmbeddingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*repository.EmbeddingRow
	for _, e := range s.embeddings {
		if e.Namespace == namespace {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- API keys ---

func (s *Store) CreateAPIKey(_ context.Context, k *repository.APIKey) error {
	if k == nil || k.HashedKey == "" {
		return &repository.Error{Kind: repository.Validation, Message: "hashed key is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[k.HashedKey]; ok {
		return &repository.Error{Kind: repository.Conflict, Message: "api key already exists"}
	}
	cp := *k
	s.apiKeys[k.HashedKey] = &cp
	s.apiKeysByID[k.ID] = &cp
	return nil
}

func (s *Store) GetAPIKeyByHash(_ context.Context, hashedKey string) (*repository.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.apiKeys[hashedKey]
	if !ok {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "api key not found"}
	}
	cp := *k
	return &cp, nil
}

func (s *Store) RevokeAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeysByID[id]
	if !ok {
		return &repository.Error{Kind: repository.NotFound, Message: "api key not found"}
	}
	k.RevokedAt = k.CreatedAt
	return nil
}

// --- Magic-link nonces ---

func (s *Store) CreateMagicLinkNonce(_ context.Context, n *repository.MagicLinkNonce) error {
	if n == nil || n.Token == "" {
		return &repository.Error{Kind: repository.Validation, Message: "token is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.nonces[n.Token] = &cp
	return nil
}

func (s *Store) ConsumeMagicLinkNonce(_ context.Context, token string) (*repository.MagicLinkNonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nonces[token]
	if !ok {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "nonce not found"}
	}
	if n.Used {
		return nil, &repository.Error{Kind: repository.Conflict, Message: "nonce already used"}
	}
	n.Used = true
	cp := *n
	return &cp, nil
}

// --- Passkeys ---

func (s *Store) CreatePasskey(_ context.Context, p *repository.Passkey) error {
	if p == nil || p.UserID == 0 {
		return &repository.Error{Kind: repository.Validation, Message: "user id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.passkeys[p.UserID] = append(s.passkeys[p.UserID], &cp)
	return nil
}

func (s *Store) ListPasskeys(_ context.Context, userID uint64) ([]*repository.Passkey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.passkeys[userID]
	out := make([]*repository.Passkey, len(src))
	for i, p := range src {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

var _ repository.Store = (*Store)(nil)
