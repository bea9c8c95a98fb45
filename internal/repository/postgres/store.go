// Package postgres is a repository.Store backed by PostgreSQL (or any
// wire-compatible database, e.g. CockroachDB) via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/chatforge/core/internal/repository"
	"github.com/chatforge/core/pkg/chatmodels"
)

// Store is a database/sql-backed repository.Store.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and verifies the connection with a ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func isDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate")
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, u *chatmodels.User) error {
	if u == nil || u.ID == 0 {
		return &repository.Error{Kind: repository.Validation, Message: "user id is required"}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, plan, github_username) VALUES ($1,$2,$3,$4)`,
		u.ID, u.Email, u.Plan, u.GithubUsername)
	if isDuplicate(err) {
		return &repository.Error{Kind: repository.Conflict, Message: "user already exists"}
	}
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "create user", Cause: err}
	}
	return nil
}

func (s *Store) scanUser(row *sql.Row) (*chatmodels.User, error) {
	var u chatmodels.User
	if err := row.Scan(&u.ID, &u.Email, &u.Plan, &u.GithubUsername); err != nil {
		if err == sql.ErrNoRows {
			return nil, &repository.Error{Kind: repository.NotFound, Message: "user not found"}
		}
		return nil, &repository.Error{Kind: repository.Backend, Message: "scan user", Cause: err}
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id uint64) (*chatmodels.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, plan, github_username FROM users WHERE id=$1`, id)
	return s.scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*chatmodels.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, plan, github_username FROM users WHERE email=$1`, email)
	return s.scanUser(row)
}

func (s *Store) UpdateUser(ctx context.Context, u *chatmodels.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email=$2, plan=$3, github_username=$4 WHERE id=$1`,
		u.ID, u.Email, u.Plan, u.GithubUsername)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "update user", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &repository.Error{Kind: repository.NotFound, Message: "user not found"}
	}
	return nil
}

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess *repository.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES ($1,$2,$3,$4)`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "create session", Cause: err}
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*repository.Session, error) {
	var sess repository.Session
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, created_at, expires_at FROM sessions WHERE id=$1`, id).
		Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "session not found"}
	}
	if err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "get session", Cause: err}
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, id)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "delete session", Cause: err}
	}
	return nil
}

// --- User settings ---

func (s *Store) GetUserSettings(ctx context.Context, userID uint64) (*repository.UserSettings, error) {
	var raw []byte
	var set repository.UserSettings
	err := s.db.QueryRowContext(ctx, `SELECT user_id, enabled_providers, updated_at FROM user_settings WHERE user_id=$1`, userID).
		Scan(&set.UserID, &raw, &set.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "settings not found"}
	}
	if err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "get user settings", Cause: err}
	}
	if err := json.Unmarshal(raw, &set.EnabledProviders); err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "decode user settings", Cause: err}
	}
	return &set, nil
}

func (s *Store) PutUserSettings(ctx context.Context, set *repository.UserSettings) error {
	raw, err := json.Marshal(set.EnabledProviders)
	if err != nil {
		return &repository.Error{Kind: repository.Validation, Message: "encode enabled providers", Cause: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, enabled_providers, updated_at) VALUES ($1,$2,$3)
		 ON CONFLICT (user_id) DO UPDATE SET enabled_providers=$2, updated_at=$3`,
		set.UserID, raw, set.UpdatedAt)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "put user settings", Cause: err}
	}
	return nil
}

// --- Provider keys ---

func (s *Store) GetProviderKey(ctx context.Context, userID uint64, provider string) (*repository.ProviderKey, error) {
	var k repository.ProviderKey
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, provider, credentials, created_at FROM provider_keys WHERE user_id=$1 AND provider=$2`,
		userID, provider).Scan(&k.UserID, &k.Provider, &k.Credentials, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "provider key not found"}
	}
	if err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "get provider key", Cause: err}
	}
	return &k, nil
}

func (s *Store) PutProviderKey(ctx context.Context, k *repository.ProviderKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_keys (user_id, provider, credentials, created_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id, provider) DO UPDATE SET credentials=$3`,
		k.UserID, k.Provider, k.Credentials, k.CreatedAt)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "put provider key", Cause: err}
	}
	return nil
}

func (s *Store) DeleteProviderKey(ctx context.Context, userID uint64, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM provider_keys WHERE user_id=$1 AND provider=$2`, userID, provider)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "delete provider key", Cause: err}
	}
	return nil
}

// --- Conversations ---

func (s *Store) CreateConversation(ctx context.Context, c *chatmodels.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_user_id, title, is_archived, is_public, share_id,
		 parent_conversation_id, parent_message_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.OwnerUserID, c.Title, c.IsArchived, c.IsPublic, nullIfEmpty(c.ShareID),
		nullIfEmpty(c.ParentConversationID), nullIfEmpty(c.ParentMessageID), c.CreatedAt, c.UpdatedAt)
	if isDuplicate(err) {
		return &repository.Error{Kind: repository.Conflict, Message: "conversation already exists"}
	}
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "create conversation", Cause: err}
	}
	return nil
}

func (s *Store) scanConversation(row *sql.Row) (*chatmodels.Conversation, error) {
	var c chatmodels.Conversation
	var shareID, lastMsgID, parentConvID, parentMsgID sql.NullString
	err := row.Scan(&c.ID, &c.OwnerUserID, &c.Title, &c.IsArchived, &c.IsPublic, &shareID,
		&lastMsgID, &c.MessageCount, &parentConvID, &parentMsgID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "conversation not found"}
	}
	if err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "scan conversation", Cause: err}
	}
	c.ShareID, c.LastMessageID, c.ParentConversationID, c.ParentMessageID =
		shareID.String, lastMsgID.String, parentConvID.String, parentMsgID.String
	return &c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*chatmodels.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_user_id, title, is_archived, is_public, share_id, last_message_id,
		 message_count, parent_conversation_id, parent_message_id, created_at, updated_at
		 FROM conversations WHERE id=$1`, id)
	return s.scanConversation(row)
}

func (s *Store) GetConversationByShareID(ctx context.Context, shareID string) (*chatmodels.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_user_id, title, is_archived, is_public, share_id, last_message_id,
		 message_count, parent_conversation_id, parent_message_id, created_at, updated_at
		 FROM conversations WHERE share_id=$1 AND is_public`, shareID)
	return s.scanConversation(row)
}

func (s *Store) ListConversations(ctx context.Context, userID uint64, limit, offset int) ([]*chatmodels.Conversation, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM conversations WHERE owner_user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, &repository.Error{Kind: repository.Backend, Message: "count conversations", Cause: err}
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_user_id, title, is_archived, is_public, share_id, last_message_id,
		 message_count, parent_conversation_id, parent_message_id, created_at, updated_at
		 FROM conversations WHERE owner_user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, total, &repository.Error{Kind: repository.Backend, Message: "list conversations", Cause: err}
	}
	defer rows.Close()

	var out []*chatmodels.Conversation
	for rows.Next() {
		var c chatmodels.Conversation
		var shareID, lastMsgID, parentConvID, parentMsgID sql.NullString
		if err := rows.Scan(&c.ID, &c.OwnerUserID, &c.Title, &c.IsArchived, &c.IsPublic, &shareID,
			&lastMsgID, &c.MessageCount, &parentConvID, &parentMsgID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, total, &repository.Error{Kind: repository.Backend, Message: "scan conversation row", Cause: err}
		}
		c.ShareID, c.LastMessageID, c.ParentConversationID, c.ParentMessageID =
			shareID.String, lastMsgID.String, parentConvID.String, parentMsgID.String
		out = append(out, &c)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateConversation(ctx context.Context, c *chatmodels.Conversation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title=$2, is_archived=$3, is_public=$4, share_id=$5, updated_at=$6
		 WHERE id=$1`,
		c.ID, c.Title, c.IsArchived, c.IsPublic, nullIfEmpty(c.ShareID), c.UpdatedAt)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "update conversation", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &repository.Error{Kind: repository.NotFound, Message: "conversation not found"}
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "delete conversation", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &repository.Error{Kind: repository.NotFound, Message: "conversation not found"}
	}
	return nil
}

// --- Messages ---

func (s *Store) AppendMessage(ctx context.Context, m *chatmodels.Message) error {
	toolCalls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return &repository.Error{Kind: repository.Validation, Message: "encode tool calls", Cause: err}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "begin tx", Cause: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, parent_message_id, role, content, tool_calls, model, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.ConversationID, nullIfEmpty(m.ParentMessageID), m.Role, m.Content, toolCalls, m.Model, m.CreatedAt, m.UpdatedAt); err != nil {
		if isDuplicate(err) {
			return &repository.Error{Kind: repository.Conflict, Message: "message already exists"}
		}
		return &repository.Error{Kind: repository.Backend, Message: "insert message", Cause: err}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET message_count = message_count + 1, last_message_id = $2 WHERE id = $1`,
		m.ConversationID, m.ID)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "update conversation counters", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &repository.Error{Kind: repository.Validation, Message: "conversation does not exist"}
	}
	if err := tx.Commit(); err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "commit tx", Cause: err}
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*chatmodels.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, parent_message_id, role, content, tool_calls, model, created_at, updated_at
		 FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		conversationID, limit, offset)
	if err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "list messages", Cause: err}
	}
	defer rows.Close()

	var out []*chatmodels.Message
	for rows.Next() {
		var m chatmodels.Message
		var parentID sql.NullString
		var toolCalls []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &parentID, &m.Role, &m.Content, &toolCalls, &m.Model, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, &repository.Error{Kind: repository.Backend, Message: "scan message row", Cause: err}
		}
		m.ParentMessageID = parentID.String
		if len(toolCalls) > 0 {
			_ = json.Unmarshal(toolCalls, &m.ToolCalls)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Embeddings ---

func (s *Store) PutEmbeddingRow(ctx context.Context, e *repository.EmbeddingRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embedding_rows (id, namespace, doc_id, created_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (id) DO UPDATE SET namespace=$2, doc_id=$3`,
		e.ID, e.Namespace, e.DocID, e.CreatedAt)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "put embedding row", Cause: err}
	}
	return nil
}

func (s *Store) DeleteEmbeddingRow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embedding_rows WHERE id=$1`, id)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "delete embedding row", Cause: err}
	}
	return nil
}

func (s *Store) ListEmbeddingRows(ctx context.Context, namespace string) ([]*repository.EmbeddingRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, namespace, doc_id, created_at FROM embedding_rows WHERE namespace=$1`, namespace)
	if err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "list embedding rows", Cause: err}
	}
	defer rows.Close()
	var out []*repository.EmbeddingRow
	for rows.Next() {
		var e repository.EmbeddingRow
		if err := rows.Scan(&e.ID, &e.Namespace, &e.DocID, &e.CreatedAt); err != nil {
			return nil, &repository.Error{Kind: repository.Backend, Message: "scan embedding row", Cause: err}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- API keys ---

func (s *Store) CreateAPIKey(ctx context.Context, k *repository.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, hashed_key, created_at) VALUES ($1,$2,$3,$4)`,
		k.ID, k.UserID, k.HashedKey, k.CreatedAt)
	if isDuplicate(err) {
		return &repository.Error{Kind: repository.Conflict, Message: "api key already exists"}
	}
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "create api key", Cause: err}
	}
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hashedKey string) (*repository.APIKey, error) {
	var k repository.APIKey
	var revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, hashed_key, created_at, revoked_at FROM api_keys WHERE hashed_key=$1`, hashedKey).
		Scan(&k.ID, &k.UserID, &k.HashedKey, &k.CreatedAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "api key not found"}
	}
	if err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "get api key", Cause: err}
	}
	k.RevokedAt = revokedAt.Time
	return &k, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at=now() WHERE id=$1`, id)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "revoke api key", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &repository.Error{Kind: repository.NotFound, Message: "api key not found"}
	}
	return nil
}

// --- Magic-link nonces ---

func (s *Store) CreateMagicLinkNonce(ctx context.Context, n *repository.MagicLinkNonce) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO magic_link_nonces (token, user_id, expires_at, used) VALUES ($1,$2,$3,false)`,
		n.Token, n.UserID, n.ExpiresAt)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "create magic link nonce", Cause: err}
	}
	return nil
}

func (s *Store) ConsumeMagicLinkNonce(ctx context.Context, token string) (*repository.MagicLinkNonce, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "begin tx", Cause: err}
	}
	defer tx.Rollback()

	var n repository.MagicLinkNonce
	err = tx.QueryRowContext(ctx, `SELECT token, user_id, expires_at, used FROM magic_link_nonces WHERE token=$1 FOR UPDATE`, token).
		Scan(&n.Token, &n.UserID, &n.ExpiresAt, &n.Used)
	if err == sql.ErrNoRows {
		return nil, &repository.Error{Kind: repository.NotFound, Message: "nonce not found"}
	}
	if err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "get nonce", Cause: err}
	}
	if n.Used {
		return nil, &repository.Error{Kind: repository.Conflict, Message: "nonce already used"}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE magic_link_nonces SET used=true WHERE token=$1`, token); err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "mark nonce used", Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "commit tx", Cause: err}
	}
	n.Used = true
	return &n, nil
}

// --- Passkeys ---

func (s *Store) CreatePasskey(ctx context.Context, p *repository.Passkey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO passkeys (id, user_id, public_key, created_at) VALUES ($1,$2,$3,$4)`,
		p.ID, p.UserID, p.PublicKey, p.CreatedAt)
	if err != nil {
		return &repository.Error{Kind: repository.Backend, Message: "create passkey", Cause: err}
	}
	return nil
}

func (s *Store) ListPasskeys(ctx context.Context, userID uint64) ([]*repository.Passkey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, public_key, created_at FROM passkeys WHERE user_id=$1`, userID)
	if err != nil {
		return nil, &repository.Error{Kind: repository.Backend, Message: "list passkeys", Cause: err}
	}
	defer rows.Close()
	var out []*repository.Passkey
	for rows.Next() {
		var p repository.Passkey
		if err := rows.Scan(&p.ID, &p.UserID, &p.PublicKey, &p.CreatedAt); err != nil {
			return nil, &repository.Error{Kind: repository.Backend, Message: "scan passkey", Cause: err}
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ repository.Store = (*Store)(nil)
