// Package sqlite is a repository.Store backed by an embedded SQLite
// database via modernc.org/sqlite (cgo-free), used for single-node
// deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chatforge/core/internal/repository"
	"github.com/chatforge/core/pkg/chatmodels"
)

// Store is a database/sql-backed repository.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, repository.Wrap(repository.Backend, "open database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers per connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, repository.Wrap(repository.Backend, "ping database", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func isDuplicate(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "duplicate"))
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, u *chatmodels.User) error {
	if u == nil || u.ID == 0 {
		return repository.New(repository.Validation, "user id is required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, email, plan, github_username) VALUES (?,?,?,?)`,
		u.ID, u.Email, u.Plan, u.GithubUsername)
	if isDuplicate(err) {
		return repository.New(repository.Conflict, "user already exists")
	}
	if err != nil {
		return repository.Wrap(repository.Backend, "create user", err)
	}
	return nil
}

func (s *Store) scanUser(row *sql.Row) (*chatmodels.User, error) {
	var u chatmodels.User
	if err := row.Scan(&u.ID, &u.Email, &u.Plan, &u.GithubUsername); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.New(repository.NotFound, "user not found")
		}
		return nil, repository.Wrap(repository.Backend, "scan user", err)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id uint64) (*chatmodels.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT id, email, plan, github_username FROM users WHERE id=?`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*chatmodels.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT id, email, plan, github_username FROM users WHERE email=?`, email))
}

func (s *Store) UpdateUser(ctx context.Context, u *chatmodels.User) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET email=?, plan=?, github_username=? WHERE id=?`,
		u.Email, u.Plan, u.GithubUsername, u.ID)
	if err != nil {
		return repository.Wrap(repository.Backend, "update user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.New(repository.NotFound, "user not found")
	}
	return nil
}

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess *repository.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES (?,?,?,?)`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return repository.Wrap(repository.Backend, "create session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*repository.Session, error) {
	var sess repository.Session
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, created_at, expires_at FROM sessions WHERE id=?`, id).
		Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, repository.New(repository.NotFound, "session not found")
	}
	if err != nil {
		return nil, repository.Wrap(repository.Backend, "get session", err)
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return repository.Wrap(repository.Backend, "delete session", err)
	}
	return nil
}

// --- User settings ---

func (s *Store) GetUserSettings(ctx context.Context, userID uint64) (*repository.UserSettings, error) {
	var raw []byte
	var set repository.UserSettings
	err := s.db.QueryRowContext(ctx, `SELECT user_id, enabled_providers, updated_at FROM user_settings WHERE user_id=?`, userID).
		Scan(&set.UserID, &raw, &set.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.New(repository.NotFound, "settings not found")
	}
	if err != nil {
		return nil, repository.Wrap(repository.Backend, "get user settings", err)
	}
	if err := json.Unmarshal(raw, &set.EnabledProviders); err != nil {
		return nil, repository.Wrap(repository.Backend, "decode user settings", err)
	}
	return &set, nil
}

func (s *Store) PutUserSettings(ctx context.Context, set *repository.UserSettings) error {
	raw, err := json.Marshal(set.EnabledProviders)
	if err != nil {
		return repository.Wrap(repository.Validation, "encode enabled providers", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, enabled_providers, updated_at) VALUES (?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET enabled_providers=excluded.enabled_providers, updated_at=excluded.updated_at`,
		set.UserID, raw, set.UpdatedAt)
	if err != nil {
		return repository.Wrap(repository.Backend, "put user settings", err)
	}
	return nil
}

// --- Provider keys ---

func (s *Store) GetProviderKey(ctx context.Context, userID uint64, provider string) (*repository.ProviderKey, error) {
	var k repository.ProviderKey
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, provider, credentials, created_at FROM provider_keys WHERE user_id=? AND provider=?`,
		userID, provider).Scan(&k.UserID, &k.Provider, &k.Credentials, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.New(repository.NotFound, "provider key not found")
	}
	if err != nil {
		return nil, repository.Wrap(repository.Backend, "get provider key", err)
	}
	return &k, nil
}

func (s *Store) PutProviderKey(ctx context.Context, k *repository.ProviderKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_keys (user_id, provider, credentials, created_at) VALUES (?,?,?,?)
		 ON CONFLICT(user_id, provider) DO UPDATE SET credentials=excluded.credentials`,
		k.UserID, k.Provider, k.Credentials, k.CreatedAt)
	if err != nil {
		return repository.Wrap(repository.Backend, "put provider key", err)
	}
	return nil
}

func (s *Store) DeleteProviderKey(ctx context.Context, userID uint64, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM provider_keys WHERE user_id=? AND provider=?`, userID, provider)
	if err != nil {
		return repository.Wrap(repository.Backend, "delete provider key", err)
	}
	return nil
}

// --- Conversations ---

func (s *Store) CreateConversation(ctx context.Context, c *chatmodels.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_user_id, title, is_archived, is_public, share_id,
		 parent_conversation_id, parent_message_id, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.OwnerUserID, c.Title, c.IsArchived, c.IsPublic, nullIfEmpty(c.ShareID),
		nullIfEmpty(c.ParentConversationID), nullIfEmpty(c.ParentMessageID), c.CreatedAt, c.UpdatedAt)
	if isDuplicate(err) {
		return repository.New(repository.Conflict, "conversation already exists")
	}
	if err != nil {
		return repository.Wrap(repository.Backend, "create conversation", err)
	}
	return nil
}

func (s *Store) scanConversation(row *sql.Row) (*chatmodels.Conversation, error) {
	var c chatmodels.Conversation
	var shareID, lastMsgID, parentConvID, parentMsgID sql.NullString
	err := row.Scan(&c.ID, &c.OwnerUserID, &c.Title, &c.IsArchived, &c.IsPublic, &shareID,
		&lastMsgID, &c.MessageCount, &parentConvID, &parentMsgID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.New(repository.NotFound, "conversation not found")
	}
	if err != nil {
		return nil, repository.Wrap(repository.Backend, "scan conversation", err)
	}
	c.ShareID, c.LastMessageID, c.ParentConversationID, c.ParentMessageID =
		shareID.String, lastMsgID.String, parentConvID.String, parentMsgID.String
	return &c, nil
}

const conversationColumns = `id, owner_user_id, title, is_archived, is_public, share_id, last_message_id,
	message_count, parent_conversation_id, parent_message_id, created_at, updated_at`

func (s *Store) GetConversation(ctx context.Context, id string) (*chatmodels.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=?`, id)
	return s.scanConversation(row)
}

func (s *Store) GetConversationByShareID(ctx context.Context, shareID string) (*chatmodels.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE share_id=? AND is_public`, shareID)
	return s.scanConversation(row)
}

func (s *Store) ListConversations(ctx context.Context, userID uint64, limit, offset int) ([]*chatmodels.Conversation, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM conversations WHERE owner_user_id=?`, userID).Scan(&total); err != nil {
		return nil, 0, repository.Wrap(repository.Backend, "count conversations", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE owner_user_id=? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, total, repository.Wrap(repository.Backend, "list conversations", err)
	}
	defer rows.Close()

	var out []*chatmodels.Conversation
	for rows.Next() {
		var c chatmodels.Conversation
		var shareID, lastMsgID, parentConvID, parentMsgID sql.NullString
		if err := rows.Scan(&c.ID, &c.OwnerUserID, &c.Title, &c.IsArchived, &c.IsPublic, &shareID,
			&lastMsgID, &c.MessageCount, &parentConvID, &parentMsgID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, total, repository.Wrap(repository.Backend, "scan conversation row", err)
		}
		c.ShareID, c.LastMessageID, c.ParentConversationID, c.ParentMessageID =
			shareID.String, lastMsgID.String, parentConvID.String, parentMsgID.String
		out = append(out, &c)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateConversation(ctx context.Context, c *chatmodels.Conversation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title=?, is_archived=?, is_public=?, share_id=?, updated_at=? WHERE id=?`,
		c.Title, c.IsArchived, c.IsPublic, nullIfEmpty(c.ShareID), c.UpdatedAt, c.ID)
	if err != nil {
		return repository.Wrap(repository.Backend, "update conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.New(repository.NotFound, "conversation not found")
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=?`, id)
	if err != nil {
		return repository.Wrap(repository.Backend, "delete conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.New(repository.NotFound, "conversation not found")
	}
	return nil
}

// --- Messages ---

func (s *Store) AppendMessage(ctx context.Context, m *chatmodels.Message) error {
	toolCalls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return repository.Wrap(repository.Validation, "encode tool calls", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.Wrap(repository.Backend, "begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, parent_message_id, role, content, tool_calls, model, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ConversationID, nullIfEmpty(m.ParentMessageID), m.Role, m.Content, toolCalls, m.Model, m.CreatedAt, m.UpdatedAt); err != nil {
		if isDuplicate(err) {
			return repository.New(repository.Conflict, "message already exists")
		}
		return repository.Wrap(repository.Backend, "insert message", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET message_count = message_count + 1, last_message_id = ? WHERE id = ?`,
		m.ID, m.ConversationID)
	if err != nil {
		return repository.Wrap(repository.Backend, "update conversation counters", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.New(repository.Validation, "conversation does not exist")
	}
	if err := tx.Commit(); err != nil {
		return repository.Wrap(repository.Backend, "commit tx", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*chatmodels.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, parent_message_id, role, content, tool_calls, model, created_at, updated_at
		 FROM messages WHERE conversation_id=? ORDER BY created_at ASC LIMIT ? OFFSET ?`,
		conversationID, limit, offset)
	if err != nil {
		return nil, repository.Wrap(repository.Backend, "list messages", err)
	}
	defer rows.Close()

	var out []*chatmodels.Message
	for rows.Next() {
		var m chatmodels.Message
		var parentID sql.NullString
		var toolCalls []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &parentID, &m.Role, &m.Content, &toolCalls, &m.Model, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, repository.Wrap(repository.Backend, "scan message row", err)
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
		`INSERT INTO embedding_rows (id, namespace, doc_id, created_at) VALUES (?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET namespace=excluded.namespace, doc_id=excluded.doc_id`,
		e.ID, e.Namespace, e.DocID, e.CreatedAt)
	if err != nil {
		return repository.Wrap(repository.Backend, "put embedding row", err)
	}
	return nil
}

func (s *Store) DeleteEmbeddingRow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embedding_rows WHERE id=?`, id)
	if err != nil {
		return repository.Wrap(repository.Backend, "delete embedding row", err)
	}
	return nil
}

func (s *Store) ListEmbeddingRows(ctx context.Context, namespace string) ([]*repository.EmbeddingRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, namespace, doc_id, created_at FROM embedding_rows WHERE namespace=?`, namespace)
	if err != nil {
		return nil, repository.Wrap(repository.Backend, "list embedding rows", err)
	}
	defer rows.Close()
	var out []*repository.EmbeddingRow
	for rows.Next() {
		var e repository.EmbeddingRow
		if err := rows.Scan(&e.ID, &e.Namespace, &e.DocID, &e.CreatedAt); err != nil {
			return nil, repository.Wrap(repository.Backend, "scan embedding row", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- API keys ---

func (s *Store) CreateAPIKey(ctx context.Context, k *repository.APIKey) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO api_keys (id, user_id, hashed_key, created_at) VALUES (?,?,?,?)`,
		k.ID, k.UserID, k.HashedKey, k.CreatedAt)
	if isDuplicate(err) {
		return repository.New(repository.Conflict, "api key already exists")
	}
	if err != nil {
		return repository.Wrap(repository.Backend, "create api key", err)
	}
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hashedKey string) (*repository.APIKey, error) {
	var k repository.APIKey
	var revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, hashed_key, created_at, revoked_at FROM api_keys WHERE hashed_key=?`, hashedKey).
		Scan(&k.ID, &k.UserID, &k.HashedKey, &k.CreatedAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, repository.New(repository.NotFound, "api key not found")
	}
	if err != nil {
		return nil, repository.Wrap(repository.Backend, "get api key", err)
	}
	k.RevokedAt = revokedAt.Time
	return &k, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at=? WHERE id=?`, time.Now().UTC(), id)
	if err != nil {
		return repository.Wrap(repository.Backend, "revoke api key", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.New(repository.NotFound, "api key not found")
	}
	return nil
}

// --- Magic-link nonces ---

func (s *Store) CreateMagicLinkNonce(ctx context.Context, n *repository.MagicLinkNonce) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO magic_link_nonces (token, user_id, expires_at, used) VALUES (?,?,?,0)`,
		n.Token, n.UserID, n.ExpiresAt)
	if err != nil {
		return repository.Wrap(repository.Backend, "create magic link nonce", err)
	}
	return nil
}

func (s *Store) ConsumeMagicLinkNonce(ctx context.Context, token string) (*repository.MagicLinkNonce, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, repository.Wrap(repository.Backend, "begin tx", err)
	}
	defer tx.Rollback()

	var n repository.MagicLinkNonce
	err = tx.QueryRowContext(ctx, `SELECT token, user_id, expires_at, used FROM magic_link_nonces WHERE token=?`, token).
		Scan(&n.Token, &n.UserID, &n.ExpiresAt, &n.Used)
	if err == sql.ErrNoRows {
		return nil, repository.New(repository.NotFound, "nonce not found")
	}
	if err != nil {
		return nil, repository.Wrap(repository.Backend, "get nonce", err)
	}
	if n.Used {
		return nil, repository.New(repository.Conflict, "nonce already used")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE magic_link_nonces SET used=1 WHERE token=?`, token); err != nil {
		return nil, repository.Wrap(repository.Backend, "mark nonce used", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, repository.Wrap(repository.Backend, "commit tx", err)
	}
	n.Used = true
	return &n, nil
}

// --- Passkeys ---

func (s *Store) CreatePasskey(ctx context.Context, p *repository.Passkey) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO passkeys (id, user_id, public_key, created_at) VALUES (?,?,?,?)`,
		p.ID, p.UserID, p.PublicKey, p.CreatedAt)
	if err != nil {
		return repository.Wrap(repository.Backend, "create passkey", err)
	}
	return nil
}

func (s *Store) ListPasskeys(ctx context.Context, userID uint64) ([]*repository.Passkey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, public_key, created_at FROM passkeys WHERE user_id=?`, userID)
	if err != nil {
		return nil, repository.Wrap(repository.Backend, "list passkeys", err)
	}
	defer rows.Close()
	var out []*repository.Passkey
	for rows.Next() {
		var p repository.Passkey
		if err := rows.Scan(&p.ID, &p.UserID, &p.PublicKey, &p.CreatedAt); err != nil {
			return nil, repository.Wrap(repository.Backend, "scan passkey", err)
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
