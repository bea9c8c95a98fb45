package chatmodels

import "time"

// Conversation is a dialogue thread owned by exactly one user.
//
// Ownership is set at create and never changes. ShareID is present iff
// IsPublic. MessageCount equals the number of non-deleted child messages
// and is updated atomically with every append.
type Conversation struct {
	ID                   string     `json:"id"`
	OwnerUserID          uint64     `json:"owner_user_id"`
	Title                string     `json:"title"`
	IsArchived           bool       `json:"is_archived"`
	IsPublic             bool       `json:"is_public"`
	ShareID              string     `json:"share_id,omitempty"`
	LastMessageID        string     `json:"last_message_id,omitempty"`
	MessageCount         int        `json:"message_count"`
	ParentConversationID string     `json:"parent_conversation_id,omitempty"`
	ParentMessageID      string     `json:"parent_message_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	LastMessageAt        *time.Time `json:"last_message_at,omitempty"`
}

// OwnedBy reports whether user u is the owner of the conversation.
func (c *Conversation) OwnedBy(u *User) bool {
	return c != nil && u != nil && c.OwnerUserID == u.ID
}
