package models

import (
	"sort"
	"time"
)

// Conversation kinds.
const (
	KindDirect = "dm"
	KindGroup  = "group"
)

// Conversation statuses.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// Conversation is a direct (1:1) or group conversation.
type Conversation struct {
	ID            string     `db:"id" json:"id"`
	Kind          string     `db:"kind" json:"kind"`
	Name          string     `db:"name" json:"name,omitempty"`
	CreatedBy     string     `db:"created_by" json:"created_by"`
	Status        string     `db:"status" json:"status"`
	LastMessageID *string    `db:"last_message_id" json:"last_message_id,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`

	Members []Member `db:"-" json:"members,omitempty"`
}

// Member records a user's membership in a conversation.
type Member struct {
	ConversationID string    `db:"conversation_id" json:"-"`
	UserID         string    `db:"user_id" json:"user_id"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}

// IsMember reports whether userID belongs to the loaded member set.
func (c Conversation) IsMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// OtherMember returns the peer of userID in a direct conversation.
func (c Conversation) OtherMember(userID string) string {
	for _, m := range c.Members {
		if m.UserID != userID {
			return m.UserID
		}
	}
	return ""
}

// MemberIDs returns the member user ids in stored order.
func (c Conversation) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// DirectConversationID derives the stable id for the unordered user pair.
// Both sides of a 1:1 chat compute the same id, which is what makes
// on-the-fly creation idempotent.
func DirectConversationID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return "dm_" + pair[0] + "_" + pair[1]
}

// ConversationSummary is the list view of a conversation for one user.
type ConversationSummary struct {
	Conversation
	UnreadCount int `db:"unread_count" json:"unread_count"`
}
