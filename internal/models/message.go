package models

import "time"

// Message kinds. The tag is open: clients may send domain-specific kinds
// (visitor, checkin, task, ...) and the engine stores them as-is.
const (
	MessageText   = "text"
	MessageFile   = "file"
	MessageSystem = "system"
)

// Delivery states. Informational only: persistence is authoritative,
// delivered_live just records that an online recipient got a live push.
const (
	DeliverySaved = "saved"
	DeliveryLive  = "delivered_live"
)

// Message is a persisted conversation message.
type Message struct {
	ID             string     `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	SenderID       string     `db:"sender_id" json:"sender_id"`
	ReceiverID     *string    `db:"receiver_id" json:"receiver_id,omitempty"`
	Body           string     `db:"body" json:"body"`
	Kind           string     `db:"kind" json:"kind"`
	DeliveryState  string     `db:"delivery_state" json:"delivery_state"`
	Deleted        bool       `db:"deleted" json:"deleted"`
	DeletedBy      *string    `db:"deleted_by" json:"deleted_by,omitempty"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	EditedAt       *time.Time `db:"edited_at" json:"edited_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`

	ReadBy []ReadReceipt `db:"-" json:"read_by,omitempty"`
}

// ReadReceipt marks that a user has read a message. Never contains the sender.
type ReadReceipt struct {
	MessageID string    `db:"message_id" json:"-"`
	UserID    string    `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

// MessagePage is a paginated slice of messages plus page metadata.
type MessagePage struct {
	Messages      []Message `json:"messages"`
	Page          int       `json:"page"`
	TotalPages    int       `json:"total_pages"`
	TotalMessages int       `json:"total_messages"`
	HasNext       bool      `json:"has_next"`
	HasPrev       bool      `json:"has_prev"`
}
