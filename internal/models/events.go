package models

// Event names pushed to live connections.
const (
	EventNewMessage          = "newMessage"
	EventMessageSent         = "messageSent"
	EventMessageRead         = "messageRead"
	EventMessageEdited       = "messageEdited"
	EventMessageDeleted      = "messageDeleted"
	EventNewConversation     = "newConvoCreated"
	EventGroupCreated        = "groupCreated"
	EventConversationUpdated = "conversationUpdated"
	EventConversationDeleted = "conversationDeleted"
	EventIncomingCall        = "incomingCall"
	EventCallDeclined        = "callDeclined"
	EventUserOffline         = "userOffline"
	EventUserLeftCall        = "userLeftCall"
	EventOffer               = "offer"
	EventAnswer              = "answer"
	EventCandidate           = "candidate"
	EventSignal              = "signal"
)

// MessageEvent wraps a message pushed over a live connection.
type MessageEvent struct {
	Message *Message `json:"message"`
}

// MessageEditedEvent notifies members that a message body changed.
type MessageEditedEvent struct {
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
	EditedBy  string `json:"edited_by"`
}

// MessageDeletedEvent notifies members of a soft delete.
type MessageDeletedEvent struct {
	MessageID string `json:"message_id"`
	DeletedBy string `json:"deleted_by"`
}

// ConversationEvent carries conversation lifecycle updates.
type ConversationEvent struct {
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
}

// IncomingCallEvent is relayed to the callee on startCall.
type IncomingCallEvent struct {
	FromUserID string `json:"fromUserId"`
	RoomID     string `json:"roomId"`
	IsVideo    bool   `json:"isVideo"`
}

// UserOfflineEvent reports an offline callee back to the caller.
type UserOfflineEvent struct {
	UserID string `json:"toUserId"`
}
