package ws

import "encoding/json"

// Frame is the wire envelope for both directions. Inbound frames name an
// event and optionally carry an ack id the client wants echoed back;
// outbound frames are either pushes or acks.
type Frame struct {
	Event   string          `json:"event"`
	AckID   string          `json:"ack_id,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads. Field names follow the client event surface.

type sendMessagePayload struct {
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId"`
	Type           string `json:"type"`
	Message        string `json:"message"`
	MessageType    string `json:"messageType"`
	MessageID      string `json:"_id"`
}

type markReadPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
}

type editMessagePayload struct {
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

type deleteMessagePayload struct {
	MessageID string `json:"messageId"`
}

type getMessagesPayload struct {
	ConversationID string `json:"conversationId"`
	Page           int    `json:"page"`
	Limit          int    `json:"limit"`
}

type createGroupPayload struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type conversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type renameConversationPayload struct {
	ConversationID string `json:"conversationId"`
	Name           string `json:"name"`
}

type startCallPayload struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	RoomID     string `json:"roomId"`
	IsVideo    bool   `json:"isVideo"`
}

type declineCallPayload struct {
	ToUserID string `json:"toUserId"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}
