package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/messaging"
	"messaging-service/internal/telemetry"
)

// MessageHandler exposes message operations over HTTP.
type MessageHandler struct {
	engine *messaging.Engine
	audit  *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(engine *messaging.Engine, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{engine: engine, audit: audit}
}

// List returns a page of messages in a conversation.
func (h *MessageHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	result, err := h.engine.ListMessages(c.Request.Context(), c.Param("conversation_id"), userIDFromContext(c), page, limit)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Send persists a message through the same engine path the gateway uses.
func (h *MessageHandler) Send(c *gin.Context) {
	var req struct {
		Body            string `json:"message" binding:"required"`
		Kind            string `json:"messageType"`
		ReceiverID      string `json:"receiverId"`
		ClientMessageID string `json:"_id"`
		Type            string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.engine.SendMessage(c.Request.Context(), messaging.SendRequest{
		SenderID:        userIDFromContext(c),
		ConversationID:  c.Param("conversation_id"),
		ReceiverID:      req.ReceiverID,
		Body:            req.Body,
		Kind:            req.Kind,
		ClientMessageID: req.ClientMessageID,
		Direct:          req.Type != "group",
	})
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead records read receipts for one message or the whole conversation.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	var req struct {
		MessageID string `json:"message_id"`
	}
	// Body is optional: no message id means "mark everything read".
	_ = c.ShouldBindJSON(&req)

	err := h.engine.MarkRead(c.Request.Context(), c.Param("conversation_id"), userIDFromContext(c), req.MessageID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Edit replaces a message body. Sender-only.
func (h *MessageHandler) Edit(c *gin.Context) {
	var req struct {
		Body string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.engine.EditMessage(c.Request.Context(), c.Param("message_id"), userIDFromContext(c), req.Body)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Delete soft-deletes a message. Sender-only.
func (h *MessageHandler) Delete(c *gin.Context) {
	if err := h.engine.DeleteMessage(c.Request.Context(), c.Param("message_id"), userIDFromContext(c)); err != nil {
		writeEngineError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Message deleted")
	c.Status(http.StatusNoContent)
}

// UnreadCount returns the caller's unread total across conversations.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	count, err := h.engine.UnreadCount(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// ConversationUnreadCount returns the unread total for one conversation.
func (h *MessageHandler) ConversationUnreadCount(c *gin.Context) {
	count, err := h.engine.ConversationUnreadCount(c.Request.Context(), c.Param("conversation_id"), userIDFromContext(c))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
