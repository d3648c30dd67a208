package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/messaging"
	"messaging-service/internal/telemetry"
)

// ConversationHandler exposes conversation operations over HTTP for clients
// not holding a live connection. Every route delegates to the same engine
// the websocket gateway uses.
type ConversationHandler struct {
	engine *messaging.Engine
	audit  *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(engine *messaging.Engine, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{engine: engine, audit: audit}
}

// List returns the conversations visible to the caller.
func (h *ConversationHandler) List(c *gin.Context) {
	summaries, err := h.engine.ListConversations(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// Get returns one conversation.
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.engine.GetConversation(c.Request.Context(), c.Param("conversation_id"), userIDFromContext(c))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// StartDirect creates or returns the 1:1 conversation with the receiver.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	var req struct {
		ReceiverID string `json:"receiver_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, created, err := h.engine.CreateDirectConversation(c.Request.Context(), userIDFromContext(c), req.ReceiverID)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.emitAudit(c, "INFO", "Direct conversation created")
	}
	c.JSON(status, conv)
}

// CreateGroup creates a group conversation.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name    string   `json:"name" binding:"required"`
		Members []string `json:"members"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.engine.CreateGroup(c.Request.Context(), req.Name, userIDFromContext(c), req.Members)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Group created")
	c.JSON(http.StatusCreated, conv)
}

// AddMembers adds users to a group.
func (h *ConversationHandler) AddMembers(c *gin.Context) {
	var req struct {
		Members []string `json:"members" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.engine.AddMembers(c.Request.Context(), c.Param("conversation_id"), userIDFromContext(c), req.Members)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// RemoveMembers removes users from a group. Creator-only.
func (h *ConversationHandler) RemoveMembers(c *gin.Context) {
	var req struct {
		Members []string `json:"members" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.engine.RemoveMembers(c.Request.Context(), c.Param("conversation_id"), userIDFromContext(c), req.Members)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Rename updates a group name. Creator-only.
func (h *ConversationHandler) Rename(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.engine.RenameGroup(c.Request.Context(), c.Param("conversation_id"), userIDFromContext(c), req.Name)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Leave removes the caller from a conversation (hides a direct one).
func (h *ConversationHandler) Leave(c *gin.Context) {
	if err := h.engine.Leave(c.Request.Context(), c.Param("conversation_id"), userIDFromContext(c)); err != nil {
		writeEngineError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Left conversation")
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
