package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "alice")
		c.Next()
	})
	r.GET("/conversations/:conversation_id/messages", handler.List)
	r.POST("/conversations/:conversation_id/messages", handler.Send)
	r.POST("/conversations/:conversation_id/read", handler.MarkRead)
	r.PATCH("/messages/:message_id", handler.Edit)
	r.DELETE("/messages/:message_id", handler.Delete)
	r.GET("/messages/unread", handler.UnreadCount)
	return r
}

func TestListMessagesSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(newTestEngine(convRepo, msgRepo, nil), nil)
	router := setupMessageRouter(handler)

	conv := groupWithMembers("g1", "alice", "alice", "bob")
	convRepo.On("Get", mock.Anything, "g1").Return(conv, nil).Once()
	msgRepo.On("List", mock.Anything, "g1", 2, 10).Return([]models.Message{
		{ID: "m1", ConversationID: "g1", SenderID: "bob", Body: "hi"},
	}, 11, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/g1/messages?page=2&limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var page models.MessagePage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 11, page.TotalMessages)
	assert.True(t, page.HasPrev)
	assert.False(t, page.HasNext)
}

func TestSendMessageSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(newTestEngine(convRepo, msgRepo, nil), nil)
	router := setupMessageRouter(handler)

	conv := groupWithMembers("g1", "alice", "alice", "bob")
	convRepo.On("Get", mock.Anything, "g1").Return(conv, nil).Once()
	msgRepo.On("Create", mock.Anything, mock.Anything).Return(models.Message{
		ID: "m1", ConversationID: "g1", SenderID: "alice", Body: "hi",
	}, true, nil).Once()
	convRepo.On("SetLastMessage", mock.Anything, "g1", "m1", mock.Anything).Return(nil).Once()

	body := bytes.NewBufferString(`{"message":"hi","type":"group"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/g1/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
}

func TestSendMessageMissingBody(t *testing.T) {
	handler := NewMessageHandler(newTestEngine(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), nil), nil)
	router := setupMessageRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/conversations/g1/messages", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkReadWithoutBodyMarksConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(newTestEngine(convRepo, msgRepo, nil), nil)
	router := setupMessageRouter(handler)

	convRepo.On("IsMember", mock.Anything, "g1", "alice").Return(true, nil).Once()
	msgRepo.On("MarkConversationRead", mock.Anything, "g1", "alice", mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/g1/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	msgRepo.AssertExpectations(t)
}

func TestEditMessageForbidden(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(newTestEngine(convRepo, msgRepo, nil), nil)
	router := setupMessageRouter(handler)

	msgRepo.On("Get", mock.Anything, "m1").Return(models.Message{
		ID: "m1", ConversationID: "g1", SenderID: "bob",
	}, nil).Once()

	req := httptest.NewRequest(http.MethodPatch, "/messages/m1", bytes.NewBufferString(`{"message":"edited"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteMessageSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(newTestEngine(convRepo, msgRepo, nil), nil)
	router := setupMessageRouter(handler)

	conv := groupWithMembers("g1", "alice", "alice", "bob")
	msgRepo.On("Get", mock.Anything, "m1").Return(models.Message{
		ID: "m1", ConversationID: "g1", SenderID: "alice",
	}, nil).Once()
	msgRepo.On("SoftDelete", mock.Anything, "m1", "alice", mock.Anything).Return(nil).Once()
	convRepo.On("Get", mock.Anything, "g1").Return(conv, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/messages/m1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	msgRepo.AssertExpectations(t)
}

func TestUnreadCount(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(newTestEngine(convRepo, msgRepo, nil), nil)
	router := setupMessageRouter(handler)

	msgRepo.On("UnreadCount", mock.Anything, "alice").Return(7, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/unread", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 7, resp["unread_count"])
}
