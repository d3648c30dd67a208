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

	"messaging-service/internal/messaging"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
)

type nobodyOnline struct{}

func (nobodyOnline) Lookup(userID string) (presence.Conn, bool) { return nil, false }

func newTestEngine(convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, directory messaging.Directory) *messaging.Engine {
	return messaging.NewEngine(convRepo, msgRepo, nobodyOnline{}, directory, nil)
}

func setupConversationRouter(handler *ConversationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "alice")
		c.Next()
	})
	r.GET("/conversations", handler.List)
	r.POST("/conversations/direct", handler.StartDirect)
	r.POST("/conversations/groups", handler.CreateGroup)
	r.GET("/conversations/:conversation_id", handler.Get)
	r.POST("/conversations/:conversation_id/members", handler.AddMembers)
	r.PATCH("/conversations/:conversation_id", handler.Rename)
	r.DELETE("/conversations/:conversation_id/me", handler.Leave)
	return r
}

func groupWithMembers(id, creator string, members ...string) models.Conversation {
	conv := models.Conversation{ID: id, Kind: models.KindGroup, CreatedBy: creator, Status: models.StatusActive}
	for _, m := range members {
		conv.Members = append(conv.Members, models.Member{ConversationID: id, UserID: m})
	}
	return conv
}

func TestListConversationsSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(newTestEngine(convRepo, new(mocks.MessageRepositoryMock), nil), nil)
	router := setupConversationRouter(handler)

	convRepo.On("ListForUser", mock.Anything, "alice").Return([]models.ConversationSummary{
		{Conversation: groupWithMembers("g1", "alice", "alice", "bob"), UnreadCount: 3},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp, "conversations")
	convRepo.AssertExpectations(t)
}

func TestListConversationsRepoError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(newTestEngine(convRepo, new(mocks.MessageRepositoryMock), nil), nil)
	router := setupConversationRouter(handler)

	convRepo.On("ListForUser", mock.Anything, "alice").Return(([]models.ConversationSummary)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "internal error", resp["error"])
}

func TestStartDirectCreated(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	directory := new(mocks.DirectoryMock)
	handler := NewConversationHandler(newTestEngine(convRepo, new(mocks.MessageRepositoryMock), directory), nil)
	router := setupConversationRouter(handler)

	conv := models.Conversation{
		ID:     models.DirectConversationID("alice", "bob"),
		Kind:   models.KindDirect,
		Status: models.StatusActive,
		Members: []models.Member{
			{UserID: "alice"}, {UserID: "bob"},
		},
	}
	directory.On("UsersExist", mock.Anything, []string{"alice", "bob"}).Return(true, nil).Once()
	convRepo.On("CreateOrGet", mock.Anything, mock.Anything, []string{"alice", "bob"}).Return(conv, true, nil).Once()
	convRepo.On("UnhideForUser", mock.Anything, conv.ID, mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", bytes.NewBufferString(`{"receiver_id":"bob"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestStartDirectExistingReturnsOK(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(newTestEngine(convRepo, new(mocks.MessageRepositoryMock), nil), nil)
	router := setupConversationRouter(handler)

	conv := models.Conversation{ID: models.DirectConversationID("alice", "bob"), Kind: models.KindDirect}
	convRepo.On("CreateOrGet", mock.Anything, mock.Anything, []string{"alice", "bob"}).Return(conv, false, nil).Once()
	convRepo.On("UnhideForUser", mock.Anything, conv.ID, mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", bytes.NewBufferString(`{"receiver_id":"bob"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartDirectWithSelf(t *testing.T) {
	handler := NewConversationHandler(newTestEngine(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), nil), nil)
	router := setupConversationRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", bytes.NewBufferString(`{"receiver_id":"alice"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartDirectMissingBody(t *testing.T) {
	handler := NewConversationHandler(newTestEngine(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), nil), nil)
	router := setupConversationRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateGroupSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(newTestEngine(convRepo, new(mocks.MessageRepositoryMock), nil), nil)
	router := setupConversationRouter(handler)

	conv := groupWithMembers("g1", "alice", "alice", "bob")
	convRepo.On("CreateOrGet", mock.Anything, mock.Anything, []string{"alice", "bob"}).Return(conv, true, nil).Once()

	body := bytes.NewBufferString(`{"name":"team","members":["bob"]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/groups", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestGetConversationNotFound(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(newTestEngine(convRepo, new(mocks.MessageRepositoryMock), nil), nil)
	router := setupConversationRouter(handler)

	convRepo.On("Get", mock.Anything, "missing").Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRenameGroupForbiddenForNonCreator(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(newTestEngine(convRepo, new(mocks.MessageRepositoryMock), nil), nil)
	router := setupConversationRouter(handler)

	conv := groupWithMembers("g1", "bob", "alice", "bob")
	convRepo.On("Get", mock.Anything, "g1").Return(conv, nil).Once()

	req := httptest.NewRequest(http.MethodPatch, "/conversations/g1", bytes.NewBufferString(`{"name":"renamed"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLeaveConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(newTestEngine(convRepo, new(mocks.MessageRepositoryMock), nil), nil)
	router := setupConversationRouter(handler)

	conv := models.Conversation{
		ID:     models.DirectConversationID("alice", "bob"),
		Kind:   models.KindDirect,
		Status: models.StatusActive,
		Members: []models.Member{
			{UserID: "alice"}, {UserID: "bob"},
		},
	}
	convRepo.On("Get", mock.Anything, conv.ID).Return(conv, nil).Once()
	convRepo.On("HideForUser", mock.Anything, conv.ID, "alice").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/"+conv.ID+"/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
}
