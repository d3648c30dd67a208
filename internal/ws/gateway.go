package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/calls"
	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
)

// TokenValidator resolves a bearer token to a verified user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsEventsRoutingKey = "ws_events.connections"

// Gateway accepts real-time connections and demultiplexes named events to
// the messaging engine, the presence registry, and the call relay. It owns
// per-connection lifecycle; all domain decisions live in the engine.
type Gateway struct {
	hub      *Hub
	registry *presence.Registry
	engine   *messaging.Engine
	relay    *calls.Relay
	tokens   TokenValidator
	events   rabbitmq.Publisher
}

// NewGateway constructs a Gateway.
func NewGateway(hub *Hub, registry *presence.Registry, engine *messaging.Engine, relay *calls.Relay, tokens TokenValidator, events rabbitmq.Publisher) *Gateway {
	return &Gateway{
		hub:      hub,
		registry: registry,
		engine:   engine,
		relay:    relay,
		tokens:   tokens,
		events:   events,
	}
}

// Handle upgrades the connection and runs its read loop until disconnect.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		if q := c.Query("token"); q != "" {
			token = "Bearer " + q
		}
	}
	userID, err := g.validateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	g.publishConnEvent(ctx, "ws_connect", info, "")

	var closeReason string
	defer func() {
		g.registry.MarkOffline(client)
		g.hub.Drop(client)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		g.publishConnEvent(ctx, "ws_disconnect", info, closeReason)
		client.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				g.publishConnEvent(ctx, "ws_error", info, closeReason)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = client.Ack("", false, "malformed frame", nil)
			continue
		}
		g.dispatch(ctx, client, frame)
	}
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, frame Frame) {
	observability.IncWSEvent(frame.Event)
	userID := client.UserID()

	switch frame.Event {
	case "userOnline":
		g.registry.MarkOnline(userID, client)

	case "manualDisconnect":
		g.registry.MarkOffline(client)

	case "joinConversation":
		var payload conversationPayload
		if !decode(client, frame, &payload) {
			return
		}
		g.hub.JoinConversation(payload.ConversationID, client)

	case "sendMessage":
		var payload sendMessagePayload
		if !decode(client, frame, &payload) {
			return
		}
		msg, err := g.engine.SendMessage(ctx, messaging.SendRequest{
			SenderID:        userID,
			ConversationID:  payload.ConversationID,
			ReceiverID:      payload.ReceiverID,
			Body:            payload.Message,
			Kind:            payload.MessageType,
			ClientMessageID: payload.MessageID,
			Direct:          payload.Type != models.KindGroup,
		})
		if err != nil {
			g.ack(client, frame, nil, err)
			return
		}
		_ = client.Send(models.EventMessageSent, models.MessageEvent{Message: &msg})
		g.ack(client, frame, models.MessageEvent{Message: &msg}, nil)

	case "markRead", "markMessagesRead":
		var payload markReadPayload
		if !decode(client, frame, &payload) {
			return
		}
		err := g.engine.MarkRead(ctx, payload.ConversationID, userID, payload.MessageID)
		if err == nil && payload.ConversationID != "" {
			g.hub.BroadcastConversation(payload.ConversationID, client.ID(), models.EventMessageRead, markReadPayload{
				ConversationID: payload.ConversationID,
				MessageID:      payload.MessageID,
				UserID:         userID,
			})
		}
		g.ack(client, frame, nil, err)

	case "editMessage":
		var payload editMessagePayload
		if !decode(client, frame, &payload) {
			return
		}
		msg, err := g.engine.EditMessage(ctx, payload.MessageID, userID, payload.Message)
		if err != nil {
			g.ack(client, frame, nil, err)
			return
		}
		g.ack(client, frame, models.MessageEvent{Message: &msg}, nil)

	case "deleteMessage":
		var payload deleteMessagePayload
		if !decode(client, frame, &payload) {
			return
		}
		g.ack(client, frame, nil, g.engine.DeleteMessage(ctx, payload.MessageID, userID))

	case "getMessages":
		var payload getMessagesPayload
		if !decode(client, frame, &payload) {
			return
		}
		page, err := g.engine.ListMessages(ctx, payload.ConversationID, userID, payload.Page, payload.Limit)
		if err != nil {
			g.ack(client, frame, nil, err)
			return
		}
		g.ack(client, frame, page, nil)

	case "getChatList", "getAllConversations":
		summaries, err := g.engine.ListConversations(ctx, userID)
		if err != nil {
			g.ack(client, frame, nil, err)
			return
		}
		g.ack(client, frame, gin.H{"conversations": summaries}, nil)

	case "createGroup":
		var payload createGroupPayload
		if !decode(client, frame, &payload) {
			return
		}
		conv, err := g.engine.CreateGroup(ctx, payload.Name, userID, payload.Members)
		if err != nil {
			g.ack(client, frame, nil, err)
			return
		}
		g.ack(client, frame, models.ConversationEvent{ConversationID: conv.ID, Conversation: &conv}, nil)

	case "editConversation":
		var payload renameConversationPayload
		if !decode(client, frame, &payload) {
			return
		}
		conv, err := g.engine.RenameGroup(ctx, payload.ConversationID, userID, payload.Name)
		if err != nil {
			g.ack(client, frame, nil, err)
			return
		}
		g.ack(client, frame, models.ConversationEvent{ConversationID: conv.ID, Conversation: &conv}, nil)

	case "deleteConversation":
		var payload conversationPayload
		if !decode(client, frame, &payload) {
			return
		}
		g.ack(client, frame, nil, g.engine.Leave(ctx, payload.ConversationID, userID))

	case "startCall":
		var payload startCallPayload
		if !decode(client, frame, &payload) {
			return
		}
		g.relay.StartCall(userID, payload.ToUserID, payload.RoomID, payload.IsVideo, client)

	case "callDeclined":
		var payload declineCallPayload
		if !decode(client, frame, &payload) {
			return
		}
		g.relay.DeclineCall(userID, payload.ToUserID)

	case "joinCall":
		var payload roomPayload
		if !decode(client, frame, &payload) {
			return
		}
		g.relay.JoinRoom(payload.RoomID, client)

	case "leaveCall":
		var payload roomPayload
		if !decode(client, frame, &payload) {
			return
		}
		g.relay.LeaveRoom(payload.RoomID, userID, client)

	case models.EventOffer, models.EventAnswer, models.EventCandidate, models.EventSignal:
		var payload roomPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.RoomID == "" {
			_ = client.Ack(frame.AckID, false, "missing roomId", nil)
			return
		}
		g.relay.Broadcast(payload.RoomID, frame.Event, json.RawMessage(frame.Data), client)

	default:
		_ = client.Ack(frame.AckID, false, "unknown event", nil)
	}
}

// ack answers a request-style frame. Engine errors are translated to their
// safe message; internals never leak verbatim.
func (g *Gateway) ack(client *Client, frame Frame, payload any, err error) {
	if err != nil {
		if errors.Is(err, messaging.ErrInternal) {
			log.Printf("ws %s failed: user=%s err=%v", frame.Event, client.UserID(), err)
		}
		_ = client.Ack(frame.AckID, false, messaging.SafeMessage(err), nil)
		return
	}
	_ = client.Ack(frame.AckID, true, "", payload)
}

func decode(client *Client, frame Frame, out any) bool {
	if len(frame.Data) == 0 {
		_ = client.Ack(frame.AckID, false, "missing payload", nil)
		return false
	}
	if err := json.Unmarshal(frame.Data, out); err != nil {
		_ = client.Ack(frame.AckID, false, "malformed payload", nil)
		return false
	}
	return true
}

func (g *Gateway) validateToken(ctx context.Context, header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return g.tokens.ValidateToken(ctx, parts[1])
	}
	return "", errors.New("invalid token")
}

func (g *Gateway) publishConnEvent(ctx context.Context, name string, info ConnInfo, reason string) {
	if g.events == nil {
		return
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       name,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	envelope := observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload:   payload,
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	if err := g.events.PublishWithHeaders(ctx, wsEventsRoutingKey, envelope, headers); err != nil {
		log.Printf("ws event publish failed: %v", err)
	}
}
