package ws

import (
	"log"
	"sync"

	"messaging-service/internal/presence"
)

// Hub maintains conversation rooms and call rooms. Room membership is a
// transport-level concern: joining gives no durability or ordering guarantee
// beyond delivery to whoever is joined at broadcast time.
type Hub struct {
	mu                sync.RWMutex
	conversationRooms map[string]map[presence.Conn]struct{}
	callRooms         map[string]map[presence.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conversationRooms: make(map[string]map[presence.Conn]struct{}),
		callRooms:         make(map[string]map[presence.Conn]struct{}),
	}
}

// JoinConversation adds the connection to a conversation room.
func (h *Hub) JoinConversation(conversationID string, conn presence.Conn) {
	h.join(h.conversationRooms, conversationID, conn)
}

// LeaveConversation removes the connection from a conversation room.
func (h *Hub) LeaveConversation(conversationID string, conn presence.Conn) {
	h.leave(h.conversationRooms, conversationID, conn)
}

// BroadcastConversation sends an event to every connection in the room
// except the one with exceptID.
func (h *Hub) BroadcastConversation(conversationID, exceptID, event string, payload any) {
	h.broadcast(h.conversationRooms, conversationID, exceptID, event, payload)
}

// JoinCall adds the connection to a call room.
func (h *Hub) JoinCall(roomID string, conn presence.Conn) {
	h.join(h.callRooms, roomID, conn)
}

// LeaveCall removes the connection from a call room.
func (h *Hub) LeaveCall(roomID string, conn presence.Conn) {
	h.leave(h.callRooms, roomID, conn)
}

// BroadcastCall relays an event to everyone else in the call room.
func (h *Hub) BroadcastCall(roomID, exceptID, event string, payload any) {
	h.broadcast(h.callRooms, roomID, exceptID, event, payload)
}

// Drop removes the connection from every room. Called on disconnect.
func (h *Hub) Drop(conn presence.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conns := range h.conversationRooms {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conversationRooms, id)
		}
	}
	for id, conns := range h.callRooms {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.callRooms, id)
		}
	}
}

func (h *Hub) join(rooms map[string]map[presence.Conn]struct{}, roomID string, conn presence.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := rooms[roomID]; !ok {
		rooms[roomID] = make(map[presence.Conn]struct{})
	}
	rooms[roomID][conn] = struct{}{}
}

func (h *Hub) leave(rooms map[string]map[presence.Conn]struct{}, roomID string, conn presence.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := rooms[roomID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(rooms, roomID)
		}
	}
}

func (h *Hub) broadcast(rooms map[string]map[presence.Conn]struct{}, roomID, exceptID, event string, payload any) {
	h.mu.RLock()
	targets := make([]presence.Conn, 0, len(rooms[roomID]))
	for conn := range rooms[roomID] {
		if conn.ID() != exceptID {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Send(event, payload); err != nil {
			log.Printf("websocket write error: %v", err)
		}
	}
}
