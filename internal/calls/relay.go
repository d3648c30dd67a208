package calls

import (
	"log"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
)

// Presence is the relay's view of the live-connection registry.
type Presence interface {
	Lookup(userID string) (presence.Conn, bool)
}

// Rooms is the transport-level call-room membership the relay broadcasts
// through.
type Rooms interface {
	JoinCall(roomID string, conn presence.Conn)
	LeaveCall(roomID string, conn presence.Conn)
	BroadcastCall(roomID, exceptID, event string, payload any)
}

// Relay forwards call-setup and ICE-negotiation events between endpoints.
// It keeps no call state: the two endpoints coordinate their own session
// lifecycle via room-scoped events.
type Relay struct {
	presence Presence
	rooms    Rooms
}

// NewRelay builds a Relay.
func NewRelay(reg Presence, rooms Rooms) *Relay {
	return &Relay{presence: reg, rooms: rooms}
}

// StartCall notifies the callee of an incoming call, or reports the offline
// condition back to the caller. This is the only relay event with explicit
// offline feedback; everything else is silently dropped for absent peers.
func (r *Relay) StartCall(fromUserID, toUserID, roomID string, isVideo bool, caller presence.Conn) {
	callee, ok := r.presence.Lookup(toUserID)
	if !ok {
		observability.IncMessagingOp("start_call", "offline")
		if err := caller.Send(models.EventUserOffline, models.UserOfflineEvent{UserID: toUserID}); err != nil {
			log.Printf("call offline notice failed: caller=%s err=%v", fromUserID, err)
		}
		return
	}

	err := callee.Send(models.EventIncomingCall, models.IncomingCallEvent{
		FromUserID: fromUserID,
		RoomID:     roomID,
		IsVideo:    isVideo,
	})
	if err != nil {
		log.Printf("incoming call relay failed: to=%s err=%v", toUserID, err)
		return
	}
	observability.IncMessagingOp("start_call", "ok")
}

// DeclineCall forwards a decline back to the other endpoint if it is still
// online. Best effort.
func (r *Relay) DeclineCall(fromUserID, toUserID string) {
	peer, ok := r.presence.Lookup(toUserID)
	if !ok {
		return
	}
	if err := peer.Send(models.EventCallDeclined, map[string]string{"from": fromUserID}); err != nil {
		log.Printf("call decline relay failed: to=%s err=%v", toUserID, err)
	}
}

// JoinRoom subscribes the connection to a call room.
func (r *Relay) JoinRoom(roomID string, conn presence.Conn) {
	r.rooms.JoinCall(roomID, conn)
}

// LeaveRoom unsubscribes the connection and tells the remaining peers.
func (r *Relay) LeaveRoom(roomID, userID string, conn presence.Conn) {
	r.rooms.LeaveCall(roomID, conn)
	r.rooms.BroadcastCall(roomID, conn.ID(), models.EventUserLeftCall, map[string]string{"userId": userID})
}

// Broadcast relays an SDP/ICE event to everyone else in the room.
func (r *Relay) Broadcast(roomID, event string, payload any, sender presence.Conn) {
	r.rooms.BroadcastCall(roomID, sender.ID(), event, payload)
}
