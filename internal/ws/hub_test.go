package ws

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	id string

	mu     sync.Mutex
	events []string
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestHubJoinAndLeaveConversation(t *testing.T) {
	hub := NewHub()
	conn := &recordingConn{id: "c1"}

	hub.JoinConversation("conv-1", conn)
	require.Len(t, hub.conversationRooms, 1)

	hub.LeaveConversation("conv-1", conn)
	assert.Len(t, hub.conversationRooms, 0)
}

func TestHubBroadcastSkipsSender(t *testing.T) {
	hub := NewHub()
	sender := &recordingConn{id: "c1"}
	peer := &recordingConn{id: "c2"}

	hub.JoinConversation("conv-1", sender)
	hub.JoinConversation("conv-1", peer)

	hub.BroadcastConversation("conv-1", "c1", "newMessage", nil)

	assert.Equal(t, 0, sender.count())
	assert.Equal(t, 1, peer.count())
}

func TestHubCallRooms(t *testing.T) {
	hub := NewHub()
	a := &recordingConn{id: "c1"}
	b := &recordingConn{id: "c2"}

	hub.JoinCall("room-1", a)
	hub.JoinCall("room-1", b)

	hub.BroadcastCall("room-1", "c1", "offer", nil)
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 0, a.count())

	hub.LeaveCall("room-1", b)
	hub.BroadcastCall("room-1", "c1", "candidate", nil)
	assert.Equal(t, 1, b.count())
}

func TestHubDropRemovesConnEverywhere(t *testing.T) {
	hub := NewHub()
	conn := &recordingConn{id: "c1"}
	peer := &recordingConn{id: "c2"}

	hub.JoinConversation("conv-1", conn)
	hub.JoinConversation("conv-1", peer)
	hub.JoinCall("room-1", conn)

	hub.Drop(conn)

	hub.BroadcastConversation("conv-1", "", "newMessage", nil)
	hub.BroadcastCall("room-1", "", "offer", nil)

	assert.Equal(t, 0, conn.count())
	assert.Equal(t, 1, peer.count())
}
