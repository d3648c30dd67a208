package ws

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnInfo carries identity and tracing context for one connection.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Client wraps a websocket connection. Writes are serialized with a mutex
// because gorilla connections allow only one concurrent writer.
type Client struct {
	info ConnInfo

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{conn: conn, info: info}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.info.ConnID
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() string {
	return c.info.UserID
}

// Info returns the connection metadata.
func (c *Client) Info() ConnInfo {
	return c.info
}

// Send pushes a named event to the client.
func (c *Client) Send(event string, payload any) error {
	return c.write(Frame{Event: event, Data: marshalData(payload)})
}

// Ack answers a request-style event.
func (c *Client) Ack(ackID string, success bool, errMsg string, payload any) error {
	return c.write(Frame{
		Event:   "ack",
		AckID:   ackID,
		Success: &success,
		Error:   errMsg,
		Data:    marshalData(payload),
	})
}

func (c *Client) write(frame Frame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, body)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func marshalData(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return body
}

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
