package presence

import (
	"context"
	"log"
	"sync"
	"time"
)

// Conn is the handle the registry keeps for a live connection. The websocket
// layer implements it; the registry never depends on the transport.
type Conn interface {
	ID() string
	Send(event string, payload any) error
}

// StatusRecorder persists online/offline status to the account service.
// Writes are best-effort: the registry logs failures and moves on.
type StatusRecorder interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

const statusWriteTimeout = 5 * time.Second

// Registry maps user ids to their live connection handle. One coarse mutex
// guards both directions; every critical section is an O(1) map mutation so
// nothing slow ever runs under the lock.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]Conn
	byConn map[string]string

	status StatusRecorder
}

// NewRegistry creates an empty registry.
func NewRegistry(status StatusRecorder) *Registry {
	r := &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[string]string),
		status: status,
	}
	return r
}

// MarkOnline registers conn as the user's live handle. Last writer wins: a
// second connection for the same user replaces the first for push purposes.
func (r *Registry) MarkOnline(userID string, conn Conn) {
	r.mu.Lock()
	if prev, ok := r.byUser[userID]; ok {
		delete(r.byConn, prev.ID())
	}
	r.byUser[userID] = conn
	r.byConn[conn.ID()] = userID
	r.mu.Unlock()

	r.recordStatus(func(ctx context.Context) error {
		return r.status.SetOnline(ctx, userID)
	})
}

// Lookup returns the user's current handle, if any.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

// MarkOffline drops the mapping owned by conn. A handle that was already
// replaced by a newer connection for the same user is a no-op, so a stale
// disconnect racing a fresh connect cannot knock the fresh session offline.
func (r *Registry) MarkOffline(conn Conn) {
	r.mu.Lock()
	userID, ok := r.byConn[conn.ID()]
	if ok {
		delete(r.byConn, conn.ID())
		if current, exists := r.byUser[userID]; exists && current.ID() == conn.ID() {
			delete(r.byUser, userID)
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	lastSeen := time.Now()
	r.recordStatus(func(ctx context.Context) error {
		return r.status.SetOffline(ctx, userID, lastSeen)
	})
}

// Online reports whether the user currently has a live handle.
func (r *Registry) Online(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

func (r *Registry) recordStatus(write func(ctx context.Context) error) {
	if r.status == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
		defer cancel()
		if err := write(ctx); err != nil {
			log.Printf("presence status write failed: %v", err)
		}
	}()
}
