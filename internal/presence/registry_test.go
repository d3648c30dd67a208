package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []string
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func TestMarkOnlineAndLookup(t *testing.T) {
	reg := NewRegistry(nil)
	conn := &fakeConn{id: "c1"}

	reg.MarkOnline("alice", conn)

	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID())
	assert.True(t, reg.Online("alice"))
	assert.False(t, reg.Online("bob"))
}

func TestMarkOnlineLastWriterWins(t *testing.T) {
	reg := NewRegistry(nil)
	first := &fakeConn{id: "c1"}
	second := &fakeConn{id: "c2"}

	reg.MarkOnline("alice", first)
	reg.MarkOnline("alice", second)

	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", got.ID())
}

func TestMarkOfflineDropsUser(t *testing.T) {
	reg := NewRegistry(nil)
	conn := &fakeConn{id: "c1"}

	reg.MarkOnline("alice", conn)
	reg.MarkOffline(conn)

	_, ok := reg.Lookup("alice")
	assert.False(t, ok)
}

func TestStaleDisconnectDoesNotKnockFreshSessionOffline(t *testing.T) {
	reg := NewRegistry(nil)
	old := &fakeConn{id: "c1"}
	fresh := &fakeConn{id: "c2"}

	reg.MarkOnline("alice", old)
	reg.MarkOnline("alice", fresh)
	reg.MarkOffline(old)

	got, ok := reg.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", got.ID())
}

func TestMarkOfflineUnknownConnIsNoop(t *testing.T) {
	reg := NewRegistry(nil)
	reg.MarkOffline(&fakeConn{id: "ghost"})

	reg.MarkOnline("alice", &fakeConn{id: "c1"})
	assert.True(t, reg.Online("alice"))
}

func TestRegistryConcurrentChurn(t *testing.T) {
	reg := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", n%10)
			conn := &fakeConn{id: fmt.Sprintf("conn-%d", n)}
			reg.MarkOnline(user, conn)
			reg.Lookup(user)
			reg.MarkOffline(conn)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		user := fmt.Sprintf("user-%d", i)
		_, ok := reg.Lookup(user)
		assert.False(t, ok, "user %s should have no live handle left", user)
	}
}
