package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/model"
)

type fakeConn struct {
	id, user string
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) UserID() string     { return c.user }
func (c *fakeConn) Send(_ []byte) bool { return true }

type statusEvent struct {
	status     model.UserStatus
	recipients []string
}

type recorder struct {
	mu     sync.Mutex
	events []statusEvent
}

func (r *recorder) StatusChanged(status model.UserStatus, recipients []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, statusEvent{status, recipients})
}

// fakeMirror counts holders per user like the Redis mirror does.
type fakeMirror struct {
	mu      sync.Mutex
	holders map[string]int
	err     error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{holders: map[string]int{}}
}

func (m *fakeMirror) SetOnline(_ context.Context, user string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	m.holders[user]++
	return m.holders[user] == 1, nil
}

func (m *fakeMirror) SetOffline(_ context.Context, user string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	m.holders[user]--
	if m.holders[user] > 0 {
		return false, nil
	}
	delete(m.holders, user)
	return true, nil
}

func (m *fakeMirror) online(user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holders[user] > 0
}

func TestTwoConnectionsStayOnlineUntilLastCloses(t *testing.T) {
	rec := &recorder{}
	mirror := newFakeMirror()
	r := NewRegistry(rec, mirror, logging.Discard())
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	assert.True(t, r.Connect("b", "b1", &fakeConn{"b1", "b"}))
	assert.True(t, r.Connect("a", "a1", &fakeConn{"a1", "a"}))
	assert.False(t, r.Connect("a", "a2", &fakeConn{"a2", "a"}))
	assert.True(t, r.IsOnline("a"))
	assert.Len(t, r.ListConnections("a"), 2)
	assert.True(t, mirror.online("a"))

	r.Disconnect("a1")
	assert.True(t, r.IsOnline("a"), "one connection is still open")
	_, ok := r.LastSeen("a")
	assert.False(t, ok)

	r.Disconnect("a2")
	assert.False(t, r.IsOnline("a"))
	seen, ok := r.LastSeen("a")
	require.True(t, ok)
	assert.Equal(t, at, seen)
	assert.False(t, mirror.online("a"))

	// b came first with nobody local to tell; then it hears a online and offline.
	require.Len(t, rec.events, 3)
	assert.Equal(t, model.UserStatus{UserID: "b", Online: true}, rec.events[0].status)
	assert.Empty(t, rec.events[0].recipients)
	assert.Equal(t, model.UserStatus{UserID: "a", Online: true}, rec.events[1].status)
	assert.Equal(t, []string{"b"}, rec.events[1].recipients)
	assert.False(t, rec.events[2].status.Online)
	assert.Equal(t, at, *rec.events[2].status.LastSeen)
	assert.Equal(t, []string{"b"}, rec.events[2].recipients)
}

func TestUserHeldByAnotherNodeStaysOnline(t *testing.T) {
	mirror := newFakeMirror()
	rec1, rec2 := &recorder{}, &recorder{}
	g1 := NewRegistry(rec1, mirror, logging.Discard())
	g2 := NewRegistry(rec2, mirror, logging.Discard())

	assert.True(t, g1.Connect("alice", "c1", &fakeConn{"c1", "alice"}))
	assert.True(t, g2.Connect("alice", "c2", &fakeConn{"c2", "alice"}))
	require.Len(t, rec1.events, 1)
	assert.Empty(t, rec2.events, "alice was already online elsewhere")

	g1.Disconnect("c1")
	assert.False(t, g1.IsOnline("alice"))
	assert.True(t, g2.IsOnline("alice"))
	assert.True(t, mirror.online("alice"))
	assert.Len(t, rec1.events, 1, "no offline announcement while another node holds alice")

	g2.Disconnect("c2")
	assert.False(t, mirror.online("alice"))
	require.Len(t, rec2.events, 1)
	assert.False(t, rec2.events[0].status.Online)
}

func TestMirrorFailureFallsBackToLocalTransitions(t *testing.T) {
	rec := &recorder{}
	mirror := newFakeMirror()
	mirror.err = errors.New("redis down")
	r := NewRegistry(rec, mirror, logging.Discard())

	r.Connect("a", "a1", &fakeConn{"a1", "a"})
	r.Disconnect("a1")
	require.Len(t, rec.events, 2)
	assert.True(t, rec.events[0].status.Online)
	assert.False(t, rec.events[1].status.Online)
}

func TestDisconnectBeforeUserRecordExists(t *testing.T) {
	r := NewRegistry(nil, nil, logging.Discard())
	// Owner recorded, user record not yet created: Connect is mid-flight.
	cs := &r.conns[shardOf("x")]
	cs.owners["x"] = "a"

	assert.NotPanics(t, func() { r.Disconnect("x") })
	assert.False(t, r.IsOnline("a"))
	assert.Empty(t, r.OnlineUsers())
}

func TestConnectIsIdempotentPerConnection(t *testing.T) {
	r := NewRegistry(nil, nil, logging.Discard())
	c := &fakeConn{"x", "a"}
	assert.True(t, r.Connect("a", "x", c))
	assert.False(t, r.Connect("a", "x", c))
	assert.Len(t, r.ListConnections("a"), 1)

	r.Disconnect("x")
	r.Disconnect("x")
	r.Disconnect("never")
	assert.False(t, r.IsOnline("a"))
	assert.Empty(t, r.OnlineUsers())
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	r := NewRegistry(nil, nil, logging.Discard())
	users := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := users[i%len(users)]
			id := u + "-" + time.Duration(i).String()
			r.Connect(u, id, &fakeConn{id, u})
			if i%2 == 0 {
				r.Disconnect(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, users, r.OnlineUsers())
	total := 0
	for _, u := range users {
		total += len(r.ListConnections(u))
	}
	assert.Equal(t, 100, total)
}
