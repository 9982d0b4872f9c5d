// Package presence tracks which users have live connections on this node.
package presence

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/metrics"
	"github.com/mahaj/chatsync/pkg/model"
)

const shardCount = 32

// Conn is one live client connection.
type Conn interface {
	ID() string
	UserID() string
	// Send queues data without blocking. It returns false when the
	// connection's buffer is full and data was dropped.
	Send(data []byte) bool
}

// Notifier receives online/offline transitions together with the users
// connected to this node who should hear about them. recipients may be
// empty; notifiers that know about other nodes widen it.
type Notifier interface {
	StatusChanged(status model.UserStatus, recipients []string)
}

type NotifierFunc func(status model.UserStatus, recipients []string)

func (f NotifierFunc) StatusChanged(status model.UserStatus, recipients []string) {
	f(status, recipients)
}

// Mirror publishes presence transitions to shared storage so other
// processes can answer IsOnline. SetOnline is called when a user's first
// connection on this node opens and reports whether the user was offline
// on every node; SetOffline is called when the last one here closes and
// reports whether no node holds the user any more.
type Mirror interface {
	SetOnline(ctx context.Context, user string) (bool, error)
	SetOffline(ctx context.Context, user string, lastSeen time.Time) (bool, error)
}

type record struct {
	conns    map[string]Conn
	lastSeen time.Time
}

type userShard struct {
	mu    sync.RWMutex
	users map[string]*record
}

type connShard struct {
	mu     sync.Mutex
	owners map[string]string
}

// Registry maps users to their connections. A user is online while at
// least one connection is registered.
type Registry struct {
	users    [shardCount]userShard
	conns    [shardCount]connShard
	notifier Notifier
	mirror   Mirror
	log      *logging.Logger
	now      func() time.Time
}

// NewRegistry builds an empty registry. notifier and mirror may be nil.
func NewRegistry(notifier Notifier, mirror Mirror, log *logging.Logger) *Registry {
	r := &Registry{notifier: notifier, mirror: mirror, log: log.With("component", "presence"), now: time.Now}
	for i := range r.users {
		r.users[i].users = make(map[string]*record)
		r.conns[i].owners = make(map[string]string)
	}
	return r
}

func shardOf(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

// Connect registers conn for userID. It reports whether this was the user's
// first live connection, in which case the user is announced online.
// Registering the same connection id twice is a no-op.
func (r *Registry) Connect(userID, connID string, conn Conn) bool {
	cs := &r.conns[shardOf(connID)]
	cs.mu.Lock()
	if _, ok := cs.owners[connID]; ok {
		cs.mu.Unlock()
		return false
	}
	cs.owners[connID] = userID
	cs.mu.Unlock()

	us := &r.users[shardOf(userID)]
	us.mu.Lock()
	// A Disconnect that ran since the owner was recorded wins.
	if !r.owns(connID, userID) {
		us.mu.Unlock()
		return false
	}
	rec := us.users[userID]
	if rec == nil {
		rec = &record{}
		us.users[userID] = rec
	}
	if rec.conns == nil {
		rec.conns = make(map[string]Conn)
	}
	rec.conns[connID] = conn
	first := len(rec.conns) == 1
	us.mu.Unlock()

	metrics.Connections.Inc()
	if first {
		metrics.OnlineUsers.Inc()
		r.log.Info("user online", "user_id", userID, "conn_id", connID)
		if r.mirrorOnline(userID) {
			r.notify(model.UserStatus{UserID: userID, Online: true})
		}
	}
	return first
}

func (r *Registry) owns(connID, userID string) bool {
	cs := &r.conns[shardOf(connID)]
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.owners[connID] == userID
}

// mirrorOnline reports whether the user just came online cluster-wide.
// Without a working mirror the local transition is all there is to go on.
func (r *Registry) mirrorOnline(userID string) bool {
	if r.mirror == nil {
		return true
	}
	first, err := r.mirror.SetOnline(context.Background(), userID)
	if err != nil {
		r.log.Warn("presence mirror update failed", "user_id", userID, "error", err)
		return true
	}
	return first
}

func (r *Registry) mirrorOffline(userID string, seen time.Time) bool {
	if r.mirror == nil {
		return true
	}
	last, err := r.mirror.SetOffline(context.Background(), userID, seen)
	if err != nil {
		r.log.Warn("presence mirror update failed", "user_id", userID, "error", err)
		return true
	}
	return last
}

// Disconnect removes the connection. When it was the owner's last one the
// user goes offline with lastSeen set to now. Unknown ids are ignored.
func (r *Registry) Disconnect(connID string) {
	cs := &r.conns[shardOf(connID)]
	cs.mu.Lock()
	userID, ok := cs.owners[connID]
	delete(cs.owners, connID)
	cs.mu.Unlock()
	if !ok {
		return
	}

	us := &r.users[shardOf(userID)]
	us.mu.Lock()
	rec := us.users[userID]
	// Connect may not have reached the user record yet.
	if rec == nil || rec.conns[connID] == nil {
		us.mu.Unlock()
		return
	}
	delete(rec.conns, connID)
	last := len(rec.conns) == 0
	var seen time.Time
	if last {
		seen = r.now()
		rec.lastSeen = seen
	}
	us.mu.Unlock()

	metrics.Connections.Dec()
	if !last {
		return
	}
	metrics.OnlineUsers.Dec()
	r.log.Info("user offline", "user_id", userID, "conn_id", connID)
	if r.mirrorOffline(userID, seen) {
		r.notify(model.UserStatus{UserID: userID, Online: false, LastSeen: &seen})
	}
}

func (r *Registry) notify(status model.UserStatus) {
	if r.notifier == nil {
		return
	}
	recipients := slices.DeleteFunc(r.OnlineUsers(), func(u string) bool { return u == status.UserID })
	r.notifier.StatusChanged(status, recipients)
}

func (r *Registry) IsOnline(userID string) bool {
	us := &r.users[shardOf(userID)]
	us.mu.RLock()
	defer us.mu.RUnlock()
	rec := us.users[userID]
	return rec != nil && len(rec.conns) > 0
}

// ListConnections returns a snapshot of the user's live connections.
func (r *Registry) ListConnections(userID string) []Conn {
	us := &r.users[shardOf(userID)]
	us.mu.RLock()
	defer us.mu.RUnlock()
	rec := us.users[userID]
	if rec == nil {
		return nil
	}
	out := make([]Conn, 0, len(rec.conns))
	for _, c := range rec.conns {
		out = append(out, c)
	}
	return out
}

// LastSeen returns when the user last went offline on this node.
func (r *Registry) LastSeen(userID string) (time.Time, bool) {
	us := &r.users[shardOf(userID)]
	us.mu.RLock()
	defer us.mu.RUnlock()
	rec := us.users[userID]
	if rec == nil || rec.lastSeen.IsZero() {
		return time.Time{}, false
	}
	return rec.lastSeen, true
}

// Status reports whether userID is online here and, if not, when it was
// last seen.
func (r *Registry) Status(_ context.Context, userID string) (bool, *time.Time) {
	if r.IsOnline(userID) {
		return true, nil
	}
	if t, ok := r.LastSeen(userID); ok {
		return false, &t
	}
	return false, nil
}

// OnlineUsers returns every user with a live connection, sorted.
func (r *Registry) OnlineUsers() []string {
	var out []string
	for i := range r.users {
		us := &r.users[i]
		us.mu.RLock()
		for id, rec := range us.users {
			if len(rec.conns) > 0 {
				out = append(out, id)
			}
		}
		us.mu.RUnlock()
	}
	slices.Sort(out)
	return out
}
