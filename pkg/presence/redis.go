package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKey   = "online_users"
	lastSeenKey = "presence:last_seen"
	// Number of gateways holding at least one connection, per user.
	holdersKey = "presence:holders"
)

var (
	// KEYS: holders, online. ARGV: user.
	joinScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('SADD', KEYS[2], ARGV[1])
return n
`)

	// KEYS: holders, online, last_seen. ARGV: user, last seen.
	leaveScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n > 0 then
	return n
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
return 0
`)
)

// RedisMirror keeps the set of online users and their last-seen times in
// Redis. Each gateway reports a user once when its first local connection
// opens and once when its last one closes; the user stays in the set until
// no gateway holds a connection.
type RedisMirror struct {
	rdb *redis.Client
}

func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

// SetOnline records that one more gateway holds user. It reports whether
// user just came online cluster-wide.
func (m *RedisMirror) SetOnline(ctx context.Context, user string) (bool, error) {
	n, err := joinScript.Run(ctx, m.rdb, []string{holdersKey, onlineKey}, user).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetOffline records that one gateway no longer holds user. It reports
// whether user is now offline everywhere, in which case lastSeen is stored.
func (m *RedisMirror) SetOffline(ctx context.Context, user string, lastSeen time.Time) (bool, error) {
	n, err := leaveScript.Run(ctx, m.rdb, []string{holdersKey, onlineKey, lastSeenKey},
		user, lastSeen.UTC().Format(time.RFC3339Nano)).Int64()
	if err != nil {
		return false, err
	}
	return n <= 0, nil
}

func (m *RedisMirror) IsOnline(ctx context.Context, user string) (bool, error) {
	return m.rdb.SIsMember(ctx, onlineKey, user).Result()
}

// LastSeen returns nil when the user has never gone offline.
func (m *RedisMirror) LastSeen(ctx context.Context, user string) (*time.Time, error) {
	v, err := m.rdb.HGet(ctx, lastSeenKey, user).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (m *RedisMirror) OnlineUsers(ctx context.Context) ([]string, error) {
	return m.rdb.SMembers(ctx, onlineKey).Result()
}

// Status is the cross-node counterpart of Registry.Status. Redis errors
// read as offline with an unknown last-seen time.
func (m *RedisMirror) Status(ctx context.Context, user string) (bool, *time.Time) {
	online, err := m.IsOnline(ctx, user)
	if err != nil || online {
		return online, nil
	}
	seen, err := m.LastSeen(ctx, user)
	if err != nil {
		return false, nil
	}
	return false, seen
}
