package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/store"
)

type published struct {
	conversationID int64
	users          []string
	ev             model.Event
	exclude        string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingPublisher) Publish(_ context.Context, conversationID int64, ev model.Event, exclude string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{conversationID: conversationID, ev: ev, exclude: exclude})
}

func (r *recordingPublisher) PublishTo(_ context.Context, users []string, ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{users: users, ev: ev})
}

func (r *recordingPublisher) ofType(t model.EventType) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, p := range r.events {
		if p.ev.Type == t {
			out = append(out, p)
		}
	}
	return out
}

type sequence struct{ n atomic.Int64 }

func (s *sequence) Generate() int64 { return 1000 + s.n.Add(1) }

// clock advances one second on every reading.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store *store.Memory
	pub   *recordingPublisher
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	profiles := store.NewMemoryProfiles(
		model.User{ID: "alice", Name: "Alice"},
		model.User{ID: "bob", Name: "Bob", Avatar: "bob.png"},
		model.User{ID: "carol", Name: "Carol"},
	)
	pub := &recordingPublisher{}
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(st, profiles, pub, &sequence{}, logging.Discard())
	svc.now = c.now
	return &fixture{svc: svc, store: st, pub: pub, clock: c}
}

func (f *fixture) direct(t *testing.T, a, b string) *model.Conversation {
	t.Helper()
	c, _, err := f.svc.OpenDirect(context.Background(), a, b)
	require.NoError(t, err)
	return c
}

func (f *fixture) send(t *testing.T, convID int64, sender, body string) *model.Message {
	t.Helper()
	m, err := f.svc.Send(context.Background(), SendRequest{ConversationID: convID, Sender: sender, Body: body})
	require.NoError(t, err)
	return m
}
