// Package fanout delivers events to every live connection of a set of
// users. Delivery is at most once: events are handed to a bounded queue and
// dropped, never retried, when the queue or a connection buffer is full.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/metrics"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/store"
)

// Delivery is one encoded event addressed to a set of users.
type Delivery struct {
	ConversationID int64
	Recipients     []string
	Type           model.EventType
	Data           []byte
}

type Transport interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Participants resolves the members of a conversation.
type Participants interface {
	Participants(ctx context.Context, conversationID int64) ([]string, error)
}

type storeParticipants struct {
	store store.Store
}

// StoreParticipants reads participant lists from s.
func StoreParticipants(s store.Store) Participants {
	return storeParticipants{store: s}
}

func (p storeParticipants) Participants(ctx context.Context, conversationID int64) ([]string, error) {
	c, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return c.Participants, nil
}

type job struct {
	ctx            context.Context
	conversationID int64
	users          []string
	exclude        string
	event          model.Event
}

type Broadcaster struct {
	source    Participants
	transport Transport
	log       *logging.Logger
	queue     chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewBroadcaster(source Participants, transport Transport, log *logging.Logger, queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Broadcaster{
		source:    source,
		transport: transport,
		log:       log.With("component", "fanout"),
		queue:     make(chan job, queueSize),
	}
}

// Start runs workers until Close.
func (b *Broadcaster) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
}

// Close stops accepting events and waits for queued ones to drain.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Publish sends ev to every participant of the conversation except
// exclude. It never blocks.
func (b *Broadcaster) Publish(ctx context.Context, conversationID int64, ev model.Event, exclude string) {
	b.enqueue(job{ctx: ctx, conversationID: conversationID, exclude: exclude, event: ev})
}

// PublishTo sends ev to an explicit list of users. It never blocks.
func (b *Broadcaster) PublishTo(ctx context.Context, users []string, ev model.Event) {
	if len(users) == 0 {
		return
	}
	b.enqueue(job{ctx: ctx, users: slices.Clone(users), event: ev})
}

// StatusChanged lets the broadcaster serve as a presence notifier.
func (b *Broadcaster) StatusChanged(status model.UserStatus, recipients []string) {
	b.PublishTo(context.Background(), recipients, model.Event{Type: model.EventUserStatus, Payload: status})
}

func (b *Broadcaster) enqueue(j job) {
	// Workers outlive the request that published.
	j.ctx = context.WithoutCancel(j.ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- j:
	default:
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		b.log.Warn("fanout queue full, dropping event", "type", j.event.Type, "conversation_id", j.conversationID)
	}
}

func (b *Broadcaster) worker() {
	defer b.wg.Done()
	for j := range b.queue {
		b.handle(j)
	}
}

func (b *Broadcaster) handle(j job) {
	users := j.users
	if users == nil {
		var err error
		users, err = b.source.Participants(j.ctx, j.conversationID)
		if err != nil {
			b.log.Error("resolve participants", "conversation_id", j.conversationID, "error", err)
			return
		}
	}
	recipients := make([]string, 0, len(users))
	for _, u := range users {
		if u != j.exclude && !slices.Contains(recipients, u) {
			recipients = append(recipients, u)
		}
	}
	if len(recipients) == 0 {
		return
	}

	data, err := json.Marshal(j.event)
	if err != nil {
		b.log.Error("encode event", "type", j.event.Type, "error", err)
		return
	}
	d := Delivery{ConversationID: j.conversationID, Recipients: recipients, Type: j.event.Type, Data: data}
	err = b.transport.Deliver(j.ctx, d)
	switch {
	case err == nil:
	case errors.Is(err, chaterr.ErrTransportUnavailable):
		b.log.Debug("no live connection for event", "type", j.event.Type, "conversation_id", j.conversationID)
	default:
		metrics.EventsDropped.WithLabelValues("transport").Inc()
		b.log.Warn("deliver event", "type", j.event.Type, "recipients", len(recipients), "error", err)
	}
}
