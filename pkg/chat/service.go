// Package chat implements the commands and queries of the messaging core:
// sending and mutating messages, delivery and read receipts, and the
// per-viewer conversation summaries derived from them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/store"
)

// Publisher hands events to the fan-out layer. Both calls return at once.
type Publisher interface {
	Publish(ctx context.Context, conversationID int64, ev model.Event, exclude string)
	PublishTo(ctx context.Context, users []string, ev model.Event)
}

// Presence answers whether a user is online, for display identities.
type Presence interface {
	Status(ctx context.Context, user string) (online bool, lastSeen *time.Time)
}

type IDGenerator interface {
	Generate() int64
}

type Service struct {
	store    store.Store
	profiles store.Profiles
	presence Presence
	pub      Publisher
	ids      IDGenerator
	log      *logging.Logger
	now      func() time.Time
}

func NewService(st store.Store, profiles store.Profiles, pub Publisher, ids IDGenerator, log *logging.Logger) *Service {
	return &Service{
		store:    st,
		profiles: profiles,
		pub:      pub,
		ids:      ids,
		log:      log.With("component", "chat"),
		now:      time.Now,
	}
}

// SetPresence enables online/last-seen overlays on direct conversations.
func (s *Service) SetPresence(p Presence) {
	s.presence = p
}

// errUnchanged aborts an update closure whose change is already applied,
// so idempotent commands neither write nor broadcast.
var errUnchanged = errors.New("unchanged")

// conversationFor loads a conversation and checks that user belongs to it.
func (s *Service) conversationFor(ctx context.Context, id int64, user string) (*model.Conversation, error) {
	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(user) {
		return nil, fmt.Errorf("conversation %d, user %s: %w", id, user, chaterr.ErrNotParticipant)
	}
	return c, nil
}

func (s *Service) displayName(ctx context.Context, user string) string {
	if u, err := s.profiles.GetUser(ctx, user); err == nil && u.Name != "" {
		return u.Name
	}
	return user
}
