package main

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/metrics"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/relay"
	"github.com/mahaj/chatsync/pkg/store"
)

const previewRunes = 80

// OnlineChecker reports whether a user holds a connection on any gateway.
type OnlineChecker interface {
	IsOnline(ctx context.Context, user string) (bool, error)
}

// Push is one notification for an offline recipient.
type Push struct {
	UserID         string
	ConversationID int64
	MessageID      int64
	Title          string
	Body           string
}

// Notifier turns new messages for offline, unmuted recipients into push
// notifications. It stands in for a push provider by logging them.
type Notifier struct {
	store    store.Store
	profiles store.Profiles
	online   OnlineChecker
	log      *logging.Logger
	send     func(Push)
}

func NewNotifier(st store.Store, profiles store.Profiles, online OnlineChecker, log *logging.Logger) *Notifier {
	n := &Notifier{store: st, profiles: profiles, online: online, log: log.With("component", "notifier")}
	n.send = func(p Push) {
		n.log.Info("[PUSH] Sending push", "user_id", p.UserID, "conversation_id", p.ConversationID, "message_id", p.MessageID, "title", p.Title, "body", p.Body)
	}
	return n
}

// Handle is called for every relay record. Only new messages notify.
func (n *Notifier) Handle(ctx context.Context, env relay.Envelope) {
	if env.Type != model.EventNewMessage {
		return
	}
	ev, err := model.DecodeEvent(env.Event)
	if err != nil {
		n.log.Warn("Failed to decode relay event", "error", err)
		return
	}
	m, ok := ev.Payload.(*model.MessageView)
	if !ok {
		return
	}
	conv, err := n.store.GetConversation(ctx, m.ConversationID)
	if err != nil {
		n.log.Warn("Skipping push: conversation lookup failed", "conversation_id", m.ConversationID, "error", err)
		return
	}

	for _, user := range env.Recipients {
		if user == m.Sender {
			continue
		}
		online, err := n.online.IsOnline(ctx, user)
		if err != nil {
			n.log.Warn("presence lookup failed", "user_id", user, "error", err)
			continue
		}
		if online {
			continue
		}
		if conv.IsMuted(user, m.CreatedAt) {
			metrics.PushNotifications.WithLabelValues("muted").Inc()
			continue
		}
		n.send(Push{
			UserID:         user,
			ConversationID: conv.ID,
			MessageID:      m.ID,
			Title:          n.title(ctx, conv, m.Sender),
			Body:           previewOf(m),
		})
		metrics.PushNotifications.WithLabelValues("sent").Inc()
	}
}

func (n *Notifier) title(ctx context.Context, conv *model.Conversation, sender string) string {
	name := sender
	if u, err := n.profiles.GetUser(ctx, sender); err == nil && u.Name != "" {
		name = u.Name
	}
	if conv.Kind == model.Group {
		return fmt.Sprintf("%s @ %s", name, conv.Name)
	}
	return name
}

func previewOf(m *model.MessageView) string {
	body := m.Body
	if body == "" && m.Kind != model.KindText {
		return fmt.Sprintf("[%s]", m.Kind)
	}
	if utf8.RuneCountInString(body) > previewRunes {
		body = string([]rune(body)[:previewRunes]) + "…"
	}
	return body
}
