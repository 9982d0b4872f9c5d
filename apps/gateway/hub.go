package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/mahaj/chatsync/pkg/auth"
	"github.com/mahaj/chatsync/pkg/chat"
	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/fanout"
	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/presence"
	"github.com/mahaj/chatsync/pkg/relay"
)

// Directory mirrors presence across gateways.
type Directory interface {
	presence.Mirror
	OnlineUsers(ctx context.Context) ([]string, error)
}

// Hub owns the connections of this gateway. Events reach it through
// Deliver, from the relay consumer or directly in single-node setups.
type Hub struct {
	registry  *presence.Registry
	local     *fanout.LocalTransport
	directory Directory
	svc       *chat.Service
	pub       chat.Publisher
	auth      *auth.Authenticator
	log       *logging.Logger
}

// NewHub wires a registry whose status changes are published through pub.
// directory may be nil, in which case only local users are told.
func NewHub(svc *chat.Service, pub chat.Publisher, directory Directory, authn *auth.Authenticator, log *logging.Logger) *Hub {
	h := &Hub{
		directory: directory,
		svc:       svc,
		pub:       pub,
		auth:      authn,
		log:       log.With("component", "hub"),
	}
	var mirror presence.Mirror
	if directory != nil {
		mirror = directory
	}
	h.registry = presence.NewRegistry(presence.NotifierFunc(h.statusChanged), mirror, log)
	h.local = fanout.NewLocalTransport(h.registry, log)
	return h
}

// Deliver writes to the recipients connected here. It is the hub's
// fanout.Transport.
func (h *Hub) Deliver(ctx context.Context, d fanout.Delivery) error {
	return h.local.Deliver(ctx, d)
}

// Relay handles one record from the relay topic.
func (h *Hub) Relay(ctx context.Context, env relay.Envelope) {
	err := h.Deliver(ctx, env.Delivery())
	if err != nil && !errors.Is(err, chaterr.ErrTransportUnavailable) {
		h.log.Warn("relay delivery failed", "type", env.Type, "error", err)
	}
}

func (h *Hub) register(c *Client) {
	h.registry.Connect(c.userID, c.id, c)

	online := h.onlineUsers(context.Background())
	data, err := json.Marshal(model.Event{Type: model.EventOnlineUsers, Payload: model.OnlineUsers{UserIDs: online}})
	if err != nil {
		h.log.Error("marshal online users", "error", err)
		return
	}
	c.Send(data)
}

func (h *Hub) unregister(c *Client) {
	h.registry.Disconnect(c.id)
	c.close()

	// Nobody else will clear an indicator left on by a dropped connection.
	for _, convID := range c.typingIn() {
		if err := h.svc.Typing(context.Background(), convID, c.userID, false); err != nil {
			h.log.Debug("clear typing", "conversation_id", convID, "error", err)
		}
	}
}

func (h *Hub) onlineUsers(ctx context.Context) []string {
	if h.directory != nil {
		users, err := h.directory.OnlineUsers(ctx)
		if err == nil {
			slices.Sort(users)
			return users
		}
		h.log.Warn("online users from directory", "error", err)
	}
	return h.registry.OnlineUsers()
}

// statusChanged tells every online user, on any gateway, that a user came
// online or went offline.
func (h *Hub) statusChanged(status model.UserStatus, recipients []string) {
	if h.directory != nil {
		recipients = slices.DeleteFunc(h.onlineUsers(context.Background()), func(u string) bool {
			return u == status.UserID
		})
	}
	if len(recipients) == 0 {
		return
	}
	h.pub.PublishTo(context.Background(), recipients, model.Event{Type: model.EventUserStatus, Payload: status})
}

// handleCommand executes one command read from c.
func (h *Hub) handleCommand(ctx context.Context, c *Client, cmd model.Command) error {
	switch cmd.Type {
	case model.CommandTyping:
		var p model.TypingCommand
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return chaterr.Invalid("typing payload: %v", err)
		}
		if err := h.svc.Typing(ctx, p.ConversationID, c.userID, p.IsTyping); err != nil {
			return err
		}
		c.setTyping(p.ConversationID, p.IsTyping)
		return nil

	case model.CommandSeen, model.CommandAck:
		var p model.ReceiptCommand
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return chaterr.Invalid("%s payload: %v", cmd.Type, err)
		}
		mark := h.svc.MarkDelivered
		if cmd.Type == model.CommandSeen {
			mark = h.svc.MarkRead
		}
		_, err := mark(ctx, p.ConversationID, c.userID, p.MessageIDs)
		return err
	}
	return fmt.Errorf("unknown command %q: %w", cmd.Type, chaterr.ErrInvalidArgument)
}
