package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/store"
)

// ListConversations summarizes viewer's conversations, most recently
// active first. Conversations viewer archived are left out unless
// includeArchived is set.
func (s *Service) ListConversations(ctx context.Context, viewer string, includeArchived bool) ([]model.ConversationSummary, error) {
	return s.summaries(ctx, viewer, func(c *model.Conversation) bool {
		return includeArchived || !c.IsArchived(viewer)
	})
}

// ListArchived summarizes only the conversations viewer archived.
func (s *Service) ListArchived(ctx context.Context, viewer string) ([]model.ConversationSummary, error) {
	return s.summaries(ctx, viewer, func(c *model.Conversation) bool { return c.IsArchived(viewer) })
}

func (s *Service) summaries(ctx context.Context, viewer string, keep func(*model.Conversation) bool) ([]model.ConversationSummary, error) {
	convs, err := s.store.FindConversationsByUser(ctx, viewer)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(convs, func(a, b *model.Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	out := make([]model.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		if !keep(c) {
			continue
		}
		sum, err := s.Summarize(ctx, c, viewer)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// Summarize derives viewer's summary of one conversation.
func (s *Service) Summarize(ctx context.Context, c *model.Conversation, viewer string) (model.ConversationSummary, error) {
	msgs, err := s.store.FindMessages(ctx, store.MessageQuery{ConversationID: c.ID})
	if err != nil {
		return model.ConversationSummary{}, fmt.Errorf("summarize %d: %w", c.ID, err)
	}

	sum := model.ConversationSummary{
		ConversationID:  c.ID,
		Kind:            c.Kind,
		DisplayIdentity: s.displayIdentity(ctx, c, viewer),
		IsMuted:         c.IsMuted(viewer, s.now()),
		IsArchived:      c.IsArchived(viewer),
		UpdatedAt:       c.UpdatedAt,
	}
	for _, m := range msgs {
		if m.IsHiddenFor(viewer) {
			continue
		}
		if sum.LastMessagePreview == nil {
			v := m.ViewFor(viewer)
			sum.LastMessagePreview = &model.Preview{
				Body:      v.Body,
				Kind:      v.Kind,
				Sender:    v.Sender,
				CreatedAt: v.CreatedAt,
				Deleted:   v.Deleted,
			}
		}
		if m.Sender != viewer && !m.IsReadBy(viewer) {
			sum.UnreadCount++
		}
	}
	return sum, nil
}

// UnreadCount counts messages viewer has neither sent, read nor hidden.
func (s *Service) UnreadCount(ctx context.Context, conversationID int64, viewer string) (int, error) {
	c, err := s.conversationFor(ctx, conversationID, viewer)
	if err != nil {
		return 0, err
	}
	sum, err := s.Summarize(ctx, c, viewer)
	if err != nil {
		return 0, err
	}
	return sum.UnreadCount, nil
}

func (s *Service) displayIdentity(ctx context.Context, c *model.Conversation, viewer string) model.DisplayIdentity {
	if c.Kind == model.Group {
		return model.DisplayIdentity{Name: c.Name, Avatar: c.Avatar, IsGroup: true}
	}

	others := c.Others(viewer)
	if len(others) == 0 {
		return model.DisplayIdentity{Name: "Unknown"}
	}
	id := model.DisplayIdentity{Name: "Unknown", UserID: others[0]}
	if u, err := s.profiles.GetUser(ctx, others[0]); err == nil {
		id.Name = u.Name
		id.Avatar = u.Avatar
		id.Online = u.Online
		id.LastSeen = u.LastSeen
	}
	if s.presence != nil {
		id.Online, id.LastSeen = s.presence.Status(ctx, others[0])
	}
	return id
}

// SetArchived archives or restores a conversation for viewer only.
func (s *Service) SetArchived(ctx context.Context, conversationID int64, viewer string, archived bool) error {
	_, err := s.store.UpdateConversation(ctx, conversationID, func(c *model.Conversation) error {
		if !c.HasParticipant(viewer) {
			return chaterr.ErrNotParticipant
		}
		if c.IsArchived(viewer) == archived {
			return errUnchanged
		}
		c.SetArchived(viewer, archived)
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return fmt.Errorf("archive %d: %w", conversationID, err)
	}
	return nil
}

// SetMuted mutes the conversation for viewer for d. Zero unmutes.
func (s *Service) SetMuted(ctx context.Context, conversationID int64, viewer string, d time.Duration) error {
	if d < 0 {
		return chaterr.Invalid("negative mute duration")
	}
	var until time.Time
	if d > 0 {
		until = s.now().Add(d)
	}
	_, err := s.store.UpdateConversation(ctx, conversationID, func(c *model.Conversation) error {
		if !c.HasParticipant(viewer) {
			return chaterr.ErrNotParticipant
		}
		c.SetMuted(viewer, until)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mute %d: %w", conversationID, err)
	}
	return nil
}

// OpenDirect returns the direct conversation between a and b, creating it
// on first use. The flag reports whether it was created.
func (s *Service) OpenDirect(ctx context.Context, a, b string) (*model.Conversation, bool, error) {
	if b == "" || a == b {
		return nil, false, chaterr.Invalid("direct conversation needs two distinct users")
	}
	if _, err := s.profiles.GetUser(ctx, b); err != nil {
		if errors.Is(err, chaterr.ErrNotFound) {
			return nil, false, chaterr.Invalid("unknown user %s", b)
		}
		return nil, false, err
	}

	c, err := s.store.FindDirect(ctx, a, b)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, chaterr.ErrNotFound) {
		return nil, false, err
	}

	now := s.now()
	return s.store.ClaimDirect(ctx, &model.Conversation{
		ID:           s.ids.Generate(),
		Kind:         model.Direct,
		Participants: []string{a, b},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// CreateGroup creates a group administered by creator and posts a system
// message announcing it, which also notifies every member.
func (s *Service) CreateGroup(ctx context.Context, creator, name, description string, members []string) (*model.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, chaterr.Invalid("group name required")
	}
	participants := []string{creator}
	for _, m := range members {
		if m != "" && !slices.Contains(participants, m) {
			participants = append(participants, m)
		}
	}
	if len(participants) < 2 {
		return nil, chaterr.Invalid("group needs at least one other member")
	}

	now := s.now()
	c := &model.Conversation{
		ID:           s.ids.Generate(),
		Kind:         model.Group,
		Participants: participants,
		Name:         name,
		Description:  strings.TrimSpace(description),
		Admins:       []string{creator},
		CreatedBy:    creator,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateConversation(ctx, c); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}

	_, err := s.send(ctx, SendRequest{
		ConversationID: c.ID,
		Sender:         creator,
		Kind:           model.KindSystem,
		Body:           fmt.Sprintf("%s created group \"%s\"", s.displayName(ctx, creator), name),
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetConversation(ctx, c.ID)
}

// Typing relays a typing indicator to the other participants. Nothing is
// stored.
func (s *Service) Typing(ctx context.Context, conversationID int64, user string, isTyping bool) error {
	if _, err := s.conversationFor(ctx, conversationID, user); err != nil {
		return err
	}
	s.pub.Publish(ctx, conversationID, model.Event{
		Type:    model.EventUserTyping,
		Payload: model.UserTyping{ConversationID: conversationID, UserID: user, IsTyping: isTyping},
	}, user)
	return nil
}
