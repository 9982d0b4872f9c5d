package chat

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/metrics"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type SendRequest struct {
	ConversationID int64
	Sender         string
	Kind           model.MessageKind
	Body           string
	Attachment     *model.Attachment
	ReplyTo        *int64
}

type DeleteScope int

const (
	ForMe DeleteScope = iota
	ForEveryone
)

// Send commits a new message, moves the conversation to the top of its
// participants' lists and announces the message to everyone but the sender.
func (s *Service) Send(ctx context.Context, req SendRequest) (*model.Message, error) {
	if req.Kind == "" {
		req.Kind = model.KindText
	}
	if req.Kind == model.KindSystem || !req.Kind.Valid() {
		return nil, chaterr.Invalid("message kind %q", req.Kind)
	}
	return s.send(ctx, req)
}

func (s *Service) send(ctx context.Context, req SendRequest) (*model.Message, error) {
	req.Body = strings.TrimSpace(req.Body)
	switch {
	case req.Kind == model.KindText && req.Body == "":
		return nil, chaterr.Invalid("empty message")
	case req.Kind != model.KindText && req.Kind != model.KindSystem && req.Attachment == nil:
		return nil, chaterr.Invalid("%s message without attachment", req.Kind)
	}

	conv, err := s.conversationFor(ctx, req.ConversationID, req.Sender)
	if err != nil {
		return nil, err
	}
	if req.ReplyTo != nil {
		parent, err := s.store.GetMessage(ctx, *req.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("reply to %d: %w", *req.ReplyTo, err)
		}
		if parent.ConversationID != conv.ID {
			return nil, fmt.Errorf("reply to %d: %w", *req.ReplyTo, chaterr.ErrMessageNotFound)
		}
	}

	now := s.now()
	m := &model.Message{
		ID:             s.ids.Generate(),
		ConversationID: conv.ID,
		Sender:         req.Sender,
		Kind:           req.Kind,
		Body:           req.Body,
		Attachment:     req.Attachment,
		ReplyTo:        req.ReplyTo,
		CreatedAt:      now,
		Reactions:      []model.Reaction{},
		DeliveredTo:    []string{},
		ReadBy:         []string{},
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	metrics.MessagesSent.WithLabelValues(string(m.Kind)).Inc()

	_, err = s.store.UpdateConversation(ctx, conv.ID, func(c *model.Conversation) error {
		if c.LastMessageID == nil || *c.LastMessageID < m.ID {
			id := m.ID
			c.LastMessageID = &id
		}
		if now.After(c.UpdatedAt) {
			c.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		// The message is committed; the summary catches up on the next send.
		s.log.Error("bump conversation", "conversation_id", conv.ID, "message_id", m.ID, "error", err)
	}

	s.pub.Publish(ctx, conv.ID, model.Event{Type: model.EventNewMessage, Payload: m.ViewFor("")}, m.Sender)
	return m, nil
}

var (
	imageExt = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
	videoExt = []string{".mp4", ".webm", ".mov"}
	audioExt = []string{".mp3", ".wav", ".ogg", ".m4a"}
)

// ClassifyAttachment picks a message kind from an upload's mime category
// ("image", "video/mp4", ...), falling back to the file extension.
func ClassifyAttachment(mimeCategory, fileName string) model.MessageKind {
	category, _, _ := strings.Cut(strings.ToLower(mimeCategory), "/")
	switch category {
	case "image":
		return model.KindImage
	case "video":
		return model.KindVideo
	case "audio":
		return model.KindAudio
	}
	ext := strings.ToLower(path.Ext(fileName))
	switch {
	case slices.Contains(imageExt, ext):
		return model.KindImage
	case slices.Contains(videoExt, ext):
		return model.KindVideo
	case slices.Contains(audioExt, ext):
		return model.KindAudio
	}
	return model.KindFile
}

// SendAttachment sends an uploaded file as a media message with an
// optional caption.
func (s *Service) SendAttachment(ctx context.Context, conversationID int64, sender string, up model.Upload, caption string) (*model.Message, error) {
	if up.URL == "" {
		return nil, chaterr.Invalid("upload without url")
	}
	return s.Send(ctx, SendRequest{
		ConversationID: conversationID,
		Sender:         sender,
		Kind:           ClassifyAttachment(up.MimeCategory, up.OriginalName),
		Body:           caption,
		Attachment:     &model.Attachment{URL: up.URL, Name: up.OriginalName, SizeBytes: up.SizeBytes},
	})
}

// MarkDelivered records that viewer's device received the given messages,
// or every message of the conversation when ids is empty. It returns the
// ids that were not yet delivered and tells their authors.
func (s *Service) MarkDelivered(ctx context.Context, conversationID int64, viewer string, ids []int64) ([]int64, error) {
	byAuthor, changed, err := s.applyReceipt(ctx, conversationID, viewer, ids,
		func(m *model.Message) bool { return !m.IsDeliveredTo(viewer) },
		func(m *model.Message) bool { return m.MarkDelivered(viewer) })
	if err != nil {
		return nil, err
	}
	metrics.ReceiptsApplied.WithLabelValues("delivered").Add(float64(len(changed)))
	for author, mids := range byAuthor {
		s.pub.PublishTo(ctx, []string{author}, model.Event{
			Type:    model.EventMessagesDelivered,
			Payload: model.MessagesDelivered{ConversationID: conversationID, DeliveredTo: viewer, MessageIDs: mids},
		})
	}
	return changed, nil
}

// MarkRead records that viewer has read the given messages, or every
// message of the conversation when ids is empty. Reading implies delivery.
// Each author of a newly read message receives one messages_read event
// listing only their own messages.
func (s *Service) MarkRead(ctx context.Context, conversationID int64, viewer string, ids []int64) ([]int64, error) {
	byAuthor, changed, err := s.applyReceipt(ctx, conversationID, viewer, ids,
		func(m *model.Message) bool { return !m.IsReadBy(viewer) },
		func(m *model.Message) bool { return m.MarkRead(viewer) })
	if err != nil {
		return nil, err
	}
	metrics.ReceiptsApplied.WithLabelValues("read").Add(float64(len(changed)))
	for author, mids := range byAuthor {
		s.pub.PublishTo(ctx, []string{author}, model.Event{
			Type:    model.EventMessagesRead,
			Payload: model.MessagesRead{ConversationID: conversationID, ReadBy: viewer, MessageIDs: mids},
		})
	}
	return changed, nil
}

// applyReceipt runs mark on each candidate message. Ids outside the
// conversation and the viewer's own messages are ignored.
func (s *Service) applyReceipt(ctx context.Context, conversationID int64, viewer string, ids []int64,
	pending func(*model.Message) bool, mark func(*model.Message) bool) (map[string][]int64, []int64, error) {
	if _, err := s.conversationFor(ctx, conversationID, viewer); err != nil {
		return nil, nil, err
	}

	if len(ids) == 0 {
		msgs, err := s.store.FindMessages(ctx, store.MessageQuery{ConversationID: conversationID})
		if err != nil {
			return nil, nil, err
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			if m := msgs[i]; m.Sender != viewer && pending(m) {
				ids = append(ids, m.ID)
			}
		}
	}

	byAuthor := make(map[string][]int64)
	var changed []int64
	for _, id := range slices.Compact(slices.Sorted(slices.Values(ids))) {
		m, err := s.store.UpdateMessage(ctx, id, func(m *model.Message) error {
			if m.ConversationID != conversationID || !mark(m) {
				return errUnchanged
			}
			return nil
		})
		switch {
		case errors.Is(err, errUnchanged), errors.Is(err, chaterr.ErrNotFound):
			continue
		case err != nil:
			return nil, nil, err
		}
		byAuthor[m.Sender] = append(byAuthor[m.Sender], m.ID)
		changed = append(changed, m.ID)
	}
	return byAuthor, changed, nil
}

// Edit replaces the body of requester's own message.
func (s *Service) Edit(ctx context.Context, messageID int64, requester, body string) (*model.Message, error) {
	body = strings.TrimSpace(body)
	now := s.now()
	m, err := s.store.UpdateMessage(ctx, messageID, func(m *model.Message) error {
		switch {
		case m.Sender != requester:
			return chaterr.ErrNotOwner
		case m.DeletedGlobally:
			return chaterr.ErrDeleted
		case m.Kind == model.KindSystem:
			return fmt.Errorf("system message: %w", chaterr.ErrInvalidState)
		case body == "" && m.Attachment == nil:
			return chaterr.Invalid("empty message")
		}
		m.Body = body
		m.EditedAt = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("edit %d: %w", messageID, err)
	}

	s.pub.Publish(ctx, m.ConversationID, model.Event{
		Type:    model.EventMessageEdited,
		Payload: model.MessageEdited{MessageID: m.ID, ConversationID: m.ConversationID, Text: m.Body, EditedAt: now},
	}, "")
	return m, nil
}

// Delete hides a message for requester only, or tombstones it for every
// participant. Only the sender may delete for everyone.
func (s *Service) Delete(ctx context.Context, messageID int64, requester string, scope DeleteScope) error {
	if scope == ForMe {
		return s.hide(ctx, messageID, requester)
	}

	m, err := s.store.UpdateMessage(ctx, messageID, func(m *model.Message) error {
		if m.Sender != requester {
			return chaterr.ErrNotOwner
		}
		if m.DeletedGlobally {
			return errUnchanged
		}
		m.Tombstone()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %d: %w", messageID, err)
	}

	s.pub.Publish(ctx, m.ConversationID, model.Event{
		Type:    model.EventMessageDeleted,
		Payload: model.MessageDeleted{MessageID: m.ID, ConversationID: m.ConversationID},
	}, "")
	return nil
}

func (s *Service) hide(ctx context.Context, messageID int64, requester string) error {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("delete %d: %w", messageID, err)
	}
	if _, err := s.conversationFor(ctx, m.ConversationID, requester); err != nil {
		return err
	}
	_, err = s.store.UpdateMessage(ctx, messageID, func(m *model.Message) error {
		if !m.HideFor(requester) {
			return errUnchanged
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return fmt.Errorf("delete %d for %s: %w", messageID, requester, err)
	}
	return nil
}

// React sets user's reaction, replacing any previous one. An empty emoji
// removes it.
func (s *Service) React(ctx context.Context, messageID int64, user, emoji string) (*model.Message, error) {
	emoji = strings.TrimSpace(emoji)
	current, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("react %d: %w", messageID, err)
	}
	if _, err := s.conversationFor(ctx, current.ConversationID, user); err != nil {
		return nil, err
	}

	m, err := s.store.UpdateMessage(ctx, messageID, func(m *model.Message) error {
		if m.DeletedGlobally {
			return chaterr.ErrDeleted
		}
		m.SetReaction(user, emoji)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("react %d: %w", messageID, err)
	}

	s.pub.Publish(ctx, m.ConversationID, model.Event{
		Type:    model.EventMessageReaction,
		Payload: model.MessageReaction{MessageID: m.ID, ConversationID: m.ConversationID, Reactions: m.Reactions, Version: m.Version},
	}, "")
	return m, nil
}

// ListMessages returns up to limit messages created before the given time,
// oldest first, as viewer sees them. It does not acknowledge delivery;
// clients call MarkDelivered for that.
func (s *Service) ListMessages(ctx context.Context, conversationID int64, viewer string, before *time.Time, limit int) ([]model.MessageView, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	if _, err := s.conversationFor(ctx, conversationID, viewer); err != nil {
		return nil, err
	}

	// Messages hidden for viewer do not count toward the page, so widen the
	// query until the page is full or the history is exhausted.
	var visible []*model.Message
	for fetch := limit; ; {
		msgs, err := s.store.FindMessages(ctx, store.MessageQuery{ConversationID: conversationID, Before: before, Limit: fetch})
		if err != nil {
			return nil, err
		}
		visible = slices.DeleteFunc(msgs, func(m *model.Message) bool { return m.IsHiddenFor(viewer) })
		if len(visible) >= limit || len(msgs) < fetch {
			break
		}
		fetch += limit - len(visible)
	}
	if len(visible) > limit {
		visible = visible[:limit]
	}

	out := make([]model.MessageView, len(visible))
	for i, m := range visible {
		out[len(visible)-1-i] = m.ViewFor(viewer)
	}
	return out, nil
}
