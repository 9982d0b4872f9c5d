package model

import (
	"slices"
	"time"
)

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindVideo  MessageKind = "video"
	KindAudio  MessageKind = "audio"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio, KindFile, KindSystem:
		return true
	}
	return false
}

// TombstoneBody is what viewers see in place of a globally deleted message.
const TombstoneBody = "[deleted]"

type Attachment struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

type Reaction struct {
	User  string `json:"user"`
	Emoji string `json:"emoji"`
}

type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	Sender         string      `json:"sender"`
	Kind           MessageKind `json:"kind"`
	Body           string      `json:"body"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	ReplyTo        *int64      `json:"reply_to,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`

	// At most one reaction per user, in the order users first reacted.
	Reactions []Reaction `json:"reactions"`

	DeliveredTo     []string `json:"delivered_to"`
	ReadBy          []string `json:"read_by"`
	DeletedGlobally bool     `json:"deleted_globally"`
	DeletedFor      []string `json:"deleted_for,omitempty"`

	// Version increases on every committed mutation.
	Version int64 `json:"version"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		c.ReplyTo = &r
	}
	if m.EditedAt != nil {
		e := *m.EditedAt
		c.EditedAt = &e
	}
	c.Reactions = slices.Clone(m.Reactions)
	c.DeliveredTo = slices.Clone(m.DeliveredTo)
	c.ReadBy = slices.Clone(m.ReadBy)
	c.DeletedFor = slices.Clone(m.DeletedFor)
	return &c
}

func (m *Message) IsDeliveredTo(user string) bool { return slices.Contains(m.DeliveredTo, user) }
func (m *Message) IsReadBy(user string) bool      { return slices.Contains(m.ReadBy, user) }
func (m *Message) IsHiddenFor(user string) bool   { return slices.Contains(m.DeletedFor, user) }

// MarkDelivered adds user to DeliveredTo. It reports whether the set changed.
func (m *Message) MarkDelivered(user string) bool {
	if user == m.Sender || m.IsDeliveredTo(user) {
		return false
	}
	m.DeliveredTo = append(m.DeliveredTo, user)
	return true
}

// MarkRead adds user to ReadBy and, since reading proves receipt, to
// DeliveredTo. It reports whether ReadBy changed.
func (m *Message) MarkRead(user string) bool {
	if user == m.Sender {
		return false
	}
	m.MarkDelivered(user)
	if m.IsReadBy(user) {
		return false
	}
	m.ReadBy = append(m.ReadBy, user)
	return true
}

// HideFor records a per-viewer deletion.
func (m *Message) HideFor(user string) bool {
	if m.IsHiddenFor(user) {
		return false
	}
	m.DeletedFor = append(m.DeletedFor, user)
	return true
}

// SetReaction replaces any reaction by user. An empty emoji removes it.
func (m *Message) SetReaction(user, emoji string) {
	i := slices.IndexFunc(m.Reactions, func(r Reaction) bool { return r.User == user })
	switch {
	case emoji == "" && i >= 0:
		m.Reactions = slices.Delete(m.Reactions, i, i+1)
	case emoji == "":
	case i >= 0:
		m.Reactions[i].Emoji = emoji
	default:
		m.Reactions = append(m.Reactions, Reaction{User: user, Emoji: emoji})
	}
}

// Tombstone clears content for everyone. Reactions are kept.
func (m *Message) Tombstone() {
	m.DeletedGlobally = true
	m.Body = ""
	m.Attachment = nil
}

// MessageView is a message as rendered for one viewer.
type MessageView struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	Sender         string      `json:"sender"`
	Kind           MessageKind `json:"kind"`
	Body           string      `json:"body"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	ReplyTo        *int64      `json:"reply_to,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	Reactions      []Reaction  `json:"reactions"`
	DeliveredTo    []string    `json:"delivered_to"`
	ReadBy         []string    `json:"read_by"`
	Deleted        bool        `json:"deleted"`
	IsMine         bool        `json:"is_mine"`
	Version        int64       `json:"version"`
}

// ViewFor renders m for viewer, replacing globally deleted content with a tombstone.
func (m *Message) ViewFor(viewer string) MessageView {
	c := m.Clone()
	v := MessageView{
		ID:             c.ID,
		ConversationID: c.ConversationID,
		Sender:         c.Sender,
		Kind:           c.Kind,
		Body:           c.Body,
		Attachment:     c.Attachment,
		ReplyTo:        c.ReplyTo,
		CreatedAt:      c.CreatedAt,
		EditedAt:       c.EditedAt,
		Reactions:      c.Reactions,
		DeliveredTo:    c.DeliveredTo,
		ReadBy:         c.ReadBy,
		IsMine:         c.Sender == viewer,
		Version:        c.Version,
	}
	if v.Reactions == nil {
		v.Reactions = []Reaction{}
	}
	if c.DeletedGlobally {
		v.Deleted = true
		v.Body = TombstoneBody
		v.Attachment = nil
		v.Reactions = []Reaction{}
	}
	return v
}

// Upload is what the upload collaborator hands over for an attachment.
type Upload struct {
	URL          string `json:"url"`
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
	MimeCategory string `json:"mime_category"`
}
