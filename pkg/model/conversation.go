package model

import (
	"maps"
	"slices"
	"time"
)

type ConversationKind string

const (
	Direct ConversationKind = "direct"
	Group  ConversationKind = "group"
)

type Conversation struct {
	ID           int64            `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Participants []string         `json:"participants"`

	// Group only.
	Name        string   `json:"name,omitempty"`
	Avatar      string   `json:"avatar,omitempty"`
	Description string   `json:"description,omitempty"`
	Admins      []string `json:"admins,omitempty"`
	CreatedBy   string   `json:"created_by,omitempty"`

	LastMessageID *int64 `json:"last_message_id,omitempty"`

	// Per-viewer overlays, never shown to other participants.
	MutedUntil map[string]time.Time `json:"muted_until,omitempty"`
	ArchivedBy []string             `json:"archived_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	cp.Admins = slices.Clone(c.Admins)
	cp.ArchivedBy = slices.Clone(c.ArchivedBy)
	cp.MutedUntil = maps.Clone(c.MutedUntil)
	if c.LastMessageID != nil {
		id := *c.LastMessageID
		cp.LastMessageID = &id
	}
	return &cp
}

func (c *Conversation) HasParticipant(user string) bool {
	return slices.Contains(c.Participants, user)
}

// Others returns every participant except user.
func (c *Conversation) Others(user string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != user {
			out = append(out, p)
		}
	}
	return out
}

// IsMuted treats an expired mute as unmuted without needing a cleanup pass.
func (c *Conversation) IsMuted(user string, now time.Time) bool {
	until, ok := c.MutedUntil[user]
	return ok && until.After(now)
}

func (c *Conversation) IsArchived(user string) bool {
	return slices.Contains(c.ArchivedBy, user)
}

func (c *Conversation) SetArchived(user string, archived bool) {
	i := slices.Index(c.ArchivedBy, user)
	switch {
	case archived && i < 0:
		c.ArchivedBy = append(c.ArchivedBy, user)
	case !archived && i >= 0:
		c.ArchivedBy = slices.Delete(c.ArchivedBy, i, i+1)
	}
}

// SetMuted mutes user until the given time. A zero time unmutes.
func (c *Conversation) SetMuted(user string, until time.Time) {
	if until.IsZero() {
		delete(c.MutedUntil, user)
		return
	}
	if c.MutedUntil == nil {
		c.MutedUntil = make(map[string]time.Time)
	}
	c.MutedUntil[user] = until
}

// DirectKey names the unordered pair {a, b}.
func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// User is a read-only profile owned by the profile service.
type User struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Avatar   string     `json:"avatar,omitempty"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type DisplayIdentity struct {
	Name     string     `json:"name"`
	Avatar   string     `json:"avatar,omitempty"`
	IsGroup  bool       `json:"is_group"`
	UserID   string     `json:"user_id,omitempty"`
	Online   bool       `json:"online,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type Preview struct {
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	Sender    string      `json:"sender"`
	CreatedAt time.Time   `json:"created_at"`
	Deleted   bool        `json:"deleted"`
}

// ConversationSummary is derived per viewer on every read and never stored.
type ConversationSummary struct {
	ConversationID     int64            `json:"conversation_id"`
	Kind               ConversationKind `json:"kind"`
	DisplayIdentity    DisplayIdentity  `json:"display"`
	LastMessagePreview *Preview         `json:"last_message,omitempty"`
	UnreadCount        int              `json:"unread_count"`
	IsMuted            bool             `json:"is_muted"`
	IsArchived         bool             `json:"is_archived"`
	UpdatedAt          time.Time        `json:"updated_at"`
}
