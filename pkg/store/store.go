// Package store persists conversations, messages and user profiles.
//
// Every mutation of an existing record goes through UpdateConversation or
// UpdateMessage, which run a read-modify-write closure serialized per
// record. If the closure returns an error nothing is written.
package store

import (
	"context"
	"time"

	"github.com/mahaj/chatsync/pkg/model"
)

// MessageQuery selects messages of one conversation, newest first.
type MessageQuery struct {
	ConversationID int64
	// Before, when set, keeps only messages created strictly earlier.
	Before *time.Time
	// Limit <= 0 returns every match.
	Limit int
}

type Store interface {
	CreateConversation(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id int64) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, id int64, fn func(*model.Conversation) error) (*model.Conversation, error)
	FindConversationsByUser(ctx context.Context, user string) ([]*model.Conversation, error)

	// FindDirect returns the direct conversation between a and b, or
	// chaterr.ErrConversationNotFound.
	FindDirect(ctx context.Context, a, b string) (*model.Conversation, error)
	// ClaimDirect stores c unless a direct conversation already exists for
	// its participant pair, in which case the existing one is returned.
	ClaimDirect(ctx context.Context, c *model.Conversation) (*model.Conversation, bool, error)

	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	UpdateMessage(ctx context.Context, id int64, fn func(*model.Message) error) (*model.Message, error)
	FindMessages(ctx context.Context, q MessageQuery) ([]*model.Message, error)
}

// Profiles is the read-only user directory.
type Profiles interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// ProfileStore is a Profiles that also accepts registrations.
type ProfileStore interface {
	Profiles
	PutUser(ctx context.Context, u model.User) error
}
