package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionReplacesPreviousOne(t *testing.T) {
	m := &Message{Sender: "a"}
	m.SetReaction("a", "👍")
	m.SetReaction("b", "😂")
	m.SetReaction("a", "❤️")

	require.Len(t, m.Reactions, 2)
	assert.Equal(t, Reaction{User: "a", Emoji: "❤️"}, m.Reactions[0])

	m.SetReaction("a", "")
	assert.Equal(t, []Reaction{{User: "b", Emoji: "😂"}}, m.Reactions)

	m.SetReaction("c", "")
	assert.Len(t, m.Reactions, 1)
}

func TestMarkReadImpliesDelivered(t *testing.T) {
	m := &Message{Sender: "a"}
	assert.True(t, m.MarkRead("b"))
	assert.True(t, m.IsDeliveredTo("b"))
	assert.False(t, m.MarkRead("b"))
	assert.False(t, m.MarkDelivered("b"))

	assert.False(t, m.MarkRead("a"), "sender never receives its own receipts")
	assert.Empty(t, m.ReadBy[1:])
}

func TestTombstoneView(t *testing.T) {
	m := &Message{
		ID: 1, Sender: "a", Kind: KindImage, Body: "caption",
		Attachment: &Attachment{URL: "/u/1.png", Name: "1.png", SizeBytes: 10},
	}
	m.SetReaction("b", "👍")
	m.Tombstone()

	assert.Empty(t, m.Body)
	assert.Nil(t, m.Attachment)
	assert.Len(t, m.Reactions, 1, "reactions are retained")

	v := m.ViewFor("b")
	assert.True(t, v.Deleted)
	assert.Equal(t, TombstoneBody, v.Body)
	assert.Nil(t, v.Attachment)
	assert.Empty(t, v.Reactions)
	assert.False(t, v.IsMine)
}

func TestCloneDoesNotShare(t *testing.T) {
	m := &Message{Sender: "a", ReadBy: []string{"b"}}
	c := m.Clone()
	c.ReadBy[0] = "z"
	assert.Equal(t, "b", m.ReadBy[0])
}

func TestConversationOverlays(t *testing.T) {
	now := time.Now()
	c := &Conversation{Participants: []string{"a", "b"}}

	c.SetMuted("a", now.Add(time.Hour))
	assert.True(t, c.IsMuted("a", now))
	assert.False(t, c.IsMuted("a", now.Add(2*time.Hour)), "expired mute reads as unmuted")
	c.SetMuted("a", time.Time{})
	assert.False(t, c.IsMuted("a", now))

	c.SetArchived("b", true)
	c.SetArchived("b", true)
	assert.Equal(t, []string{"b"}, c.ArchivedBy)
	c.SetArchived("b", false)
	assert.False(t, c.IsArchived("b"))

	assert.Equal(t, []string{"b"}, c.Others("a"))
	assert.Equal(t, DirectKey("b", "a"), DirectKey("a", "b"))
}

func TestDecodeEvent(t *testing.T) {
	data, err := json.Marshal(Event{Type: EventMessagesRead, Payload: MessagesRead{ConversationID: 3, ReadBy: "b", MessageIDs: []int64{1, 2}}})
	require.NoError(t, err)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)
	p, ok := ev.Payload.(*MessagesRead)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, p.MessageIDs)

	_, err = DecodeEvent([]byte(`{"type":"nope","payload":{}}`))
	assert.Error(t, err)
}
