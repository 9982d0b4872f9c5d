package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/model"
)

type staticPresence map[string]bool

func (p staticPresence) Status(_ context.Context, user string) (bool, *time.Time) {
	if p[user] {
		return true, nil
	}
	seen := time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC)
	return false, &seen
}

func TestOpenDirectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, created, err := f.svc.OpenDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.Direct, c.Kind)

	again, created, err := f.svc.OpenDirect(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c.ID, again.ID)

	_, _, err = f.svc.OpenDirect(ctx, "alice", "alice")
	assert.ErrorIs(t, err, chaterr.ErrInvalidArgument)
	_, _, err = f.svc.OpenDirect(ctx, "alice", "mallory")
	assert.ErrorIs(t, err, chaterr.ErrInvalidArgument)
}

func TestOpenDirectConcurrentlyCreatesOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := make([]int64, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _, err := f.svc.OpenDirect(ctx, "alice", "carol")
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}()
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	convs, err := f.store.FindConversationsByUser(ctx, "carol")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.svc.CreateGroup(ctx, "alice", " Trip ", "weekend", []string{"bob", "carol", "bob", "alice"})
	require.NoError(t, err)
	assert.Equal(t, model.Group, g.Kind)
	assert.Equal(t, "Trip", g.Name)
	assert.Equal(t, []string{"alice", "bob", "carol"}, g.Participants)
	assert.Equal(t, []string{"alice"}, g.Admins)
	require.NotNil(t, g.LastMessageID)

	page, err := f.svc.ListMessages(ctx, g.ID, "bob", nil, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, model.KindSystem, page[0].Kind)
	assert.Equal(t, `Alice created group "Trip"`, page[0].Body)

	sent := f.pub.ofType(model.EventNewMessage)
	require.Len(t, sent, 1)
	assert.Equal(t, "alice", sent[0].exclude)

	_, err = f.svc.Edit(ctx, page[0].ID, "alice", "rename")
	assert.ErrorIs(t, err, chaterr.ErrInvalidState)

	_, err = f.svc.CreateGroup(ctx, "alice", "", "", []string{"bob"})
	assert.ErrorIs(t, err, chaterr.ErrInvalidArgument)
	_, err = f.svc.CreateGroup(ctx, "alice", "Solo", "", []string{"alice"})
	assert.ErrorIs(t, err, chaterr.ErrInvalidArgument)
}

func TestListConversationsOrderAndPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	withBob := f.direct(t, "alice", "bob")
	withCarol := f.direct(t, "alice", "carol")

	f.send(t, withCarol.ID, "carol", "first")
	f.send(t, withBob.ID, "bob", "latest")

	list, err := f.svc.ListConversations(ctx, "alice", false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, withBob.ID, list[0].ConversationID)
	assert.Equal(t, "Bob", list[0].DisplayIdentity.Name)
	assert.Equal(t, "bob.png", list[0].DisplayIdentity.Avatar)
	assert.Equal(t, "latest", list[0].LastMessagePreview.Body)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, withCarol.ID, list[1].ConversationID)

	f.send(t, withCarol.ID, "alice", "bump")
	list, err = f.svc.ListConversations(ctx, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, withCarol.ID, list[0].ConversationID)
	assert.Equal(t, 1, list[0].UnreadCount, "own messages are never unread")
}

func TestPreviewOfDeletedMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	m := f.send(t, conv.ID, "alice", "oops")
	require.NoError(t, f.svc.Delete(ctx, m.ID, "alice", ForEveryone))

	list, err := f.svc.ListConversations(ctx, "bob", false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].LastMessagePreview.Deleted)
	assert.Equal(t, model.TombstoneBody, list[0].LastMessagePreview.Body)
}

func TestArchiveIsPerViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	require.NoError(t, f.svc.SetArchived(ctx, conv.ID, "alice", true))
	require.NoError(t, f.svc.SetArchived(ctx, conv.ID, "alice", true))

	list, err := f.svc.ListConversations(ctx, "alice", false)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = f.svc.ListConversations(ctx, "alice", true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsArchived)
	archived, err := f.svc.ListArchived(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, archived, 1)

	bobs, err := f.svc.ListConversations(ctx, "bob", false)
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.False(t, bobs[0].IsArchived)

	require.NoError(t, f.svc.SetArchived(ctx, conv.ID, "alice", false))
	list, _ = f.svc.ListConversations(ctx, "alice", false)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, f.svc.SetArchived(ctx, conv.ID, "carol", true), chaterr.ErrNotParticipant)
}

func TestMuteExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	require.NoError(t, f.svc.SetMuted(ctx, conv.ID, "alice", time.Hour))
	list, err := f.svc.ListConversations(ctx, "alice", false)
	require.NoError(t, err)
	assert.True(t, list[0].IsMuted)
	bobs, _ := f.svc.ListConversations(ctx, "bob", false)
	assert.False(t, bobs[0].IsMuted)

	f.clock.advance(2 * time.Hour)
	list, err = f.svc.ListConversations(ctx, "alice", false)
	require.NoError(t, err)
	assert.False(t, list[0].IsMuted)

	require.NoError(t, f.svc.SetMuted(ctx, conv.ID, "alice", time.Hour))
	require.NoError(t, f.svc.SetMuted(ctx, conv.ID, "alice", 0))
	list, _ = f.svc.ListConversations(ctx, "alice", false)
	assert.False(t, list[0].IsMuted)

	assert.ErrorIs(t, f.svc.SetMuted(ctx, conv.ID, "alice", -time.Minute), chaterr.ErrInvalidArgument)
}

func TestDirectIdentityUsesPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	sum, err := f.svc.Summarize(ctx, conv, "alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", sum.DisplayIdentity.UserID)
	assert.False(t, sum.DisplayIdentity.IsGroup)
	assert.Nil(t, sum.LastMessagePreview)

	f.svc.SetPresence(staticPresence{"bob": true})
	sum, err = f.svc.Summarize(ctx, conv, "alice")
	require.NoError(t, err)
	assert.True(t, sum.DisplayIdentity.Online)

	sum, err = f.svc.Summarize(ctx, conv, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Alice", sum.DisplayIdentity.Name)
	assert.False(t, sum.DisplayIdentity.Online)
	assert.NotNil(t, sum.DisplayIdentity.LastSeen)
}

func TestTypingIsRelayedToOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	require.NoError(t, f.svc.Typing(ctx, conv.ID, "alice", true))
	ev := f.pub.ofType(model.EventUserTyping)
	require.Len(t, ev, 1)
	assert.Equal(t, "alice", ev[0].exclude)
	assert.Equal(t, model.UserTyping{ConversationID: conv.ID, UserID: "alice", IsTyping: true}, ev[0].ev.Payload)

	assert.ErrorIs(t, f.svc.Typing(ctx, conv.ID, "carol", true), chaterr.ErrNotParticipant)
}
