package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/relay"
	"github.com/mahaj/chatsync/pkg/store"
)

type onlineSet map[string]bool

func (o onlineSet) IsOnline(_ context.Context, user string) (bool, error) {
	if user == "broken" {
		return false, errors.New("redis down")
	}
	return o[user], nil
}

var sentAt = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func setupNotifier(t *testing.T, online onlineSet) (*Notifier, *[]Push) {
	t.Helper()
	st := store.NewMemory()
	conv := &model.Conversation{
		ID:           5,
		Kind:         model.Group,
		Name:         "Trip",
		Participants: []string{"alice", "bob", "carol", "dave", "broken"},
	}
	conv.SetMuted("dave", sentAt.Add(time.Hour))
	require.NoError(t, st.CreateConversation(context.Background(), conv))

	n := NewNotifier(st, store.NewMemoryProfiles(model.User{ID: "alice", Name: "Alice"}), online, logging.Discard())
	var pushes []Push
	n.send = func(p Push) { pushes = append(pushes, p) }
	return n, &pushes
}

func envelope(t *testing.T, typ model.EventType, payload any, recipients ...string) relay.Envelope {
	t.Helper()
	data, err := json.Marshal(model.Event{Type: typ, Payload: payload})
	require.NoError(t, err)
	return relay.Envelope{ConversationID: 5, Recipients: recipients, Type: typ, Event: data}
}

func TestNotifierPushesOnlyOfflineUnmuted(t *testing.T) {
	n, pushes := setupNotifier(t, onlineSet{"bob": true})
	msg := model.MessageView{ID: 1, ConversationID: 5, Sender: "alice", Kind: model.KindText, Body: "see you at 8", CreatedAt: sentAt}

	n.Handle(context.Background(), envelope(t, model.EventNewMessage, msg, "bob", "carol", "dave", "broken"))

	require.Len(t, *pushes, 1)
	p := (*pushes)[0]
	assert.Equal(t, "carol", p.UserID)
	assert.Equal(t, "Alice @ Trip", p.Title)
	assert.Equal(t, "see you at 8", p.Body)
}

func TestNotifierIgnoresOtherEvents(t *testing.T) {
	n, pushes := setupNotifier(t, onlineSet{})
	n.Handle(context.Background(), envelope(t, model.EventMessageDeleted, model.MessageDeleted{MessageID: 1, ConversationID: 5}, "carol"))
	n.Handle(context.Background(), relay.Envelope{Type: model.EventNewMessage, Event: []byte("{")})
	assert.Empty(t, *pushes)
}

func TestPreviewOf(t *testing.T) {
	assert.Equal(t, "[image]", previewOf(&model.MessageView{Kind: model.KindImage}))
	assert.Equal(t, "caption", previewOf(&model.MessageView{Kind: model.KindImage, Body: "caption"}))

	long := previewOf(&model.MessageView{Kind: model.KindText, Body: strings.Repeat("é", 100)})
	assert.True(t, strings.HasSuffix(long, "…"))
	assert.Equal(t, previewRunes+1, len([]rune(long)))
}
