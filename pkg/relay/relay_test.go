package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatsync/pkg/model"
)

func TestEnvelopeKeepsEventBytes(t *testing.T) {
	event := []byte(`{"type":"user_typing","payload":{"conversation_id":4,"user_id":"a","is_typing":true}}`)
	value, err := json.Marshal(Envelope{ConversationID: 4, Recipients: []string{"b"}, Type: model.EventUserTyping, Event: event})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(value, &env))
	d := env.Delivery()
	assert.Equal(t, int64(4), d.ConversationID)
	assert.Equal(t, []string{"b"}, d.Recipients)
	assert.JSONEq(t, string(event), string(d.Data))

	ev, err := model.DecodeEvent(d.Data)
	require.NoError(t, err)
	assert.True(t, ev.Payload.(*model.UserTyping).IsTyping)
}
