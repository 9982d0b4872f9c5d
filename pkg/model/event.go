package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventNewMessage        EventType = "new_message"
	EventMessagesRead      EventType = "messages_read"
	EventMessagesDelivered EventType = "messages_delivered"
	EventMessageEdited     EventType = "message_edited"
	EventMessageDeleted    EventType = "message_deleted"
	EventMessageReaction   EventType = "message_reaction"
	EventUserStatus        EventType = "user_status"
	EventUserTyping        EventType = "user_typing"
	EventOnlineUsers       EventType = "online_users"
)

// Event is the unit delivered to client connections.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type MessagesRead struct {
	ConversationID int64   `json:"conversation_id"`
	ReadBy         string  `json:"read_by"`
	MessageIDs     []int64 `json:"message_ids"`
}

type MessagesDelivered struct {
	ConversationID int64   `json:"conversation_id"`
	DeliveredTo    string  `json:"delivered_to"`
	MessageIDs     []int64 `json:"message_ids"`
}

type MessageEdited struct {
	MessageID      int64     `json:"message_id"`
	ConversationID int64     `json:"conversation_id"`
	Text           string    `json:"text"`
	EditedAt       time.Time `json:"edited_at"`
}

type MessageDeleted struct {
	MessageID      int64 `json:"message_id"`
	ConversationID int64 `json:"conversation_id"`
}

type MessageReaction struct {
	MessageID      int64      `json:"message_id"`
	ConversationID int64      `json:"conversation_id"`
	Reactions      []Reaction `json:"reactions"`
	// Version of the message the list was taken from.
	Version int64 `json:"version"`
}

type UserStatus struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type UserTyping struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

type OnlineUsers struct {
	UserIDs []string `json:"user_ids"`
}

// DecodeEvent parses a wire event and resolves its payload to the concrete
// type for its name. new_message payloads decode to MessageView.
func DecodeEvent(data []byte) (Event, error) {
	var env struct {
		Type    EventType       `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, err
	}
	var payload any
	switch env.Type {
	case EventNewMessage:
		payload = &MessageView{}
	case EventMessagesRead:
		payload = &MessagesRead{}
	case EventMessagesDelivered:
		payload = &MessagesDelivered{}
	case EventMessageEdited:
		payload = &MessageEdited{}
	case EventMessageDeleted:
		payload = &MessageDeleted{}
	case EventMessageReaction:
		payload = &MessageReaction{}
	case EventUserStatus:
		payload = &UserStatus{}
	case EventUserTyping:
		payload = &UserTyping{}
	case EventOnlineUsers:
		payload = &OnlineUsers{}
	default:
		return Event{}, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return Event{Type: env.Type, Payload: payload}, nil
}

// CommandType names messages sent by clients over the gateway socket.
type CommandType string

const (
	CommandTyping CommandType = "typing"
	CommandSeen   CommandType = "message_seen"
	CommandAck    CommandType = "ack"
)

type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type TypingCommand struct {
	ConversationID int64 `json:"conversation_id"`
	IsTyping       bool  `json:"is_typing"`
}

// ReceiptCommand backs both message_seen and ack. Empty MessageIDs means
// every qualifying message in the conversation.
type ReceiptCommand struct {
	ConversationID int64   `json:"conversation_id"`
	MessageIDs     []int64 `json:"message_ids,omitempty"`
}
