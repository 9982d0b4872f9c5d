package main

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mahaj/chatsync/pkg/auth"
	"github.com/mahaj/chatsync/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Events buffered per connection before new ones are dropped.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a middleman between the websocket connection and the hub. It
// implements presence.Conn.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	id     string
	userID string

	mu     sync.Mutex
	send   chan []byte
	closed bool
	typing map[int64]bool
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Send queues data without blocking. It reports false when the buffer is
// full or the connection is gone.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) setTyping(conversationID int64, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.typing[conversationID] = true
	} else {
		delete(c.typing, conversationID)
	}
}

func (c *Client) typingIn() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Collect(maps.Keys(c.typing))
}

// readPump reads commands until the connection fails, then unregisters.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read failed", "conn_id", c.id, "error", err)
			}
			break
		}

		var cmd model.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.log.Debug("ignoring malformed command", "conn_id", c.id, "error", err)
			continue
		}
		if err := c.hub.handleCommand(ctx, c, cmd); err != nil {
			c.hub.log.Warn("command failed", "user_id", c.userID, "type", cmd.Type, "error", err)
		}
	}
}

// writePump writes one frame per event and keeps the peer alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs authenticates the peer with a bearer token or ?token= and
// registers the upgraded connection.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	claims, err := hub.auth.ValidateToken(auth.TokenFromRequest(r))
	if err != nil {
		hub.log.Info("Unauthorized websocket request", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		id:     uuid.NewString(),
		userID: claims.UserID,
		send:   make(chan []byte, sendBuffer),
		typing: make(map[int64]bool),
	}
	hub.register(client)

	// The request context ends when this handler returns.
	go client.writePump()
	go client.readPump(context.Background())
}
