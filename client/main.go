package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/chatsync/pkg/client"
	"github.com/mahaj/chatsync/pkg/model"
)

var (
	addr    = flag.String("addr", "localhost:8080", "gateway address")
	apiAddr = flag.String("api", "http://localhost:8081", "API address")
	userID  = flag.String("user", "", "user to log in as")
	peer    = flag.String("dm", "", "user to open a direct conversation with")
	convID  = flag.Int64("conv", 0, "existing conversation id")
	quiet   = flag.Duration("typing-timeout", client.DefaultQuietInterval, "idle time before typing stops")
)

// socket serialises writes; the typing timer emits from its own goroutine.
type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socket) command(t model.CommandType, payload any) {
	raw, err := jsonRaw(payload)
	if err != nil {
		log.Printf("encode %s: %v", t, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(model.Command{Type: t, Payload: raw}); err != nil {
		log.Printf("write %s: %v", t, err)
	}
}

type sendResult struct {
	key  string
	view model.MessageView
	err  error
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	if *userID == "" || (*peer == "" && *convID == 0) {
		log.Fatal("usage: client -user <id> (-dm <user> | -conv <id>)")
	}

	api := newAPIClient(*apiAddr)
	if err := api.login(*userID); err != nil {
		log.Fatal("login: ", err)
	}

	conversation := *convID
	if conversation == 0 {
		sum, err := api.openDirect(*peer)
		if err != nil {
			log.Fatal("open conversation: ", err)
		}
		conversation = sum.ConversationID
		log.Printf("Chatting with %s (conversation %d)", sum.DisplayIdentity.Name, conversation)
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	header := http.Header{"Authorization": []string{"Bearer " + api.token}}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial: ", err)
	}
	defer conn.Close()
	ws := &socket{conn: conn}

	timeline := client.NewTimeline(conversation, *userID, api)
	typing := client.NewTyping(*quiet, func(on bool) {
		ws.command(model.CommandTyping, model.TypingCommand{ConversationID: conversation, IsTyping: on})
	})
	defer typing.Close()

	history, err := api.history(conversation)
	if err != nil {
		log.Fatal("history: ", err)
	}
	for _, m := range history {
		timeline.Apply(model.Event{Type: model.EventNewMessage, Payload: m})
	}
	ws.command(model.CommandSeen, model.ReceiptCommand{ConversationID: conversation})
	render(timeline)

	events := make(chan model.Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}
			ev, err := model.DecodeEvent(data)
			if err != nil {
				log.Println("decode:", err)
				continue
			}
			events <- ev
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	results := make(chan sendResult)
	send := func(e *client.Entry) {
		go func() {
			v, err := api.send(conversation, e.Body, e.ReplyTo)
			results <- sendResult{key: e.Key, view: v, err: err}
		}()
	}

	for {
		select {
		case <-done:
			return

		case ev := <-events:
			switch p := ev.Payload.(type) {
			case *model.UserTyping:
				if p.ConversationID == conversation {
					state := "stopped typing"
					if p.IsTyping {
						state = "is typing..."
					}
					fmt.Printf("* %s %s\n", p.UserID, state)
				}
				continue
			case *model.UserStatus:
				state := "offline"
				if p.Online {
					state = "online"
				}
				fmt.Printf("* %s is %s\n", p.UserID, state)
				continue
			case *model.OnlineUsers:
				fmt.Printf("* online: %s\n", strings.Join(p.UserIDs, ", "))
				continue
			case *model.MessageView:
				if p.ConversationID == conversation && p.Sender != *userID {
					receipt := model.ReceiptCommand{ConversationID: conversation, MessageIDs: []int64{p.ID}}
					ws.command(model.CommandAck, receipt)
					ws.command(model.CommandSeen, receipt)
				}
			}
			if timeline.Apply(ev) {
				render(timeline)
			}

		case r := <-results:
			if r.err != nil {
				_ = timeline.Fail(r.key, r.err)
			} else if err := timeline.Confirm(r.key, r.view); err != nil {
				log.Println(err)
			}
			render(timeline)

		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(line, timeline, typing, send); quit {
				closeSocket(ws, done)
				return
			}

		case <-interrupt:
			closeSocket(ws, done)
			return
		}
	}
}

// handleLine runs one line of input. Numbers in commands refer to the
// positions printed by render.
func handleLine(line string, tl *client.Timeline, typing *client.Typing, send func(*client.Entry)) bool {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	var err error
	switch cmd {
	case "":
		return false
	case "/quit":
		return true
	case "/typing":
		typing.Keystroke()
		return false
	case "/edit":
		var key, body string
		if key, body, err = entryArg(tl, rest); err == nil {
			err = tl.Edit(key, body)
		}
	case "/delete", "/hide":
		var key string
		if key, _, err = entryArg(tl, rest); err == nil {
			err = tl.Delete(key, cmd == "/delete")
		}
	case "/react":
		var key, emoji string
		if key, emoji, err = entryArg(tl, rest); err == nil {
			err = tl.React(key, emoji)
		}
	case "/retry":
		var key string
		if key, _, err = entryArg(tl, rest); err == nil {
			var e *client.Entry
			if e, err = tl.Retry(key); err == nil {
				send(e)
			}
		}
	default:
		typing.Sent()
		send(tl.SendLocal(strings.TrimSpace(line), model.KindText, nil))
	}
	if err != nil {
		fmt.Println("!", err)
	}
	render(tl)
	return false
}

func entryArg(tl *client.Timeline, args string) (string, string, error) {
	pos, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	n, err := strconv.Atoi(pos)
	entries := tl.Entries()
	if err != nil || n < 1 || n > len(entries) {
		return "", "", fmt.Errorf("no message #%s", pos)
	}
	return entries[n-1].Key, rest, nil
}

func render(tl *client.Timeline) {
	fmt.Println("----")
	for i, e := range tl.Entries() {
		body := e.Body
		if e.Deleted {
			body = model.TombstoneBody
		} else if e.EditedAt != nil {
			body += " (edited)"
		}
		line := fmt.Sprintf("%2d %s %s: %s", i+1, e.CreatedAt.Format(time.Kitchen), e.Sender, body)
		for _, r := range e.Reactions {
			line += " " + r.Emoji
		}
		if e.Sender == *userID {
			line += " [" + e.Status.String() + "]"
		}
		fmt.Println(line)
	}
}

func closeSocket(ws *socket, done <-chan struct{}) {
	ws.mu.Lock()
	err := ws.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.mu.Unlock()
	if err != nil {
		log.Println("write close:", err)
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
