package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
)

type LoginResponse struct {
	Token string `json:"token"`
}

var apiAddr = flag.String("api", "http://localhost:8081", "API address")

func main() {
	flag.Parse()

	alice := login("verify_alice", "Alice")
	bob := login("verify_bob", "Bob")
	fmt.Printf("Tokens: %s... %s...\n", alice[:10], bob[:10])

	// 1. Open the direct conversation
	var conv struct {
		ConversationID int64 `json:"conversation_id"`
	}
	call(alice, http.MethodPost, "/conversations", map[string]string{"user_id": "verify_bob"}, &conv)
	log.Printf("Conversation: %d", conv.ConversationID)

	// 2. Send a message
	var msg struct {
		ID int64 `json:"id"`
	}
	path := fmt.Sprintf("/conversations/%d/messages", conv.ConversationID)
	call(alice, http.MethodPost, path, map[string]string{"body": "hello from verify_api"}, &msg)
	log.Printf("Sent message %d", msg.ID)

	// 3. Bob reads it
	var receipt struct {
		MessageIDs  []int64 `json:"message_ids"`
		UnreadCount int     `json:"unread_count"`
	}
	call(bob, http.MethodPut, fmt.Sprintf("/conversations/%d/read", conv.ConversationID), nil, &receipt)
	log.Printf("Read %v, unread now %d", receipt.MessageIDs, receipt.UnreadCount)

	// 4. History and list as Alice
	var history json.RawMessage
	call(alice, http.MethodGet, path, nil, &history)
	log.Printf("History: %s", history)

	var list json.RawMessage
	call(alice, http.MethodGet, "/conversations", nil, &list)
	log.Printf("Conversations: %s", list)
}

func login(userID, name string) string {
	var resp LoginResponse
	call("", http.MethodPost, "/login", map[string]string{"user_id": userID, "name": name}, &resp)
	return resp.Token
}

func call(token, method, path string, body, out any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, *apiAddr+path, &buf)
	if err != nil {
		log.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		log.Fatalf("%s %s: %s: %s", method, path, resp.Status, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
