package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/mahaj/chatsync/pkg/model"
)

type LoginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// apiClient talks to the REST service. It implements client.Commands;
// those calls run in the background since their effects come back as
// events.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

func (a *apiClient) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, a.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *apiClient) login(userID string) error {
	var resp LoginResponse
	if err := a.do(http.MethodPost, "/login", map[string]string{"user_id": userID}, &resp); err != nil {
		return err
	}
	a.token = resp.Token
	return nil
}

func (a *apiClient) openDirect(userID string) (model.ConversationSummary, error) {
	var sum model.ConversationSummary
	err := a.do(http.MethodPost, "/conversations", map[string]string{"user_id": userID}, &sum)
	return sum, err
}

func (a *apiClient) history(conversationID int64) ([]model.MessageView, error) {
	var page []model.MessageView
	err := a.do(http.MethodGet, fmt.Sprintf("/conversations/%d/messages", conversationID), nil, &page)
	return page, err
}

func (a *apiClient) send(conversationID int64, body string, replyTo *int64) (model.MessageView, error) {
	var m model.MessageView
	err := a.do(http.MethodPost, fmt.Sprintf("/conversations/%d/messages", conversationID),
		map[string]any{"body": body, "reply_to": replyTo}, &m)
	return m, err
}

func (a *apiClient) background(method, path string, body any) {
	go func() {
		if err := a.do(method, path, body, nil); err != nil {
			log.Printf("request failed: %v", err)
		}
	}()
}

func (a *apiClient) Edit(id int64, body string) {
	a.background(http.MethodPut, fmt.Sprintf("/messages/%d", id), map[string]string{"body": body})
}

func (a *apiClient) Delete(id int64, forEveryone bool) {
	scope := "me"
	if forEveryone {
		scope = "everyone"
	}
	a.background(http.MethodDelete, fmt.Sprintf("/messages/%d?scope=%s", id, scope), nil)
}

func (a *apiClient) React(id int64, emoji string) {
	a.background(http.MethodPost, fmt.Sprintf("/messages/%d/reaction", id), map[string]string{"emoji": emoji})
}

func jsonRaw(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
