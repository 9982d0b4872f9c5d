package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatsync/pkg/auth"
	"github.com/mahaj/chatsync/pkg/chat"
	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/store"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, int64, model.Event, string) {}
func (nopPublisher) PublishTo(context.Context, []string, model.Event)    {}

type ids struct{ n atomic.Int64 }

func (i *ids) Generate() int64 { return i.n.Add(1) }

type onlineSet map[string]bool

func (o onlineSet) Status(_ context.Context, user string) (bool, *time.Time) {
	return o[user], nil
}

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T, rps float64, burst int) *testServer {
	t.Helper()
	st := store.NewMemory()
	profiles := store.NewMemoryProfiles()
	log := logging.Discard()
	online := onlineSet{"bob": true}
	svc := chat.NewService(st, profiles, nopPublisher{}, &ids{}, log)
	svc.SetPresence(online)
	api := &API{
		svc:       svc,
		profiles:  profiles,
		presence:  online,
		auth:      auth.New("test-secret"),
		limits:    newLimiterPool(rps, burst),
		log:       log,
		uploadDir: t.TempDir(),
	}
	srv := httptest.NewServer(api.routes())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, t: t}
}

func (s *testServer) login(user, name string) string {
	s.t.Helper()
	var resp LoginResponse
	status := s.do(http.MethodPost, "/login", "", LoginRequest{UserID: user, Name: name}, &resp)
	require.Equal(s.t, http.StatusOK, status)
	require.NotEmpty(s.t, resp.Token)
	return resp.Token
}

// do sends body as JSON and decodes a JSON response into out.
func (s *testServer) do(method, path, token string, body, out any) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(s.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndAuth(t *testing.T) {
	s := newTestServer(t, 100, 100)

	var health map[string]string
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", nil, &health))
	assert.Equal(t, "ok", health["status"])

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/conversations", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/conversations", "garbage", nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/login", "", LoginRequest{}, nil))

	assert.Equal(t, http.StatusOK, s.do(http.MethodOptions, "/conversations", "", nil, nil))
}

func TestConversationAndMessageFlow(t *testing.T) {
	s := newTestServer(t, 100, 100)
	alice := s.login("alice", "Alice")
	bob := s.login("bob", "Bob")

	var conv model.ConversationSummary
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/conversations", alice, OpenDirectRequest{UserID: "bob"}, &conv))
	assert.Equal(t, "Bob", conv.DisplayIdentity.Name)
	assert.True(t, conv.DisplayIdentity.Online)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/conversations", bob, OpenDirectRequest{UserID: "alice"}, &conv))

	base := fmt.Sprintf("/conversations/%d", conv.ConversationID)
	var sent model.MessageView
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, base+"/messages", alice, SendMessageRequest{Body: "hi"}, &sent))
	assert.True(t, sent.IsMine)

	var list []model.ConversationSummary
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/conversations", bob, nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, "hi", list[0].LastMessagePreview.Body)

	var page []model.MessageView
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, base+"/messages?limit=10", bob, nil, &page))
	require.Len(t, page, 1)
	assert.Empty(t, page[0].DeliveredTo)

	var receipt ReceiptResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/delivered", bob, ReceiptRequest{}, &receipt))
	assert.Equal(t, []int64{sent.ID}, receipt.MessageIDs)
	assert.Equal(t, 1, receipt.UnreadCount)
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, base+"/read", bob, nil, &receipt))
	assert.Zero(t, receipt.UnreadCount)

	msg := fmt.Sprintf("/messages/%d", sent.ID)
	var edited model.MessageView
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPut, msg, bob, EditMessageRequest{Body: "x"}, nil))
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, msg, alice, EditMessageRequest{Body: "hi!"}, &edited))
	assert.Equal(t, "hi!", edited.Body)

	var reacted model.MessageView
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, msg+"/reaction", bob, ReactionRequest{Emoji: "👍"}, &reacted))
	assert.Len(t, reacted.Reactions, 1)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, msg+"?scope=everyone", alice, nil, nil))
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPut, msg, alice, EditMessageRequest{Body: "back"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodDelete, msg+"?scope=all", alice, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPut, "/messages/999999", alice, EditMessageRequest{Body: "x"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/messages/abc", alice, EditMessageRequest{Body: "x"}, nil))
}

func TestArchiveMuteAndGroups(t *testing.T) {
	s := newTestServer(t, 100, 100)
	alice := s.login("alice", "Alice")
	s.login("bob", "Bob")
	s.login("carol", "Carol")

	var group model.ConversationSummary
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/conversations/group", alice,
		CreateGroupRequest{Name: "Trip", Members: []string{"bob", "carol"}}, &group))
	assert.True(t, group.DisplayIdentity.IsGroup)
	assert.Equal(t, `Alice created group "Trip"`, group.LastMessagePreview.Body)

	base := fmt.Sprintf("/conversations/%d", group.ConversationID)
	require.Equal(t, http.StatusNoContent, s.do(http.MethodPut, base+"/mute", alice, MuteRequest{Duration: "8h"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, base+"/mute", alice, MuteRequest{Duration: "soon"}, nil))
	require.Equal(t, http.StatusNoContent, s.do(http.MethodPut, base+"/archive", alice, nil, nil))

	var list []model.ConversationSummary
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/conversations", alice, nil, &list))
	assert.Empty(t, list)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/conversations?archived=only", alice, nil, &list))
	require.Len(t, list, 1)
	assert.True(t, list[0].IsMuted)
	assert.True(t, list[0].IsArchived)

	outsider := s.login("dave", "Dave")
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, base+"/messages", outsider, nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/conversations/group", alice, CreateGroupRequest{Name: "Empty"}, nil))
}

func TestUploadSendsMediaMessage(t *testing.T) {
	s := newTestServer(t, 100, 100)
	alice := s.login("alice", "Alice")
	s.login("bob", "Bob")
	var conv model.ConversationSummary
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/conversations", alice, OpenDirectRequest{UserID: "bob"}, &conv))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "cat.png")
	require.NoError(t, err)
	fw.Write([]byte("not really a png"))
	require.NoError(t, mw.WriteField("caption", "look"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/conversations/%d/upload", s.URL, conv.ConversationID), &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var m model.MessageView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, model.KindImage, m.Kind)
	assert.Equal(t, "look", m.Body)
	require.NotNil(t, m.Attachment)
	assert.Equal(t, int64(16), m.Attachment.SizeBytes)

	got, err := http.Get(s.URL + m.Attachment.URL)
	require.NoError(t, err)
	got.Body.Close()
	assert.Equal(t, http.StatusOK, got.StatusCode)
}

func TestPresenceEndpoint(t *testing.T) {
	s := newTestServer(t, 100, 100)
	alice := s.login("alice", "")

	var st model.UserStatus
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/presence/bob", alice, nil, &st))
	assert.True(t, st.Online)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/presence/carol", alice, nil, &st))
	assert.False(t, st.Online)
}

func TestRateLimitPerUser(t *testing.T) {
	s := newTestServer(t, 0.001, 2)
	alice := s.login("alice", "")
	bob := s.login("bob", "")

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/conversations", alice, nil, nil))
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/conversations", alice, nil, nil))
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodGet, "/conversations", alice, nil, nil))
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/conversations", bob, nil, nil))
}
