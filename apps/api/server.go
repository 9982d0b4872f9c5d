package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/mahaj/chatsync/pkg/auth"
	"github.com/mahaj/chatsync/pkg/chat"
	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/metrics"
	"github.com/mahaj/chatsync/pkg/store"
)

// API is the REST surface over chat.Service.
type API struct {
	svc       *chat.Service
	profiles  store.ProfileStore
	presence  chat.Presence
	auth      *auth.Authenticator
	limits    *limiterPool
	log       *logging.Logger
	uploadDir string
}

func (a *API) routes() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /login", a.LoginHandler)
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(a.uploadDir))))

	// Protected endpoints
	mux.Handle("GET /conversations", a.protect(a.listConversations))
	mux.Handle("POST /conversations", a.protect(a.openDirect))
	mux.Handle("POST /conversations/group", a.protect(a.createGroup))
	mux.Handle("PUT /conversations/{id}/archive", a.protect(a.archive))
	mux.Handle("PUT /conversations/{id}/mute", a.protect(a.mute))
	mux.Handle("GET /conversations/{id}/messages", a.protect(a.listMessages))
	mux.Handle("POST /conversations/{id}/messages", a.protect(a.sendMessage))
	mux.Handle("POST /conversations/{id}/upload", a.protect(a.upload))
	mux.Handle("PUT /conversations/{id}/read", a.protect(a.markRead))
	mux.Handle("POST /conversations/{id}/delivered", a.protect(a.markDelivered))
	mux.Handle("PUT /messages/{id}", a.protect(a.editMessage))
	mux.Handle("DELETE /messages/{id}", a.protect(a.deleteMessage))
	mux.Handle("POST /messages/{id}/reaction", a.protect(a.react))
	mux.Handle("GET /presence/{userId}", a.protect(a.presenceStatus))

	return CORSMiddleware(Logging(a.log, mux))
}

func (a *API) protect(h http.HandlerFunc) http.Handler {
	return a.auth.Middleware(a.RateLimit(h))
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fail maps err to a status. Internal errors are logged and not echoed.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := chaterr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, chaterr.Invalid("%s must be a number", name)
	}
	return id, nil
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return chaterr.Invalid("invalid request body: %v", err)
}
