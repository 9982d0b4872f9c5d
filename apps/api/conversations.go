package main

import (
	"net/http"
	"time"

	"github.com/mahaj/chatsync/pkg/auth"
	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/model"
)

// listConversations serves ?archived=true (everything) and ?archived=only.
func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var (
		list []model.ConversationSummary
		err  error
	)
	switch r.URL.Query().Get("archived") {
	case "only":
		list, err = a.svc.ListArchived(r.Context(), user)
	case "true", "1":
		list, err = a.svc.ListConversations(r.Context(), user, true)
	default:
		list, err = a.svc.ListConversations(r.Context(), user, false)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type OpenDirectRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) openDirect(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	var req OpenDirectRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	c, created, err := a.svc.OpenDirect(r.Context(), user, req.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sum, err := a.svc.Summarize(r.Context(), c, user)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, sum)
}

type CreateGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Members     []string `json:"members"`
}

func (a *API) createGroup(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	var req CreateGroupRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	c, err := a.svc.CreateGroup(r.Context(), user, req.Name, req.Description, req.Members)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sum, err := a.svc.Summarize(r.Context(), c, user)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

type ArchiveRequest struct {
	Archived *bool `json:"archived"`
}

// archive defaults to archiving when the body is empty.
func (a *API) archive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req ArchiveRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	archived := req.Archived == nil || *req.Archived

	if err := a.svc.SetArchived(r.Context(), id, auth.UserFromContext(r.Context()), archived); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MuteRequest takes a Go duration such as "8h". Empty or "0" unmutes.
type MuteRequest struct {
	Duration string `json:"duration"`
}

func (a *API) mute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req MuteRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	var d time.Duration
	if req.Duration != "" {
		if d, err = time.ParseDuration(req.Duration); err != nil {
			a.fail(w, r, chaterr.Invalid("duration: %v", err))
			return
		}
	}

	if err := a.svc.SetMuted(r.Context(), id, auth.UserFromContext(r.Context()), d); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
