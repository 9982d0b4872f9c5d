package main

import (
	"net/http"

	"github.com/mahaj/chatsync/pkg/auth"
)

// ReceiptRequest lists message ids. An empty list covers every message in
// the conversation.
type ReceiptRequest struct {
	MessageIDs []int64 `json:"message_ids"`
}

type ReceiptResponse struct {
	MessageIDs  []int64 `json:"message_ids"`
	UnreadCount int     `json:"unread_count"`
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	a.receipt(w, r, true)
}

func (a *API) markDelivered(w http.ResponseWriter, r *http.Request) {
	a.receipt(w, r, false)
}

func (a *API) receipt(w http.ResponseWriter, r *http.Request, read bool) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req ReceiptRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	ctx := r.Context()
	user := auth.UserFromContext(ctx)

	mark := a.svc.MarkDelivered
	if read {
		mark = a.svc.MarkRead
	}
	changed, err := mark(ctx, id, user, req.MessageIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	unread, err := a.svc.UnreadCount(ctx, id, user)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if changed == nil {
		changed = []int64{}
	}
	writeJSON(w, http.StatusOK, ReceiptResponse{MessageIDs: changed, UnreadCount: unread})
}
