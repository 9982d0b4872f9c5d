package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/chatsync/pkg/auth"
	"github.com/mahaj/chatsync/pkg/chat"
	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/model"
)

const maxUploadBytes = 25 << 20

// listMessages pages backwards through history with ?before=<RFC3339>
// and ?limit=.
func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	q := r.URL.Query()

	var before *time.Time
	if s := q.Get("before"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			a.fail(w, r, chaterr.Invalid("before: %v", err))
			return
		}
		before = &t
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			a.fail(w, r, chaterr.Invalid("limit must be a number"))
			return
		}
	}

	page, err := a.svc.ListMessages(r.Context(), id, auth.UserFromContext(r.Context()), before, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type SendMessageRequest struct {
	Kind       model.MessageKind `json:"kind"`
	Body       string            `json:"body"`
	Attachment *model.Attachment `json:"attachment,omitempty"`
	ReplyTo    *int64            `json:"reply_to,omitempty"`
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req SendMessageRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user := auth.UserFromContext(r.Context())

	m, err := a.svc.Send(r.Context(), chat.SendRequest{
		ConversationID: id,
		Sender:         user,
		Kind:           req.Kind,
		Body:           req.Body,
		Attachment:     req.Attachment,
		ReplyTo:        req.ReplyTo,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m.ViewFor(user))
}

// upload stores the multipart "file" field and sends it with the optional
// "caption" field.
func (a *API) upload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		a.fail(w, r, chaterr.Invalid("file: %v", err))
		return
	}
	defer file.Close()

	name := uuid.NewString() + filepath.Ext(header.Filename)
	dst, err := os.Create(filepath.Join(a.uploadDir, name))
	if err != nil {
		a.fail(w, r, fmt.Errorf("create upload: %w", err))
		return
	}
	size, err := io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		a.fail(w, r, fmt.Errorf("write upload: %w", err))
		return
	}

	user := auth.UserFromContext(r.Context())
	m, err := a.svc.SendAttachment(r.Context(), id, user, model.Upload{
		URL:          "/uploads/" + name,
		OriginalName: filepath.Base(header.Filename),
		SizeBytes:    size,
		MimeCategory: header.Header.Get("Content-Type"),
	}, r.FormValue("caption"))
	if err != nil {
		os.Remove(filepath.Join(a.uploadDir, name))
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m.ViewFor(user))
}

type EditMessageRequest struct {
	Body string `json:"body"`
}

func (a *API) editMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req EditMessageRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user := auth.UserFromContext(r.Context())

	m, err := a.svc.Edit(r.Context(), id, user, req.Body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.ViewFor(user))
}

// deleteMessage hides the message for the caller unless ?scope=everyone.
func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	scope := chat.ForMe
	switch r.URL.Query().Get("scope") {
	case "", "me":
	case "everyone":
		scope = chat.ForEveryone
	default:
		a.fail(w, r, chaterr.Invalid("scope must be me or everyone"))
		return
	}

	if err := a.svc.Delete(r.Context(), id, auth.UserFromContext(r.Context()), scope); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

func (a *API) react(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req ReactionRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user := auth.UserFromContext(r.Context())

	m, err := a.svc.React(r.Context(), id, user, req.Emoji)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.ViewFor(user))
}
