package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mahaj/chatsync/pkg/chaterr"
	"github.com/mahaj/chatsync/pkg/model"
)

type LoginRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// LoginHandler issues a token and registers the profile on first login.
// A name in the request updates the stored profile.
func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	user, err := a.profiles.GetUser(ctx, req.UserID)
	isNew := errors.Is(err, chaterr.ErrNotFound)
	switch {
	case isNew:
		user = &model.User{ID: req.UserID, Name: req.UserID}
	case err != nil:
		a.fail(w, r, err)
		return
	}
	if isNew || req.Name != "" || req.Avatar != "" {
		if req.Name != "" {
			user.Name = req.Name
		}
		if req.Avatar != "" {
			user.Avatar = req.Avatar
		}
		if err := a.profiles.PutUser(ctx, *user); err != nil {
			a.fail(w, r, err)
			return
		}
	}

	token, err := a.auth.GenerateToken(req.UserID)
	if err != nil {
		a.log.Error("Failed to generate token", "user_id", req.UserID, "error", err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: *user})
}
