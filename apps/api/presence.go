package main

import (
	"net/http"

	"github.com/mahaj/chatsync/pkg/model"
)

// presenceStatus reports whether a user is online on any gateway, or when
// they were last seen.
func (a *API) presenceStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	online, lastSeen := a.presence.Status(r.Context(), userID)
	writeJSON(w, http.StatusOK, model.UserStatus{UserID: userID, Online: online, LastSeen: lastSeen})
}
