package main

import (
	"encoding/json"
	"net/http"
)

type ReadRequest struct {
	OtherUserID string `json:"other_user_id"`
}

// ReadHandler marks the conversation with another user as read.
func (s *Server) ReadHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}

	var req ReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OtherUserID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.Conversations.ResetUnread(r.Context(), c.UserID, req.OtherUserID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset unread count")
		return
	}

	w.WriteHeader(http.StatusOK)
}
