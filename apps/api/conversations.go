package main

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

func (s *Server) ConversationsHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}

	conversations, err := s.Conversations.Conversations(r.Context(), c.UserID)
	if err != nil {
		log.Error().Err(err).Str("uid", c.UserID).Msg("failed to list conversations")
		writeError(w, http.StatusInternalServerError, "Failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}
