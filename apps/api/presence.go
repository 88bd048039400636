package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/model"
)

// TypingHandler lists who is typing in a channel, as mirrored by the
// gateways.
func (s *Server) TypingHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	channelID := chi.URLParam(r, "id")
	if _, _, direct := model.Participants(channelID); direct && !model.IsParticipant(channelID, c.UserID) {
		writeError(w, http.StatusForbidden, "Not a participant of "+channelID)
		return
	}

	users, err := s.Typing.List(r.Context(), channelID)
	if err != nil {
		log.Error().Err(err).Str("channel", channelID).Msg("failed to fetch typing users")
		writeError(w, http.StatusInternalServerError, "Failed to fetch presence")
		return
	}
	writeJSON(w, http.StatusOK, users)
}
