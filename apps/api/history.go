package main

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/model"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// HistoryEntry is a stored message with the key it was pushed under.
type HistoryEntry struct {
	Key string `json:"key"`
	model.Message
}

func (s *Server) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	channelID := q.Get("channel_id")
	if channelID == "" {
		channelID = "general" // Default to general
	}
	private, _ := strconv.ParseBool(q.Get("private"))
	if private && !model.IsParticipant(channelID, c.UserID) {
		writeError(w, http.StatusForbidden, "Not a participant of "+channelID)
		return
	}
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	messages, err := s.History.Messages(r.Context(), private, channelID, limit)
	if err != nil {
		log.Error().Err(err).Str("channel", channelID).Msg("failed to iterate messages")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}

	out := make([]HistoryEntry, 0, len(messages))
	for _, m := range messages {
		out = append(out, HistoryEntry{Key: m.Key, Message: m})
	}
	writeJSON(w, http.StatusOK, out)
}
