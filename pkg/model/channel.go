package model

import (
	"fmt"
	"strings"
)

const directPrefix = "dm:"

type Channel struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Details   string `json:"details,omitempty"`
	CreatedBy Author `json:"createdBy"`
}

// StarredChannel is the value stored under users/{uid}/starred/{channelId}.
type StarredChannel struct {
	Name      string `json:"name"`
	Details   string `json:"details,omitempty"`
	CreatedBy struct {
		Name   string `json:"name"`
		Avatar string `json:"avatar"`
	} `json:"createdBy"`
}

func (c Channel) Starred() StarredChannel {
	var s StarredChannel
	s.Name = c.Name
	s.Details = c.Details
	s.CreatedBy.Name = c.CreatedBy.Name
	s.CreatedBy.Avatar = c.CreatedBy.Avatar
	return s
}

// DirectChannelID returns the conversation id shared by two users. The
// result does not depend on argument order.
func DirectChannelID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s%s:%s", directPrefix, a, b)
}

// Participants splits a direct channel id into its two user ids.
func Participants(channelID string) (string, string, bool) {
	if !strings.HasPrefix(channelID, directPrefix) {
		return "", "", false
	}
	parts := strings.Split(channelID, ":")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// IsParticipant reports whether uid belongs to the direct channel.
func IsParticipant(channelID, uid string) bool {
	a, b, ok := Participants(channelID)
	return ok && (a == uid || b == uid)
}

// DisplayName renders a channel header: "#name" or "@name" for direct channels.
func DisplayName(c *Channel, private bool) string {
	if c == nil {
		return ""
	}
	if private {
		return "@" + c.Name
	}
	return "#" + c.Name
}
