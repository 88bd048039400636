package model

import "time"

// Author is the snapshot of a user stored with every message.
type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Message is a chat message in a public channel or a direct conversation.
// Exactly one of Content and Image is meaningful.
type Message struct {
	Key       string `json:"-"`
	Timestamp int64  `json:"timestamp"` // epoch ms, assigned by the gateway
	User      Author `json:"user"`
	Content   string `json:"content,omitempty"`
	Image     string `json:"image,omitempty"`
}

func (m Message) IsImage() bool {
	return m.Image != ""
}

func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// TypingUser is a presence marker read from typing/{channelId}.
type TypingUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PostStat is the per-author entry of UserPosts.
type PostStat struct {
	Avatar string `json:"avatar"`
	Count  int    `json:"count"`
}

// UserPosts maps author display names to their message counts.
type UserPosts map[string]PostStat

// Total sums the counts of every author.
func (p UserPosts) Total() int {
	n := 0
	for _, s := range p {
		n += s.Count
	}
	return n
}
